package discord

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Embed colors for alert cards.
const (
	ColorPending  = 0xED4245 // Red while awaiting review
	ColorBanned   = 0x992D22 // Dark red once banned
	ColorReleased = 0x57F287 // Green once released
)

// Reaction emojis that resolve an incident from the alert card.
const (
	BanReactionEmoji     = "🔨"
	ReleaseReactionEmoji = "✅"
)

// Custom ID prefixes for the alert card buttons.
const (
	banCustomIDPrefix     = "spam_ban_"
	releaseCustomIDPrefix = "spam_release_"
)

var resolutionCustomIDPattern = regexp.MustCompile(`^spam_(ban|release)_(\d+)$`)

// BanButtonCustomID returns the custom ID for the ban button of an incident.
func BanButtonCustomID(incidentID int64) string {
	return banCustomIDPrefix + strconv.FormatInt(incidentID, 10)
}

// ReleaseButtonCustomID returns the custom ID for the release button of an
// incident.
func ReleaseButtonCustomID(incidentID int64) string {
	return releaseCustomIDPrefix + strconv.FormatInt(incidentID, 10)
}

// ParseResolutionCustomID maps an alert card button click back to the
// incident and the terminal status the moderator chose. The second return is
// false for custom IDs that do not belong to alert cards.
func ParseResolutionCustomID(customID string) (int64, enum.IncidentStatus, bool) {
	matches := resolutionCustomIDPattern.FindStringSubmatch(customID)
	if matches == nil {
		return 0, enum.IncidentStatusPending, false
	}

	incidentID, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil {
		return 0, enum.IncidentStatusPending, false
	}

	status := enum.IncidentStatusBanned
	if matches[1] == "release" {
		status = enum.IncidentStatusReleased
	}

	return incidentID, status, true
}

// ResolutionForEmoji maps a reaction on an alert card to a terminal status.
// The second return is false for emojis that carry no meaning.
func ResolutionForEmoji(emoji string) (enum.IncidentStatus, bool) {
	switch emoji {
	case BanReactionEmoji:
		return enum.IncidentStatusBanned, true
	case ReleaseReactionEmoji:
		return enum.IncidentStatusReleased, true
	default:
		return enum.IncidentStatusPending, false
	}
}

// BuildAlertCard renders the embed and buttons posted to the alert channel
// when an incident opens.
func BuildAlertCard(incident *types.Incident) discord.MessageCreate {
	embed := buildIncidentEmbed(incident).
		SetColor(ColorPending).
		SetDescription(fmt.Sprintf("<@%d> was flagged for **%s**. "+
			"React with %s to ban or %s to release.",
			incident.UserID, incident.Reason.String(),
			BanReactionEmoji, ReleaseReactionEmoji))

	return discord.NewMessageCreateBuilder().
		SetEmbeds(embed.Build()).
		AddActionRow(
			discord.NewDangerButton("Ban", BanButtonCustomID(incident.ID)),
			discord.NewSuccessButton("Release", ReleaseButtonCustomID(incident.ID)),
		).
		Build()
}

// BuildResolvedCard renders the replacement embed once an incident reaches a
// terminal status. Buttons are removed so the card stops inviting clicks.
func BuildResolvedCard(incident *types.Incident) discord.MessageUpdate {
	color := ColorBanned

	verb := "banned"
	if incident.Status == enum.IncidentStatusReleased {
		color = ColorReleased
		verb = "released"
	}

	embed := buildIncidentEmbed(incident).SetColor(color)

	if incident.HandledByUsername != nil {
		embed.SetDescription(fmt.Sprintf("<@%d> was **%s** by %s.",
			incident.UserID, verb, *incident.HandledByUsername))
	}

	if incident.HandledAt != nil {
		embed.AddField("Handled", fmt.Sprintf("<t:%d:f>", incident.HandledAt.Unix()), true)
	}

	return discord.NewMessageUpdateBuilder().
		SetEmbeds(embed.Build()).
		ClearContainerComponents().
		Build()
}

func buildIncidentEmbed(incident *types.Incident) *discord.EmbedBuilder {
	embed := discord.NewEmbedBuilder().
		SetTitle("Spam detected").
		AddField("User", fmt.Sprintf("<@%d> (%s)", incident.UserID, incident.Username), true).
		AddField("Reason", incident.Reason.String(), true).
		AddField("Status", incident.Status.String(), true).
		SetFooterText(fmt.Sprintf("Incident #%d", incident.ID)).
		SetTimestamp(incident.CreatedAt)

	if len(incident.ChannelIDs) > 0 {
		mentions := make([]string, len(incident.ChannelIDs))
		for i, channelID := range incident.ChannelIDs {
			mentions[i] = fmt.Sprintf("<#%d>", channelID)
		}

		embed.AddField("Channels", strings.Join(mentions, " "), false)
	}

	if incident.Content != "" {
		embed.AddField("Message", fmt.Sprintf("```%s```", sanitizeCodeBlock(incident.Content)), false)
	}

	return embed
}

// sanitizeCodeBlock keeps stored message content from escaping the embed's
// code block.
func sanitizeCodeBlock(content string) string {
	return strings.ReplaceAll(content, "```", "`​``")
}

// ID converts an event-level snowflake into disgo's type.
func ID(id uint64) snowflake.ID {
	return snowflake.ID(id)
}
