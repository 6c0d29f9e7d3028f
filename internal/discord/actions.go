package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// BanMessageDeleteDuration is how far back Discord purges the banned user's
// messages when a ban is applied.
const BanMessageDeleteDuration = 24 * time.Hour

// Actions executes moderation side effects against the Discord REST API.
// Every method is safe to call redundantly; Discord treats repeated deletes,
// mutes, and bans of the same target as no-ops or benign errors that the
// callers log and move past.
type Actions struct {
	client rest.Rest
	logger *zap.Logger
}

// NewActions creates an action executor on the given REST client.
func NewActions(client rest.Rest, logger *zap.Logger) *Actions {
	return &Actions{
		client: client,
		logger: logger.Named("discord_actions"),
	}
}

// DeleteMessages removes the evidence messages, grouped per channel so bulk
// deletion can be used where more than one message sits in the same channel.
// Channels are processed concurrently; a failure in one channel does not stop
// the others, and the first error is returned after all channels finish.
func (a *Actions) DeleteMessages(ctx context.Context, messagesByChannel map[uint64][]uint64) error {
	p := pool.New().WithContext(ctx).WithFirstError()

	for channelID, messageIDs := range messagesByChannel {
		p.Go(func(ctx context.Context) error {
			return a.deleteChannelMessages(ctx, channelID, messageIDs)
		})
	}

	if err := p.Wait(); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	return nil
}

func (a *Actions) deleteChannelMessages(ctx context.Context, channelID uint64, messageIDs []uint64) error {
	switch len(messageIDs) {
	case 0:
		return nil
	case 1:
		if err := a.client.DeleteMessage(ID(channelID), ID(messageIDs[0]), rest.WithCtx(ctx)); err != nil {
			return fmt.Errorf("failed to delete message %d in channel %d: %w", messageIDs[0], channelID, err)
		}
	default:
		ids := make([]snowflake.ID, 0, len(messageIDs))
		for _, messageID := range messageIDs {
			ids = append(ids, ID(messageID))
		}

		if err := a.client.BulkDeleteMessages(ID(channelID), ids, rest.WithCtx(ctx)); err != nil {
			return fmt.Errorf("failed to bulk delete %d messages in channel %d: %w", len(ids), channelID, err)
		}
	}

	a.logger.Debug("Deleted messages",
		zap.Uint64("channelID", channelID),
		zap.Int("count", len(messageIDs)))

	return nil
}

// Mute times the user out for the given duration.
func (a *Actions) Mute(ctx context.Context, guildID, userID uint64, duration time.Duration, reason string) error {
	until := json.NewNullable(time.Now().Add(duration).UTC())

	_, err := a.client.UpdateMember(ID(guildID), ID(userID), discord.MemberUpdate{
		CommunicationDisabledUntil: &until,
	}, rest.WithCtx(ctx), rest.WithReason(reason))
	if err != nil {
		return fmt.Errorf("failed to mute user %d in guild %d: %w", userID, guildID, err)
	}

	a.logger.Info("Muted user",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Duration("duration", duration))

	return nil
}

// Unmute clears the user's timeout, used when a moderator releases an
// incident before the mute expires.
func (a *Actions) Unmute(ctx context.Context, guildID, userID uint64, reason string) error {
	cleared := json.Null[time.Time]()

	_, err := a.client.UpdateMember(ID(guildID), ID(userID), discord.MemberUpdate{
		CommunicationDisabledUntil: &cleared,
	}, rest.WithCtx(ctx), rest.WithReason(reason))
	if err != nil {
		return fmt.Errorf("failed to unmute user %d in guild %d: %w", userID, guildID, err)
	}

	a.logger.Info("Unmuted user",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID))

	return nil
}

// Ban removes the user from the guild and purges their recent messages.
func (a *Actions) Ban(ctx context.Context, guildID, userID uint64, reason string) error {
	err := a.client.AddBan(ID(guildID), ID(userID), BanMessageDeleteDuration,
		rest.WithCtx(ctx), rest.WithReason(reason))
	if err != nil {
		return fmt.Errorf("failed to ban user %d in guild %d: %w", userID, guildID, err)
	}

	a.logger.Info("Banned user",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.String("reason", reason))

	return nil
}

// Unban lifts a ban, letting the user rejoin the guild.
func (a *Actions) Unban(ctx context.Context, guildID, userID uint64, reason string) error {
	err := a.client.DeleteBan(ID(guildID), ID(userID), rest.WithCtx(ctx), rest.WithReason(reason))
	if err != nil {
		return fmt.Errorf("failed to unban user %d in guild %d: %w", userID, guildID, err)
	}

	a.logger.Info("Unbanned user",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID))

	return nil
}

// PostIncidentCard posts the alert card to the guild's alert channel and
// seeds the resolution reactions. Returns the posted message's ID. A failure
// seeding reactions is logged but not fatal; the buttons still work.
func (a *Actions) PostIncidentCard(ctx context.Context, channelID uint64, incident *types.Incident) (uint64, error) {
	message, err := a.client.CreateMessage(ID(channelID), BuildAlertCard(incident), rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to post incident card for incident %d: %w", incident.ID, err)
	}

	for _, emoji := range []string{BanReactionEmoji, ReleaseReactionEmoji} {
		if err := a.client.AddReaction(message.ChannelID, message.ID, emoji, rest.WithCtx(ctx)); err != nil {
			a.logger.Warn("Failed to seed reaction on incident card",
				zap.Int64("incidentID", incident.ID),
				zap.String("emoji", emoji),
				zap.Error(err))
		}
	}

	return uint64(message.ID), nil
}

// UpdateIncidentCard replaces the alert card with its resolved form.
func (a *Actions) UpdateIncidentCard(ctx context.Context, channelID, messageID uint64, incident *types.Incident) error {
	_, err := a.client.UpdateMessage(ID(channelID), ID(messageID), BuildResolvedCard(incident), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to update incident card for incident %d: %w", incident.ID, err)
	}

	return nil
}

// RespondFollowup sends an ephemeral followup to a deferred interaction, so
// only the invoking moderator sees the reply.
func (a *Actions) RespondFollowup(ctx context.Context, applicationID uint64, token, content string) error {
	_, err := a.client.CreateFollowupMessage(ID(applicationID), token, discord.MessageCreate{
		Content: content,
		Flags:   discord.MessageFlagEphemeral,
	}, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send followup response: %w", err)
	}

	return nil
}

// ResolveInviteGuild resolves an invite code to the guild it points at.
func (a *Actions) ResolveInviteGuild(ctx context.Context, code string) (uint64, error) {
	invite, err := a.client.GetInvite(code, rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve invite %q: %w", code, err)
	}

	if invite.Guild == nil {
		return 0, fmt.Errorf("invite %q does not point at a guild", code)
	}

	return uint64(invite.Guild.ID), nil
}

// FetchJoinedAt looks up when a user joined a guild.
func (a *Actions) FetchJoinedAt(ctx context.Context, guildID, userID uint64) (*time.Time, error) {
	member, err := a.client.GetMember(ID(guildID), ID(userID), rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member %d in guild %d: %w", userID, guildID, err)
	}

	joinedAt := member.JoinedAt

	return &joinedAt, nil
}
