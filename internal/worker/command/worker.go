// Package command consumes slash command events that tune a guild's
// protection settings, validating every value against its allowed range
// before storing it.
package command

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/crosswatch/crosswatch/internal/database"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/event"
	"go.uber.org/zap"
)

// CommandName is the slash command this worker owns.
const CommandName = "antispam"

// Subcommand names.
const (
	SubcommandShow         = "show"
	SubcommandEnable       = "enable"
	SubcommandDisable      = "disable"
	SubcommandAlertChannel = "alert-channel"
	SubcommandThresholds   = "thresholds"
	SubcommandLinks        = "links"
	SubcommandActions      = "actions"
	SubcommandAllowLink    = "allow-link"
	SubcommandRemoveLink   = "remove-link"
)

// Responder delivers the command's reply to the invoking moderator.
// Implemented by the Discord action executor.
type Responder interface {
	RespondFollowup(ctx context.Context, applicationID uint64, token, content string) error
}

// Worker applies settings commands.
type Worker struct {
	repo      *database.Repository
	responder Responder
	logger    *zap.Logger
}

// New creates a command worker.
func New(repo *database.Repository, responder Responder, logger *zap.Logger) *Worker {
	return &Worker{
		repo:      repo,
		responder: responder,
		logger:    logger.Named("command_worker"),
	}
}

// Handle processes one command event payload. It satisfies event.Handler.
// Invalid input is reported back to the moderator and acknowledged; only
// storage failures return an error for redelivery.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var cmd event.CommandEvent
	if err := sonic.Unmarshal(payload, &cmd); err != nil {
		w.logger.Warn("Dropping undecodable command event", zap.Error(err))
		return nil
	}

	if cmd.CommandName != CommandName {
		return nil
	}

	reply, err := w.execute(ctx, &cmd)
	if err != nil {
		return err
	}

	if respondErr := w.responder.RespondFollowup(ctx, cmd.ApplicationID, cmd.InteractionToken, reply); respondErr != nil {
		w.logger.Error("Failed to respond to command",
			zap.String("subcommand", cmd.Subcommand),
			zap.Error(respondErr))
	}

	return nil
}

func (w *Worker) execute(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	switch cmd.Subcommand {
	case SubcommandShow:
		return w.show(ctx, cmd)
	case SubcommandEnable:
		return w.setEnabled(ctx, cmd, true)
	case SubcommandDisable:
		return w.setEnabled(ctx, cmd, false)
	case SubcommandAlertChannel:
		return w.setAlertChannel(ctx, cmd)
	case SubcommandThresholds:
		return w.setThresholds(ctx, cmd)
	case SubcommandLinks:
		return w.setLinkDetection(ctx, cmd)
	case SubcommandActions:
		return w.setActions(ctx, cmd)
	case SubcommandAllowLink:
		return w.allowLink(ctx, cmd)
	case SubcommandRemoveLink:
		return w.removeLink(ctx, cmd)
	default:
		return fmt.Sprintf("Unknown subcommand %q.", cmd.Subcommand), nil
	}
}

func (w *Worker) show(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	setting, err := w.repo.Setting().Get(ctx, cmd.GuildID)
	if err != nil {
		return "", fmt.Errorf("failed to load settings: %w", err)
	}

	return formatSettings(setting), nil
}

func (w *Worker) setEnabled(ctx context.Context, cmd *event.CommandEvent, enabled bool) (string, error) {
	_, err := w.repo.Setting().Update(ctx, cmd.GuildID, func(s *types.GuildSetting) {
		s.Enabled = enabled
	})
	if err != nil {
		return "", fmt.Errorf("failed to update settings: %w", err)
	}

	if enabled {
		return "Spam protection enabled.", nil
	}

	return "Spam protection disabled.", nil
}

func (w *Worker) setAlertChannel(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	channelID, err := parseUint(cmd.Options, "channel")
	if err != nil {
		return "The channel option must be a channel ID.", nil
	}

	_, err = w.repo.Setting().Update(ctx, cmd.GuildID, func(s *types.GuildSetting) {
		s.AlertChannelID = &channelID
	})
	if err != nil {
		return "", fmt.Errorf("failed to update settings: %w", err)
	}

	return fmt.Sprintf("Alerts will be posted to <#%d>.", channelID), nil
}

func (w *Worker) setThresholds(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	var mutations []func(*types.GuildSetting)

	if raw, ok := cmd.Options["min-channels"]; ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value < types.MinChannelsLowerBound || value > types.MinChannelsUpperBound {
			return fmt.Sprintf("min-channels must be between %d and %d.",
				types.MinChannelsLowerBound, types.MinChannelsUpperBound), nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.MinChannels = value })
	}

	if raw, ok := cmd.Options["similarity"]; ok {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < types.SimilarityLowerBound || value > types.SimilarityUpperBound {
			return fmt.Sprintf("similarity must be between %.1f and %.1f.",
				types.SimilarityLowerBound, types.SimilarityUpperBound), nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.SimilarityThreshold = value })
	}

	if raw, ok := cmd.Options["window-seconds"]; ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value < types.WindowSecondsLowerBound || value > types.WindowSecondsUpperBound {
			return fmt.Sprintf("window-seconds must be between %d and %d.",
				types.WindowSecondsLowerBound, types.WindowSecondsUpperBound), nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.DetectionWindowSeconds = value })
	}

	if len(mutations) == 0 {
		return "Nothing to change. Provide min-channels, similarity, or window-seconds.", nil
	}

	setting, err := w.repo.Setting().Update(ctx, cmd.GuildID, func(s *types.GuildSetting) {
		for _, mutate := range mutations {
			mutate(s)
		}
	})
	if err != nil {
		return "", fmt.Errorf("failed to update settings: %w", err)
	}

	return fmt.Sprintf("Thresholds updated: %d channels, %.2f similarity, %ds window.",
		setting.MinChannels, setting.SimilarityThreshold, setting.DetectionWindowSeconds), nil
}

func (w *Worker) setLinkDetection(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	var mutations []func(*types.GuildSetting)

	if raw, ok := cmd.Options["enabled"]; ok {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return "enabled must be true or false.", nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.DetectNewAccountLinks = value })
	}

	if raw, ok := cmd.Options["threshold-hours"]; ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value < types.NewAccountHoursLowerBound || value > types.NewAccountHoursUpperBound {
			return fmt.Sprintf("threshold-hours must be between %d and %d.",
				types.NewAccountHoursLowerBound, types.NewAccountHoursUpperBound), nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.NewAccountThresholdHours = value })
	}

	if len(mutations) == 0 {
		return "Nothing to change. Provide enabled or threshold-hours.", nil
	}

	setting, err := w.repo.Setting().Update(ctx, cmd.GuildID, func(s *types.GuildSetting) {
		for _, mutate := range mutations {
			mutate(s)
		}
	})
	if err != nil {
		return "", fmt.Errorf("failed to update settings: %w", err)
	}

	state := "disabled"
	if setting.DetectNewAccountLinks {
		state = "enabled"
	}

	return fmt.Sprintf("New-account link detection %s, threshold %dh.",
		state, setting.NewAccountThresholdHours), nil
}

func (w *Worker) setActions(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	var mutations []func(*types.GuildSetting)

	if raw, ok := cmd.Options["delete-messages"]; ok {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return "delete-messages must be true or false.", nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.DeleteMessages = value })
	}

	if raw, ok := cmd.Options["mute"]; ok {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return "mute must be true or false.", nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.MuteOnDetect = value })
	}

	if raw, ok := cmd.Options["mute-minutes"]; ok {
		value, err := strconv.Atoi(raw)
		if err != nil || value < types.MuteMinutesLowerBound || value > types.MuteMinutesUpperBound {
			return fmt.Sprintf("mute-minutes must be between %d and %d.",
				types.MuteMinutesLowerBound, types.MuteMinutesUpperBound), nil
		}

		mutations = append(mutations, func(s *types.GuildSetting) { s.MuteDurationMinutes = value })
	}

	if len(mutations) == 0 {
		return "Nothing to change. Provide delete-messages, mute, or mute-minutes.", nil
	}

	setting, err := w.repo.Setting().Update(ctx, cmd.GuildID, func(s *types.GuildSetting) {
		for _, mutate := range mutations {
			mutate(s)
		}
	})
	if err != nil {
		return "", fmt.Errorf("failed to update settings: %w", err)
	}

	return fmt.Sprintf("Actions updated: delete=%t, mute=%t (%dm).",
		setting.DeleteMessages, setting.MuteOnDetect, setting.MuteDurationMinutes), nil
}

func (w *Worker) allowLink(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	link := normalizeAllowedLink(cmd.Options["link"])
	if link == "" {
		return "Provide a domain or URL prefix to allow.", nil
	}

	var added bool

	_, err := w.repo.Setting().Update(ctx, cmd.GuildID, func(s *types.GuildSetting) {
		if slices.Contains(s.AllowedLinks, link) {
			return
		}

		s.AllowedLinks = append(s.AllowedLinks, link)
		added = true
	})
	if err != nil {
		return "", fmt.Errorf("failed to update settings: %w", err)
	}

	if !added {
		return fmt.Sprintf("`%s` is already allowed.", link), nil
	}

	return fmt.Sprintf("Links matching `%s` are now allowed.", link), nil
}

func (w *Worker) removeLink(ctx context.Context, cmd *event.CommandEvent) (string, error) {
	link := normalizeAllowedLink(cmd.Options["link"])
	if link == "" {
		return "Provide the allowed entry to remove.", nil
	}

	var removed bool

	_, err := w.repo.Setting().Update(ctx, cmd.GuildID, func(s *types.GuildSetting) {
		before := len(s.AllowedLinks)
		s.AllowedLinks = slices.DeleteFunc(s.AllowedLinks, func(entry string) bool {
			return entry == link
		})
		removed = len(s.AllowedLinks) < before
	})
	if err != nil {
		return "", fmt.Errorf("failed to update settings: %w", err)
	}

	if !removed {
		return fmt.Sprintf("`%s` was not in the allow-list.", link), nil
	}

	return fmt.Sprintf("`%s` removed from the allow-list.", link), nil
}

// normalizeAllowedLink stores allow-list entries without scheme or
// surrounding whitespace so matching is scheme-agnostic.
func normalizeAllowedLink(raw string) string {
	link := strings.TrimSpace(strings.ToLower(raw))
	link = strings.TrimPrefix(link, "https://")
	link = strings.TrimPrefix(link, "http://")

	return strings.TrimSuffix(link, "/")
}

func formatSettings(s *types.GuildSetting) string {
	var b strings.Builder

	state := "disabled"
	if s.Enabled {
		state = "enabled"
	}

	fmt.Fprintf(&b, "Spam protection is **%s**.\n", state)

	if s.AlertChannelID != nil {
		fmt.Fprintf(&b, "Alerts: <#%d>\n", *s.AlertChannelID)
	} else {
		b.WriteString("Alerts: no channel configured\n")
	}

	fmt.Fprintf(&b, "Correlation: %d channels, %.2f similarity, %ds window\n",
		s.MinChannels, s.SimilarityThreshold, s.DetectionWindowSeconds)

	linkState := "off"
	if s.DetectNewAccountLinks {
		linkState = fmt.Sprintf("on, %dh threshold", s.NewAccountThresholdHours)
	}

	fmt.Fprintf(&b, "New-account links: %s\n", linkState)

	if len(s.AllowedLinks) > 0 {
		fmt.Fprintf(&b, "Allowed links: %s\n", strings.Join(s.AllowedLinks, ", "))
	}

	fmt.Fprintf(&b, "Actions: delete=%t, mute=%t (%dm)",
		s.DeleteMessages, s.MuteOnDetect, s.MuteDurationMinutes)

	return b.String()
}

func parseUint(options map[string]string, key string) (uint64, error) {
	value, err := strconv.ParseUint(options[key], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s option: %w", key, err)
	}

	if value == 0 {
		return 0, fmt.Errorf("%s option must not be zero", key)
	}

	return value, nil
}
