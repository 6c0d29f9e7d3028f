// Package message consumes gateway message events and runs them through the
// spam detection pipeline, opening incidents and executing the configured
// automatic actions when detection fires.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/crosswatch/crosswatch/internal/cache"
	"github.com/crosswatch/crosswatch/internal/database"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"github.com/crosswatch/crosswatch/internal/detection"
	"github.com/crosswatch/crosswatch/internal/event"
	"go.uber.org/zap"
)

// ActionExecutor is the slice of the platform action surface this worker
// needs. Implemented by the Discord action executor.
type ActionExecutor interface {
	DeleteMessages(ctx context.Context, messagesByChannel map[uint64][]uint64) error
	Mute(ctx context.Context, guildID, userID uint64, duration time.Duration, reason string) error
	PostIncidentCard(ctx context.Context, channelID uint64, incident *types.Incident) (uint64, error)
}

// Worker evaluates inbound messages for spam.
type Worker struct {
	repo     *database.Repository
	detector *detection.Detector
	links    *detection.LinkChecker
	msgCache *cache.MessageCache
	actions  ActionExecutor
	logger   *zap.Logger
}

// New creates a message worker.
func New(
	repo *database.Repository, detector *detection.Detector, links *detection.LinkChecker,
	msgCache *cache.MessageCache, actions ActionExecutor, logger *zap.Logger,
) *Worker {
	return &Worker{
		repo:     repo,
		detector: detector,
		links:    links,
		msgCache: msgCache,
		actions:  actions,
		logger:   logger.Named("message_worker"),
	}
}

// Handle processes one message event payload. It satisfies event.Handler.
//
// Returning nil acknowledges the event. Detection-side failures that a
// redelivery cannot fix, like an unreachable cache, are logged and
// acknowledged so the protection degrades to pass-through instead of
// building a replay backlog.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var msg event.MessageEvent
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		w.logger.Warn("Dropping undecodable message event", zap.Error(err))
		return nil
	}

	// Bots and messages with nothing to correlate are out of scope.
	if msg.IsBot || (strings.TrimSpace(msg.Content) == "" && msg.AttachmentCount == 0) {
		return nil
	}

	setting, err := w.repo.Setting().Get(ctx, msg.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load guild settings: %w", err)
	}

	if !setting.Enabled {
		return nil
	}

	detSettings := setting.DetectionSettings()

	// The new-account link heuristic runs first and short-circuits: a fresh
	// account posting an unvetted link is flagged on sight, without waiting
	// for a cross-channel pattern to form.
	if setting.DetectNewAccountLinks && strings.TrimSpace(msg.Content) != "" {
		handled, err := w.checkNewAccountLink(ctx, &msg, setting, detSettings)
		if err != nil {
			return err
		}

		if handled {
			return nil
		}
	}

	return w.checkSpamPattern(ctx, &msg, setting, detSettings)
}

// checkNewAccountLink runs the link heuristic. Returns true when an incident
// was opened for the message, ending its evaluation.
func (w *Worker) checkNewAccountLink(
	ctx context.Context, msg *event.MessageEvent,
	setting *types.GuildSetting, detSettings *detection.Settings,
) (bool, error) {
	var joinedAt *time.Time
	if msg.JoinedAt != nil {
		joined := time.Unix(*msg.JoinedAt, 0)
		joinedAt = &joined
	}

	flag, err := w.links.Check(ctx, msg.GuildID, msg.UserID, msg.Content, joinedAt, detSettings)
	if err != nil {
		// The join-time lookup failing must not block the message pipeline.
		w.logger.Warn("Link check failed, skipping heuristic",
			zap.Uint64("guildID", msg.GuildID),
			zap.Uint64("userID", msg.UserID),
			zap.Error(err))

		return false, nil
	}

	if flag == nil {
		return false, nil
	}

	incident, err := w.repo.Incident().Open(ctx,
		msg.GuildID, msg.UserID, msg.Username, msg.Content,
		[]uint64{msg.ChannelID}, enum.SpamReasonNewAccountLink)
	if err != nil {
		return false, err
	}

	w.logger.Info("New account link flagged",
		zap.Int64("incidentID", incident.ID),
		zap.String("url", flag.URL),
		zap.Duration("memberFor", flag.MemberFor))

	evidence := map[uint64][]uint64{msg.ChannelID: {msg.MessageID}}
	w.executeActions(ctx, incident, setting, evidence)

	return true, nil
}

// checkSpamPattern feeds the message through the cross-channel detector and
// opens an incident when a track fires.
func (w *Worker) checkSpamPattern(
	ctx context.Context, msg *event.MessageEvent,
	setting *types.GuildSetting, detSettings *detection.Settings,
) error {
	cached := &cache.Message{
		Content:         msg.Content,
		ChannelID:       msg.ChannelID,
		MessageID:       msg.MessageID,
		Timestamp:       msg.Timestamp,
		AttachmentCount: msg.AttachmentCount,
	}

	result, err := w.detector.Check(ctx, msg.GuildID, msg.UserID, cached, detSettings)
	if err != nil {
		if errors.Is(err, cache.ErrCacheUnavailable) {
			w.logger.Warn("Message cache unavailable, passing message through",
				zap.Uint64("guildID", msg.GuildID),
				zap.Error(err))

			return nil
		}

		return fmt.Errorf("failed to evaluate message: %w", err)
	}

	if !result.IsSpam {
		return nil
	}

	incident, err := w.repo.Incident().Open(ctx,
		msg.GuildID, msg.UserID, msg.Username, msg.Content,
		result.ChannelIDs, result.Reason)
	if err != nil {
		return err
	}

	// Drop the tracked window so the same burst cannot open a second
	// incident on the very next message.
	if err := w.msgCache.Clear(ctx, msg.GuildID, msg.UserID); err != nil {
		w.logger.Warn("Failed to clear message window after detection", zap.Error(err))
	}

	evidence := make(map[uint64][]uint64)
	for _, match := range result.MatchingMessages {
		evidence[match.ChannelID] = append(evidence[match.ChannelID], match.MessageID)
	}

	w.executeActions(ctx, incident, setting, evidence)

	return nil
}

// executeActions runs the configured automatic actions for a fresh incident.
// The incident row already exists; action failures are logged and skipped so
// one failing side effect does not lose the others, and the event is still
// acknowledged.
func (w *Worker) executeActions(
	ctx context.Context, incident *types.Incident,
	setting *types.GuildSetting, evidence map[uint64][]uint64,
) {
	if setting.DeleteMessages && len(evidence) > 0 {
		if err := w.actions.DeleteMessages(ctx, evidence); err != nil {
			w.logger.Error("Failed to delete evidence messages",
				zap.Int64("incidentID", incident.ID),
				zap.Error(err))
		}
	}

	if setting.MuteOnDetect {
		reason := fmt.Sprintf("Spam detected: %s (incident #%d)", incident.Reason, incident.ID)
		if err := w.actions.Mute(ctx, incident.GuildID, incident.UserID, setting.MuteDuration(), reason); err != nil {
			w.logger.Error("Failed to mute flagged user",
				zap.Int64("incidentID", incident.ID),
				zap.Error(err))
		}
	}

	if setting.AlertChannelID == nil {
		w.logger.Warn("No alert channel configured, incident has no card",
			zap.Int64("incidentID", incident.ID),
			zap.Uint64("guildID", incident.GuildID))

		return
	}

	messageID, err := w.actions.PostIncidentCard(ctx, *setting.AlertChannelID, incident)
	if err != nil {
		w.logger.Error("Failed to post incident card",
			zap.Int64("incidentID", incident.ID),
			zap.Error(err))

		return
	}

	if err := w.repo.Incident().AttachAlertMessage(ctx, incident.ID, *setting.AlertChannelID, messageID); err != nil {
		w.logger.Error("Failed to attach alert message to incident",
			zap.Int64("incidentID", incident.ID),
			zap.Error(err))
	}
}
