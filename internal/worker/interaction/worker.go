// Package interaction consumes moderator actions on alert cards, resolving
// incidents through the single-winner database transition and executing the
// winner's side effects exactly once.
package interaction

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/crosswatch/crosswatch/internal/database"
	"github.com/crosswatch/crosswatch/internal/database/models"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"github.com/crosswatch/crosswatch/internal/discord"
	"github.com/crosswatch/crosswatch/internal/event"
	"go.uber.org/zap"
)

// ActionExecutor is the slice of the platform action surface this worker
// needs. Implemented by the Discord action executor.
type ActionExecutor interface {
	Ban(ctx context.Context, guildID, userID uint64, reason string) error
	Unmute(ctx context.Context, guildID, userID uint64, reason string) error
	UpdateIncidentCard(ctx context.Context, channelID, messageID uint64, incident *types.Incident) error
}

// Worker resolves incidents from component clicks and reactions.
type Worker struct {
	repo    *database.Repository
	actions ActionExecutor
	logger  *zap.Logger
}

// New creates an interaction worker.
func New(repo *database.Repository, actions ActionExecutor, logger *zap.Logger) *Worker {
	return &Worker{
		repo:    repo,
		actions: actions,
		logger:  logger.Named("interaction_worker"),
	}
}

// Handle processes one interaction event payload. It satisfies
// event.Handler.
//
// Losing a resolution race is a normal outcome, not an error: the event is
// acknowledged and no side effects run. Only the database error paths return
// an error for redelivery.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var interaction event.InteractionEvent
	if err := sonic.Unmarshal(payload, &interaction); err != nil {
		w.logger.Warn("Dropping undecodable interaction event", zap.Error(err))
		return nil
	}

	switch interaction.Kind {
	case event.InteractionKindComponent:
		return w.handleComponent(ctx, &interaction)
	case event.InteractionKindReaction:
		return w.handleReaction(ctx, &interaction)
	default:
		w.logger.Warn("Dropping interaction with unknown kind",
			zap.String("kind", interaction.Kind))

		return nil
	}
}

// handleComponent resolves a button click. The custom ID carries the
// incident ID directly.
func (w *Worker) handleComponent(ctx context.Context, interaction *event.InteractionEvent) error {
	incidentID, status, ok := discord.ParseResolutionCustomID(interaction.CustomID)
	if !ok {
		return nil
	}

	return w.resolve(ctx, incidentID, status, interaction)
}

// handleReaction resolves a reaction on an alert card. The card's message ID
// is mapped back to its incident; reactions on unrelated messages are
// ignored.
func (w *Worker) handleReaction(ctx context.Context, interaction *event.InteractionEvent) error {
	status, ok := discord.ResolutionForEmoji(interaction.Emoji)
	if !ok {
		return nil
	}

	incident, err := w.repo.Incident().GetByAlertMessage(ctx, interaction.MessageID)
	if err != nil {
		return fmt.Errorf("failed to look up incident for reaction: %w", err)
	}

	if incident == nil {
		return nil
	}

	return w.resolve(ctx, incident.ID, status, interaction)
}

// resolve attempts the pending-to-terminal transition and, only when this
// attempt wins, executes the matching side effects.
func (w *Worker) resolve(
	ctx context.Context, incidentID int64, status enum.IncidentStatus, interaction *event.InteractionEvent,
) error {
	outcome, err := w.repo.Incident().Resolve(ctx, incidentID,
		interaction.UserID, interaction.Username, status)
	if err != nil {
		return fmt.Errorf("failed to resolve incident %d: %w", incidentID, err)
	}

	if outcome == models.ResolveAlreadyHandled {
		w.logger.Debug("Resolution lost the race or incident unknown",
			zap.Int64("incidentID", incidentID),
			zap.Uint64("actorID", interaction.UserID))

		return nil
	}

	incident, err := w.repo.Incident().GetByID(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("failed to reload resolved incident %d: %w", incidentID, err)
	}

	if incident == nil {
		return nil
	}

	w.executeResolution(ctx, incident, interaction)

	return nil
}

// executeResolution runs the winner's side effects. Failures are logged and
// skipped: the incident is already terminal and redelivery would rerun the
// losing path, not retry these.
func (w *Worker) executeResolution(
	ctx context.Context, incident *types.Incident, interaction *event.InteractionEvent,
) {
	switch incident.Status {
	case enum.IncidentStatusBanned:
		reason := fmt.Sprintf("Spam: %s (incident #%d, by %s)",
			incident.Reason, incident.ID, interaction.Username)
		if err := w.actions.Ban(ctx, incident.GuildID, incident.UserID, reason); err != nil {
			w.logger.Error("Failed to ban resolved user",
				zap.Int64("incidentID", incident.ID),
				zap.Error(err))
		}
	case enum.IncidentStatusReleased:
		reason := fmt.Sprintf("Released by %s (incident #%d)", interaction.Username, incident.ID)
		if err := w.actions.Unmute(ctx, incident.GuildID, incident.UserID, reason); err != nil {
			w.logger.Error("Failed to unmute released user",
				zap.Int64("incidentID", incident.ID),
				zap.Error(err))
		}
	case enum.IncidentStatusPending:
		// Unreachable after a won transition.
	}

	if incident.AlertChannelID != nil && incident.AlertMessageID != nil {
		err := w.actions.UpdateIncidentCard(ctx, *incident.AlertChannelID, *incident.AlertMessageID, incident)
		if err != nil {
			w.logger.Error("Failed to update incident card",
				zap.Int64("incidentID", incident.ID),
				zap.Error(err))
		}
	}

	w.logger.Info("Incident resolution executed",
		zap.Int64("incidentID", incident.ID),
		zap.String("status", incident.Status.String()),
		zap.Uint64("moderatorID", interaction.UserID))
}
