package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crosswatch/crosswatch/internal/database/dbretry"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ResolveOutcome reports what a resolution attempt accomplished.
type ResolveOutcome int

const (
	// ResolveApplied means this call won the race and performed the
	// transition; its caller owns the follow-up side effects.
	ResolveApplied ResolveOutcome = iota
	// ResolveAlreadyHandled means another call resolved the incident first,
	// or the incident does not exist. Not an error: the caller uses it to
	// suppress duplicate side effects.
	ResolveAlreadyHandled
)

// IncidentModel handles database operations for moderation incidents.
type IncidentModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewIncident creates a new incident model instance.
func NewIncident(db *bun.DB, logger *zap.Logger) *IncidentModel {
	return &IncidentModel{
		db:     db,
		logger: logger.Named("db_incident"),
	}
}

// Open creates a new incident in the pending state. Creation has no
// preconditions beyond detection having fired; content is truncated before
// storage.
func (m *IncidentModel) Open(
	ctx context.Context, guildID, userID uint64, username, content string,
	channelIDs []uint64, reason enum.SpamReason,
) (*types.Incident, error) {
	incident := &types.Incident{
		GuildID:    guildID,
		UserID:     userID,
		Username:   username,
		Content:    types.TruncateContent(content),
		ChannelIDs: channelIDs,
		Reason:     reason,
		Status:     enum.IncidentStatusPending,
		CreatedAt:  time.Now(),
	}

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().Model(incident).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to open incident: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Opened incident",
		zap.Int64("incidentID", incident.ID),
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.String("reason", reason.String()))

	return incident, nil
}

// Resolve transitions a pending incident to its terminal status. The update
// is conditioned on the row still being pending, so under concurrent calls
// for the same incident exactly one caller observes ResolveApplied and every
// other caller observes ResolveAlreadyHandled. An unknown incident ID also
// yields ResolveAlreadyHandled: callers react to external triggers that may
// reference stale IDs.
func (m *IncidentModel) Resolve(
	ctx context.Context, incidentID int64, actorID uint64, actorName string, status enum.IncidentStatus,
) (ResolveOutcome, error) {
	if status != enum.IncidentStatusBanned && status != enum.IncidentStatusReleased {
		return ResolveAlreadyHandled, fmt.Errorf("cannot resolve incident %d to non-terminal status %s",
			incidentID, status)
	}

	now := time.Now()

	return dbretry.Operation(ctx, func(ctx context.Context) (ResolveOutcome, error) {
		result, err := m.db.NewUpdate().
			Model((*types.Incident)(nil)).
			Set("status = ?", status).
			Set("handled_by_user_id = ?", actorID).
			Set("handled_by_username = ?", actorName).
			Set("handled_at = ?", now).
			Where("id = ?", incidentID).
			Where("status = ?", enum.IncidentStatusPending).
			Exec(ctx)
		if err != nil {
			return ResolveAlreadyHandled, fmt.Errorf("failed to resolve incident %d: %w", incidentID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return ResolveAlreadyHandled, fmt.Errorf("failed to get rows affected: %w", err)
		}

		if affected == 0 {
			m.logger.Debug("Incident already handled or unknown",
				zap.Int64("incidentID", incidentID),
				zap.Uint64("actorID", actorID))

			return ResolveAlreadyHandled, nil
		}

		m.logger.Info("Resolved incident",
			zap.Int64("incidentID", incidentID),
			zap.String("status", status.String()),
			zap.Uint64("actorID", actorID),
			zap.String("actorName", actorName))

		return ResolveApplied, nil
	})
}

// AttachAlertMessage records where the incident's alert card was posted.
// Idempotent: duplicate attempts after the first leave the row unchanged.
func (m *IncidentModel) AttachAlertMessage(
	ctx context.Context, incidentID int64, channelID, messageID uint64,
) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.Incident)(nil)).
			Set("alert_channel_id = ?", channelID).
			Set("alert_message_id = ?", messageID).
			Where("id = ?", incidentID).
			Where("alert_message_id IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to attach alert message to incident %d: %w", incidentID, err)
		}

		return nil
	})
}

// GetByID retrieves an incident by its primary key. Returns nil without an
// error when no incident exists.
func (m *IncidentModel) GetByID(ctx context.Context, incidentID int64) (*types.Incident, error) {
	return m.getOne(ctx, "id = ?", incidentID)
}

// GetByAlertMessage maps a reaction on an alert card back to its incident.
// Returns nil without an error when no incident matches.
func (m *IncidentModel) GetByAlertMessage(ctx context.Context, messageID uint64) (*types.Incident, error) {
	return m.getOne(ctx, "alert_message_id = ?", messageID)
}

// GetPending lists unresolved incidents for a guild, oldest first, for
// operator inspection of incidents whose follow-up actions were interrupted.
func (m *IncidentModel) GetPending(ctx context.Context, guildID uint64, limit int) ([]*types.Incident, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Incident, error) {
		var incidents []*types.Incident

		err := m.db.NewSelect().
			Model(&incidents).
			Where("guild_id = ?", guildID).
			Where("status = ?", enum.IncidentStatusPending).
			Order("created_at ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get pending incidents: %w", err)
		}

		return incidents, nil
	})
}

func (m *IncidentModel) getOne(ctx context.Context, where string, arg any) (*types.Incident, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Incident, error) {
		incident := new(types.Incident)

		err := m.db.NewSelect().Model(incident).Where(where, arg).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}

			return nil, fmt.Errorf("failed to get incident: %w", err)
		}

		return incident, nil
	})
}
