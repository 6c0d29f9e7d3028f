package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crosswatch/crosswatch/internal/database/dbretry"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// SettingModel handles database operations for per-guild configuration.
type SettingModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSetting creates a new setting model instance.
func NewSetting(db *bun.DB, logger *zap.Logger) *SettingModel {
	return &SettingModel{
		db:     db,
		logger: logger.Named("db_setting"),
	}
}

// Get returns the guild's configuration, falling back to defaults when no
// row exists. A missing configuration is never an error on the detection
// path; protection runs with defaults until an operator tunes it.
func (m *SettingModel) Get(ctx context.Context, guildID uint64) (*types.GuildSetting, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.GuildSetting, error) {
		setting := new(types.GuildSetting)

		err := m.db.NewSelect().Model(setting).Where("guild_id = ?", guildID).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return types.DefaultGuildSetting(guildID), nil
			}

			return nil, fmt.Errorf("failed to get guild settings: %w", err)
		}

		return setting, nil
	})
}

// Update applies a mutation to the guild's configuration, creating the row
// from defaults when it does not exist yet.
func (m *SettingModel) Update(
	ctx context.Context, guildID uint64, mutate func(*types.GuildSetting),
) (*types.GuildSetting, error) {
	setting, err := m.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}

	mutate(setting)

	now := time.Now()
	setting.UpdatedAt = &now

	err = dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(setting).
			On("CONFLICT (guild_id) DO UPDATE").
			Set("enabled = EXCLUDED.enabled").
			Set("alert_channel_id = EXCLUDED.alert_channel_id").
			Set("min_channels = EXCLUDED.min_channels").
			Set("similarity_threshold = EXCLUDED.similarity_threshold").
			Set("detection_window_seconds = EXCLUDED.detection_window_seconds").
			Set("detect_new_account_links = EXCLUDED.detect_new_account_links").
			Set("new_account_threshold_hours = EXCLUDED.new_account_threshold_hours").
			Set("allowed_links = EXCLUDED.allowed_links").
			Set("delete_messages = EXCLUDED.delete_messages").
			Set("mute_on_detect = EXCLUDED.mute_on_detect").
			Set("mute_duration_minutes = EXCLUDED.mute_duration_minutes").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update guild settings: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("Updated guild settings", zap.Uint64("guildID", guildID))

	return setting, nil
}
