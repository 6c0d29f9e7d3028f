package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Alert interaction lookups resolve incidents by posted message
			CREATE INDEX IF NOT EXISTS idx_incidents_alert_message
			ON incidents (alert_message_id)
			WHERE alert_message_id IS NOT NULL;

			-- Pending incident listings per guild
			CREATE INDEX IF NOT EXISTS idx_incidents_guild_status_created
			ON incidents (guild_id, status, created_at ASC);

			CREATE INDEX IF NOT EXISTS idx_incidents_user_created
			ON incidents (user_id, created_at DESC);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_incidents_alert_message;
			DROP INDEX IF EXISTS idx_incidents_guild_status_created;
			DROP INDEX IF EXISTS idx_incidents_user_created;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
