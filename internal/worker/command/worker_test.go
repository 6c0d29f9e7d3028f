package command_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/crosswatch/crosswatch/internal/database"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/event"
	"github.com/crosswatch/crosswatch/internal/worker/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver registration.
)

type fakeResponder struct {
	replies []string
}

func (f *fakeResponder) RespondFollowup(_ context.Context, _ uint64, _, content string) error {
	f.replies = append(f.replies, content)
	return nil
}

type workerTest struct {
	worker    *command.Worker
	repo      *database.Repository
	responder *fakeResponder
}

func setupWorkerTest(t *testing.T) *workerTest {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.NewCreateTable().Model((*types.GuildSetting)(nil)).Exec(t.Context())
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := database.NewRepository(db, logger)
	responder := &fakeResponder{}

	return &workerTest{
		worker:    command.New(repo, responder, logger),
		repo:      repo,
		responder: responder,
	}
}

func (wt *workerTest) invoke(t *testing.T, subcommand string, options map[string]string) string {
	t.Helper()

	payload, err := sonic.Marshal(&event.CommandEvent{
		EventID:          "evt",
		GuildID:          100,
		UserID:           900,
		Username:         "mod",
		ApplicationID:    42,
		InteractionToken: "token",
		CommandName:      command.CommandName,
		Subcommand:       subcommand,
		Options:          options,
	})
	require.NoError(t, err)
	require.NoError(t, wt.worker.Handle(t.Context(), payload))
	require.NotEmpty(t, wt.responder.replies)

	return wt.responder.replies[len(wt.responder.replies)-1]
}

func (wt *workerTest) settings(t *testing.T) *types.GuildSetting {
	t.Helper()

	setting, err := wt.repo.Setting().Get(t.Context(), 100)
	require.NoError(t, err)

	return setting
}

func TestEnableDisable(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	reply := wt.invoke(t, command.SubcommandDisable, nil)
	assert.Contains(t, reply, "disabled")
	require.False(t, wt.settings(t).Enabled)

	reply = wt.invoke(t, command.SubcommandEnable, nil)
	assert.Contains(t, reply, "enabled")
	require.True(t, wt.settings(t).Enabled)
}

func TestSetAlertChannel(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	wt.invoke(t, command.SubcommandAlertChannel, map[string]string{"channel": "555"})

	setting := wt.settings(t)
	require.NotNil(t, setting.AlertChannelID)
	require.Equal(t, uint64(555), *setting.AlertChannelID)
}

func TestSetAlertChannelRejectsBadIDs(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	for _, value := range []string{"0", "not-a-number", ""} {
		reply := wt.invoke(t, command.SubcommandAlertChannel, map[string]string{"channel": value})
		assert.Contains(t, reply, "must be a channel ID")
	}

	require.Nil(t, wt.settings(t).AlertChannelID)
}

func TestThresholdValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		options map[string]string
		applied bool
	}{
		{
			name:    "valid values",
			options: map[string]string{"min-channels": "5", "similarity": "0.8", "window-seconds": "300"},
			applied: true,
		},
		{
			name:    "min-channels too low",
			options: map[string]string{"min-channels": "1"},
		},
		{
			name:    "min-channels too high",
			options: map[string]string{"min-channels": "50"},
		},
		{
			name:    "similarity out of range",
			options: map[string]string{"similarity": "1.5"},
		},
		{
			name:    "similarity not a number",
			options: map[string]string{"similarity": "high"},
		},
		{
			name:    "window too short",
			options: map[string]string{"window-seconds": "5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wt := setupWorkerTest(t)
			reply := wt.invoke(t, command.SubcommandThresholds, tt.options)

			setting := wt.settings(t)
			if tt.applied {
				assert.Contains(t, reply, "updated")
				assert.Equal(t, 5, setting.MinChannels)
				assert.InDelta(t, 0.8, setting.SimilarityThreshold, 0.001)
				assert.Equal(t, 300, setting.DetectionWindowSeconds)
			} else {
				assert.Contains(t, reply, "must be")
				// Defaults untouched on rejection.
				assert.Equal(t, 3, setting.MinChannels)
				assert.InDelta(t, 0.7, setting.SimilarityThreshold, 0.001)
				assert.Equal(t, 120, setting.DetectionWindowSeconds)
			}
		})
	}
}

func TestRejectedBatchAppliesNothing(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	// One valid and one invalid value in the same invocation: the whole
	// batch is rejected.
	reply := wt.invoke(t, command.SubcommandThresholds, map[string]string{
		"min-channels": "5",
		"similarity":   "2.0",
	})
	assert.Contains(t, reply, "must be")

	setting := wt.settings(t)
	require.Equal(t, 3, setting.MinChannels)
}

func TestLinkDetectionSettings(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	wt.invoke(t, command.SubcommandLinks, map[string]string{
		"enabled":         "false",
		"threshold-hours": "48",
	})

	setting := wt.settings(t)
	require.False(t, setting.DetectNewAccountLinks)
	require.Equal(t, 48, setting.NewAccountThresholdHours)

	reply := wt.invoke(t, command.SubcommandLinks, map[string]string{"threshold-hours": "500"})
	assert.Contains(t, reply, "must be")
	require.Equal(t, 48, wt.settings(t).NewAccountThresholdHours)
}

func TestActionSettings(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	wt.invoke(t, command.SubcommandActions, map[string]string{
		"delete-messages": "false",
		"mute-minutes":    "30",
	})

	setting := wt.settings(t)
	require.False(t, setting.DeleteMessages)
	require.True(t, setting.MuteOnDetect)
	require.Equal(t, 30, setting.MuteDurationMinutes)
}

func TestAllowAndRemoveLink(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	reply := wt.invoke(t, command.SubcommandAllowLink, map[string]string{"link": "https://MyServer.com/"})
	assert.Contains(t, reply, "myserver.com")
	require.Equal(t, []string{"myserver.com"}, wt.settings(t).AllowedLinks)

	// Duplicates are not stored twice.
	wt.invoke(t, command.SubcommandAllowLink, map[string]string{"link": "myserver.com"})
	require.Equal(t, []string{"myserver.com"}, wt.settings(t).AllowedLinks)

	reply = wt.invoke(t, command.SubcommandRemoveLink, map[string]string{"link": "myserver.com"})
	assert.Contains(t, reply, "removed")
	require.Empty(t, wt.settings(t).AllowedLinks)
}

func TestShowSummarizesSettings(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	reply := wt.invoke(t, command.SubcommandShow, nil)
	assert.Contains(t, reply, "enabled")
	assert.Contains(t, reply, "3 channels")
	assert.Contains(t, reply, "no channel configured")
}

func TestUnrelatedCommandIgnored(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)

	payload, err := sonic.Marshal(&event.CommandEvent{
		CommandName: "ping",
		GuildID:     100,
	})
	require.NoError(t, err)
	require.NoError(t, wt.worker.Handle(t.Context(), payload))
	require.Empty(t, wt.responder.replies)
}
