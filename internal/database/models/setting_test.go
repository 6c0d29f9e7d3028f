package models_test

import (
	"testing"

	"github.com/crosswatch/crosswatch/internal/database/models"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetReturnsDefaultsForUnknownGuild(t *testing.T) {
	t.Parallel()

	model := models.NewSetting(setupTestDB(t), zap.NewNop())

	setting, err := model.Get(t.Context(), 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), setting.GuildID)
	require.True(t, setting.Enabled)
	require.Equal(t, 3, setting.MinChannels)
	require.InDelta(t, 0.7, setting.SimilarityThreshold, 0.001)
	require.Equal(t, 120, setting.DetectionWindowSeconds)
}

func TestUpdateCreatesRowFromDefaults(t *testing.T) {
	t.Parallel()

	model := models.NewSetting(setupTestDB(t), zap.NewNop())

	updated, err := model.Update(t.Context(), 100, func(s *types.GuildSetting) {
		s.MinChannels = 5
		s.SimilarityThreshold = 0.9
	})
	require.NoError(t, err)
	require.Equal(t, 5, updated.MinChannels)
	require.NotNil(t, updated.UpdatedAt)

	stored, err := model.Get(t.Context(), 100)
	require.NoError(t, err)
	require.Equal(t, 5, stored.MinChannels)
	require.InDelta(t, 0.9, stored.SimilarityThreshold, 0.001)

	// Untouched fields keep their defaults.
	require.True(t, stored.DetectNewAccountLinks)
	require.Equal(t, 60, stored.MuteDurationMinutes)
}

func TestUpdatePreservesOtherFields(t *testing.T) {
	t.Parallel()

	model := models.NewSetting(setupTestDB(t), zap.NewNop())

	_, err := model.Update(t.Context(), 100, func(s *types.GuildSetting) {
		s.AllowedLinks = []string{"myserver.com", "youtube.com/watch"}
	})
	require.NoError(t, err)

	_, err = model.Update(t.Context(), 100, func(s *types.GuildSetting) {
		s.Enabled = false
	})
	require.NoError(t, err)

	stored, err := model.Get(t.Context(), 100)
	require.NoError(t, err)
	require.False(t, stored.Enabled)
	require.Equal(t, []string{"myserver.com", "youtube.com/watch"}, stored.AllowedLinks)
}

func TestSettingsAreKeyedPerGuild(t *testing.T) {
	t.Parallel()

	model := models.NewSetting(setupTestDB(t), zap.NewNop())

	_, err := model.Update(t.Context(), 100, func(s *types.GuildSetting) {
		s.Enabled = false
	})
	require.NoError(t, err)

	other, err := model.Get(t.Context(), 200)
	require.NoError(t, err)
	require.True(t, other.Enabled)
}
