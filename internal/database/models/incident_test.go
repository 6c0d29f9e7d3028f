package models_test

import (
	"database/sql"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/crosswatch/crosswatch/internal/database/models"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver registration.
)

// setupTestDB creates an in-memory SQLite database with the schema applied.
// A single pooled connection keeps writes serialized the way the production
// database serializes conflicting row updates.
func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	for _, model := range []any{(*types.Incident)(nil), (*types.GuildSetting)(nil)} {
		_, err := db.NewCreateTable().Model(model).Exec(t.Context())
		require.NoError(t, err)
	}

	return db
}

func openTestIncident(t *testing.T, model *models.IncidentModel) *types.Incident {
	t.Helper()

	incident, err := model.Open(t.Context(),
		100, 200, "spammer", "buy cheap gold now",
		[]uint64{1, 2, 3}, enum.SpamReasonSimilarText)
	require.NoError(t, err)
	require.NotZero(t, incident.ID)
	require.True(t, incident.IsPending())

	return incident
}

func TestOpenCreatesPendingIncident(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())
	incident := openTestIncident(t, model)

	stored, err := model.GetByID(t.Context(), incident.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, enum.IncidentStatusPending, stored.Status)
	require.Equal(t, enum.SpamReasonSimilarText, stored.Reason)
	require.Equal(t, []uint64{1, 2, 3}, stored.ChannelIDs)
	require.Nil(t, stored.HandledAt)
}

func TestOpenTruncatesContent(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())

	long := make([]byte, types.MaxIncidentContentLength*2)
	for i := range long {
		long[i] = 'a'
	}

	incident, err := model.Open(t.Context(),
		100, 200, "spammer", string(long), []uint64{1}, enum.SpamReasonSimilarText)
	require.NoError(t, err)
	require.Len(t, incident.Content, types.MaxIncidentContentLength)

	stored, err := model.GetByID(t.Context(), incident.ID)
	require.NoError(t, err)
	require.Len(t, stored.Content, types.MaxIncidentContentLength)
}

func TestOpenTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())

	// 499 ASCII bytes followed by two-byte runes puts a rune astride the
	// limit; a byte-indexed cut would store invalid UTF-8.
	long := strings.Repeat("a", types.MaxIncidentContentLength-1) + strings.Repeat("é", 20)

	incident, err := model.Open(t.Context(),
		100, 200, "spammer", long, []uint64{1}, enum.SpamReasonSimilarText)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(incident.Content))
	require.LessOrEqual(t, len(incident.Content), types.MaxIncidentContentLength)
	require.Equal(t, strings.Repeat("a", types.MaxIncidentContentLength-1), incident.Content)
}

func TestResolveTransitionsPendingIncident(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())
	incident := openTestIncident(t, model)

	outcome, err := model.Resolve(t.Context(), incident.ID, 900, "mod", enum.IncidentStatusBanned)
	require.NoError(t, err)
	require.Equal(t, models.ResolveApplied, outcome)

	stored, err := model.GetByID(t.Context(), incident.ID)
	require.NoError(t, err)
	require.Equal(t, enum.IncidentStatusBanned, stored.Status)
	require.NotNil(t, stored.HandledByUserID)
	require.Equal(t, uint64(900), *stored.HandledByUserID)
	require.NotNil(t, stored.HandledByUsername)
	require.Equal(t, "mod", *stored.HandledByUsername)
	require.NotNil(t, stored.HandledAt)
}

func TestResolveSecondAttemptAlreadyHandled(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())
	incident := openTestIncident(t, model)

	outcome, err := model.Resolve(t.Context(), incident.ID, 900, "mod", enum.IncidentStatusBanned)
	require.NoError(t, err)
	require.Equal(t, models.ResolveApplied, outcome)

	// A later release attempt loses and must not overwrite the ban.
	outcome, err = model.Resolve(t.Context(), incident.ID, 901, "other", enum.IncidentStatusReleased)
	require.NoError(t, err)
	require.Equal(t, models.ResolveAlreadyHandled, outcome)

	stored, err := model.GetByID(t.Context(), incident.ID)
	require.NoError(t, err)
	require.Equal(t, enum.IncidentStatusBanned, stored.Status)
	require.Equal(t, uint64(900), *stored.HandledByUserID)
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())
	incident := openTestIncident(t, model)

	const attempts = 10

	outcomes := make([]models.ResolveOutcome, attempts)

	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			status := enum.IncidentStatusBanned
			if i%2 == 1 {
				status = enum.IncidentStatusReleased
			}

			outcome, err := model.Resolve(t.Context(), incident.ID, uint64(900+i), "mod", status)
			require.NoError(t, err)

			outcomes[i] = outcome
		}()
	}

	wg.Wait()

	applied := 0

	for _, outcome := range outcomes {
		if outcome == models.ResolveApplied {
			applied++
		}
	}

	require.Equal(t, 1, applied, "exactly one resolution attempt must win")

	stored, err := model.GetByID(t.Context(), incident.ID)
	require.NoError(t, err)
	require.False(t, stored.IsPending())
}

func TestResolveUnknownIncidentAlreadyHandled(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())

	outcome, err := model.Resolve(t.Context(), 424242, 900, "mod", enum.IncidentStatusBanned)
	require.NoError(t, err)
	require.Equal(t, models.ResolveAlreadyHandled, outcome)
}

func TestResolveRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())
	incident := openTestIncident(t, model)

	_, err := model.Resolve(t.Context(), incident.ID, 900, "mod", enum.IncidentStatusPending)
	require.Error(t, err)

	stored, err := model.GetByID(t.Context(), incident.ID)
	require.NoError(t, err)
	require.True(t, stored.IsPending())
}

func TestAttachAlertMessageIsWriteOnce(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())
	incident := openTestIncident(t, model)

	require.NoError(t, model.AttachAlertMessage(t.Context(), incident.ID, 500, 9000))

	// A duplicate attach keeps the original reference.
	require.NoError(t, model.AttachAlertMessage(t.Context(), incident.ID, 501, 9001))

	stored, err := model.GetByID(t.Context(), incident.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AlertMessageID)
	require.Equal(t, uint64(9000), *stored.AlertMessageID)
	require.Equal(t, uint64(500), *stored.AlertChannelID)
}

func TestGetByAlertMessage(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())
	incident := openTestIncident(t, model)

	require.NoError(t, model.AttachAlertMessage(t.Context(), incident.ID, 500, 9000))

	found, err := model.GetByAlertMessage(t.Context(), 9000)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, incident.ID, found.ID)

	missing, err := model.GetByAlertMessage(t.Context(), 77777)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestGetPendingOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	model := models.NewIncident(setupTestDB(t), zap.NewNop())

	first := openTestIncident(t, model)
	second := openTestIncident(t, model)
	third := openTestIncident(t, model)

	outcome, err := model.Resolve(t.Context(), second.ID, 900, "mod", enum.IncidentStatusReleased)
	require.NoError(t, err)
	require.Equal(t, models.ResolveApplied, outcome)

	pending, err := model.GetPending(t.Context(), 100, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, third.ID, pending[1].ID)
}
