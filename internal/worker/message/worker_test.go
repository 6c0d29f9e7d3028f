package message_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/crosswatch/crosswatch/internal/cache"
	"github.com/crosswatch/crosswatch/internal/database"
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"github.com/crosswatch/crosswatch/internal/detection"
	"github.com/crosswatch/crosswatch/internal/event"
	"github.com/crosswatch/crosswatch/internal/worker/message"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver registration.
)

type fakeActions struct {
	mu         sync.Mutex
	deleted    []map[uint64][]uint64
	muted      []uint64
	cards      []int64
	cardID     uint64
	joinedAt   time.Time
	fetchCalls int
}

func (f *fakeActions) DeleteMessages(_ context.Context, messagesByChannel map[uint64][]uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, messagesByChannel)

	return nil
}

func (f *fakeActions) Mute(_ context.Context, _, userID uint64, _ time.Duration, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.muted = append(f.muted, userID)

	return nil
}

func (f *fakeActions) PostIncidentCard(_ context.Context, _ uint64, incident *types.Incident) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cards = append(f.cards, incident.ID)

	return f.cardID, nil
}

func (f *fakeActions) ResolveInviteGuild(_ context.Context, _ string) (uint64, error) {
	return 0, nil
}

func (f *fakeActions) FetchJoinedAt(_ context.Context, _, _ uint64) (*time.Time, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()

	joined := f.joinedAt

	return &joined, nil
}

type workerTest struct {
	worker   *message.Worker
	repo     *database.Repository
	actions  *fakeActions
	msgCache *cache.MessageCache
	mr       *miniredis.Miniredis
}

func setupWorkerTest(t *testing.T) *workerTest {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	for _, model := range []any{(*types.Incident)(nil), (*types.GuildSetting)(nil)} {
		_, err := db.NewCreateTable().Model(model).Exec(t.Context())
		require.NoError(t, err)
	}

	logger := zap.NewNop()
	repo := database.NewRepository(db, logger)
	msgCache := cache.NewMessageCache(client, logger)

	actions := &fakeActions{
		cardID:   9000,
		joinedAt: time.Now().Add(-30 * 24 * time.Hour),
	}

	worker := message.New(repo,
		detection.NewDetector(msgCache, logger),
		detection.NewLinkChecker(actions, actions, logger),
		msgCache, actions, logger)

	return &workerTest{worker: worker, repo: repo, actions: actions, msgCache: msgCache, mr: mr}
}

func (wt *workerTest) configure(t *testing.T, mutate func(*types.GuildSetting)) {
	t.Helper()

	_, err := wt.repo.Setting().Update(t.Context(), 100, func(s *types.GuildSetting) {
		alertChannel := uint64(555)
		s.AlertChannelID = &alertChannel

		if mutate != nil {
			mutate(s)
		}
	})
	require.NoError(t, err)
}

func (wt *workerTest) handle(t *testing.T, msg *event.MessageEvent) {
	t.Helper()

	payload, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, wt.worker.Handle(t.Context(), payload))
}

func messageIn(channelID, messageID uint64, content string) *event.MessageEvent {
	return &event.MessageEvent{
		EventID:   "evt",
		GuildID:   100,
		ChannelID: channelID,
		MessageID: messageID,
		UserID:    200,
		Username:  "spammer",
		Content:   content,
		Timestamp: time.Now().Unix(),
	}
}

func (wt *workerTest) pendingIncidents(t *testing.T) []*types.Incident {
	t.Helper()

	incidents, err := wt.repo.Incident().GetPending(t.Context(), 100, 10)
	require.NoError(t, err)

	return incidents
}

func TestSpamBurstOpensIncident(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	wt.handle(t, messageIn(1, 1001, "buy cheap gold now"))
	wt.handle(t, messageIn(2, 1002, "buy cheap gold now"))
	require.Empty(t, wt.pendingIncidents(t), "two channels must not fire")

	wt.handle(t, messageIn(3, 1003, "buy cheap gold now"))

	incidents := wt.pendingIncidents(t)
	require.Len(t, incidents, 1)
	require.Equal(t, enum.SpamReasonSimilarText, incidents[0].Reason)
	require.ElementsMatch(t, []uint64{1, 2, 3}, incidents[0].ChannelIDs)

	// All three evidence messages were deleted, the user was muted, and the
	// alert card was posted and attached.
	require.Len(t, wt.actions.deleted, 1)
	require.ElementsMatch(t, []uint64{1001}, wt.actions.deleted[0][1])
	require.ElementsMatch(t, []uint64{1002}, wt.actions.deleted[0][2])
	require.ElementsMatch(t, []uint64{1003}, wt.actions.deleted[0][3])
	require.Equal(t, []uint64{200}, wt.actions.muted)
	require.Equal(t, []int64{incidents[0].ID}, wt.actions.cards)

	stored, err := wt.repo.Incident().GetByAlertMessage(t.Context(), 9000)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, incidents[0].ID, stored.ID)
}

func TestWindowClearedAfterDetection(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	for i := range 3 {
		wt.handle(t, messageIn(uint64(i+1), uint64(1001+i), "buy cheap gold now"))
	}

	require.Len(t, wt.pendingIncidents(t), 1)

	// The burst's window was dropped, so a single further copy does not
	// open a second incident by itself.
	wt.handle(t, messageIn(4, 1004, "buy cheap gold now"))
	require.Len(t, wt.pendingIncidents(t), 1)
}

func TestBotMessagesIgnored(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	for i := range 5 {
		msg := messageIn(uint64(i+1), uint64(1001+i), "buy cheap gold now")
		msg.IsBot = true
		wt.handle(t, msg)
	}

	require.Empty(t, wt.pendingIncidents(t))
}

func TestDisabledGuildIgnored(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, func(s *types.GuildSetting) {
		s.Enabled = false
	})

	for i := range 5 {
		wt.handle(t, messageIn(uint64(i+1), uint64(1001+i), "buy cheap gold now"))
	}

	require.Empty(t, wt.pendingIncidents(t))
}

func TestNewAccountLinkShortCircuits(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	// Author joined an hour ago, well inside the default 24h threshold.
	wt.actions.joinedAt = time.Now().Add(-time.Hour)

	wt.handle(t, messageIn(1, 1001, "free nitro at https://scam.example/claim"))

	incidents := wt.pendingIncidents(t)
	require.Len(t, incidents, 1)
	require.Equal(t, enum.SpamReasonNewAccountLink, incidents[0].Reason)
	require.Equal(t, []uint64{1}, incidents[0].ChannelIDs)

	// Only the flagged message itself is evidence.
	require.Len(t, wt.actions.deleted, 1)
	require.Equal(t, map[uint64][]uint64{1: {1001}}, wt.actions.deleted[0])
}

func TestEstablishedAccountLinkRunsCorrelation(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	// A single link from a long-standing member is not an incident.
	wt.handle(t, messageIn(1, 1001, "check out https://scam.example/claim"))
	require.Empty(t, wt.pendingIncidents(t))
}

func TestCacheUnavailableFailsOpen(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	wt.mr.Close()

	// Events are still acknowledged without incidents: protection degrades
	// to pass-through rather than stalling the stream.
	wt.handle(t, messageIn(1, 1001, "buy cheap gold now"))
	require.Empty(t, wt.pendingIncidents(t))
}

func TestUntrackableMessagesSkipped(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	msg := messageIn(1, 1001, "   ")
	wt.handle(t, msg)

	require.Empty(t, wt.pendingIncidents(t))
}

func TestStaleHistoryOutsideWindowIgnored(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	// History from two channels recorded well before the detection window.
	// Timestamps are Unix seconds end to end; a mismatched unit here would
	// score these entries far in the future and keep them in every window.
	stale := time.Now().Add(-10 * time.Minute).Unix()
	for i, channelID := range []uint64{1, 2} {
		_, err := wt.msgCache.Add(t.Context(), 100, 200, &cache.Message{
			Content:   "buy cheap gold now",
			ChannelID: channelID,
			MessageID: uint64(1001 + i),
			Timestamp: stale,
		}, 2*time.Minute)
		require.NoError(t, err)
	}

	// A fresh copy in a third channel sees only the in-window history, so
	// the channel count stays below the threshold.
	wt.handle(t, messageIn(3, 1003, "buy cheap gold now"))
	require.Empty(t, wt.pendingIncidents(t))
}

func TestJoinTimeCarriedOnEventSkipsLookup(t *testing.T) {
	t.Parallel()

	wt := setupWorkerTest(t)
	wt.configure(t, nil)

	msg := messageIn(1, 1001, "free nitro at https://scam.example/claim")
	joined := time.Now().Add(-time.Hour).Unix()
	msg.JoinedAt = &joined

	wt.handle(t, msg)

	incidents := wt.pendingIncidents(t)
	require.Len(t, incidents, 1)
	require.Equal(t, enum.SpamReasonNewAccountLink, incidents[0].Reason)

	// The event carried the join time, so no platform lookup was needed.
	require.Zero(t, wt.actions.fetchCalls)
}
