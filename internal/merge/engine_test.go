package merge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/convmerge/internal/events"
	"github.com/steveyegge/convmerge/internal/storage/sqlite"
	"github.com/steveyegge/convmerge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, store Store, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(store, cfg, zerolog.Nop())
	require.NoError(t, err)
	return engine
}

// seedScenario creates the three-conversation session used across the engine tests:
// the same contact stored three ways with 5, 12 and 3 messages, the second one
// addressed through the canonical channel.
func seedScenario(t *testing.T, ctx context.Context, store interface {
	CreateSession(context.Context, *types.Session) error
	CreateConversation(context.Context, *types.Conversation) error
	CreateMessage(context.Context, *types.Message) error
}, sessionID string) {
	t.Helper()
	require.NoError(t, store.CreateSession(ctx, &types.Session{ID: sessionID, Phone: "+55 11 90000-0000"}))

	convs := []struct {
		id, jid, phone string
		messages       int
	}{
		{sessionID + "-c1", "201234567890123@lid", "+55 11 98765-4321", 5},
		{sessionID + "-c2", "5511987654321@s.whatsapp.net", "11987654321", 12},
		{sessionID + "-c3", "209876543210987@lid", "(11) 98765-4321", 3},
	}
	for i, c := range convs {
		require.NoError(t, store.CreateConversation(ctx, &types.Conversation{
			ID:             c.id,
			SessionID:      sessionID,
			RemoteJID:      c.jid,
			ContactPhone:   c.phone,
			LastActivityAt: t0.Add(time.Duration(i) * time.Minute),
			CreatedAt:      t0.Add(time.Duration(i) * time.Second),
		}))
		for m := 0; m < c.messages; m++ {
			require.NoError(t, store.CreateMessage(ctx, &types.Message{
				ID:             fmt.Sprintf("%s-m%02d", c.id, m),
				ConversationID: c.id,
				Direction:      types.DirectionInbound,
				SentAt:         t0,
			}))
		}
	}
}

func newSQLiteStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "convmerge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	seedScenario(t, ctx, store, "S")

	engine := newTestEngine(t, store, func(c *Config) { c.DefaultCountryCode = "55" })

	report, err := engine.Run(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, report.Sessions, 1)
	sr := report.Sessions[0]
	assert.False(t, sr.Failed())
	assert.Equal(t, 1, sr.DuplicateGroups)
	assert.Equal(t, 2, sr.ConversationsMerged)
	assert.Equal(t, 8, sr.MessagesMoved)

	require.Len(t, sr.Groups, 1)
	g := sr.Groups[0]
	assert.Equal(t, PhaseExecuted, g.Phase)
	assert.Equal(t, "5511987654321", g.Plan.Key)
	assert.Equal(t, "S-c2", g.Plan.SurvivorID)
	assert.Equal(t, []string{"S-c1", "S-c3"}, g.Plan.DuplicateIDs())
	assert.Equal(t, 8, g.Plan.MessagesToMove())

	convs, err := store.ListConversations(ctx, "S", false)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "S-c2", convs[0].ID)

	count, err := store.CountMessages(ctx, "S-c2")
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	assert.Equal(t, 1, report.TotalDuplicateGroups)
	assert.Equal(t, 2, report.TotalConversationsMerged)
	assert.Equal(t, 8, report.TotalMessagesMoved)

	// Audit trail: two merges plus the run summary
	evts, err := store.ListMergeEvents(ctx, events.MergeEventFilter{RunID: report.RunID})
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, events.EventTypeMergeRunCompleted, evts[0].Type)
}

func TestIdempotentSecondRun(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	seedScenario(t, ctx, store, "S")
	engine := newTestEngine(t, store, func(c *Config) { c.DefaultCountryCode = "55" })

	_, err := engine.Run(ctx, Options{})
	require.NoError(t, err)

	second, err := engine.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalDuplicateGroups)
	assert.Equal(t, 0, second.TotalConversationsMerged)
	assert.Equal(t, 0, second.TotalMessagesMoved)

	count, err := store.CountMessages(ctx, "S-c2")
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestSimulationParity(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	seedScenario(t, ctx, store, "S")
	engine := newTestEngine(t, store, func(c *Config) { c.DefaultCountryCode = "55" })

	sim, err := engine.Run(ctx, Options{Simulate: true})
	require.NoError(t, err)
	assert.True(t, sim.Simulated)

	// Nothing changed
	convs, err := store.ListConversations(ctx, "S", false)
	require.NoError(t, err)
	assert.Len(t, convs, 3)
	evts, err := store.ListMergeEvents(ctx, events.MergeEventFilter{})
	require.NoError(t, err)
	assert.Empty(t, evts)

	live, err := engine.Run(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, sim.Sessions[0].Groups, 1)
	require.Len(t, live.Sessions[0].Groups, 1)
	simPlan := *sim.Sessions[0].Groups[0].Plan
	livePlan := *live.Sessions[0].Groups[0].Plan
	assert.True(t, simPlan.Simulated)
	assert.False(t, livePlan.Simulated)
	simPlan.Simulated = false
	assert.Equal(t, livePlan, simPlan)

	assert.Equal(t, PhaseSimulated, sim.Sessions[0].Groups[0].Phase)
	assert.Equal(t, live.TotalDuplicateGroups, sim.TotalDuplicateGroups)
	assert.Equal(t, live.TotalConversationsMerged, sim.TotalConversationsMerged)
	assert.Equal(t, live.TotalMessagesMoved, sim.TotalMessagesMoved)
}

func TestRunWithoutCountryCodeKeepsNationalNumbersApart(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	seedScenario(t, ctx, store, "S")
	engine := newTestEngine(t, store, nil)

	report, err := engine.Run(ctx, Options{Simulate: true})
	require.NoError(t, err)

	// Only the two national forms share a digit string
	require.Len(t, report.Sessions[0].Groups, 1)
	plan := report.Sessions[0].Groups[0].Plan
	assert.Equal(t, "11987654321", plan.Key)
	assert.Equal(t, "S-c2", plan.SurvivorID)
	assert.Equal(t, []string{"S-c3"}, plan.DuplicateIDs())
}

func TestRunSessionSelector(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	seedScenario(t, ctx, store, "A")
	seedScenario(t, ctx, store, "B")
	engine := newTestEngine(t, store, func(c *Config) { c.DefaultCountryCode = "55" })

	report, err := engine.Run(ctx, Options{SessionID: "B"})
	require.NoError(t, err)
	require.Len(t, report.Sessions, 1)
	assert.Equal(t, "B", report.Sessions[0].SessionID)

	// A is untouched
	convs, err := store.ListConversations(ctx, "A", false)
	require.NoError(t, err)
	assert.Len(t, convs, 3)

	_, err = engine.Run(ctx, Options{SessionID: "missing"})
	assert.True(t, errors.Is(err, ErrSessionNotFound), "got %v", err)
}

func TestRunEmptyStore(t *testing.T) {
	engine := newTestEngine(t, newFakeStore(), nil)
	_, err := engine.Run(context.Background(), Options{})
	assert.True(t, errors.Is(err, ErrSessionNotFound), "got %v", err)
}

func TestRunNoDuplicates(t *testing.T) {
	store := newFakeStore()
	store.addSession("s1", "5511900000000")
	store.addConversation(&types.Conversation{ID: "a", SessionID: "s1", RemoteJID: "a@lid", ContactPhone: "5511987654321"}, 3)
	store.addConversation(&types.Conversation{ID: "b", SessionID: "s1", RemoteJID: "b@lid", ContactPhone: "5521911112222"}, 1)
	store.addConversation(&types.Conversation{ID: "c", SessionID: "s1", RemoteJID: "c@lid", ContactPhone: "123"}, 1)
	store.addConversation(&types.Conversation{ID: "d", SessionID: "s1", RemoteJID: "d@lid", ContactPhone: "123"}, 1)

	report, err := newTestEngine(t, store, nil).Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, report.Sessions, 1)
	assert.False(t, report.Sessions[0].Failed())
	assert.Equal(t, 4, report.Sessions[0].Conversations)
	assert.Equal(t, 0, report.TotalDuplicateGroups)
	assert.Zero(t, store.writeCount())
}

func TestRunNeverMergesGroupThreads(t *testing.T) {
	store := newFakeStore()
	store.addSession("s1", "5511900000000")
	store.addConversation(&types.Conversation{ID: "g1", SessionID: "s1", RemoteJID: "1@g.us", ContactPhone: "5511987654321", IsGroup: true}, 3)
	store.addConversation(&types.Conversation{ID: "g2", SessionID: "s1", RemoteJID: "2@g.us", ContactPhone: "5511987654321", IsGroup: true}, 3)
	store.addConversation(&types.Conversation{ID: "d1", SessionID: "s1", RemoteJID: "d@lid", ContactPhone: "5511987654321"}, 1)

	report, err := newTestEngine(t, store, nil).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalDuplicateGroups)
	assert.Nil(t, store.convs["g1"].DeletedAt)
	assert.Nil(t, store.convs["g2"].DeletedAt)
}

func TestRunIsolatesSessionFailures(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			store := newFakeStore()
			for _, id := range []string{"s1", "s2", "s3"} {
				store.addSession(id, "55119000000"+id[1:])
				store.addConversation(&types.Conversation{ID: id + "-a", SessionID: id, RemoteJID: "a@lid", ContactPhone: "5511987654321", LastActivityAt: t0}, 2)
				store.addConversation(&types.Conversation{ID: id + "-b", SessionID: id, RemoteJID: "5511987654321@s.whatsapp.net", ContactPhone: "5511987654321", LastActivityAt: t0}, 1)
			}
			store.failOn("CountMessages", "s2-a")

			engine := newTestEngine(t, store, func(c *Config) { c.Workers = workers })
			report, err := engine.Run(context.Background(), Options{})
			require.NoError(t, err)

			require.Len(t, report.Sessions, 3)
			assert.Equal(t, 1, report.FailedSessions)
			assert.True(t, report.HasFailures())

			for _, sr := range report.Sessions {
				if sr.SessionID == "s2" {
					assert.True(t, sr.Failed())
					assert.True(t, errors.Is(sr.Err, errInjected))
					assert.NotEmpty(t, sr.Error)
					assert.Equal(t, 0, sr.ConversationsMerged)
					continue
				}
				assert.False(t, sr.Failed(), "session %s", sr.SessionID)
				assert.Equal(t, 1, sr.ConversationsMerged)
				assert.Equal(t, 2, sr.MessagesMoved)
			}

			assert.Equal(t, 2, report.TotalDuplicateGroups)
			assert.Equal(t, 2, report.TotalConversationsMerged)
			assert.Equal(t, 4, report.TotalMessagesMoved)
			assert.Equal(t, []string{"s2-a", "s2-b"}, store.live("s2"))
			assert.Equal(t, []string{"s1-b"}, store.live("s1"))
		})
	}
}

func TestRunRecordsPartialMergeOnFailure(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 2, 5, 3)
	store.failOn("ReassignMessages", "c")

	report, err := newTestEngine(t, store, nil).Run(context.Background(), Options{})
	require.NoError(t, err)

	sr := report.Sessions[0]
	require.True(t, sr.Failed())
	require.Len(t, sr.Groups, 1)
	assert.Equal(t, PhaseFailed, sr.Groups[0].Phase)
	assert.Equal(t, 1, sr.ConversationsMerged)
	assert.Equal(t, 2, sr.MessagesMoved)

	// A rerun without the fault converges
	delete(store.failures, "ReassignMessages:c")
	report, err = newTestEngine(t, store, nil).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.False(t, report.HasFailures())
	assert.Equal(t, []string{"b"}, store.live("s1"))
	assert.Equal(t, 10, store.count("b"))
}

func TestRunListFailureAbortsOnlyThatSession(t *testing.T) {
	store := newFakeStore()
	store.addSession("s1", "1")
	store.addSession("s2", "2")
	store.failOn("ListConversations", "s1")

	report, err := newTestEngine(t, store, nil).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, report.Sessions[0].Failed())
	assert.False(t, report.Sessions[1].Failed())
}

func TestRunFailsWhenLockHeld(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 1, 1)
	release, err := store.AcquireMergeLock(context.Background(), "other")
	require.NoError(t, err)
	defer release()

	engine := newTestEngine(t, store, nil)
	_, err = engine.Run(context.Background(), Options{})
	assert.True(t, errors.Is(err, types.ErrLocked), "got %v", err)
	assert.Zero(t, store.writeCount())

	// Simulation takes no lock
	report, err := engine.Run(context.Background(), Options{Simulate: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalDuplicateGroups)
}

func TestRunCancelledBetweenSessions(t *testing.T) {
	store := newFakeStore()
	store.addSession("s1", "1")
	store.addSession("s2", "2")

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	report, err := newTestEngine(t, store, nil).Run(ctx, Options{
		Simulate: true,
		Progress: func(sr *SessionReport) {
			seen = append(seen, sr.SessionID)
			cancel()
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, []string{"s1"}, seen)
	assert.Len(t, report.Sessions, 1)
}

func TestRunProgressIsSerialized(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 8; i++ {
		store.addSession(fmt.Sprintf("s%d", i), "")
	}

	var mu sync.Mutex
	active := 0
	calls := 0
	engine := newTestEngine(t, store, func(c *Config) { c.Workers = 4 })
	_, err := engine.Run(context.Background(), Options{
		Simulate: true,
		Progress: func(sr *SessionReport) {
			mu.Lock()
			active++
			calls++
			assert.Equal(t, 1, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 8, calls)
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig(), zerolog.Nop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err = NewEngine(newFakeStore(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestProcessGroupSkipsClaimedConversations(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedGroup(store, 2, 5, 1)
	engine := newTestEngine(t, store, nil)

	convs, err := store.ListConversations(ctx, "s1", false)
	require.NoError(t, err)
	groups := GroupConversations(convs, engine.normalizer)
	require.Len(t, groups, 1)

	r := &run{
		id:       "run-claims",
		claims:   newClaimSet(),
		executor: NewExecutor(store, engine.cfg, "run-claims", nil, zerolog.Nop()),
	}
	// Another worker is rewriting one member of the group
	require.True(t, r.claims.claim([]string{"c"}))

	gr, err := engine.processGroup(ctx, r, "s1", groups[0])
	require.NoError(t, err)
	assert.Equal(t, PhaseSkipped, gr.Phase)
	assert.Zero(t, gr.Merged)
	assert.Zero(t, store.writeCount())
	assert.Len(t, store.live("s1"), 3)

	// Once released the group merges and its claims are dropped afterwards
	r.claims.release([]string{"c"})
	gr, err = engine.processGroup(ctx, r, "s1", groups[0])
	require.NoError(t, err)
	assert.Equal(t, PhaseExecuted, gr.Phase)
	assert.Equal(t, 2, gr.Merged)
	assert.True(t, r.claims.claim(groups[0].IDs()))
}
