package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/convmerge/internal/events"
	"github.com/steveyegge/convmerge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// planFor builds the plan the engine would build for the live members of a session
func planFor(t *testing.T, store *fakeStore, sessionID string, simulated bool) *MergePlan {
	t.Helper()
	ctx := context.Background()
	convs, err := store.ListConversations(ctx, sessionID, false)
	require.NoError(t, err)
	groups := GroupConversations(convs, DefaultConfig().Normalizer())
	require.Len(t, groups, 1)

	counts := map[string]int{}
	for _, c := range groups[0].Members {
		counts[c.ID] = store.count(c.ID)
	}
	survivor, ok := Selector{DirectSuffix: DefaultDirectSuffix}.SelectSurvivor(groups[0], counts)
	require.True(t, ok)
	return BuildPlan(sessionID, groups[0], survivor, counts, simulated)
}

func seedGroup(store *fakeStore, counts ...int) {
	store.addSession("s1", "5511900000000")
	for i, n := range counts {
		c := &types.Conversation{
			ID:             string(rune('a' + i)),
			SessionID:      "s1",
			RemoteJID:      string(rune('a'+i)) + "@lid",
			ContactPhone:   "+55 11 98765-4321",
			LastActivityAt: t0.Add(time.Duration(i) * time.Hour),
		}
		store.addConversation(c, n)
	}
}

func TestExecuteConservesMessages(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 4, 9, 0, 2)
	before := store.totalMessages()

	plan := planFor(t, store, "s1", false)
	exec := NewExecutor(store, DefaultConfig(), "run-1", nil, zerolog.Nop())

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, "b", res.SurvivorID)
	assert.Len(t, res.Merged, 3)
	assert.Equal(t, 6, res.MessagesMoved)
	assert.Equal(t, before, store.count("b"))
	assert.Equal(t, []string{"b"}, store.live("s1"))
	assert.Equal(t, before, store.totalMessages())

	// One audit event per duplicate
	require.Len(t, store.events, 3)
	for _, e := range store.events {
		assert.Equal(t, events.EventTypeConversationMerged, e.Type)
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, "b", e.SurvivorID)
	}
}

func TestExecuteRefreshesSurvivor(t *testing.T) {
	store := newFakeStore()
	store.addSession("s1", "5511900000000")
	store.addConversation(&types.Conversation{
		ID: "keep", SessionID: "s1", RemoteJID: "5511987654321@s.whatsapp.net",
		ContactPhone: "5511987654321", LastActivityAt: t0,
	}, 1)
	store.addConversation(&types.Conversation{
		ID: "old", SessionID: "s1", RemoteJID: "1@lid", ContactName: "Old name",
		ContactPhone: "5511987654321", LastActivityAt: t0.Add(time.Hour),
	}, 1)
	store.addConversation(&types.Conversation{
		ID: "new", SessionID: "s1", RemoteJID: "2@lid", ContactName: "Maria",
		ContactPhone: "5511987654321", LastActivityAt: t0.Add(2 * time.Hour),
	}, 1)

	plan := planFor(t, store, "s1", false)
	require.Equal(t, "keep", plan.SurvivorID)

	_, err := NewExecutor(store, DefaultConfig(), "run-1", nil, zerolog.Nop()).Execute(context.Background(), plan)
	require.NoError(t, err)

	survivor := store.convs["keep"]
	assert.True(t, survivor.LastActivityAt.Equal(t0.Add(2*time.Hour)))
	assert.Equal(t, "Maria", survivor.ContactName)
}

func TestExecuteWithoutRefreshOrEvents(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 1, 1)
	plan := planFor(t, store, "s1", false)

	cfg := DefaultConfig()
	cfg.RefreshSurvivor = false
	cfg.RecordEvents = false
	_, err := NewExecutor(store, cfg, "run-1", nil, zerolog.Nop()).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Empty(t, store.events)
	assert.True(t, store.convs[plan.SurvivorID].LastActivityAt.Equal(t0.Add(time.Hour)))
}

func TestExecuteRefusesSimulatedPlan(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 1, 1)
	plan := planFor(t, store, "s1", true)

	res, err := NewExecutor(store, DefaultConfig(), "run-1", nil, zerolog.Nop()).Execute(context.Background(), plan)
	assert.Error(t, err)
	assert.Nil(t, res)
	assert.Zero(t, store.writeCount())
}

func TestExecuteStopsOnReassignFailure(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 2, 5, 3)
	plan := planFor(t, store, "s1", false)
	require.Equal(t, "b", plan.SurvivorID)
	store.failOn("ReassignMessages", "c")

	res, err := NewExecutor(store, DefaultConfig(), "run-1", nil, zerolog.Nop()).Execute(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))

	// "a" was merged before the failure, "c" is untouched
	require.NotNil(t, res)
	assert.Len(t, res.Merged, 1)
	assert.Equal(t, 2, res.MessagesMoved)
	assert.Equal(t, []string{"b", "c"}, store.live("s1"))
	assert.Equal(t, 3, store.count("c"))
}

func TestExecuteDeleteFailureLeavesEmptyDuplicate(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 2, 5)
	plan := planFor(t, store, "s1", false)
	store.failOn("DeleteConversation", "a")

	_, err := NewExecutor(store, DefaultConfig(), "run-1", nil, zerolog.Nop()).Execute(context.Background(), plan)
	require.Error(t, err)

	// Messages moved, the emptied duplicate is still live
	assert.Equal(t, 7, store.count("b"))
	assert.Equal(t, 0, store.count("a"))
	assert.Equal(t, []string{"a", "b"}, store.live("s1"))

	// A rerun converges
	delete(store.failures, "DeleteConversation:a")
	plan = planFor(t, store, "s1", false)
	assert.Equal(t, "b", plan.SurvivorID)
	assert.Equal(t, 0, plan.MessagesToMove())

	_, err = NewExecutor(store, DefaultConfig(), "run-2", nil, zerolog.Nop()).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, store.live("s1"))
	assert.Equal(t, 7, store.count("b"))
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	store := newFakeStore()
	seedGroup(store, 1, 1)
	plan := planFor(t, store, "s1", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewExecutor(store, DefaultConfig(), "run-1", nil, zerolog.Nop()).Execute(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Merged)
	assert.Zero(t, store.writeCount())
}

func TestAbsorbedMetadata(t *testing.T) {
	plan := &MergePlan{Duplicates: []PlannedDuplicate{
		{ConversationID: "a", LastActivityAt: t0.Add(3 * time.Hour)},
		{ConversationID: "b", LastActivityAt: t0, ContactName: "Early"},
		{ConversationID: "c", LastActivityAt: t0.Add(time.Hour), ContactName: "Later"},
	}}
	latest, name := absorbedMetadata(plan)
	assert.True(t, latest.Equal(t0.Add(3*time.Hour)))
	assert.Equal(t, "Later", name)
}
