package merge

import (
	"testing"

	"github.com/steveyegge/convmerge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan(t *testing.T) {
	a := scored("a", "1@lid", t0)
	b := scored("b", "5511987654321@s.whatsapp.net", t0)
	b.ContactName = "Maria"
	c := scored("c", "2@lid", t0)
	group := Group{Key: "5511987654321", Members: []*types.Conversation{a, b, c}}
	counts := map[string]int{"a": 5, "b": 12, "c": 3}

	survivor, ok := Selector{DirectSuffix: DefaultDirectSuffix}.SelectSurvivor(group, counts)
	require.True(t, ok)

	plan := BuildPlan("s1", group, survivor, counts, false)
	require.NoError(t, plan.Validate())

	assert.Equal(t, "s1", plan.SessionID)
	assert.Equal(t, "b", plan.SurvivorID)
	assert.Equal(t, "Maria", plan.ContactLabel)
	assert.Equal(t, 12, plan.SurvivorMessages)
	assert.Equal(t, []string{"a", "c"}, plan.DuplicateIDs())
	assert.Equal(t, 5, plan.Duplicates[0].MessageCount)
	assert.Equal(t, 3, plan.Duplicates[1].MessageCount)
	assert.Equal(t, 8, plan.MessagesToMove())
	assert.Equal(t, 20, plan.TotalMessages())
	assert.False(t, plan.Simulated)
}

func TestBuildPlanSimulationParity(t *testing.T) {
	group := Group{Key: "5511987654321", Members: []*types.Conversation{
		scored("a", "1@lid", t0),
		scored("b", "2@lid", t0.Add(1)),
	}}
	counts := map[string]int{"a": 2, "b": 2}
	survivor, _ := Selector{DirectSuffix: DefaultDirectSuffix}.SelectSurvivor(group, counts)

	live := BuildPlan("s1", group, survivor, counts, false)
	sim := BuildPlan("s1", group, survivor, counts, true)

	assert.True(t, sim.Simulated)
	sim.Simulated = false
	assert.Equal(t, live, sim)
}

func TestMergePlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    MergePlan
		wantErr bool
	}{
		{
			name: "valid",
			plan: MergePlan{SurvivorID: "a", Duplicates: []PlannedDuplicate{{ConversationID: "b"}}},
		},
		{
			name:    "no survivor",
			plan:    MergePlan{Duplicates: []PlannedDuplicate{{ConversationID: "b"}}},
			wantErr: true,
		},
		{
			name:    "no duplicates",
			plan:    MergePlan{SurvivorID: "a"},
			wantErr: true,
		},
		{
			name:    "survivor listed as duplicate",
			plan:    MergePlan{SurvivorID: "a", Duplicates: []PlannedDuplicate{{ConversationID: "a"}}},
			wantErr: true,
		},
		{
			name: "negative count",
			plan: MergePlan{SurvivorID: "a", Duplicates: []PlannedDuplicate{
				{ConversationID: "b", MessageCount: -1},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClaimSet(t *testing.T) {
	c := newClaimSet()
	assert.True(t, c.claim([]string{"a", "b"}))
	assert.False(t, c.claim([]string{"b", "c"}))
	// A refused claim takes nothing
	assert.True(t, c.claim([]string{"c"}))
	c.release([]string{"a", "b"})
	assert.True(t, c.claim([]string{"a", "b"}))
}
