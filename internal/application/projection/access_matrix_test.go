package projection

import (
	"testing"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedChain builds alice <- bob <- carol with one account each and a
// contact owned by carol
func seedChain(t *testing.T, f *fixture) {
	t.Helper()
	f.user(t, "alice", "")
	f.user(t, "bob", "alice")
	f.user(t, "carol", "bob")
	f.account(t, "a1", "alice")
	f.account(t, "b1", "bob")
	f.account(t, "c1", "carol")
	f.created(t, "contact", "c2", map[string]any{"first_name": "Dee", "owner_id": id("carol").String()})
}

func TestAccessMatrix_Chain(t *testing.T) {
	f := newFixture(t)
	seedChain(t, f)
	f.run(t)

	alice := f.entry(t, "alice")
	assert.True(t, alice.IsManager)
	assert.Equal(t, ids("bob", "carol"), alice.SubordinateUserIDs)
	assert.Equal(t, ids("a1", "b1", "c1", "c2"), alice.VisibleEntityIDs)
	assert.Equal(t, f.now, alice.ComputedAt)

	bob := f.entry(t, "bob")
	assert.True(t, bob.IsManager)
	assert.Equal(t, ids("carol"), bob.SubordinateUserIDs)
	assert.Equal(t, ids("b1", "c1", "c2"), bob.VisibleEntityIDs)

	carol := f.entry(t, "carol")
	assert.False(t, carol.IsManager)
	assert.Empty(t, carol.SubordinateUserIDs)
	assert.Equal(t, ids("c1", "c2"), carol.VisibleEntityIDs)
	assert.True(t, carol.CanSee(id("c2")))
	assert.False(t, carol.CanSee(id("b1")))
	assert.Empty(t, f.cycles)
}

func TestAccessMatrix_ManagerReassignment(t *testing.T) {
	f := newFixture(t)
	seedChain(t, f)
	f.run(t)

	f.updated(t, integration.UserEntityType, "carol", "manager_id", id("alice").String())
	f.run(t)

	bob := f.entry(t, "bob")
	assert.False(t, bob.IsManager)
	assert.Empty(t, bob.SubordinateUserIDs)
	assert.Equal(t, ids("b1"), bob.VisibleEntityIDs)

	alice := f.entry(t, "alice")
	assert.Equal(t, ids("bob", "carol"), alice.SubordinateUserIDs)
	assert.Equal(t, ids("a1", "b1", "c1", "c2"), alice.VisibleEntityIDs)
	assert.Equal(t, f.now, alice.ComputedAt)
}

func TestAccessMatrix_OwnershipTransfer(t *testing.T) {
	f := newFixture(t)
	seedChain(t, f)
	f.run(t)

	f.updated(t, "account", "b1", "owner_id", id("carol").String())
	f.run(t)

	assert.Equal(t, ids("b1", "c1", "c2"), f.entry(t, "carol").VisibleEntityIDs)
	assert.Equal(t, ids("b1", "c1", "c2"), f.entry(t, "bob").VisibleEntityIDs)

	f.updated(t, "account", "b1", "name", "renamed")
	f.run(t)
	assert.Equal(t, ids("b1", "c1", "c2"), f.entry(t, "carol").VisibleEntityIDs)
}

func TestAccessMatrix_SoftDeletes(t *testing.T) {
	f := newFixture(t)
	seedChain(t, f)
	f.run(t)

	f.deleted(t, "account", "c1")
	f.deleted(t, integration.UserEntityType, "bob")
	f.run(t)

	_, err := f.views.AccessEntry(f.ctx, id("bob"))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	alice := f.entry(t, "alice")
	assert.Empty(t, alice.SubordinateUserIDs)
	assert.Equal(t, ids("a1"), alice.VisibleEntityIDs)
	assert.Equal(t, ids("c2"), f.entry(t, "carol").VisibleEntityIDs)

	restored := integration.DomainEvent{
		EventType:    integration.EventTypeRestored,
		EntityType:   integration.UserEntityType,
		CanonicalID:  id("bob"),
		PayloadDelta: integration.EventPayload{Fields: map[string]any{"display_name": "bob", "manager_id": id("alice").String()}},
	}
	f.append(t, restored)
	f.run(t)

	assert.Equal(t, ids("bob", "carol"), f.entry(t, "alice").SubordinateUserIDs)
	assert.Equal(t, ids("b1", "c2"), f.entry(t, "bob").VisibleEntityIDs)
}

func TestAccessMatrix_CycleKeepsLastGoodEntry(t *testing.T) {
	f := newFixture(t)
	f.user(t, "x", "")
	f.user(t, "y", "x")
	f.account(t, "xa", "x")
	f.run(t)
	before := f.entry(t, "x")
	require.Equal(t, ids("y"), before.SubordinateUserIDs)

	f.updated(t, integration.UserEntityType, "x", "manager_id", id("y").String())
	results := f.run(t)
	for _, r := range results {
		assert.False(t, r.Halted, r.Projection)
	}

	require.NotEmpty(t, f.cycles)
	var looped []uuid.UUID
	for _, c := range f.cycles {
		assert.False(t, c.DepthExceeded)
		assert.Equal(t, c.Path[0], c.Path[len(c.Path)-1])
		looped = append(looped, c.UserID)
	}
	assert.ElementsMatch(t, ids("x", "y"), looped)

	after := f.entry(t, "x")
	assert.Equal(t, before, after)

	// Breaking the loop recomputes both users.
	f.cycles = nil
	f.updated(t, integration.UserEntityType, "x", "manager_id", nil)
	f.run(t)
	assert.Empty(t, f.cycles)
	assert.Equal(t, ids("y"), f.entry(t, "x").SubordinateUserIDs)
	assert.Empty(t, f.entry(t, "y").SubordinateUserIDs)
}

func TestAccessMatrix_CycleThenOwnershipRebuilds(t *testing.T) {
	f := newFixture(t)
	f.user(t, "x", "")
	f.user(t, "y", "x")
	f.run(t)
	f.updated(t, integration.UserEntityType, "x", "manager_id", id("y").String())
	f.run(t)
	f.account(t, "xa", "x")
	last := f.account(t, "ya", "y")
	f.run(t)
	require.NotEmpty(t, f.cycles)

	live := f.snapshot(t, AccessMatrixName)
	wm, err := f.store.Watermark(f.ctx, AccessMatrixName, AllEntityTypes)
	require.NoError(t, err)
	assert.Equal(t, last, wm)

	_, err = f.engine.Rebuild(f.ctx, AccessMatrixName)
	require.NoError(t, err)
	assert.Equal(t, live, f.snapshot(t, AccessMatrixName))

	require.NoError(t, f.engine.Recompute(f.ctx, AccessMatrixName))
	assert.Equal(t, live, f.snapshot(t, AccessMatrixName))
}

func TestAccessMatrix_SelfManaged(t *testing.T) {
	f := newFixture(t)
	f.user(t, "solo", "solo")
	f.run(t)

	require.Len(t, f.cycles, 1)
	assert.Equal(t, id("solo"), f.cycles[0].UserID)
	_, err := f.views.AccessEntry(f.ctx, id("solo"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAccessMatrix_DepthBound(t *testing.T) {
	f := newFixture(t)
	var cycles []*integration.HierarchyCycleError
	f.engine.Register(NewAccessMatrixProjection(2, WithCycleHandler(func(_ *Tx, err *integration.HierarchyCycleError) {
		cycles = append(cycles, err)
	})))

	f.user(t, "u0", "")
	f.user(t, "u1", "u0")
	f.user(t, "u2", "u1")
	f.run(t)
	require.Empty(t, cycles)

	f.user(t, "u3", "u2")
	f.run(t)

	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].DepthExceeded)
	assert.Equal(t, id("u0"), cycles[0].UserID)
	assert.Equal(t, ids("u1", "u2"), f.entry(t, "u0").SubordinateUserIDs)
	assert.Equal(t, ids("u2", "u3"), f.entry(t, "u1").SubordinateUserIDs)
}

func TestAccessMatrix_Recompute(t *testing.T) {
	f := newFixture(t)
	seedChain(t, f)
	f.run(t)
	want := f.snapshot(t, AccessMatrixName)

	require.NoError(t, f.engine.Recompute(f.ctx, AccessMatrixName))
	assert.Equal(t, want, f.snapshot(t, AccessMatrixName))

	err := f.engine.Recompute(f.ctx, ServingName)
	var derr *shared.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "RECOMPUTE_UNSUPPORTED", derr.Code)
}
