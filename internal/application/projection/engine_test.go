package projection

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProjection fails on one event id until fixed
type flakyProjection struct {
	failOn int64
	broken bool
}

func (*flakyProjection) Name() string           { return "flaky" }
func (*flakyProjection) Handles(et string) bool { return et == "account" }
func (p *flakyProjection) Apply(tx *Tx, ev integration.DomainEvent) error {
	if p.broken && ev.EventID == p.failOn {
		return errors.New("bad payload")
	}
	return tx.PutJSON(fmt.Sprintf("seen:%03d", ev.EventID), ev.CanonicalID)
}

func TestEngine_RebuildReproducesState(t *testing.T) {
	f := newFixture(t)
	seedChain(t, f)
	f.created(t, OpportunityEntityType, "o1", map[string]any{"stage": "won", "amount": "10.50", "owner_id": id("bob").String()})
	f.updated(t, integration.UserEntityType, "carol", "title", "lead")
	f.deleted(t, "account", "a1")
	f.run(t)

	names := f.engine.Names()
	require.Equal(t, []string{AccessMatrixName, ProfileName, ServingName}, names)
	before := make(map[string]map[string]string)
	for _, n := range names {
		before[n] = f.snapshot(t, n)
		require.NotEmpty(t, before[n], n)
	}

	for _, n := range names {
		res, err := f.engine.Rebuild(f.ctx, n)
		require.NoError(t, err)
		assert.False(t, res.Halted)
		assert.Equal(t, before[n], f.snapshot(t, n), n)
	}
}

func TestEngine_IncrementalMatchesRebuild(t *testing.T) {
	f := newFixture(t)

	// Interleave entity types across runs so incremental application order
	// differs from the type-by-type order of a rebuild.
	f.account(t, "a1", "alice")
	f.run(t)
	f.user(t, "alice", "")
	f.user(t, "bob", "")
	f.account(t, "b1", "bob")
	f.run(t)
	f.updated(t, integration.UserEntityType, "bob", "manager_id", id("alice").String())
	f.created(t, "contact", "k1", map[string]any{"owner_id": id("bob").String()})
	f.run(t)
	f.updated(t, "account", "a1", "owner_id", id("bob").String())
	f.user(t, "carol", "bob")
	f.run(t)

	incremental := f.snapshot(t, AccessMatrixName)
	assert.Equal(t, ids("a1", "b1", "k1"), f.entry(t, "alice").VisibleEntityIDs)

	_, err := f.engine.Rebuild(f.ctx, AccessMatrixName)
	require.NoError(t, err)
	assert.Equal(t, incremental, f.snapshot(t, AccessMatrixName))
}

func TestEngine_HaltAndResume(t *testing.T) {
	flaky := &flakyProjection{broken: true}
	f := newFixture(t, flaky)
	f.account(t, "a1", "u")
	flaky.failOn = f.account(t, "a2", "u")
	last := f.account(t, "a3", "u")

	results := f.run(t)
	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Projection] = r
	}
	require.True(t, byName["flaky"].Halted)
	var replayErr *integration.ProjectionReplayError
	require.ErrorAs(t, byName["flaky"].Err, &replayErr)
	assert.Equal(t, flaky.failOn, replayErr.EventID)
	assert.False(t, byName[ServingName].Halted)

	st, err := f.store.Status(f.ctx, "flaky")
	require.NoError(t, err)
	assert.True(t, st.Halted)
	assert.Equal(t, flaky.failOn, st.FailedEventID)
	assert.Equal(t, flaky.failOn-1, st.Watermarks["account"])
	assert.Equal(t, map[string]string{"seen:001": fmt.Sprintf("%q", id("a1"))}, f.snapshot(t, "flaky"))

	// Other projections keep serving.
	servingWM, err := f.store.Watermark(f.ctx, ServingName, "account")
	require.NoError(t, err)
	assert.Equal(t, last, servingWM)

	_, err = f.engine.RunProjection(f.ctx, "flaky")
	assert.ErrorIs(t, err, ErrProjectionHalted)

	flaky.broken = false
	res, err := f.engine.Resume(f.ctx, "flaky")
	require.NoError(t, err)
	assert.False(t, res.Halted)
	assert.Equal(t, 2, res.Applied["account"])

	st, err = f.store.Status(f.ctx, "flaky")
	require.NoError(t, err)
	assert.False(t, st.Halted)
	assert.Equal(t, last, st.Watermarks["account"])
	assert.Len(t, f.snapshot(t, "flaky"), 3)
}

func TestEngine_Status(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "")
	f.account(t, "a1", "alice")
	f.run(t)
	f.account(t, "a2", "alice")
	head := f.account(t, "a3", "alice")

	st, err := f.engine.Status(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, head, st.Head)
	lags := map[string]int64{}
	for _, p := range st.Projections {
		lags[p.Name] = p.Lag
	}
	assert.Equal(t, int64(2), lags[ServingName])
	assert.Equal(t, int64(2), lags[AccessMatrixName])
	assert.Equal(t, int64(0), lags[ProfileName])
}

func TestEngine_UnknownProjection(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Rebuild(f.ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownProjection)
	_, err = f.engine.Resume(f.ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownProjection)
}

func TestEngine_CancelledRunKeepsCommittedBatches(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.account(t, fmt.Sprintf("a%d", i), "u")
	}
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	_, err := f.engine.RunProjection(ctx, ServingName)
	require.ErrorIs(t, err, context.Canceled)
	st, err := f.store.Status(f.ctx, ServingName)
	require.NoError(t, err)
	assert.False(t, st.Halted)
	assert.Zero(t, st.Watermarks["account"])

	res, err := f.engine.RunProjection(f.ctx, ServingName)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Applied["account"])
}

// cancellingProjection cancels the pass after its first event
type cancellingProjection struct {
	cancel context.CancelFunc
}

func (*cancellingProjection) Name() string           { return "cancelling" }
func (*cancellingProjection) Handles(et string) bool { return et == "account" }
func (p *cancellingProjection) Apply(tx *Tx, ev integration.DomainEvent) error {
	p.cancel()
	return tx.PutJSON(fmt.Sprintf("seen:%03d", ev.EventID), ev.CanonicalID)
}

func TestEngine_CancelMidPageCommitsAppliedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, &cancellingProjection{cancel: cancel})
	var third int64
	for i := 0; i < 5; i++ {
		eid := f.account(t, fmt.Sprintf("a%d", i), "u")
		if i == 2 {
			third = eid
		}
	}

	// The first page of three is applied before the cancellation is seen.
	_, err := f.engine.RunProjection(ctx, "cancelling")
	require.ErrorIs(t, err, context.Canceled)

	wm, err := f.store.Watermark(f.ctx, "cancelling", "account")
	require.NoError(t, err)
	assert.Equal(t, third, wm)
	assert.Len(t, f.snapshot(t, "cancelling"), 3)
}

func TestEngine_LogOrderedWatermark(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a1", "alice")
	f.user(t, "alice", "")
	last := f.created(t, "contact", "c1", map[string]any{"owner_id": id("alice").String()})

	res, err := f.engine.RunProjection(f.ctx, AccessMatrixName)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"account": 1, integration.UserEntityType: 1, "contact": 1}, res.Applied)

	st, err := f.store.Status(f.ctx, AccessMatrixName)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{AllEntityTypes: last}, st.Watermarks)

	// Profile handles users only but still tracks its own type watermark.
	res, err = f.engine.RunProjection(f.ctx, ProfileName)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{integration.UserEntityType: 1}, res.Applied)
}

func TestSyncPassHandler(t *testing.T) {
	f := newFixture(t)
	h := NewSyncPassHandler(f.engine, f.engine.logger)
	assert.Equal(t, []string{integration.TopicSyncPassCompleted}, h.Topics())

	last := f.user(t, "alice", "")
	run := &integration.SyncRun{EntityType: integration.UserEntityType, Status: integration.SyncRunStatusCompleted, LastEventID: last}
	require.NoError(t, h.Handle(f.ctx, integration.NewSyncPassCompleted(run)))

	p, err := f.views.Profile(f.ctx, id("alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.True(t, p.Active)
}
