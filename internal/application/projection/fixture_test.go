package projection

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/infrastructure/event"
	"github.com/erp/crmsync/internal/infrastructure/persistence/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// id returns a stable uuid for a readable name
func id(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

type fixture struct {
	ctx    context.Context
	events *event.MemoryEventStore
	store  *memory.ProjectionStore
	engine *Engine
	views  *Views
	now    time.Time
	cycles []*integration.HierarchyCycleError
}

func newFixture(t *testing.T, extra ...Projection) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		events: event.NewMemoryEventStore(),
		store:  memory.NewProjectionStore(),
		now:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.events, f.store, nil, Config{PageSize: 3}, zap.NewNop())
	f.engine.Register(NewServingProjection())
	f.engine.Register(NewProfileProjection())
	f.engine.Register(NewAccessMatrixProjection(DefaultMaxHierarchyDepth, WithCycleHandler(
		func(_ *Tx, err *integration.HierarchyCycleError) {
			f.cycles = append(f.cycles, err)
		},
	)))
	for _, p := range extra {
		f.engine.Register(p)
	}
	f.views = NewViews(f.store)
	return f
}

func (f *fixture) append(t *testing.T, ev integration.DomainEvent) int64 {
	t.Helper()
	f.now = f.now.Add(time.Minute)
	ev.OccurredAt = f.now
	ev.CausationBatchID = id("batch")
	eid, err := f.events.Append(f.ctx, &ev)
	require.NoError(t, err)
	return eid
}

func (f *fixture) created(t *testing.T, entityType, name string, fields map[string]any) int64 {
	t.Helper()
	return f.append(t, integration.DomainEvent{
		EventType:   integration.EventTypeCreated,
		EntityType:  entityType,
		CanonicalID: id(name),
		PayloadDelta: integration.EventPayload{
			Fields:           fields,
			ValidationStatus: integration.ValidationStatusValid,
			QualityScore:     1,
			ContentHash:      "h-" + name,
		},
	})
}

func (f *fixture) updated(t *testing.T, entityType, name, field string, value any) int64 {
	t.Helper()
	op := []map[string]any{{"op": "add", "path": "/" + field, "value": value}}
	patch, err := json.Marshal(op)
	require.NoError(t, err)
	return f.append(t, integration.DomainEvent{
		EventType:   integration.EventTypeUpdated,
		EntityType:  entityType,
		CanonicalID: id(name),
		PayloadDelta: integration.EventPayload{
			Patch:            patch,
			ValidationStatus: integration.ValidationStatusValid,
			QualityScore:     1,
		},
	})
}

func (f *fixture) deleted(t *testing.T, entityType, name string) int64 {
	t.Helper()
	return f.append(t, integration.DomainEvent{
		EventType:   integration.EventTypeSoftDeleted,
		EntityType:  entityType,
		CanonicalID: id(name),
	})
}

func (f *fixture) user(t *testing.T, name, manager string) int64 {
	t.Helper()
	fields := map[string]any{"display_name": name, "email": name + "@example.com"}
	if manager != "" {
		fields["manager_id"] = id(manager).String()
	}
	return f.created(t, integration.UserEntityType, name, fields)
}

func (f *fixture) account(t *testing.T, name, owner string) int64 {
	t.Helper()
	return f.created(t, "account", name, map[string]any{"name": name, "owner_id": id(owner).String()})
}

func (f *fixture) run(t *testing.T) []Result {
	t.Helper()
	results, err := f.engine.Run(f.ctx)
	require.NoError(t, err)
	return results
}

// snapshot returns the raw committed state of a projection
func (f *fixture) snapshot(t *testing.T, name string) map[string]string {
	t.Helper()
	kvs, err := f.store.Scan(f.ctx, name, "")
	require.NoError(t, err)
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = string(kv.Value)
	}
	return out
}

func (f *fixture) entry(t *testing.T, name string) *integration.AccessMatrixEntry {
	t.Helper()
	e, err := f.views.AccessEntry(f.ctx, id(name))
	require.NoError(t, err, "matrix entry of %s", name)
	return e
}

func ids(names ...string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(names))
	for _, n := range names {
		out = append(out, id(n))
	}
	slices.SortFunc(out, compareIDs)
	return out
}
