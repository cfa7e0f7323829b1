package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func accountChange(sourceID, name string, employees int64, eventType integration.EventType) integration.Change {
	id := integration.DeriveCanonicalID("erp", "account", sourceID)
	fields := map[string]any{"name": name, "employees": employees}
	hash, _ := integration.ContentHash(fields, integration.ValidationStatusValid)
	refs := []integration.SourceRef{{Source: "erp", SourceID: sourceID}}
	return integration.Change{
		Entity: integration.CanonicalEntity{
			CanonicalID:      id,
			EntityType:       "account",
			NormalizedFields: fields,
			SourceRefs:       refs,
			ValidationStatus: integration.ValidationStatusValid,
			QualityScore:     1,
			ContentHash:      hash,
			FirstSeenAt:      testNow,
			LastUpdatedAt:    testNow,
			IsActive:         eventType != integration.EventTypeSoftDeleted,
		},
		Event: integration.DomainEvent{
			EventType:   eventType,
			EntityType:  "account",
			CanonicalID: id,
			PayloadDelta: integration.EventPayload{
				Fields:           fields,
				ValidationStatus: integration.ValidationStatusValid,
				QualityScore:     1,
				SourceRefs:       refs,
				ContentHash:      hash,
			},
			OccurredAt:       testNow,
			CausationBatchID: uuid.New(),
		},
	}
}

func TestGormLedger_Commit(t *testing.T) {
	db := setupSQLiteDB(t)
	events := event.NewGormEventStore(db)
	ledger := NewGormLedger(db, events)
	canonical := NewCanonicalEntityRepository(db)
	ctx := context.Background()

	t.Run("assigns event ids and stores entities", func(t *testing.T) {
		changes := []integration.Change{
			accountChange("A1", "Acme", 12, integration.EventTypeCreated),
			accountChange("A2", "Globex", 40, integration.EventTypeCreated),
		}
		require.NoError(t, ledger.Commit(ctx, changes))

		assert.Equal(t, int64(1), changes[0].Event.EventID)
		assert.Equal(t, int64(2), changes[1].Event.EventID)

		got, err := canonical.FindByID(ctx, changes[0].Entity.CanonicalID)
		require.NoError(t, err)
		assert.Equal(t, "Acme", got.NormalizedFields["name"])
		assert.Equal(t, json.Number("12"), got.NormalizedFields["employees"])
		assert.Equal(t, changes[0].Entity.ContentHash, got.ContentHash)
		assert.Equal(t, []integration.SourceRef{{Source: "erp", SourceID: "A1"}}, got.SourceRefs)
		assert.True(t, got.IsActive)

		head, err := events.Head(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), head)
	})

	t.Run("upserts existing rows", func(t *testing.T) {
		changes := []integration.Change{accountChange("A1", "Acme Corp", 12, integration.EventTypeUpdated)}
		require.NoError(t, ledger.Commit(ctx, changes))
		assert.Equal(t, int64(3), changes[0].Event.EventID)

		got, err := canonical.FindByID(ctx, changes[0].Entity.CanonicalID)
		require.NoError(t, err)
		assert.Equal(t, "Acme Corp", got.NormalizedFields["name"])
	})

	t.Run("rolls back entities when the append fails", func(t *testing.T) {
		change := accountChange("A2", "Globex Renamed", 41, integration.EventTypeUpdated)
		change.Event.EventID = 1 // behind head

		err := ledger.Commit(ctx, []integration.Change{change})
		var ooo *integration.OutOfOrderError
		require.ErrorAs(t, err, &ooo)
		assert.Equal(t, int64(3), ooo.Head)
		assert.Equal(t, int64(1), change.Event.EventID)

		got, err := canonical.FindByID(ctx, change.Entity.CanonicalID)
		require.NoError(t, err)
		assert.Equal(t, "Globex", got.NormalizedFields["name"])
	})

	t.Run("empty commit is a no-op", func(t *testing.T) {
		assert.NoError(t, ledger.Commit(ctx, nil))
	})
}

func TestCanonicalEntityRepository(t *testing.T) {
	db := setupSQLiteDB(t)
	ledger := NewGormLedger(db, event.NewGormEventStore(db))
	repo := NewCanonicalEntityRepository(db)
	ctx := context.Background()

	changes := []integration.Change{
		accountChange("A1", "Acme", 1, integration.EventTypeCreated),
		accountChange("A2", "Globex", 2, integration.EventTypeCreated),
		accountChange("A3", "Initech", 3, integration.EventTypeSoftDeleted),
	}
	require.NoError(t, ledger.Commit(ctx, changes))

	t.Run("FindByID returns ErrNotFound", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("ListByType includes inactive rows in id order", func(t *testing.T) {
		all, err := repo.ListByType(ctx, "account")
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].CanonicalID.String(), all[i].CanonicalID.String())
		}
	})

	t.Run("List filters inactive and pages", func(t *testing.T) {
		page, total, err := repo.List(ctx, integration.CanonicalFilter{EntityType: "account", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, page, 1)

		page, total, err = repo.List(ctx, integration.CanonicalFilter{EntityType: "account", IncludeInactive: true})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, page, 3)
	})

	t.Run("List sorts by whitelisted columns only", func(t *testing.T) {
		desc, _, err := repo.List(ctx, integration.CanonicalFilter{
			EntityType: "account", IncludeInactive: true, SortBy: "canonical_id", SortOrder: "desc",
		})
		require.NoError(t, err)
		require.Len(t, desc, 3)
		for i := 1; i < len(desc); i++ {
			assert.Greater(t, desc[i-1].CanonicalID.String(), desc[i].CanonicalID.String())
		}

		fallback, _, err := repo.List(ctx, integration.CanonicalFilter{
			EntityType: "account", IncludeInactive: true, SortBy: "name; DROP TABLE canonical_entities",
		})
		require.NoError(t, err)
		require.Len(t, fallback, 3)
		assert.Equal(t, desc[2].CanonicalID, fallback[0].CanonicalID)
	})
}

func TestRawRecordRepository(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewRawRecordRepository(db)
	ctx := context.Background()

	batch1, batch2 := uuid.New(), uuid.New()
	require.NoError(t, repo.Append(ctx, []integration.RawRecord{
		integration.NewRawRecord("erp", "account", "A1", integration.Payload{"name": "Acme", "revenue": 1250.5}, batch1, testNow),
		integration.NewRawRecord("erp", "account", "A2", integration.Payload{"name": "Globex"}, batch1, testNow),
	}))
	require.NoError(t, repo.Append(ctx, []integration.RawRecord{
		integration.NewRawRecord("erp", "account", "A1", integration.Payload{"name": "Acme Corp"}, batch2, testNow.Add(time.Hour)),
	}))

	t.Run("keeps every landing of a source record", func(t *testing.T) {
		history, err := repo.ListBySource(ctx, "erp", "account", "A1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "Acme", history[0].Payload["name"])
		assert.Equal(t, json.Number("1250.5"), history[0].Payload["revenue"])
		assert.Equal(t, "Acme Corp", history[1].Payload["name"])
	})

	t.Run("lists a batch", func(t *testing.T) {
		recs, err := repo.ListByBatch(ctx, batch1)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "A1", recs[0].SourceID)
		assert.Equal(t, "A2", recs[1].SourceID)
	})

	t.Run("empty append is a no-op", func(t *testing.T) {
		assert.NoError(t, repo.Append(ctx, nil))
	})
}
