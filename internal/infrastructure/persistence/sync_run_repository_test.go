package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRunRepository(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewSyncRunRepository(db)
	ctx := context.Background()

	_, err := repo.Latest(ctx, "account")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	first := integration.NewSyncRun("erp", "account", integration.SyncModeFull, testNow)
	first.Counts.Inserted = 3
	first.NoteEvent(1)
	first.NoteEvent(3)
	first.Finish(integration.SyncRunStatusCompleted, testNow.Add(time.Minute))
	require.NoError(t, repo.Save(ctx, first))

	second := integration.NewSyncRun("erp", "account", integration.SyncModeIncremental, testNow.Add(time.Hour))
	require.NoError(t, repo.Save(ctx, second))
	second.RecordFailure(integration.RecordError{SourceID: "A9", Code: integration.CodeNormalization, Message: "missing id"})
	second.Finish(integration.SyncRunStatusFailed, testNow.Add(time.Hour+time.Minute))
	require.NoError(t, repo.Save(ctx, second))

	t.Run("Latest returns the newest run with its summary", func(t *testing.T) {
		got, err := repo.Latest(ctx, "account")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
		assert.Equal(t, integration.SyncRunStatusFailed, got.Status)
		assert.Equal(t, 1, got.Counts.Errors)
		require.Len(t, got.Errors, 1)
		assert.Equal(t, "A9", got.Errors[0].SourceID)
		require.NotNil(t, got.FinishedAt)
	})

	t.Run("ListRecent is newest first", func(t *testing.T) {
		runs, err := repo.ListRecent(ctx, "account", 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, second.ID, runs[0].ID)
		assert.Equal(t, first.ID, runs[1].ID)
		assert.Equal(t, int64(1), runs[1].FirstEventID)
		assert.Equal(t, int64(3), runs[1].LastEventID)
		assert.Equal(t, 3, runs[1].Counts.Inserted)
	})
}

func TestSourceWatermarkRepository(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewSourceWatermarkRepository(db)
	ctx := context.Background()

	wm, err := repo.Get(ctx, "erp", "account")
	require.NoError(t, err)
	assert.Empty(t, wm)

	require.NoError(t, repo.Set(ctx, "erp", "account", "2026-03-01T00:00:00Z"))
	require.NoError(t, repo.Set(ctx, "erp", "account", "2026-03-02T00:00:00Z"))
	require.NoError(t, repo.Set(ctx, "erp", "user", "u-cursor"))

	wm, err = repo.Get(ctx, "erp", "account")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02T00:00:00Z", wm)

	wm, err = repo.Get(ctx, "erp", "user")
	require.NoError(t, err)
	assert.Equal(t, "u-cursor", wm)
}

func TestSyncJobRepository(t *testing.T) {
	db := setupSQLiteDB(t)
	repo := NewSyncJobRepository(db)
	ctx := context.Background()

	job := integration.NewSyncJob([]string{"user", "account"}, integration.SyncModeFull, 2)
	require.NoError(t, repo.Save(ctx, job))

	job.Start()
	run := integration.NewSyncRun("erp", "user", integration.SyncModeFull, testNow)
	run.Counts.Inserted = 4
	run.Finish(integration.SyncRunStatusCompleted, testNow)
	job.RecordRun(run)
	job.Complete()
	require.NoError(t, repo.Save(ctx, job))

	got, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusCompleted, got.Status)
	assert.Equal(t, []string{"user", "account"}, got.EntityTypes)
	assert.Equal(t, 4, got.Summary["user"].Counts.Inserted)
	assert.Equal(t, run.ID, got.Summary["user"].RunID)
	assert.NotNil(t, got.CompletedAt)

	recent, err := repo.ListRecent(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	_, err = repo.FindByID(ctx, run.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
