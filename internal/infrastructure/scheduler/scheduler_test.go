package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/infrastructure/persistence/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExecutor struct {
	calls atomic.Int32
	fn    func(call int32, entityTypes []string, mode integration.SyncMode) (map[string]integration.EntityTypeSummary, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, entityTypes []string, mode integration.SyncMode) (map[string]integration.EntityTypeSummary, error) {
	n := f.calls.Add(1)
	if f.fn == nil {
		return summaryOf(entityTypes, integration.SyncRunStatusCompleted), nil
	}
	return f.fn(n, entityTypes, mode)
}

func summaryOf(entityTypes []string, status integration.SyncRunStatus) map[string]integration.EntityTypeSummary {
	out := make(map[string]integration.EntityTypeSummary, len(entityTypes))
	for _, et := range entityTypes {
		out[et] = integration.EntityTypeSummary{RunID: uuid.New(), Status: status, Counts: integration.PartitionCounts{Fetched: 1}}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueSize = 4
	cfg.JobTimeout = time.Second
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.MaxRetryDelay = 20 * time.Millisecond
	return cfg
}

func startScheduler(t *testing.T, cfg Config, exec Executor, repo integration.SyncJobRepository) *Scheduler {
	t.Helper()
	s, err := NewScheduler(cfg, exec, repo, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitForStatus(t *testing.T, s *Scheduler, id uuid.UUID, status integration.JobStatus) *integration.SyncJob {
	t.Helper()
	var job *integration.SyncJob
	require.Eventually(t, func() bool {
		j, err := s.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Workers = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.HistorySize = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	_, err := NewScheduler(bad, &fakeExecutor{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestScheduler_RunsJob(t *testing.T) {
	repo := memory.NewSyncJobStore()
	s := startScheduler(t, testConfig(), &fakeExecutor{}, repo)

	job, err := s.Submit(context.Background(), []string{"user", "account"}, integration.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, integration.JobStatusPending, job.Status)

	done := waitForStatus(t, s, job.ID, integration.JobStatusCompleted)
	assert.Len(t, done.Summary, 2)
	assert.Equal(t, integration.SyncRunStatusCompleted, done.Summary["user"].Status)
	assert.NotNil(t, done.CompletedAt)

	require.Eventually(t, func() bool {
		stored, err := repo.FindByID(context.Background(), job.ID)
		return err == nil && stored.Status == integration.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_RetriesUnavailableSource(t *testing.T) {
	exec := &fakeExecutor{fn: func(call int32, types []string, _ integration.SyncMode) (map[string]integration.EntityTypeSummary, error) {
		if call < 3 {
			return summaryOf(types, integration.SyncRunStatusFailed), &integration.ConnectorUnavailableError{
				Source: "erp", EntityType: types[0], Retryable: true, Err: errors.New("503"),
			}
		}
		return summaryOf(types, integration.SyncRunStatusCompleted), nil
	}}
	s := startScheduler(t, testConfig(), exec, nil)

	job, err := s.Submit(context.Background(), []string{"user"}, integration.SyncModeIncremental)
	require.NoError(t, err)

	done := waitForStatus(t, s, job.ID, integration.JobStatusCompleted)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, int32(3), exec.calls.Load())
	assert.Empty(t, done.Error)
}

func TestScheduler_PermanentFailureIsNotRetried(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int32, types []string, _ integration.SyncMode) (map[string]integration.EntityTypeSummary, error) {
		return nil, &integration.ConnectorUnavailableError{Source: "erp", EntityType: types[0], Err: errors.New("401")}
	}}
	s := startScheduler(t, testConfig(), exec, nil)

	job, err := s.Submit(context.Background(), []string{"user"}, integration.SyncModeFull)
	require.NoError(t, err)

	failed := waitForStatus(t, s, job.ID, integration.JobStatusFailed)
	assert.Contains(t, failed.Error, "401")
	assert.Zero(t, failed.RetryCount)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestScheduler_RetriesAreBounded(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int32, types []string, _ integration.SyncMode) (map[string]integration.EntityTypeSummary, error) {
		return nil, &integration.ConnectorUnavailableError{Source: "erp", EntityType: types[0], Retryable: true, Err: errors.New("timeout")}
	}}
	cfg := testConfig()
	cfg.RetryAttempts = 2
	s := startScheduler(t, cfg, exec, nil)

	job, err := s.Submit(context.Background(), []string{"account"}, integration.SyncModeFull)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return exec.calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	failed := waitForStatus(t, s, job.ID, integration.JobStatusFailed)
	assert.Equal(t, 2, failed.RetryCount)
}

func TestScheduler_SubmitErrors(t *testing.T) {
	s, err := NewScheduler(testConfig(), &fakeExecutor{}, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), []string{"user"}, integration.SyncModeFull)
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	_, err = s.Submit(context.Background(), nil, integration.SyncModeFull)
	assert.ErrorIs(t, err, ErrNoEntityTypes)
	_, err = s.Submit(context.Background(), []string{"user"}, "weekly")
	assert.Error(t, err)

	_, err = s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_QueueFull(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	exec := &fakeExecutor{fn: func(_ int32, types []string, _ integration.SyncMode) (map[string]integration.EntityTypeSummary, error) {
		<-release
		return summaryOf(types, integration.SyncRunStatusCompleted), nil
	}}
	cfg := testConfig()
	cfg.QueueSize = 1
	s := startScheduler(t, cfg, exec, nil)
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	_, err := s.Submit(context.Background(), []string{"user"}, integration.SyncModeFull)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err = s.Submit(context.Background(), []string{"user"}, integration.SyncModeFull)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), []string{"user"}, integration.SyncModeFull)
	assert.ErrorIs(t, err, ErrJobQueueFull)

	once.Do(func() { close(release) })
}

func TestScheduler_HistoryIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 3
	s := startScheduler(t, cfg, &fakeExecutor{}, nil)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		job, err := s.Submit(context.Background(), []string{"user"}, integration.SyncModeFull)
		require.NoError(t, err)
		waitForStatus(t, s, job.ID, integration.JobStatusCompleted)
		ids = append(ids, job.ID)
	}

	recent := s.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[4], recent[0].ID)
	_, err := s.Get(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound)
}

type countingSubmitter struct {
	mu    sync.Mutex
	modes []integration.SyncMode
}

func (c *countingSubmitter) Submit(_ context.Context, entityTypes []string, mode integration.SyncMode) (*integration.SyncJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = append(c.modes, mode)
	return integration.NewSyncJob(entityTypes, mode, 0), nil
}

func (c *countingSubmitter) count(mode integration.SyncMode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.modes {
		if m == mode {
			n++
		}
	}
	return n
}

func TestCadenceTrigger(t *testing.T) {
	sub := &countingSubmitter{}
	trig := NewCadenceTrigger(TriggerConfig{
		EntityTypes:         []string{"user"},
		FullInterval:        time.Hour,
		IncrementalInterval: 5 * time.Millisecond,
		FullOnStart:         true,
	}, sub, zap.NewNop())

	require.NoError(t, trig.Start(context.Background()))
	require.Eventually(t, func() bool { return sub.count(integration.SyncModeIncremental) >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, trig.Stop())

	assert.Equal(t, 1, sub.count(integration.SyncModeFull))
	assert.NoError(t, trig.Stop())

	empty := NewCadenceTrigger(TriggerConfig{}, sub, zap.NewNop())
	assert.ErrorIs(t, empty.Start(context.Background()), ErrNoEntityTypes)
}
