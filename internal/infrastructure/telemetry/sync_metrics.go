package telemetry

import (
	"context"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics records pipeline metrics. A nil *SyncMetrics is valid and
// records nothing, so components can run without a meter.
type SyncMetrics struct {
	passDuration     *Histogram
	passes           *Counter
	changes          *Counter
	recordErrors     *Counter
	projectionEvents *Counter
	projectionLag    *Gauge
	projectionHalts  *Counter
	hierarchyCycles  *Counter
	batchDuration    *Histogram
}

// NewSyncMetrics creates the pipeline instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error

	if m.passDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "crmsync_sync_pass_duration_seconds",
		Description: "Duration of reconciliation passes",
		Unit:        "s",
		Boundaries:  PassDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.passes, err = NewCounter(meter, "crmsync_sync_passes_total", "Reconciliation passes by outcome", "{pass}"); err != nil {
		return nil, err
	}
	if m.changes, err = NewCounter(meter, "crmsync_sync_changes_total", "Reconciled changes by partition", "{change}"); err != nil {
		return nil, err
	}
	if m.recordErrors, err = NewCounter(meter, "crmsync_sync_record_errors_total", "Per-record sync errors", "{error}"); err != nil {
		return nil, err
	}
	if m.projectionEvents, err = NewCounter(meter, "crmsync_projection_events_total", "Events applied by projections", "{event}"); err != nil {
		return nil, err
	}
	if m.projectionLag, err = NewGauge(meter, "crmsync_projection_lag_events", "Events between log head and projection watermark", "{event}"); err != nil {
		return nil, err
	}
	if m.projectionHalts, err = NewCounter(meter, "crmsync_projection_halts_total", "Projections halted on a failing event", "{halt}"); err != nil {
		return nil, err
	}
	if m.hierarchyCycles, err = NewCounter(meter, "crmsync_hierarchy_cycles_total", "Access matrix entries refused due to hierarchy cycles", "{cycle}"); err != nil {
		return nil, err
	}
	if m.batchDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "crmsync_projection_batch_duration_seconds",
		Description: "Duration of projection catch-up batches",
		Unit:        "s",
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordPass records the outcome of a finished reconciliation pass
func (m *SyncMetrics) RecordPass(ctx context.Context, run *integration.SyncRun) {
	if m == nil || run == nil {
		return
	}
	base := []attribute.KeyValue{
		AttrEntityType.String(run.EntityType),
		AttrSyncMode.String(string(run.Mode)),
	}
	m.passes.Inc(ctx, append(base, AttrRunStatus.String(string(run.Status)))...)
	m.passDuration.RecordDuration(ctx, run.Duration(), base...)

	for partition, n := range map[string]int{
		"insert":      run.Counts.Inserted,
		"update":      run.Counts.Updated,
		"unchanged":   run.Counts.Unchanged,
		"soft_delete": run.Counts.SoftDeleted,
		"restore":     run.Counts.Restored,
	} {
		if n > 0 {
			m.changes.Add(ctx, int64(n), append(base, AttrPartition.String(partition))...)
		}
	}
	if run.Counts.Errors > 0 {
		m.recordErrors.Add(ctx, int64(run.Counts.Errors), base...)
	}
}

// RecordProjectionBatch records one applied batch and the remaining lag
func (m *SyncMetrics) RecordProjectionBatch(ctx context.Context, projection, entityType string, applied int, lag int64, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrProjection.String(projection), AttrEntityType.String(entityType)}
	if applied > 0 {
		m.projectionEvents.Add(ctx, int64(applied), attrs...)
	}
	m.projectionLag.Record(ctx, lag, attrs...)
	m.batchDuration.RecordDuration(ctx, d, attrs...)
}

// RecordProjectionHalt counts a projection stopped by a failing event
func (m *SyncMetrics) RecordProjectionHalt(ctx context.Context, projection, entityType string) {
	if m == nil {
		return
	}
	m.projectionHalts.Inc(ctx, AttrProjection.String(projection), AttrEntityType.String(entityType))
}

// RecordHierarchyCycle counts a refused access matrix update
func (m *SyncMetrics) RecordHierarchyCycle(ctx context.Context) {
	if m == nil {
		return
	}
	m.hierarchyCycles.Inc(ctx)
}
