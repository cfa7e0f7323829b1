package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"
)

// ReconcilerConfig holds reconciliation tuning
type ReconcilerConfig struct {
	// BatchSize is the number of changes committed per transaction
	BatchSize int
	// LeaseTTL bounds how long a crashed writer blocks its entity type
	LeaseTTL time.Duration
	// MaxPages guards against connectors that never stop paging
	MaxPages int
}

// DefaultReconcilerConfig returns default reconciliation settings
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		BatchSize: 200,
		LeaseTTL:  10 * time.Minute,
		MaxPages:  10000,
	}
}

// ReconcilerDeps groups the collaborators of a Reconciler
type ReconcilerDeps struct {
	Connector  integration.SourceConnector
	Normalizer *Normalizer
	Raw        integration.RawStore
	Archive    integration.RawArchive
	Canonical  integration.CanonicalRepository
	Ledger     integration.Ledger
	Runs       integration.SyncRunRepository
	Watermarks integration.SourceWatermarkRepository
	Leases     shared.LeaseStore
	Publisher  shared.NotificationPublisher
	Metrics    *telemetry.SyncMetrics
	Clock      func() time.Time
}

// Reconciler runs reconciliation passes: it compares what the source holds
// for an entity type against local canonical state and commits the resulting
// inserts, updates, restores and soft deletes together with their events.
type Reconciler struct {
	deps   ReconcilerDeps
	config ReconcilerConfig
	logger *zap.Logger

	mu     sync.Mutex
	halted map[string]error
}

// NewReconciler creates a reconciler
func NewReconciler(deps ReconcilerDeps, config ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReconcilerConfig().BatchSize
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultReconcilerConfig().LeaseTTL
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultReconcilerConfig().MaxPages
	}
	return &Reconciler{
		deps:   deps,
		config: config,
		logger: logger,
		halted: make(map[string]error),
	}
}

// Reconcile runs one pass for an entity type. The returned run is non-nil
// whenever the pass started; err reports why it did not complete.
func (r *Reconciler) Reconcile(ctx context.Context, entityType string, mode integration.SyncMode) (*integration.SyncRun, error) {
	if !mode.IsValid() {
		return nil, shared.WrapDomainError("INVALID_SYNC_MODE", "Invalid sync mode", fmt.Errorf("%q", mode))
	}
	if err := r.haltError(entityType); err != nil {
		return nil, err
	}

	source := r.deps.Connector.Source()
	lease, err := r.deps.Leases.Acquire(ctx, leaseKey(source, entityType), r.config.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s lease: %w", entityType, err)
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			r.logger.Warn("Failed to release sync lease", zap.String("entity_type", entityType), zap.Error(relErr))
		}
	}()

	ctx, _ = logger.WithEntityType(ctx, r.logger, entityType)
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciler", "reconcile",
		telemetry.WithAttribute("entity_type", entityType),
		telemetry.WithAttribute("sync_mode", string(mode)),
	)
	defer span.End()

	run := integration.NewSyncRun(source, entityType, mode, r.deps.Clock())
	var passErr error
	telemetry.WithProfilingLabels(ctx, telemetry.SyncLabels(entityType, string(mode)), func(c context.Context) {
		passErr = r.runPass(c, run)
	})

	if passErr != nil {
		telemetry.RecordError(span, passErr)
	} else {
		telemetry.SetOK(span)
	}
	r.deps.Metrics.RecordPass(ctx, run)

	if err := r.deps.Runs.Save(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Error("Failed to save sync run", zap.String("run_id", run.ID.String()), zap.Error(err))
		if passErr == nil {
			passErr = fmt.Errorf("save sync run: %w", err)
		}
	}

	if run.LastEventID > 0 && r.deps.Publisher != nil {
		if err := r.deps.Publisher.Publish(context.WithoutCancel(ctx), integration.NewSyncPassCompleted(run)); err != nil {
			r.logger.Warn("Failed to publish sync pass notification", zap.Error(err))
		}
	}

	r.logger.Info("Reconciliation pass finished",
		zap.String("entity_type", entityType),
		zap.String("mode", string(mode)),
		zap.String("status", string(run.Status)),
		zap.Int("fetched", run.Counts.Fetched),
		zap.Int("inserted", run.Counts.Inserted),
		zap.Int("updated", run.Counts.Updated),
		zap.Int("soft_deleted", run.Counts.SoftDeleted),
		zap.Int("restored", run.Counts.Restored),
		zap.Int("errors", run.Counts.Errors),
		zap.Duration("duration", run.Duration()),
	)
	return run, passErr
}

func (r *Reconciler) runPass(ctx context.Context, run *integration.SyncRun) error {
	entityType := run.EntityType

	if run.Mode == integration.SyncModeIncremental {
		wm, err := r.deps.Watermarks.Get(ctx, run.Source, entityType)
		if err != nil {
			run.Finish(integration.SyncRunStatusFailed, r.deps.Clock())
			return fmt.Errorf("load watermark: %w", err)
		}
		run.Watermark = wm
	}

	// Fetch everything before writing anything: an unreachable source must
	// leave all stores untouched.
	records, highWatermark, err := r.fetchAll(ctx, run)
	if err != nil {
		status := integration.SyncRunStatusFailed
		if ctx.Err() != nil {
			status = integration.SyncRunStatusCancelled
		}
		var cu *integration.ConnectorUnavailableError
		if errors.As(err, &cu) {
			run.RecordFailure(integration.RecordError{Code: integration.CodeConnectorUnavailable, Message: err.Error()})
		}
		run.Finish(status, r.deps.Clock())
		return err
	}
	run.Counts.Fetched = len(records)
	run.HighWatermark = highWatermark

	if err := r.land(ctx, run, records); err != nil {
		run.Finish(integration.SyncRunStatusFailed, r.deps.Clock())
		return err
	}

	normalized, upstream := r.normalizeAll(run, records)

	local, err := r.deps.Canonical.ListByType(ctx, entityType)
	if err != nil {
		run.Finish(integration.SyncRunStatusFailed, r.deps.Clock())
		return fmt.Errorf("load canonical state: %w", err)
	}

	now := r.deps.Clock()
	changes, err := r.partition(run, normalized, upstream, local, now)
	if err != nil {
		run.Finish(integration.SyncRunStatusFailed, r.deps.Clock())
		return err
	}

	if err := r.commit(ctx, run, changes); err != nil {
		var ooe *integration.OutOfOrderError
		switch {
		case errors.As(err, &ooe):
			r.halt(entityType, err)
			run.RecordFailure(integration.RecordError{Code: integration.CodeOutOfOrder, Message: err.Error()})
			run.Finish(integration.SyncRunStatusFailed, r.deps.Clock())
		case ctx.Err() != nil:
			run.Finish(integration.SyncRunStatusCancelled, r.deps.Clock())
		default:
			run.Finish(integration.SyncRunStatusFailed, r.deps.Clock())
		}
		return err
	}

	if run.HighWatermark != "" {
		if err := r.deps.Watermarks.Set(ctx, run.Source, entityType, run.HighWatermark); err != nil {
			run.Finish(integration.SyncRunStatusFailed, r.deps.Clock())
			return fmt.Errorf("store watermark: %w", err)
		}
	}

	run.Finish(integration.SyncRunStatusCompleted, r.deps.Clock())
	return nil
}

// fetchAll drains every page of the connector
func (r *Reconciler) fetchAll(ctx context.Context, run *integration.SyncRun) ([]integration.SourceRecord, string, error) {
	var (
		records   []integration.SourceRecord
		pageToken string
		high      string
	)
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if page >= r.config.MaxPages {
			return nil, "", &integration.ConnectorUnavailableError{
				Source:     run.Source,
				EntityType: run.EntityType,
				Err:        fmt.Errorf("exceeded %d pages", r.config.MaxPages),
			}
		}
		p, err := r.deps.Connector.FetchPage(ctx, run.EntityType, run.Watermark, pageToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			var cu *integration.ConnectorUnavailableError
			if !errors.As(err, &cu) {
				err = &integration.ConnectorUnavailableError{Source: run.Source, EntityType: run.EntityType, Retryable: true, Err: err}
			}
			return nil, "", err
		}
		records = append(records, p.Records...)
		if p.HighWatermark != "" {
			high = p.HighWatermark
		}
		if p.NextPageToken == "" {
			return records, high, nil
		}
		pageToken = p.NextPageToken
	}
}

// land writes the fetched payloads to the raw zone
func (r *Reconciler) land(ctx context.Context, run *integration.SyncRun, records []integration.SourceRecord) error {
	if len(records) == 0 {
		return nil
	}
	at := r.deps.Clock()
	raws := make([]integration.RawRecord, 0, len(records))
	for _, rec := range records {
		raws = append(raws, integration.NewRawRecord(run.Source, run.EntityType, rec.SourceID, rec.Payload, run.BatchID, at))
	}
	if err := r.deps.Raw.Append(ctx, raws); err != nil {
		return fmt.Errorf("land raw records: %w", err)
	}
	if r.deps.Archive != nil {
		if err := r.deps.Archive.ArchiveBatch(ctx, run.EntityType, run.BatchID, raws); err != nil {
			r.logger.Warn("Failed to archive raw batch",
				zap.String("entity_type", run.EntityType),
				zap.String("batch_id", run.BatchID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// normalizeAll maps every fetched record. Records that cannot be normalized
// are reported and skipped but still count as present upstream.
func (r *Reconciler) normalizeAll(run *integration.SyncRun, records []integration.SourceRecord) (map[uuid.UUID]*integration.CanonicalEntity, map[uuid.UUID]bool) {
	normalized := make(map[uuid.UUID]*integration.CanonicalEntity, len(records))
	upstream := make(map[uuid.UUID]bool, len(records))

	for _, rec := range records {
		raw := integration.RawRecord{
			Source:     run.Source,
			EntityType: run.EntityType,
			SourceID:   rec.SourceID,
			Payload:    rec.Payload,
		}
		entity, issues, err := r.deps.Normalizer.Normalize(raw)
		if err != nil {
			sourceID := strings.TrimSpace(rec.SourceID)
			run.RecordFailure(integration.RecordError{SourceID: sourceID, Code: integration.CodeNormalization, Message: err.Error()})
			if sourceID != "" {
				upstream[integration.DeriveCanonicalID(run.Source, run.EntityType, sourceID)] = true
			}
			continue
		}
		if len(issues) > 0 {
			nerr := &integration.NormalizationError{EntityType: run.EntityType, SourceID: rec.SourceID, Issues: issues}
			run.RecordFailure(integration.RecordError{SourceID: rec.SourceID, Code: integration.CodeNormalization, Message: nerr.Error()})
		}
		if entity.ValidationStatus == integration.ValidationStatusInvalid {
			run.Counts.Invalid++
		}
		upstream[entity.CanonicalID] = true
		normalized[entity.CanonicalID] = entity
	}
	return normalized, upstream
}

// partition classifies every entity into the change it needs. The returned
// changes are ordered inserts, updates, restores, soft deletes; each group is
// ordered by canonical id.
func (r *Reconciler) partition(
	run *integration.SyncRun,
	normalized map[uuid.UUID]*integration.CanonicalEntity,
	upstream map[uuid.UUID]bool,
	local []integration.CanonicalEntity,
	now time.Time,
) ([][]integration.Change, error) {
	byID := make(map[uuid.UUID]*integration.CanonicalEntity, len(local))
	for i := range local {
		byID[local[i].CanonicalID] = &local[i]
	}

	var inserts, updates, restores, deletes []integration.Change

	for _, id := range sortedIDs(normalized) {
		next := normalized[id]
		prev, exists := byID[id]
		switch {
		case !exists:
			next.FirstSeenAt = now
			next.LastUpdatedAt = now
			inserts = append(inserts, r.change(run, integration.EventTypeCreated, *next, fullPayload(next), now))
		case !prev.IsActive:
			next.FirstSeenAt = prev.FirstSeenAt
			next.LastUpdatedAt = now
			restores = append(restores, r.change(run, integration.EventTypeRestored, *next, fullPayload(next), now))
		case prev.ContentHash != next.ContentHash:
			patch, err := jsondiff.Compare(prev.NormalizedFields, next.NormalizedFields)
			if err != nil {
				return nil, fmt.Errorf("diff %s: %w", id, err)
			}
			payload := integration.EventPayload{
				ValidationStatus: next.ValidationStatus,
				QualityScore:     next.QualityScore,
				SourceRefs:       next.SourceRefs,
				ContentHash:      next.ContentHash,
			}
			if len(patch) > 0 {
				raw, err := json.Marshal(patch)
				if err != nil {
					return nil, fmt.Errorf("encode patch %s: %w", id, err)
				}
				payload.Patch = raw
			}
			next.FirstSeenAt = prev.FirstSeenAt
			next.LastUpdatedAt = now
			updates = append(updates, r.change(run, integration.EventTypeUpdated, *next, payload, now))
		default:
			run.Counts.Unchanged++
		}
	}

	// Only a full enumeration proves absence.
	if run.Mode == integration.SyncModeFull {
		for _, e := range local {
			if !e.IsActive || upstream[e.CanonicalID] {
				continue
			}
			gone := e
			gone.IsActive = false
			gone.LastUpdatedAt = now
			deletes = append(deletes, r.change(run, integration.EventTypeSoftDeleted, gone, integration.EventPayload{
				ValidationStatus: e.ValidationStatus,
				QualityScore:     e.QualityScore,
				ContentHash:      e.ContentHash,
			}, now))
		}
		sort.Slice(deletes, func(i, j int) bool {
			return deletes[i].Entity.CanonicalID.String() < deletes[j].Entity.CanonicalID.String()
		})
	}

	return [][]integration.Change{inserts, updates, restores, deletes}, nil
}

func (r *Reconciler) change(run *integration.SyncRun, eventType integration.EventType, entity integration.CanonicalEntity, payload integration.EventPayload, now time.Time) integration.Change {
	return integration.Change{
		Entity: entity,
		Event: integration.DomainEvent{
			EventType:        eventType,
			EntityType:       run.EntityType,
			CanonicalID:      entity.CanonicalID,
			PayloadDelta:     payload,
			OccurredAt:       now,
			CausationBatchID: run.BatchID,
		},
	}
}

// commit writes each partition in atomic batches. Cancellation is checked
// between batches; committed batches stay committed.
func (r *Reconciler) commit(ctx context.Context, run *integration.SyncRun, partitions [][]integration.Change) error {
	for _, changes := range partitions {
		for start := 0; start < len(changes); start += r.config.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+r.config.BatchSize, len(changes))
			batch := changes[start:end]
			if err := r.deps.Ledger.Commit(ctx, batch); err != nil {
				return fmt.Errorf("commit %s batch: %w", run.EntityType, err)
			}
			for _, c := range batch {
				run.NoteEvent(c.Event.EventID)
				switch c.Event.EventType {
				case integration.EventTypeCreated:
					run.Counts.Inserted++
				case integration.EventTypeUpdated:
					run.Counts.Updated++
				case integration.EventTypeRestored:
					run.Counts.Restored++
				case integration.EventTypeSoftDeleted:
					run.Counts.SoftDeleted++
				}
			}
		}
	}
	return nil
}

// Halted returns the entity types stopped by an event ordering violation
func (r *Reconciler) Halted() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.halted))
	for k, v := range r.halted {
		out[k] = v.Error()
	}
	return out
}

// ClearHalt lets an operator resume an entity type after fixing the event log
func (r *Reconciler) ClearHalt(entityType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.halted, entityType)
}

func (r *Reconciler) halt(entityType string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted[entityType] = err
	r.logger.Error("Entity type pipeline halted", zap.String("entity_type", entityType), zap.Error(err))
}

func (r *Reconciler) haltError(entityType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.halted[entityType]; ok {
		return shared.WrapDomainError("PIPELINE_HALTED", "Entity type pipeline is halted", err)
	}
	return nil
}

func fullPayload(e *integration.CanonicalEntity) integration.EventPayload {
	return integration.EventPayload{
		Fields:           e.NormalizedFields,
		ValidationStatus: e.ValidationStatus,
		QualityScore:     e.QualityScore,
		SourceRefs:       e.SourceRefs,
		ContentHash:      e.ContentHash,
	}
}

func sortedIDs(m map[uuid.UUID]*integration.CanonicalEntity) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func leaseKey(source, entityType string) string {
	return "sync:" + source + ":" + entityType
}
