// Package projection drives the materialized views built from the domain
// event log. Each registered projection replays events of the entity types
// it handles from its own per-type watermark, or from one log-wide watermark
// when it is LogOrdered; its state and watermark are committed together, so
// any view can be dropped and rebuilt from event 0.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	domain "github.com/erp/crmsync/internal/domain/projection"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ErrUnknownProjection is returned for a name no projection is registered under
var ErrUnknownProjection = shared.NewDomainError("UNKNOWN_PROJECTION", "Projection is not registered")

// ErrProjectionHalted is returned when running a halted projection
var ErrProjectionHalted = shared.NewDomainError("PROJECTION_HALTED", "Projection is halted; resume it after fixing the cause")

// Projection folds domain events into one materialized view.
// Apply must be a pure function of the state visible through tx and the
// event: replaying the same events over empty state must reproduce the
// same writes.
type Projection interface {
	// Name keys the projection's state space and watermarks
	Name() string
	// Handles reports whether events of entityType are consumed
	Handles(entityType string) bool
	// Apply folds one event into the state
	Apply(tx *Tx, ev integration.DomainEvent) error
}

// Recomputer is implemented by projections that can rebuild derived entries
// from their own facts without replaying events
type Recomputer interface {
	Recompute(tx *Tx) error
	// RecomputeEntityType names the watermark the recompute commits under
	RecomputeEntityType() string
}

// LogOrdered is implemented by projections whose state depends on the order
// of events across entity types. They consume the whole log in event id
// order under the AllEntityTypes watermark, so a live run and a rebuild
// apply the same sequence.
type LogOrdered interface {
	LogOrdered()
}

// AllEntityTypes is the watermark key of a LogOrdered projection
const AllEntityTypes = "*"

// Config configures the engine
type Config struct {
	// PageSize bounds events fetched and committed per batch
	PageSize int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{PageSize: 200}
}

// Result summarizes one run of one projection
type Result struct {
	Projection string         `json:"projection"`
	Applied    map[string]int `json:"applied"`
	Halted     bool           `json:"halted"`
	Err        error          `json:"-"`
}

// EngineStatus reports every projection against the log head
type EngineStatus struct {
	Head        int64            `json:"head"`
	Projections []ProjectionInfo `json:"projections"`
}

// ProjectionInfo is the status of one projection plus its lag behind head
type ProjectionInfo struct {
	domain.Status
	Lag int64 `json:"lag"`
}

// Engine runs the registered projections
type Engine struct {
	events  integration.EventStore
	store   domain.Store
	metrics *telemetry.SyncMetrics
	config  Config
	logger  *zap.Logger

	mu          sync.RWMutex
	projections map[string]Projection
	locks       map[string]*sync.Mutex
}

// NewEngine creates an engine
func NewEngine(events integration.EventStore, store domain.Store, metrics *telemetry.SyncMetrics, config Config, logger *zap.Logger) *Engine {
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	return &Engine{
		events:      events,
		store:       store,
		metrics:     metrics,
		config:      config,
		logger:      logger,
		projections: make(map[string]Projection),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Register adds a projection. Registering a name twice replaces the first.
func (e *Engine) Register(p Projection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projections[p.Name()] = p
	if _, ok := e.locks[p.Name()]; !ok {
		e.locks[p.Name()] = &sync.Mutex{}
	}
}

// Names returns the registered projection names, sorted
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.projections))
	for n := range e.projections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) (Projection, *sync.Mutex, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.projections[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProjection, name)
	}
	return p, e.locks[name], nil
}

// Run catches every projection up with the log. A projection that halts
// does not stop the others; its failure is reported in its Result.
func (e *Engine) Run(ctx context.Context) ([]Result, error) {
	var results []Result
	for _, name := range e.Names() {
		res, err := e.RunProjection(ctx, name)
		if err != nil && !isProjectionFailure(err) {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// RunProjection catches one projection up with the log
func (e *Engine) RunProjection(ctx context.Context, name string) (*Result, error) {
	p, lock, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()
	return e.run(ctx, p)
}

// Rebuild discards the projection's state and replays it from event 0
func (e *Engine) Rebuild(ctx context.Context, name string) (*Result, error) {
	p, lock, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	e.logger.Info("Rebuilding projection", zap.String("projection", name))
	if err := e.store.Reset(ctx, name); err != nil {
		return nil, fmt.Errorf("reset projection %s: %w", name, err)
	}
	return e.run(ctx, p)
}

// Resume clears the halt flag and continues from the last good watermark
func (e *Engine) Resume(ctx context.Context, name string) (*Result, error) {
	p, lock, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.ClearHalt(ctx, name); err != nil {
		return nil, fmt.Errorf("clear halt of %s: %w", name, err)
	}
	e.logger.Info("Resuming projection", zap.String("projection", name))
	return e.run(ctx, p)
}

// Recompute rebuilds derived entries of a projection from its stored facts
func (e *Engine) Recompute(ctx context.Context, name string) error {
	p, lock, err := e.lookup(name)
	if err != nil {
		return err
	}
	rc, ok := p.(Recomputer)
	if !ok {
		return shared.NewDomainError("RECOMPUTE_UNSUPPORTED", fmt.Sprintf("Projection %s cannot recompute", name))
	}
	lock.Lock()
	defer lock.Unlock()

	entityType := rc.RecomputeEntityType()
	wm, err := e.store.Watermark(ctx, name, entityType)
	if err != nil {
		return err
	}
	tx := newTx(ctx, e.store, name)
	if err := rc.Recompute(tx); err != nil {
		return err
	}
	return e.store.Commit(ctx, name, entityType, wm, tx.writes())
}

// Status reports every projection
func (e *Engine) Status(ctx context.Context) (*EngineStatus, error) {
	head, err := e.events.Head(ctx)
	if err != nil {
		return nil, err
	}
	types, err := e.events.EntityTypes(ctx)
	if err != nil {
		return nil, err
	}

	out := &EngineStatus{Head: head}
	for _, name := range e.Names() {
		p, _, err := e.lookup(name)
		if err != nil {
			return nil, err
		}
		st, err := e.store.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		info := ProjectionInfo{Status: *st}
		for _, key := range streams(p, types) {
			streamHead := head
			if key != AllEntityTypes {
				if streamHead, err = e.events.TypeHead(ctx, key); err != nil {
					return nil, err
				}
			}
			if lag := streamHead - st.Watermarks[key]; lag > info.Lag {
				info.Lag = lag
			}
		}
		out.Projections = append(out.Projections, info)
	}
	return out, nil
}

func (e *Engine) run(ctx context.Context, p Projection) (*Result, error) {
	name := p.Name()
	res := &Result{Projection: name, Applied: make(map[string]int)}

	st, err := e.store.Status(ctx, name)
	if err != nil {
		return res, err
	}
	if st.Halted {
		res.Halted = true
		res.Err = fmt.Errorf("%w: %s stopped at event %d", ErrProjectionHalted, name, st.FailedEventID)
		return res, res.Err
	}

	types, err := e.events.EntityTypes(ctx)
	if err != nil {
		return res, err
	}
	for _, key := range streams(p, types) {
		if err := e.catchUp(ctx, p, key, res.Applied); err != nil {
			var replayErr *integration.ProjectionReplayError
			if errors.As(err, &replayErr) {
				res.Halted = true
				res.Err = err
			}
			return res, err
		}
	}
	return res, nil
}

// streams returns the watermark keys p is caught up under
func streams(p Projection, types []string) []string {
	if _, ok := p.(LogOrdered); ok {
		return []string{AllEntityTypes}
	}
	var keys []string
	for _, et := range types {
		if p.Handles(et) {
			keys = append(keys, et)
		}
	}
	return keys
}

// catchUp applies the events of one stream after its watermark, committing
// every page. A LogOrdered stream reads every entity type and skips the
// events p does not handle.
func (e *Engine) catchUp(ctx context.Context, p Projection, key string, applied map[string]int) error {
	name := p.Name()
	ctx, span := telemetry.StartServiceSpan(ctx, "projection", "catch_up",
		telemetry.WithAttribute("projection", name),
		telemetry.WithAttribute("entity_type", key),
	)
	defer span.End()

	from, err := e.store.Watermark(ctx, name, key)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	source := key
	if key == AllEntityTypes {
		source = ""
	}

	// Commits outlive cancellation so a cancelled pass keeps what it applied.
	commitCtx := context.WithoutCancel(ctx)
	var (
		total    int
		inBatch  int
		pending  int
		last     = from
		batchAt  = time.Now()
		tx       = newTx(ctx, e.store, name)
		applyErr error
	)
	commit := func() error {
		if pending == 0 {
			return nil
		}
		if err := e.store.Commit(commitCtx, name, key, last, tx.writes()); err != nil {
			return fmt.Errorf("commit projection %s: %w", name, err)
		}
		if head, err := e.streamHead(commitCtx, key); err != nil {
			e.logger.Warn("Failed to read log head for projection lag",
				zap.String("projection", name),
				zap.String("entity_type", key),
				zap.Error(err),
			)
		} else {
			e.metrics.RecordProjectionBatch(commitCtx, name, key, inBatch, head-last, time.Since(batchAt))
		}
		total += inBatch
		inBatch, pending = 0, 0
		batchAt = time.Now()
		tx.reset()
		return nil
	}

	telemetry.WithProfilingLabels(ctx, telemetry.ProjectionLabels(name, key), func(ctx context.Context) {
		for ev, err := range integration.Replay(ctx, e.events, source, from, e.config.PageSize) {
			if err != nil {
				applyErr = err
				return
			}
			if p.Handles(ev.EntityType) {
				step := tx.child()
				if err := p.Apply(step, ev); err != nil {
					applyErr = &integration.ProjectionReplayError{
						Projection: name,
						EventID:    ev.EventID,
						EntityType: ev.EntityType,
						Err:        err,
					}
					return
				}
				tx.merge(step)
				applied[ev.EntityType]++
				inBatch++
			}
			last = ev.EventID
			pending++
			if pending >= e.config.PageSize {
				if err := commit(); err != nil {
					applyErr = err
					return
				}
			}
		}
	})

	// Work applied before a failure or cancellation is still committed.
	if err := commit(); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	var replayErr *integration.ProjectionReplayError
	if errors.As(applyErr, &replayErr) {
		e.halt(context.WithoutCancel(ctx), replayErr)
	}
	if applyErr != nil {
		telemetry.RecordError(span, applyErr)
		return applyErr
	}
	telemetry.SetOK(span)
	if total > 0 {
		e.logger.Debug("Projection caught up",
			zap.String("projection", name),
			zap.String("entity_type", key),
			zap.Int("applied", total),
			zap.Int64("watermark", last),
		)
	}
	return nil
}

func (e *Engine) streamHead(ctx context.Context, key string) (int64, error) {
	if key == AllEntityTypes {
		return e.events.Head(ctx)
	}
	return e.events.TypeHead(ctx, key)
}

func (e *Engine) halt(ctx context.Context, err *integration.ProjectionReplayError) {
	e.metrics.RecordProjectionHalt(ctx, err.Projection, err.EntityType)
	e.logger.Error("Projection halted",
		zap.String("projection", err.Projection),
		zap.String("entity_type", err.EntityType),
		zap.Int64("event_id", err.EventID),
		zap.Error(err.Err),
	)
	if herr := e.store.Halt(ctx, err.Projection, err.EventID, err.Err.Error()); herr != nil {
		e.logger.Error("Failed to record projection halt", zap.String("projection", err.Projection), zap.Error(herr))
	}
}

// isProjectionFailure reports errors that stop one projection only
func isProjectionFailure(err error) bool {
	var replayErr *integration.ProjectionReplayError
	return errors.As(err, &replayErr) || errors.Is(err, ErrProjectionHalted)
}
