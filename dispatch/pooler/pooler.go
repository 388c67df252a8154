package pooler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	"github.com/LerianStudio/lib-dispatch/dispatch/assert"
	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	"github.com/LerianStudio/lib-dispatch/dispatch/connpool"
	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// BreakerName is the circuit breaker guarding the backend.
	BreakerName = "backend"

	component  = "pooler"
	tracerName = "lib-dispatch/pooler"
)

var (
	// ErrTransactionNotFound is returned by Await for unknown or purged ids.
	ErrTransactionNotFound = errors.New("pooler: transaction not found")
	// ErrUnknownDependency marks a submission naming an id the pooler does not track.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrNotRunning is returned by health probes while the pooler is stopped.
	ErrNotRunning = errors.New("pooler: not running")
)

// Pooler queues, prioritizes and dispatches transactions.
type Pooler struct {
	cfg           Config
	logger        log.Logger
	metrics       *metrics.MetricsFactory
	sink          SnapshotSink
	now           func() time.Time
	handleFactory HandleFactory
	breakers      circuitbreaker.Manager
	health        circuitbreaker.HealthChecker
	tracer        trace.Tracer

	mu          sync.Mutex
	entries     map[string]*entry
	queue       readyQueue
	blocked     map[string][]*entry
	timers      map[string]*time.Timer
	seq         uint64
	active      int
	counters    counters
	errorCounts map[string]int64
	samples     *sampleWindow
	aggregate   aggregate
	finished    []transaction.Snapshot

	lifecycleMu sync.Mutex
	running     atomic.Bool
	pool        atomic.Pointer[connpool.Pool[Handle]]
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	wake        chan struct{}
}

type counters struct {
	submitted  int64
	successful int64
	failed     int64
	cancelled  int64
}

// New validates cfg and builds a stopped Pooler.
func New(cfg Config, opts ...Option) (*Pooler, error) {
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pooler{
		cfg:         cfg,
		logger:      log.NewNop(),
		now:         time.Now,
		entries:     make(map[string]*entry),
		blocked:     make(map[string][]*entry),
		timers:      make(map[string]*time.Timer),
		errorCounts: make(map[string]int64),
		samples:     newSampleWindow(cfg.MetricsWindow),
		wake:        make(chan struct{}, 1),
		tracer:      otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.handleFactory == nil {
		if _, err := backend.New(cfg.Backend); err != nil {
			return nil, fmt.Errorf("pooler: backend: %w", err)
		}

		p.handleFactory = backendFactory(cfg.Backend, p.logger)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.IsSuccessful == nil {
		breakerCfg = breakerCfg.WithIsSuccessful(func(err error) bool {
			return !backend.CountsAsFailure(err)
		})
	}

	p.breakers = circuitbreaker.NewManager(p.logger, circuitbreaker.WithMetricsFactory(p.metrics))
	p.breakers.GetOrCreate(BreakerName, breakerCfg)

	health, err := circuitbreaker.NewHealthChecker(p.breakers, cfg.HealthCheckInterval, cfg.HealthCheckTimeout, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pooler: health checker: %w", err)
	}

	health.Register(BreakerName, p.probe)
	p.breakers.RegisterStateChangeListener(health)
	p.health = health

	return p, nil
}

// Submit records a new Pending transaction and returns its id. It never
// touches the network. An invalid request still gets an id; its record is
// immediately Failed with ErrorKindValidation.
func (p *Pooler) Submit(req transaction.Request) string {
	p.mu.Lock()
	e := p.submitLocked(req)
	snap := e.tx.Snapshot()
	p.mu.Unlock()

	p.afterSubmit(snap)

	return snap.ID
}

// SubmitGroup submits reqs in order. A "{{table.field}}" placeholder refers
// to the latest earlier member of the group that targeted table.
func (p *Pooler) SubmitGroup(reqs []transaction.RawRequest) []string {
	ids := make([]string, 0, len(reqs))
	snaps := make([]transaction.Snapshot, 0, len(reqs))
	scope := transaction.Scope{}

	p.mu.Lock()

	for _, raw := range reqs {
		e := p.submitLocked(raw.Request(scope))

		if e.tx.Status != transaction.StatusFailed {
			scope[e.tx.Target] = e.tx.ID
		}

		ids = append(ids, e.tx.ID)
		snaps = append(snaps, e.tx.Snapshot())
	}

	p.mu.Unlock()

	for _, snap := range snaps {
		p.afterSubmit(snap)
	}

	return ids
}

func (p *Pooler) afterSubmit(snap transaction.Snapshot) {
	ctx := context.Background()

	_ = p.metrics.RecordTransactionSubmitted(ctx, attribute.String(constant.AttrTransactionOperation, string(snap.Operation)))

	p.logger.Log(ctx, log.LevelDebug, "transaction submitted",
		log.String("transaction_id", snap.ID),
		log.String("target", snap.Target),
		log.String("status", string(snap.Status)),
		log.Int("priority", snap.Priority),
	)

	p.flush(ctx)
	p.signal()
}

func (p *Pooler) submitLocked(req transaction.Request) *entry {
	now := p.now()
	id := transaction.NewID()
	tx := transaction.New(id, req, p.cfg.MaxRetries, now)

	p.seq++
	e := &entry{tx: tx, seq: p.seq, index: -1, done: make(chan struct{})}
	p.entries[id] = e
	p.counters.submitted++

	if err := p.validateLocked(req, tx); err != nil {
		p.failLocked(e, transaction.ErrorKindValidation, string(transaction.ErrorKindValidation), err.Error(), now)
		return e
	}

	for _, dep := range tx.Dependencies {
		d := p.entries[dep]

		switch d.tx.Status {
		case transaction.StatusCompleted:
			continue
		case transaction.StatusFailed, transaction.StatusCancelled:
			p.failLocked(e, transaction.ErrorKindDependency, string(transaction.ErrorKindDependency),
				dependencyFailure(dep, d.tx.Status), now)

			return e
		default:
			p.blocked[dep] = append(p.blocked[dep], e)
			e.unmet++
		}
	}

	if e.unmet == 0 {
		p.queue.push(e)
	}

	return e
}

func (p *Pooler) validateLocked(req transaction.Request, tx *transaction.Transaction) error {
	errs := []error{req.Validate()}

	for _, dep := range tx.Dependencies {
		if _, ok := p.entries[dep]; !ok || dep == tx.ID {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownDependency, dep))
		}
	}

	return errors.Join(errs...)
}

// Status returns a point-in-time copy of the transaction.
func (p *Pooler) Status(id string) (transaction.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return transaction.Snapshot{}, false
	}

	return e.tx.Snapshot(), true
}

// Await blocks until the transaction is terminal or ctx is done.
func (p *Pooler) Await(ctx context.Context, id string) (transaction.Snapshot, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()

	if !ok {
		return transaction.Snapshot{}, ErrTransactionNotFound
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return transaction.Snapshot{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return e.tx.Snapshot(), nil
}

// Cancel cancels a Pending transaction. It returns false once the
// transaction has left Pending or when id is unknown. Dependents of a
// cancelled transaction fail.
func (p *Pooler) Cancel(id string) bool {
	p.mu.Lock()

	e, ok := p.entries[id]
	if !ok || e.tx.Status != transaction.StatusPending {
		p.mu.Unlock()
		return false
	}

	now := p.now()
	p.queue.remove(e)

	if err := e.tx.Transition(transaction.StatusCancelled, now, "cancelled"); err != nil {
		p.mu.Unlock()
		return false
	}

	p.counters.cancelled++
	p.finalizeLocked(e)
	p.resolveDependentsLocked(id, false, now)
	p.mu.Unlock()

	p.logger.Log(context.Background(), log.LevelInfo, "transaction cancelled", log.String("transaction_id", id))
	p.flush(context.Background())

	return true
}

// PurgeFinished drops terminal transactions whose last update is not after
// now minus the retention window, and returns how many were dropped.
func (p *Pooler) PurgeFinished() int {
	p.mu.Lock()

	cutoff := p.now().Add(-p.cfg.Retention)
	purged := 0

	for id, e := range p.entries {
		if !e.tx.Status.IsTerminal() || e.tx.UpdatedAt.After(cutoff) {
			continue
		}

		delete(p.entries, id)
		delete(p.blocked, id)
		purged++
	}

	p.mu.Unlock()

	if purged > 0 {
		p.logger.Log(context.Background(), log.LevelDebug, "purged finished transactions", log.Int("count", purged))
	}

	return purged
}

// Start builds the connection pool and launches the queue processor and the
// background loops. Starting a running pooler is a no-op.
func (p *Pooler) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running.Load() {
		return nil
	}

	pool, err := connpool.New(connpool.Config[Handle]{
		Factory:        func(ctx context.Context) (Handle, error) { return p.handleFactory(ctx) },
		Dispose:        func(h Handle) { h.Close() },
		MaxConnections: p.cfg.MaxConnections,
		MaxIdle:        p.cfg.MaxIdle,
		Logger:         p.logger,
	})
	if err != nil {
		return fmt.Errorf("pooler: %w", err)
	}

	p.pool.Store(pool)

	runCtx, cancel := context.WithCancel(dispatch.ContextWithLogger(ctx, p.logger))
	p.cancel = cancel

	p.mu.Lock()

	for _, e := range p.entries {
		if e.tx.Status == transaction.StatusRetrying && !e.timer {
			p.queue.push(e)
		}
	}

	p.mu.Unlock()

	p.running.Store(true)

	loops := []struct {
		name string
		fn   func(context.Context)
	}{
		{"queue_processor", p.processLoop},
		{"metrics_loop", p.metricsLoop},
		{"cleanup_loop", p.cleanupLoop},
	}

	for _, loop := range loops {
		fn := loop.fn

		p.wg.Add(1)
		runtime.SafeGoWithContextAndComponent(runCtx, p.logger, component, loop.name, runtime.KeepRunning,
			func(ctx context.Context) {
				defer p.wg.Done()
				fn(ctx)
			})
	}

	p.health.Start(runCtx)

	p.logger.Log(ctx, log.LevelInfo, "pooler started",
		log.Int("max_connections", p.cfg.MaxConnections),
		log.Int("batch_size", p.cfg.BatchSize),
	)

	return nil
}

// Stop cancels the loops and pending retry timers, waits for the in-flight
// batch and closes the connection pool. Retrying transactions resume on the
// next Start. Stopping a stopped pooler is a no-op.
func (p *Pooler) Stop(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running.Load() {
		return nil
	}

	p.running.Store(false)
	p.cancel()
	p.health.Stop()

	p.mu.Lock()

	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)

		if e, ok := p.entries[id]; ok {
			e.timer = false
		}
	}

	p.mu.Unlock()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("pooler: stop: %w", ctx.Err())
	}

	if pool := p.pool.Swap(nil); pool != nil {
		pool.Close()
	}

	p.flush(ctx)
	p.logger.Log(ctx, log.LevelInfo, "pooler stopped")

	return nil
}

// Running reports whether the pooler is started.
func (p *Pooler) Running() bool {
	return p.running.Load()
}

// CircuitBreaker returns the manager holding the BreakerName breaker.
//
//nolint:ireturn
func (p *Pooler) CircuitBreaker() circuitbreaker.Manager {
	return p.breakers
}

func (p *Pooler) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pooler) probe(ctx context.Context) error {
	pool := p.pool.Load()
	if pool == nil {
		return ErrNotRunning
	}

	return pool.With(ctx, func(h Handle) error {
		return h.Ping(ctx)
	})
}

// completeLocked, failLocked and the cancel path are the only ways into a
// terminal status; each calls finalizeLocked exactly once.
func (p *Pooler) completeLocked(e *entry, result any, now time.Time) {
	if err := e.tx.Complete(result, now); err != nil {
		p.invariant(err, e)
		return
	}

	p.counters.successful++
	p.finalizeLocked(e)
	p.resolveDependentsLocked(e.tx.ID, true, now)
}

func (p *Pooler) failLocked(e *entry, kind transaction.ErrorKind, category, message string, now time.Time) {
	if err := e.tx.Fail(kind, category, message, now); err != nil {
		p.invariant(err, e)
		return
	}

	p.counters.failed++
	p.errorCounts[category]++
	p.finalizeLocked(e)
	p.resolveDependentsLocked(e.tx.ID, false, now)
}

func (p *Pooler) finalizeLocked(e *entry) {
	close(e.done)
	p.finished = append(p.finished, e.tx.Snapshot())
}

// resolveDependentsLocked releases the entries parked on id. When id
// completed they lose one unmet dependency; otherwise they fail in turn.
func (p *Pooler) resolveDependentsLocked(id string, completed bool, now time.Time) {
	waiters := p.blocked[id]
	delete(p.blocked, id)

	status := transaction.StatusCompleted
	if e, ok := p.entries[id]; ok {
		status = e.tx.Status
	}

	woke := false

	for _, w := range waiters {
		if w.tx.Status != transaction.StatusPending {
			continue
		}

		if completed {
			w.unmet--
			if w.unmet == 0 {
				p.queue.push(w)

				woke = true
			}

			continue
		}

		p.failLocked(w, transaction.ErrorKindDependency, string(transaction.ErrorKindDependency), dependencyFailure(id, status), now)
	}

	if woke {
		p.signal()
	}
}

// flush publishes terminal snapshots collected under the lock.
func (p *Pooler) flush(ctx context.Context) {
	p.mu.Lock()
	snaps := p.finished
	p.finished = nil
	p.mu.Unlock()

	for _, snap := range snaps {
		p.publish(ctx, snap)
	}
}

func (p *Pooler) publish(ctx context.Context, snap transaction.Snapshot) {
	attrs := []attribute.KeyValue{attribute.String(constant.AttrTransactionOperation, string(snap.Operation))}

	switch snap.Status {
	case transaction.StatusCompleted:
		_ = p.metrics.RecordTransactionCompleted(ctx, attrs...)
	case transaction.StatusFailed:
		_ = p.metrics.RecordTransactionFailed(ctx, snap.ErrorCategory, attrs...)

		p.logger.Log(ctx, log.LevelWarn, "transaction failed",
			log.String("transaction_id", snap.ID),
			log.String("target", snap.Target),
			log.String("error_kind", string(snap.ErrorKind)),
			log.String("error", snap.Error),
		)
	}

	if p.sink == nil {
		return
	}

	runtime.SafeGoWithContextAndComponent(context.WithoutCancel(ctx), p.logger, component, "snapshot_sink", runtime.KeepRunning,
		func(ctx context.Context) {
			sinkCtx, cancel := context.WithTimeout(ctx, DefaultSinkTimeout)
			defer cancel()

			if err := p.sink.Save(sinkCtx, snap); err != nil {
				log.SafeError(ctx, p.logger.With(log.String("transaction_id", snap.ID)),
					"snapshot sink failed", err, runtime.IsProductionMode())
			}
		})
}

func (p *Pooler) invariant(err error, e *entry) {
	ctx := context.Background()
	_ = newAsserter(ctx, p.logger, "transition").NoError(ctx, err, "transaction transition rejected",
		"transaction_id", e.tx.ID, "status", e.tx.Status)
}

func newAsserter(ctx context.Context, logger log.Logger, operation string) *assert.Asserter {
	return assert.New(ctx, logger, component, operation)
}

func dependencyFailure(id string, status transaction.Status) string {
	return fmt.Sprintf("dependency failed: %s is %s", id, strings.ToLower(string(status)))
}
