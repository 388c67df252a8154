package pooler

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/LerianStudio/lib-dispatch/dispatch/errgroup"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const categoryCircuitOpen = "circuit_open"

// job is one transaction taken from the queue for this cycle.
type job struct {
	entry   *entry
	req     backend.Request
	timeout time.Duration
}

// attemptResult is the tagged outcome of one dispatch attempt.
type attemptResult struct {
	result     any
	err        error
	latency    time.Duration
	circuit    bool
	retryAfter time.Duration
}

func (p *Pooler) processLoop(ctx context.Context) {
	idle := time.NewTimer(p.cfg.IdleDelay)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		batch := p.nextBatch()
		if len(batch) > 0 {
			p.runBatch(ctx, batch)
			p.flush(ctx)

			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}

		idle.Reset(p.cfg.IdleDelay)

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-idle.C:
		}
	}
}

// nextBatch pops up to BatchSize ready entries, moves them to Processing and
// resolves their payload and query against completed dependencies.
func (p *Pooler) nextBatch() []job {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	lookup := p.resultLookupLocked
	batch := make([]job, 0, p.cfg.BatchSize)

	for len(batch) < p.cfg.BatchSize {
		e := p.queue.pop()
		if e == nil {
			break
		}

		if err := e.tx.Transition(transaction.StatusProcessing, now, ""); err != nil {
			p.invariant(err, e)
			continue
		}

		req := backend.Request{
			Method: string(e.tx.Operation),
			Target: e.tx.Target,
		}

		if body := e.tx.Payload.Resolve(lookup, now); body != nil {
			req.Body = body
		}

		req.Query = e.tx.Query.Resolve(lookup, now)

		batch = append(batch, job{entry: e, req: req, timeout: e.tx.Timeout})
	}

	p.active += len(batch)

	return batch
}

func (p *Pooler) resultLookupLocked(id string) (any, bool) {
	e, ok := p.entries[id]
	if !ok || e.tx.Status != transaction.StatusCompleted {
		return nil, false
	}

	return e.tx.Result, true
}

// runBatch dispatches a batch concurrently and waits for every attempt.
func (p *Pooler) runBatch(ctx context.Context, batch []job) {
	_ = p.metrics.RecordBatchSize(ctx, int64(len(batch)))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLogger(p.logger)
	group.SetComponent(component)

	for _, j := range batch {
		group.Go(func() error {
			res := p.attempt(groupCtx, j)
			p.finish(groupCtx, j, res)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		p.logger.Log(ctx, log.LevelError, "dispatch batch aborted", log.Err(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	for _, j := range batch {
		if j.entry.tx.Status == transaction.StatusProcessing {
			p.failLocked(j.entry, transaction.ErrorKindPermanent, "panic", "dispatch attempt panicked", now)
		}
	}

	p.active -= len(batch)
}

// attempt runs one backend call under the per-attempt timeout. Stop never
// cancels an attempt in flight.
func (p *Pooler) attempt(ctx context.Context, j job) (res attemptResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	ctx = dispatch.ContextWithSpanAttributes(ctx,
		attribute.String(constant.AttrTransactionID, j.entry.tx.ID),
		attribute.String(constant.AttrTransactionTarget, j.req.Target),
		attribute.String(constant.AttrTransactionOperation, j.req.Method),
	)

	ctx, span := p.tracer.Start(ctx, "pooler.dispatch", trace.WithSpanKind(trace.SpanKindInternal))
	defer func() {
		if res.err != nil {
			span.SetStatus(codes.Error, res.err.Error())
			span.RecordError(res.err)
		}

		span.End()
	}()

	pool := p.pool.Load()
	if pool == nil {
		res.err = &backend.Error{Category: backend.CategoryConnection, Message: "connection pool closed", Retryable: true, Err: ErrNotRunning}
		return res
	}

	lease, err := pool.Acquire(ctx)
	if err != nil {
		res.err = acquireError(err)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			lease.Discard()
			panic(r)
		}
	}()

	started := time.Now()

	result, err := p.breakers.Execute(BreakerName, func() (any, error) {
		return lease.Value().Do(ctx, j.req)
	})

	res.latency = time.Since(started)

	if backend.CategoryOf(err) == backend.CategoryConnection {
		lease.Discard()
	} else {
		lease.Release()
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		res.err = err
		res.circuit = true
		res.retryAfter = p.breakers.RetryAfter(BreakerName)

		return res
	}

	res.result = result
	res.err = err

	return res
}

func acquireError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &backend.Error{Category: backend.CategoryTimeout, Message: "timed out waiting for a connection", Retryable: true, Err: err}
	}

	return &backend.Error{Category: backend.CategoryConnection, Message: "acquire connection", Retryable: true, Err: err}
}

// finish records the outcome of an attempt and moves the transaction on.
func (p *Pooler) finish(ctx context.Context, j job, res attemptResult) {
	attrs := []attribute.KeyValue{attribute.String(constant.AttrTransactionOperation, j.req.Method)}

	if res.circuit {
		_ = p.metrics.RecordCircuitRejection(ctx, BreakerName)
	} else {
		_ = p.metrics.RecordAttemptLatency(ctx, res.latency.Milliseconds(), attrs...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := j.entry
	now := p.now()

	if !res.circuit {
		p.samples.add(res.latency, res.err != nil)
	}

	switch {
	case res.err == nil:
		p.completeLocked(e, res.result, now)
	case res.circuit:
		if err := e.tx.Transition(transaction.StatusRetrying, now, categoryCircuitOpen); err != nil {
			p.invariant(err, e)
			return
		}

		p.errorCounts[categoryCircuitOpen]++
		p.scheduleRetryLocked(e, max(res.retryAfter, p.cfg.IdleDelay))
	case backend.IsRetryable(res.err) && e.tx.RetryCount < e.tx.MaxRetries:
		category := string(backend.CategoryOf(res.err))

		e.tx.RetryCount++

		if err := e.tx.Transition(transaction.StatusRetrying, now, res.err.Error()); err != nil {
			p.invariant(err, e)
			return
		}

		p.errorCounts[category]++
		p.scheduleRetryLocked(e, p.cfg.RetryDelays.Delay(e.tx.RetryCount))

		_ = p.metrics.RecordTransactionRetried(ctx, attrs...)

		p.logger.Log(ctx, log.LevelInfo, "transaction scheduled for retry",
			log.String("transaction_id", e.tx.ID),
			log.Int("attempt", e.tx.RetryCount),
			log.String("error", res.err.Error()),
		)
	default:
		kind := transaction.ErrorKindPermanent
		if backend.IsRetryable(res.err) {
			kind = transaction.ErrorKindTransient
		}

		category := string(backend.CategoryOf(res.err))
		if category == "" {
			category = string(kind)
		}

		p.failLocked(e, kind, category, res.err.Error(), now)
	}

	_ = p.retryBudget(ctx, e)
}

func (p *Pooler) retryBudget(ctx context.Context, e *entry) error {
	a := newAsserter(ctx, p.logger, "retry_budget")

	return a.That(ctx, e.tx.RetryCount <= e.tx.MaxRetries, "retry budget exceeded",
		"transaction_id", e.tx.ID, "retry_count", e.tx.RetryCount, "max_retries", e.tx.MaxRetries)
}

// scheduleRetryLocked re-enqueues e after delay. The timer is dropped by Stop;
// Start re-enqueues Retrying entries that lost their timer.
func (p *Pooler) scheduleRetryLocked(e *entry, delay time.Duration) {
	id := e.tx.ID
	e.timer = true

	if old, ok := p.timers[id]; ok {
		old.Stop()
	}

	p.timers[id] = time.AfterFunc(delay, func() { p.requeue(id) })
}

func (p *Pooler) requeue(id string) {
	p.mu.Lock()

	delete(p.timers, id)

	e, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return
	}

	e.timer = false

	if !p.running.Load() || e.tx.Status != transaction.StatusRetrying {
		p.mu.Unlock()
		return
	}

	p.queue.push(e)
	p.mu.Unlock()

	p.signal()
}
