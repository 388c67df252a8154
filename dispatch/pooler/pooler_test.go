//go:build unit

package pooler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func post(target string, payload map[string]any) transaction.Request {
	return transaction.Request{
		Operation: "POST",
		Target:    target,
		Payload:   transaction.LiteralValues(payload),
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, backend.ErrMissingBaseURL)

	cfg := testConfig()
	cfg.BatchSize = -1

	_, err = New(cfg, WithHandleFactory(newFakeBackend(nil).factory()))
	require.ErrorIs(t, err, ErrInvalidBatchSize)

	cfg = testConfig()
	cfg.Backend = backend.Config{BaseURL: "http://localhost:54321"}

	p, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, p.Running())
}

func TestSubmit_AppliesDefaultsWithoutDispatching(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(nil)
	p := newTestPooler(t, testConfig(), b)

	id := p.Submit(post("users", map[string]any{"name": "ada"}))
	require.NotEmpty(t, id)

	snap, ok := p.Status(id)
	require.True(t, ok)
	assert.Equal(t, transaction.StatusPending, snap.Status)
	assert.Equal(t, transaction.DefaultPriority, snap.Priority)
	assert.Equal(t, transaction.DefaultTimeout, snap.Timeout)
	assert.Equal(t, transaction.DefaultMaxRetries, snap.MaxRetries)
	assert.Zero(t, snap.RetryCount)
	assert.Empty(t, b.recorded())
	assert.Zero(t, b.created.Load())
}

func TestSubmit_InvalidRequestsFailWithValidation(t *testing.T) {
	t.Parallel()

	p := newTestPooler(t, testConfig(), newFakeBackend(nil))
	existing := p.Submit(post("users", nil))

	tests := []struct {
		name string
		req  transaction.Request
	}{
		{name: "unsupported operation", req: transaction.Request{Operation: "PUT", Target: "users"}},
		{name: "empty target", req: transaction.Request{Operation: "GET", Target: "  "}},
		{name: "unknown dependency", req: transaction.Request{Operation: "GET", Target: "users", Dependencies: []string{"missing"}}},
		{name: "duplicate dependency", req: transaction.Request{Operation: "GET", Target: "users", Dependencies: []string{existing, existing}}},
		{name: "negative max retries", req: transaction.Request{Operation: "GET", Target: "users", MaxRetries: intPtr(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id := p.Submit(tt.req)
			require.NotEmpty(t, id)

			snap, ok := p.Status(id)
			require.True(t, ok)
			assert.Equal(t, transaction.StatusFailed, snap.Status)
			assert.Equal(t, transaction.ErrorKindValidation, snap.ErrorKind)
			assert.NotEmpty(t, snap.Error)
			assert.Zero(t, snap.RetryCount)
			assert.Equal(t, []transaction.Status{transaction.StatusPending, transaction.StatusFailed}, statuses(snap.History))
		})
	}
}

func TestDispatch_CompletesWithAuditedHistory(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(req backend.Request) (any, error) {
		return []any{map[string]any{"id": "u-1", "name": req.Body.(map[string]any)["name"]}}, nil
	})
	p := newTestPooler(t, testConfig(), b)
	start(t, p)

	id := p.Submit(post("users", map[string]any{"name": "ada"}))
	snap := await(t, p, id)

	assert.Equal(t, transaction.StatusCompleted, snap.Status)
	assert.Equal(t, []any{map[string]any{"id": "u-1", "name": "ada"}}, snap.Result)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []transaction.Status{
		transaction.StatusPending,
		transaction.StatusProcessing,
		transaction.StatusCompleted,
	}, statuses(snap.History))

	for _, h := range snap.History {
		assert.True(t, h.From.CanTransitionTo(h.To), "%s -> %s", h.From, h.To)
	}

	calls := b.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "POST", calls[0].req.Method)
	assert.Equal(t, "users", calls[0].req.Target)
}

func TestDispatch_RetriesUntilBudgetExhausted(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(backend.Request) (any, error) {
		return nil, &backend.Error{Category: backend.CategoryServerError, StatusCode: 503, Message: "unavailable", Retryable: true}
	})
	p := newTestPooler(t, testConfig(), b)
	start(t, p)

	req := post("users", nil)
	req.MaxRetries = intPtr(2)

	snap := await(t, p, p.Submit(req))

	assert.Equal(t, transaction.StatusFailed, snap.Status)
	assert.Equal(t, 2, snap.RetryCount)
	assert.Equal(t, transaction.ErrorKindTransient, snap.ErrorKind)
	assert.Equal(t, string(backend.CategoryServerError), snap.ErrorCategory)
	assert.Len(t, b.recorded(), 3)
	assert.Equal(t, []transaction.Status{
		transaction.StatusPending,
		transaction.StatusProcessing,
		transaction.StatusRetrying,
		transaction.StatusProcessing,
		transaction.StatusRetrying,
		transaction.StatusProcessing,
		transaction.StatusFailed,
	}, statuses(snap.History))

	for _, h := range snap.History {
		assert.True(t, h.From.CanTransitionTo(h.To), "%s -> %s", h.From, h.To)
	}
}

func TestDispatch_PermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(backend.Request) (any, error) {
		return nil, &backend.Error{Category: backend.CategoryClientError, StatusCode: 409, Message: "duplicate key"}
	})
	p := newTestPooler(t, testConfig(), b)
	start(t, p)

	snap := await(t, p, p.Submit(post("users", nil)))

	assert.Equal(t, transaction.StatusFailed, snap.Status)
	assert.Equal(t, transaction.ErrorKindPermanent, snap.ErrorKind)
	assert.Equal(t, string(backend.CategoryClientError), snap.ErrorCategory)
	assert.Zero(t, snap.RetryCount)
	assert.Len(t, b.recorded(), 1)
}

func TestDispatch_AttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(nil)
	b.delay = time.Second

	p := newTestPooler(t, testConfig(), b)
	start(t, p)

	req := post("users", nil)
	req.Timeout = 20 * time.Millisecond
	req.MaxRetries = intPtr(0)

	snap := await(t, p, p.Submit(req))

	assert.Equal(t, transaction.StatusFailed, snap.Status)
	assert.Equal(t, transaction.ErrorKindTransient, snap.ErrorKind)
	assert.Equal(t, string(backend.CategoryTimeout), snap.ErrorCategory)
}

func TestDispatch_PriorityOrder(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BatchSize = 1

	b := newFakeBackend(nil)
	p := newTestPooler(t, cfg, b)

	var ids []string

	for _, tc := range []struct {
		target   string
		priority int
	}{{"one", 1}, {"five", 5}, {"three", 3}} {
		req := post(tc.target, nil)
		req.Priority = tc.priority
		ids = append(ids, p.Submit(req))
	}

	start(t, p)

	for _, id := range ids {
		await(t, p, id)
	}

	assert.Equal(t, []string{"five", "three", "one"}, b.targets())
}

func TestDispatch_EqualPriorityKeepsSubmissionOrder(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BatchSize = 1

	b := newFakeBackend(nil)
	p := newTestPooler(t, cfg, b)

	var ids []string
	for _, target := range []string{"a", "b", "c"} {
		ids = append(ids, p.Submit(post(target, nil)))
	}

	start(t, p)

	for _, id := range ids {
		await(t, p, id)
	}

	assert.Equal(t, []string{"a", "b", "c"}, b.targets())
}

func TestDispatch_DependencyBeatsPriority(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BatchSize = 1

	b := newFakeBackend(nil)
	p := newTestPooler(t, cfg, b)

	first := p.Submit(post("accounts", nil))

	dependent := post("transfers", nil)
	dependent.Priority = 10
	dependent.Dependencies = []string{first}
	second := p.Submit(dependent)

	status := p.PoolStatus()
	assert.Equal(t, 1, status.QueueSize)
	assert.Equal(t, 1, status.BlockedTransactions)

	start(t, p)

	a := await(t, p, first)
	d := await(t, p, second)

	assert.Equal(t, []string{"accounts", "transfers"}, b.targets())
	assert.Equal(t, transaction.StatusCompleted, d.Status)

	completedAt := historyAt(a.History, transaction.StatusCompleted)
	processingAt := historyAt(d.History, transaction.StatusProcessing)
	require.False(t, completedAt.IsZero())
	require.False(t, processingAt.IsZero())
	assert.False(t, processingAt.Before(completedAt))
}

func TestDispatch_FailedDependencyCascades(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(req backend.Request) (any, error) {
		return nil, &backend.Error{Category: backend.CategoryClientError, StatusCode: 400, Message: "bad"}
	})
	p := newTestPooler(t, testConfig(), b)

	root := p.Submit(post("accounts", nil))

	child := post("transfers", nil)
	child.Dependencies = []string{root}
	childID := p.Submit(child)

	grandchild := post("ledger", nil)
	grandchild.Dependencies = []string{childID}
	grandchildID := p.Submit(grandchild)

	start(t, p)

	assert.Equal(t, transaction.StatusFailed, await(t, p, root).Status)

	for _, id := range []string{childID, grandchildID} {
		snap := await(t, p, id)
		assert.Equal(t, transaction.StatusFailed, snap.Status)
		assert.Equal(t, transaction.ErrorKindDependency, snap.ErrorKind)
		assert.Contains(t, snap.Error, "dependency failed")
	}

	assert.Equal(t, []string{"accounts"}, b.targets())

	late := post("late", nil)
	late.Dependencies = []string{root}
	snap, ok := p.Status(p.Submit(late))
	require.True(t, ok)
	assert.Equal(t, transaction.ErrorKindDependency, snap.ErrorKind)
}

func TestSubmitGroup_ResolvesPlaceholders(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(req backend.Request) (any, error) {
		if req.Target == "users" {
			return []any{map[string]any{"id": "u-42"}}, nil
		}

		return req.Body, nil
	})
	p := newTestPooler(t, testConfig(), b)
	start(t, p)

	ids := p.SubmitGroup([]transaction.RawRequest{
		{Operation: "POST", Target: "users", Payload: map[string]any{"name": "ada"}},
		{Operation: "POST", Target: "orders", Payload: map[string]any{
			"user_id":    "{{users.id}}",
			"created_at": transaction.TimestampPlaceholder,
			"note":       "{{unknown.id}}",
		}},
	})
	require.Len(t, ids, 2)

	order := await(t, p, ids[1])
	require.Equal(t, transaction.StatusCompleted, order.Status)
	assert.Equal(t, []string{ids[0]}, order.Dependencies)

	calls := b.recorded()
	require.Len(t, calls, 2)

	body, ok := calls[1].req.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u-42", body["user_id"])
	assert.Equal(t, "{{unknown.id}}", body["note"])

	_, err := time.Parse(time.RFC3339Nano, body["created_at"].(string))
	assert.NoError(t, err)
}

func TestSubmitGroup_UnresolvedPlaceholderPassesThrough(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(req backend.Request) (any, error) {
		if req.Target == "T" {
			return []any{map[string]any{"name": "x"}}, nil
		}

		return req.Body, nil
	})
	p := newTestPooler(t, testConfig(), b)
	start(t, p)

	ids := p.SubmitGroup([]transaction.RawRequest{
		{Operation: "POST", Target: "T", Payload: map[string]any{"name": "x"}},
		{Operation: "POST", Target: "U", Payload: map[string]any{"ref": "{{T.id}}"}},
	})
	require.Len(t, ids, 2)

	u := await(t, p, ids[1])
	require.Equal(t, transaction.StatusCompleted, u.Status)

	calls := b.recorded()
	require.Len(t, calls, 2)

	body, ok := calls[1].req.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "{{T.id}}", body["ref"])

	raw, err := json.Marshal(u.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ref":"{{T.id}}"}`, string(raw))
}

func TestCancel(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(nil)
	p := newTestPooler(t, testConfig(), b)

	id := p.Submit(post("users", nil))

	dependent := post("orders", nil)
	dependent.Dependencies = []string{id}
	dependentID := p.Submit(dependent)

	assert.True(t, p.Cancel(id))
	assert.False(t, p.Cancel(id))
	assert.False(t, p.Cancel("unknown"))

	snap, _ := p.Status(id)
	assert.Equal(t, transaction.StatusCancelled, snap.Status)

	dep, _ := p.Status(dependentID)
	assert.Equal(t, transaction.StatusFailed, dep.Status)
	assert.Equal(t, transaction.ErrorKindDependency, dep.ErrorKind)

	start(t, p)

	other := p.Submit(post("other", nil))
	await(t, p, other)

	assert.Equal(t, []string{"other"}, b.targets())
	assert.False(t, p.Cancel(other))
	assert.Equal(t, int64(1), p.PoolStatus().Metrics.CancelledTransactions)
}

func TestDispatch_CircuitBreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	var down atomic.Bool
	down.Store(true)

	b := newFakeBackend(func(backend.Request) (any, error) {
		if down.Load() {
			return nil, &backend.Error{Category: backend.CategoryServerError, StatusCode: 500, Message: "boom", Retryable: true}
		}

		return map[string]any{"ok": true}, nil
	})

	cfg := testConfig()
	cfg.Breaker = circuitbreaker.Config{FailureThreshold: 2, RecoveryTimeout: 200 * time.Millisecond, HalfOpenMaxRequests: 1}

	p := newTestPooler(t, cfg, b)
	start(t, p)

	for _, target := range []string{"a", "b"} {
		req := post(target, nil)
		req.MaxRetries = intPtr(0)

		assert.Equal(t, transaction.StatusFailed, await(t, p, p.Submit(req)).Status)
	}

	assert.Equal(t, circuitbreaker.StateOpen, p.PoolStatus().CircuitBreakerState)
	assert.False(t, p.PoolStatus().Healthy)

	down.Store(false)

	req := post("c", nil)
	req.MaxRetries = intPtr(0)

	snap := await(t, p, p.Submit(req))

	assert.Equal(t, transaction.StatusCompleted, snap.Status)
	assert.Zero(t, snap.RetryCount)
	assert.Contains(t, statuses(snap.History), transaction.StatusRetrying)

	status := p.PoolStatus()
	assert.Equal(t, circuitbreaker.StateClosed, status.CircuitBreakerState)
	assert.GreaterOrEqual(t, status.ErrorCounts[categoryCircuitOpen], int64(1))
	assert.Equal(t, int64(2), status.ErrorCounts[string(backend.CategoryServerError)])
}

func TestDispatch_ClientErrorsDoNotOpenBreaker(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(backend.Request) (any, error) {
		return nil, &backend.Error{Category: backend.CategoryClientError, StatusCode: 422, Message: "invalid"}
	})

	cfg := testConfig()
	cfg.Breaker = circuitbreaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute}

	p := newTestPooler(t, cfg, b)
	start(t, p)

	for range 3 {
		await(t, p, p.Submit(post("users", nil)))
	}

	assert.Equal(t, circuitbreaker.StateClosed, p.PoolStatus().CircuitBreakerState)
	assert.Len(t, b.recorded(), 3)
}

func TestDispatch_RespectsConnectionCap(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(nil)
	b.delay = 20 * time.Millisecond

	cfg := testConfig()
	cfg.MaxConnections = 2
	cfg.MaxIdle = 2

	p := newTestPooler(t, cfg, b)

	var ids []string
	for range 8 {
		ids = append(ids, p.Submit(post("users", nil)))
	}

	start(t, p)

	for _, id := range ids {
		assert.Equal(t, transaction.StatusCompleted, await(t, p, id).Status)
	}

	assert.LessOrEqual(t, b.maxInflight.Load(), int32(2))
	assert.LessOrEqual(t, b.created.Load(), int32(2))
	assert.LessOrEqual(t, p.PoolStatus().Metrics.TotalConnections, 2)
}

func TestPurgeFinished_RetentionZero(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Retention = 0

	p := newTestPooler(t, cfg, newFakeBackend(nil))
	start(t, p)

	id := p.Submit(post("users", nil))
	await(t, p, id)

	assert.Equal(t, 1, p.PurgeFinished())

	_, ok := p.Status(id)
	assert.False(t, ok)

	_, err := p.Await(context.Background(), id)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestPurgeFinished_KeepsRecentAndActive(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := newTestPooler(t, testConfig(), newFakeBackend(nil), WithClock(clock.Now))

	cancelled := p.Submit(post("users", nil))
	pending := p.Submit(post("orders", nil))
	require.True(t, p.Cancel(cancelled))

	clock.Advance(30 * time.Minute)
	assert.Zero(t, p.PurgeFinished())

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, p.PurgeFinished())

	_, ok := p.Status(cancelled)
	assert.False(t, ok)

	_, ok = p.Status(pending)
	assert.True(t, ok)
}

func TestStartStop_Idempotent(t *testing.T) {
	t.Parallel()

	p := newTestPooler(t, testConfig(), newFakeBackend(nil))
	ctx := context.Background()

	require.NoError(t, p.Stop(ctx))
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Start(ctx))
	assert.True(t, p.Running())
	assert.True(t, p.PoolStatus().Running)

	require.NoError(t, p.Stop(ctx))
	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.Running())
}

func TestStop_RetryingResumesAfterRestart(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	b := newFakeBackend(func(backend.Request) (any, error) {
		if attempts.Add(1) == 1 {
			return nil, &backend.Error{Category: backend.CategoryConnection, Message: "refused", Retryable: true}
		}

		return map[string]any{"ok": true}, nil
	})

	cfg := testConfig()
	cfg.RetryDelays = []time.Duration{time.Hour}

	p := newTestPooler(t, cfg, b)
	start(t, p)

	id := p.Submit(post("users", nil))

	require.Eventually(t, func() bool {
		snap, _ := p.Status(id)
		return snap.Status == transaction.StatusRetrying
	}, awaitTimeout, 5*time.Millisecond)

	assert.Equal(t, 1, p.PoolStatus().ScheduledRetries)
	require.NoError(t, p.Stop(context.Background()))
	assert.Zero(t, p.PoolStatus().ScheduledRetries)

	snap, _ := p.Status(id)
	assert.Equal(t, transaction.StatusRetrying, snap.Status)

	start(t, p)

	snap = await(t, p, id)
	assert.Equal(t, transaction.StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.RetryCount)
}

func TestAwait_ContextDone(t *testing.T) {
	t.Parallel()

	p := newTestPooler(t, testConfig(), newFakeBackend(nil))
	id := p.Submit(post("users", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Await(ctx, id)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPoolStatus_ErrorRateAndHealth(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(func(req backend.Request) (any, error) {
		if req.Target == "bad" {
			return nil, &backend.Error{Category: backend.CategoryClientError, StatusCode: 400, Message: "bad"}
		}

		return map[string]any{}, nil
	})
	b.pingErr = errors.New("backend unreachable")

	p := newTestPooler(t, testConfig(), b)
	start(t, p)

	await(t, p, p.Submit(post("good", nil)))
	await(t, p, p.Submit(post("bad", nil)))

	p.CollectMetrics(context.Background())
	p.health.CheckNow(context.Background())

	status := p.PoolStatus()
	assert.Equal(t, int64(2), status.Metrics.TotalTransactions)
	assert.Equal(t, int64(1), status.Metrics.SuccessfulTransactions)
	assert.Equal(t, int64(1), status.Metrics.FailedTransactions)
	assert.InDelta(t, 0.5, status.Metrics.ErrorRate, 1e-9)
	assert.Equal(t, int64(1), status.ErrorCounts[string(backend.CategoryClientError)])
	assert.Equal(t, 2, status.TrackedTransactions)
	assert.False(t, status.Metrics.LastHealthCheck.IsZero())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.LastHealthError, "backend unreachable")
}

func TestSnapshotSink_ReceivesTerminalSnapshots(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := newTestPooler(t, testConfig(), newFakeBackend(nil), WithSnapshotSink(sink))
	start(t, p)

	id := p.Submit(post("users", nil))
	await(t, p, id)

	require.Eventually(t, func() bool { return sink.count() == 1 }, awaitTimeout, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()

	assert.Equal(t, id, sink.saved[0].ID)
	assert.Equal(t, transaction.StatusCompleted, sink.saved[0].Status)
}

func historyAt(history []transaction.HistoryEntry, to transaction.Status) time.Time {
	for _, h := range history {
		if h.To == to {
			return h.At
		}
	}

	return time.Time{}
}
