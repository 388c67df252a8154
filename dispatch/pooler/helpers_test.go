//go:build unit

package pooler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/backoff"
	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	"github.com/stretchr/testify/require"
)

const awaitTimeout = 5 * time.Second

type call struct {
	req backend.Request
	at  time.Time
}

// fakeBackend records every call made through the handles it creates.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []call
	respond func(req backend.Request) (any, error)
	delay   time.Duration
	pingErr error

	created     atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeBackend(respond func(req backend.Request) (any, error)) *fakeBackend {
	if respond == nil {
		respond = func(backend.Request) (any, error) { return map[string]any{"ok": true}, nil }
	}

	return &fakeBackend{respond: respond}
}

func (b *fakeBackend) factory() HandleFactory {
	return func(context.Context) (Handle, error) {
		b.created.Add(1)
		return &fakeHandle{b: b}, nil
	}
}

func (b *fakeBackend) recorded() []call {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]call(nil), b.calls...)
}

func (b *fakeBackend) targets() []string {
	calls := b.recorded()
	out := make([]string, len(calls))

	for i, c := range calls {
		out[i] = c.req.Target
	}

	return out
}

type fakeHandle struct {
	b *fakeBackend
}

func (h *fakeHandle) Do(ctx context.Context, req backend.Request) (any, error) {
	b := h.b

	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)

	for {
		peak := b.maxInflight.Load()
		if n <= peak || b.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	b.mu.Lock()
	b.calls = append(b.calls, call{req: req, at: time.Now()})
	b.mu.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, &backend.Error{Category: backend.CategoryTimeout, Message: "request deadline exceeded", Retryable: true, Err: ctx.Err()}
		}
	}

	return b.respond(req)
}

func (h *fakeHandle) Ping(context.Context) error { return h.b.pingErr }

func (h *fakeHandle) Close() {}

type recordingSink struct {
	mu    sync.Mutex
	saved []transaction.Snapshot
}

func (s *recordingSink) Save(_ context.Context, snap transaction.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saved = append(s.saved, snap)

	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.saved)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelays = backoff.Schedule{5 * time.Millisecond}
	cfg.IdleDelay = 5 * time.Millisecond
	cfg.HealthCheckInterval = time.Hour
	cfg.MetricsInterval = time.Hour
	cfg.CleanupInterval = time.Hour
	cfg.Breaker = circuitbreaker.Config{FailureThreshold: 100, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 1}

	return cfg
}

func newTestPooler(t *testing.T, cfg Config, b *fakeBackend, opts ...Option) *Pooler {
	t.Helper()

	p, err := New(cfg, append([]Option{WithHandleFactory(b.factory())}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
		defer cancel()

		_ = p.Stop(ctx)
	})

	return p
}

func start(t *testing.T, p *Pooler) {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
}

func await(t *testing.T, p *Pooler, id string) transaction.Snapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()

	snap, err := p.Await(ctx, id)
	require.NoError(t, err)

	return snap
}

func intPtr(n int) *int { return &n }

func statuses(history []transaction.HistoryEntry) []transaction.Status {
	out := make([]transaction.Status, 0, len(history)+1)

	if len(history) > 0 {
		out = append(out, history[0].From)
	}

	for _, h := range history {
		out = append(out, h.To)
	}

	return out
}
