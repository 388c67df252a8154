//go:build unit

package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/backoff"
	"github.com/LerianStudio/lib-dispatch/dispatch/pooler"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandle struct {
	mu    sync.Mutex
	calls []backend.Request
}

func (h *echoHandle) Do(_ context.Context, req backend.Request) (any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, req)
	h.mu.Unlock()

	if req.Target == "users" {
		return []any{map[string]any{"id": "u-7"}}, nil
	}

	return req.Body, nil
}

func (h *echoHandle) Ping(context.Context) error { return nil }

func (h *echoHandle) Close() {}

func (h *echoHandle) recorded() []backend.Request {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]backend.Request(nil), h.calls...)
}

func newTransactionApp(t *testing.T, started bool, submitMiddleware ...fiber.Handler) (*fiber.App, *pooler.Pooler, *echoHandle) {
	t.Helper()

	handle := &echoHandle{}

	cfg := pooler.DefaultConfig()
	cfg.RetryDelays = backoff.Schedule{5 * time.Millisecond}
	cfg.IdleDelay = 5 * time.Millisecond
	cfg.HealthCheckInterval = time.Hour
	cfg.MetricsInterval = time.Hour
	cfg.CleanupInterval = time.Hour

	p, err := pooler.New(cfg, pooler.WithHandleFactory(func(context.Context) (pooler.Handle, error) {
		return handle, nil
	}))
	require.NoError(t, err)

	if started {
		require.NoError(t, p.Start(context.Background()))
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = p.Stop(ctx)
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true, ErrorHandler: FiberErrorHandler})
	RegisterRoutes(app, NewTransactionHandler(p), submitMiddleware...)

	return app, p, handle
}

func TestSubmit_Accepted(t *testing.T) {
	t.Parallel()

	app, p, _ := newTransactionApp(t, false)

	var accepted SubmitResponse
	resp := doJSON(t, app, http.MethodPost, "/v1/transactions", map[string]any{
		"operation": "post",
		"target":    "users",
		"payload":   map[string]any{"name": "ada"},
		"priority":  5,
		"timeout":   1.5,
		"metadata":  map[string]any{"origin": "import"},
	}, &accepted)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, accepted.ID)
	assert.Equal(t, "PENDING", string(accepted.Status))

	snap, ok := p.Status(accepted.ID)
	require.True(t, ok)
	assert.Equal(t, "users", snap.Target)
	assert.Equal(t, 5, snap.Priority)
	assert.Equal(t, 1500*time.Millisecond, snap.Timeout)
	assert.Equal(t, "import", snap.Metadata["origin"])
}

func TestSubmit_Rejected(t *testing.T) {
	t.Parallel()

	app, _, _ := newTransactionApp(t, false)

	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{
			name:     "unsupported operation",
			body:     map[string]any{"operation": "PUT", "target": "users"},
			wantCode: "0002",
		},
		{
			name:     "target with whitespace",
			body:     map[string]any{"operation": "GET", "target": "user accounts"},
			wantCode: "0003",
		},
		{
			name:     "missing target",
			body:     map[string]any{"operation": "GET"},
			wantCode: "0008",
		},
		{
			name:     "negative priority",
			body:     map[string]any{"operation": "GET", "target": "users", "priority": -1},
			wantCode: "0008",
		},
		{
			name:     "malformed json",
			body:     `{"operation": "GET",`,
			wantCode: "0008",
		},
		{
			name: "metadata key too long",
			body: map[string]any{
				"operation": "GET",
				"target":    "users",
				"metadata":  map[string]any{strings.Repeat("k", DefaultMetadataLimit+1): "v"},
			},
			wantCode: "0008",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var body map[string]any
			resp := doJSON(t, app, http.MethodPost, "/v1/transactions", tt.body, &body)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, entityTransaction, body["entityType"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestSubmitBatch_ResolvesPlaceholders(t *testing.T) {
	t.Parallel()

	app, p, handle := newTransactionApp(t, true)

	var batch BatchResponse
	resp := doJSON(t, app, http.MethodPost, "/v1/transactions/batch", map[string]any{
		"transactions": []map[string]any{
			{"operation": "POST", "target": "users", "payload": map[string]any{"name": "ada"}},
			{"operation": "POST", "target": "orders", "payload": map[string]any{"user_id": "{{users.id}}"}},
		},
	}, &batch)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, batch.IDs, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	order, err := p.Await(ctx, batch.IDs[1])
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", string(order.Status))
	assert.Equal(t, []string{batch.IDs[0]}, order.Dependencies)

	calls := handle.recorded()
	require.Len(t, calls, 2)

	body, ok := calls[1].Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u-7", body["user_id"])
}

func TestSubmitBatch_Rejected(t *testing.T) {
	t.Parallel()

	app, _, _ := newTransactionApp(t, false)

	var body map[string]any
	resp := doJSON(t, app, http.MethodPost, "/v1/transactions/batch", map[string]any{"transactions": []any{}}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "0008", body["code"])

	body = nil
	resp = doJSON(t, app, http.MethodPost, "/v1/transactions/batch", map[string]any{
		"transactions": []map[string]any{
			{"operation": "GET", "target": "users"},
			{"operation": "TRACE", "target": "users"},
		},
	}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "0002", body["code"])
}

func TestGetTransaction(t *testing.T) {
	t.Parallel()

	app, p, _ := newTransactionApp(t, false)

	var missing map[string]any
	resp := doJSON(t, app, http.MethodGet, "/v1/transactions/unknown", nil, &missing)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "0001", missing["code"])
	assert.Contains(t, missing["message"], "unknown")

	id := p.Submit(SubmitRequest{Operation: "GET", Target: "users"}.RawRequest().Request(nil))

	var snap map[string]any
	resp = doJSON(t, app, http.MethodGet, "/v1/transactions/"+id, nil, &snap)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, snap["id"])
	assert.Equal(t, "PENDING", snap["status"])
	assert.Equal(t, "users", snap["target"])
}

func TestGetTransaction_Wait(t *testing.T) {
	t.Parallel()

	t.Run("returns terminal snapshot", func(t *testing.T) {
		t.Parallel()

		app, p, _ := newTransactionApp(t, true)
		id := p.Submit(SubmitRequest{Operation: "POST", Target: "users"}.RawRequest().Request(nil))

		var snap map[string]any
		resp := doJSON(t, app, http.MethodGet, "/v1/transactions/"+id+"?wait=5s", nil, &snap)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "COMPLETED", snap["status"])
	})

	t.Run("falls back to current snapshot when the wait elapses", func(t *testing.T) {
		t.Parallel()

		app, p, _ := newTransactionApp(t, false)
		id := p.Submit(SubmitRequest{Operation: "POST", Target: "users"}.RawRequest().Request(nil))

		var snap map[string]any
		resp := doJSON(t, app, http.MethodGet, "/v1/transactions/"+id+"?wait=20ms", nil, &snap)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "PENDING", snap["status"])
	})

	t.Run("rejects an invalid wait", func(t *testing.T) {
		t.Parallel()

		app, _, _ := newTransactionApp(t, false)

		var body map[string]any
		resp := doJSON(t, app, http.MethodGet, "/v1/transactions/any?wait=soon", nil, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "0008", body["code"])
	})
}

func TestParseWait(t *testing.T) {
	t.Parallel()

	wait, err := parseWait("")
	require.NoError(t, err)
	assert.Zero(t, wait)

	wait, err = parseWait("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, wait)

	wait, err = parseWait("10m")
	require.NoError(t, err)
	assert.Equal(t, MaxWait, wait)

	_, err = parseWait("-1s")
	assert.Error(t, err)
}

func TestCancelTransaction(t *testing.T) {
	t.Parallel()

	app, p, _ := newTransactionApp(t, false)
	id := p.Submit(SubmitRequest{Operation: "DELETE", Target: "users/1"}.RawRequest().Request(nil))

	var first CancelResponse
	resp := doJSON(t, app, http.MethodDelete, "/v1/transactions/"+id, nil, &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CancelResponse{ID: id, Cancelled: true}, first)

	var second CancelResponse
	resp = doJSON(t, app, http.MethodDelete, "/v1/transactions/"+id, nil, &second)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, second.Cancelled)

	snap, _ := p.Status(id)
	assert.Equal(t, "CANCELLED", string(snap.Status))

	var missing map[string]any
	resp = doJSON(t, app, http.MethodDelete, "/v1/transactions/unknown", nil, &missing)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "0001", missing["code"])
}

// lookupCounter counts lookups and reports every id as unknown.
type lookupCounter struct {
	Dispatcher
	mu      sync.Mutex
	lookups int
}

func (d *lookupCounter) Status(string) (transaction.Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lookups++

	return transaction.Snapshot{}, false
}

func (d *lookupCounter) Await(context.Context, string) (transaction.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lookups++

	return transaction.Snapshot{}, pooler.ErrTransactionNotFound
}

func (d *lookupCounter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lookups
}

func TestTransactionLookup_MalformedIDIsNotFound(t *testing.T) {
	t.Parallel()

	counter := &lookupCounter{}
	app := fiber.New(fiber.Config{DisableStartupMessage: true, ErrorHandler: FiberErrorHandler})
	RegisterRoutes(app, NewTransactionHandler(counter))

	tests := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: "/v1/transactions/not-a-uuid"},
		{method: http.MethodGet, path: "/v1/transactions/not-a-uuid?wait=1s"},
		{method: http.MethodDelete, path: "/v1/transactions/not-a-uuid"},
	}

	for _, tt := range tests {
		var body map[string]any
		resp := doJSON(t, app, tt.method, tt.path, nil, &body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tt.method+" "+tt.path)
		assert.Equal(t, "0001", body["code"])
	}

	assert.Zero(t, counter.count())

	var body map[string]any
	resp := doJSON(t, app, http.MethodGet, "/v1/transactions/0190b7d4-6f3a-7c2e-8d61-1b2c3d4e5f60", nil, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, counter.count())
}

func TestPoolStatusRoute(t *testing.T) {
	t.Parallel()

	app, p, _ := newTransactionApp(t, false)
	p.Submit(SubmitRequest{Operation: "GET", Target: "users"}.RawRequest().Request(nil))

	var status map[string]any
	resp := doJSON(t, app, http.MethodGet, "/v1/pool/status", nil, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, status["running"])
	assert.Equal(t, "closed", status["circuitBreakerState"])
	assert.EqualValues(t, 1, status["trackedTransactions"])
}

func TestRegisterRoutes_SubmitMiddlewareOnlyOnSubmission(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex

	var seen []string

	app, p, _ := newTransactionApp(t, false, func(c *fiber.Ctx) error {
		mu.Lock()
		seen = append(seen, c.Method()+" "+c.Route().Path)
		mu.Unlock()

		return c.Next()
	})

	doJSON(t, app, http.MethodPost, "/v1/transactions", map[string]any{"operation": "GET", "target": "users"}, nil)
	doJSON(t, app, http.MethodPost, "/v1/transactions/batch", map[string]any{
		"transactions": []map[string]any{{"operation": "GET", "target": "users"}},
	}, nil)
	doJSON(t, app, http.MethodGet, "/v1/pool/status", nil, nil)
	doJSON(t, app, http.MethodGet, "/v1/transactions/unknown", nil, nil)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"POST /v1/transactions", "POST /v1/transactions/batch"}, seen)
	assert.Equal(t, 2, p.PoolStatus().TrackedTransactions)
}
