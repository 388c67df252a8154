//go:build unit

package assert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type recordingLogger struct {
	mu     sync.Mutex
	msgs   []string
	fields []log.Field
}

func (l *recordingLogger) Log(_ context.Context, _ log.Level, msg string, fields ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.msgs = append(l.msgs, msg)
	l.fields = append(l.fields, fields...)
}

func TestAsserter_PassingChecksReturnNil(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	a := New(context.Background(), logger, "pooler", "dispatch")
	ctx := context.Background()

	assert.NoError(t, a.That(ctx, true, "ok"))
	assert.NoError(t, a.NotNil(ctx, &struct{}{}, "ok"))
	assert.NoError(t, a.NotEmpty(ctx, "x", "ok"))
	assert.NoError(t, a.NoError(ctx, nil, "ok"))
	assert.Empty(t, logger.msgs)
}

func TestAsserter_FailureReturnsAssertionError(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	a := New(context.Background(), logger, "pooler", "retry")

	err := a.That(context.Background(), false, "retry budget exceeded", "id", "tx-1", "retry_count", 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssertionFailed))

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "That", ae.Assertion)
	assert.Equal(t, "pooler", ae.Component)
	assert.Equal(t, "retry", ae.Operation)
	assert.Equal(t, "tx-1", ae.Details["id"])
	assert.Equal(t, "4", ae.Details["retry_count"])

	require.Len(t, logger.msgs, 1)
	assert.Equal(t, "assertion failed: retry budget exceeded", logger.msgs[0])
}

func TestAsserter_NotNilHandlesTypedNil(t *testing.T) {
	t.Parallel()

	var ptr *int

	a := New(context.Background(), nil, "c", "o")
	assert.Error(t, a.NotNil(context.Background(), ptr, "must not be nil"))
	assert.Error(t, a.NotNil(context.Background(), nil, "must not be nil"))
}

func TestAsserter_NoErrorAddsDetails(t *testing.T) {
	t.Parallel()

	a := New(context.Background(), nil, "c", "o")

	err := a.NoError(context.Background(), errors.New("dial failed"), "backend reachable")

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "dial failed", ae.Details["error"])
	assert.Equal(t, "*errors.errorString", ae.Details["error_type"])
}

func TestAsserter_OddKeyValues(t *testing.T) {
	t.Parallel()

	err := New(context.Background(), nil, "c", "o").Never(context.Background(), "unreachable", "orphan")

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "MISSING_VALUE", ae.Details["orphan"])
}

func TestTruncateValue(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", maxValueLength+10)
	out := truncateValue(long)

	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", maxValueLength)))
	assert.Contains(t, out, "truncated 10 chars")
}

func TestNilAsserter(t *testing.T) {
	t.Parallel()

	var a *Asserter

	err := a.Never(context.Background(), "still works")
	require.Error(t, err)
	assert.Equal(t, "assertion failed: still works", err.Error())
}

func TestAssertionMetrics(t *testing.T) {
	ResetAssertionMetrics()
	t.Cleanup(ResetAssertionMetrics)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(provider.Meter("assert-test"), nil)
	require.NoError(t, err)

	InitAssertionMetrics(factory)

	_ = New(context.Background(), nil, "pooler", "dispatch").Never(context.Background(), "boom")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := false

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == assertionFailedMetric.Name {
				found = true
			}
		}
	}

	assert.True(t, found)
}
