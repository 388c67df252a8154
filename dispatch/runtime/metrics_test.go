//go:build unit

package runtime

import (
	"context"
	"testing"

	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestPanicMetrics_CountsRecoveredPanics(t *testing.T) {
	ResetPanicMetrics()
	t.Cleanup(ResetPanicMetrics)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(provider.Meter("runtime-test"), nil)
	require.NoError(t, err)

	InitPanicMetrics(factory, nil)
	require.NotNil(t, GetPanicMetrics())

	HandlePanicValue(context.Background(), nil, "boom", "pooler", "cleanup_loop")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != panicRecoveredMetric.Name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}

	assert.Equal(t, int64(1), total)
}

func TestInitPanicMetrics_NilFactoryIgnored(t *testing.T) {
	ResetPanicMetrics()
	t.Cleanup(ResetPanicMetrics)

	InitPanicMetrics(nil, nil)
	assert.Nil(t, GetPanicMetrics())

	assert.NotPanics(t, func() {
		GetPanicMetrics().RecordPanicRecovered(context.Background(), "a", "b")
	})
}
