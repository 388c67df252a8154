package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MetricsFactory creates and caches OpenTelemetry instruments.
// Instruments are created lazily on first use and are safe for concurrent access.
type MetricsFactory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	gauges     sync.Map // string -> metric.Int64Gauge
	histograms sync.Map // string -> metric.Int64Histogram
	logger     log.Logger
}

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Metric describes an instrument.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// Buckets are histogram bucket boundaries. Ignored for other kinds.
	Buckets []float64
}

// Default histogram bucket configurations.
var (
	// DefaultLatencyBuckets for backend call latency in milliseconds.
	DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

	// DefaultBatchBuckets for transactions per dispatch cycle.
	DefaultBatchBuckets = []float64{1, 2, 5, 10, 20, 50, 100}
)

// NewMetricsFactory creates a new MetricsFactory instance.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &MetricsFactory{
		meter:  meter,
		logger: logger,
	}, nil
}

// NewNopFactory returns a MetricsFactory backed by OpenTelemetry's no-op meter.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter and returns a builder for it.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{counter: counter, name: m.Name}, nil
}

// Gauge creates or retrieves a gauge and returns a builder for it.
func (f *MetricsFactory) Gauge(m Metric) (*GaugeBuilder, error) {
	gauge, err := f.getOrCreateGauge(m)
	if err != nil {
		return nil, err
	}

	return &GaugeBuilder{gauge: gauge, name: m.Name}, nil
}

// Histogram creates or retrieves a histogram and returns a builder for it.
// Buckets default by metric name when not provided.
func (f *MetricsFactory) Histogram(m Metric) (*HistogramBuilder, error) {
	if m.Buckets == nil {
		m.Buckets = selectDefaultBuckets(m.Name)
	}

	histogram, err := f.getOrCreateHistogram(m)
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{histogram: histogram, name: m.Name}, nil
}

func selectDefaultBuckets(name string) []float64 {
	nameL := strings.ToLower(name)

	if strings.Contains(nameL, "batch") {
		return DefaultBatchBuckets
	}

	return DefaultLatencyBuckets
}

func (f *MetricsFactory) meterOrNop() metric.Meter {
	if f == nil || f.meter == nil {
		return noop.NewMeterProvider().Meter("nop")
	}

	return f.meter
}

func (f *MetricsFactory) logCreateFailure(kind, name string, err error) {
	if f == nil || f.logger == nil {
		return
	}

	f.logger.Log(context.Background(), log.LevelError, "failed to create "+kind+" metric",
		log.String("metric_name", name), log.Err(err))
}

func (f *MetricsFactory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if f == nil {
		return f.meterOrNop().Int64Counter(m.Name)
	}

	if cached, ok := f.counters.Load(m.Name); ok {
		return cached.(metric.Int64Counter), nil //nolint:forcetypeassert
	}

	var opts []metric.Int64CounterOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	counter, err := f.meter.Int64Counter(m.Name, opts...)
	if err != nil {
		f.logCreateFailure("counter", m.Name, err)
		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	actual, _ := f.counters.LoadOrStore(m.Name, counter)

	return actual.(metric.Int64Counter), nil //nolint:forcetypeassert
}

func (f *MetricsFactory) getOrCreateGauge(m Metric) (metric.Int64Gauge, error) {
	if f == nil {
		return f.meterOrNop().Int64Gauge(m.Name)
	}

	if cached, ok := f.gauges.Load(m.Name); ok {
		return cached.(metric.Int64Gauge), nil //nolint:forcetypeassert
	}

	var opts []metric.Int64GaugeOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	gauge, err := f.meter.Int64Gauge(m.Name, opts...)
	if err != nil {
		f.logCreateFailure("gauge", m.Name, err)
		return nil, fmt.Errorf("create gauge %q: %w", m.Name, err)
	}

	actual, _ := f.gauges.LoadOrStore(m.Name, gauge)

	return actual.(metric.Int64Gauge), nil //nolint:forcetypeassert
}

// getOrCreateHistogram keys the cache by name and buckets so distinct
// bucket layouts never share an instrument.
func (f *MetricsFactory) getOrCreateHistogram(m Metric) (metric.Int64Histogram, error) {
	if f == nil {
		return f.meterOrNop().Int64Histogram(m.Name)
	}

	cacheKey := histogramCacheKey(m.Name, m.Buckets)

	if cached, ok := f.histograms.Load(cacheKey); ok {
		return cached.(metric.Int64Histogram), nil //nolint:forcetypeassert
	}

	var opts []metric.Int64HistogramOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	if m.Buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(m.Buckets...))
	}

	histogram, err := f.meter.Int64Histogram(m.Name, opts...)
	if err != nil {
		f.logCreateFailure("histogram", m.Name, err)
		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	actual, _ := f.histograms.LoadOrStore(cacheKey, histogram)

	return actual.(metric.Int64Histogram), nil //nolint:forcetypeassert
}

func histogramCacheKey(name string, buckets []float64) string {
	if len(buckets) == 0 {
		return name
	}

	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)

	parts := make([]string, len(sorted))
	for i, b := range sorted {
		parts[i] = strconv.FormatFloat(b, 'g', -1, 64)
	}

	return name + ":" + strings.Join(parts, ",")
}
