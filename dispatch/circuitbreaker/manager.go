package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
	"github.com/sony/gobreaker"
)

var stateChangeMetric = metrics.Metric{
	Name:        constant.MetricBreakerStateChanges,
	Unit:        "1",
	Description: "Circuit breaker state transitions.",
}

type manager struct {
	breakers  map[string]*gobreaker.CircuitBreaker
	configs   map[string]Config
	listeners []StateChangeListener
	mu        sync.RWMutex

	openedAt map[string]time.Time
	stateMu  sync.Mutex

	logger  log.Logger
	metrics *metrics.MetricsFactory
}

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithMetricsFactory records state transitions through factory.
func WithMetricsFactory(factory *metrics.MetricsFactory) ManagerOption {
	return func(m *manager) {
		m.metrics = factory
	}
}

// NewManager creates a circuit breaker manager.
func NewManager(logger log.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = log.NewNop()
	}

	m := &manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  make(map[string]Config),
		openedAt: make(map[string]time.Time),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func normalizeConfig(config Config) Config {
	defaults := DefaultConfig()

	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}

	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}

	if config.HalfOpenMaxRequests == 0 {
		config.HalfOpenMaxRequests = 1
	}

	return config
}

func (m *manager) newBreaker(name string, config Config) *gobreaker.CircuitBreaker {
	threshold := config.FailureThreshold

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxRequests,
		Interval:    config.Interval,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			m.handleStateChange(name, from, to)
		},
	}

	if config.IsSuccessful != nil {
		settings.IsSuccessful = config.IsSuccessful
	}

	return gobreaker.NewCircuitBreaker(settings)
}

func (m *manager) GetOrCreate(name string, config Config) CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return &circuitBreaker{breaker: breaker}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists = m.breakers[name]; exists {
		return &circuitBreaker{breaker: breaker}
	}

	if err := config.Validate(); err != nil {
		m.logger.Log(context.Background(), log.LevelWarn, "circuit breaker config incomplete, applying defaults",
			log.String("breaker", name), log.Err(err))
	}

	config = normalizeConfig(config)

	breaker = m.newBreaker(name, config)
	m.breakers[name] = breaker
	m.configs[name] = config

	m.logger.Log(context.Background(), log.LevelInfo, "circuit breaker created",
		log.String("breaker", name),
		log.Int("failure_threshold", int(config.FailureThreshold)),
		log.Duration("recovery_timeout", config.RecoveryTimeout))

	return &circuitBreaker{breaker: breaker}
}

func (m *manager) lookup(name string) (*gobreaker.CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, ok := m.breakers[name]

	return breaker, ok
}

func (m *manager) Execute(name string, fn func() (any, error)) (any, error) {
	breaker, exists := m.lookup(name)
	if !exists {
		return nil, fmt.Errorf("%w: %s (call GetOrCreate first)", ErrBreakerNotFound, name)
	}

	result, err := breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			m.logger.Log(context.Background(), log.LevelDebug, "circuit breaker rejected call",
				log.String("breaker", name), log.String("reason", err.Error()))

			return nil, fmt.Errorf("%w: %s: %w", ErrCircuitOpen, name, err)
		}
	}

	return result, err
}

func (m *manager) GetState(name string) State {
	breaker, exists := m.lookup(name)
	if !exists {
		return StateUnknown
	}

	return convertGobreakerState(breaker.State())
}

func (m *manager) GetCounts(name string) Counts {
	breaker, exists := m.lookup(name)
	if !exists {
		return Counts{}
	}

	return convertCounts(breaker.Counts())
}

func (m *manager) IsHealthy(name string) bool {
	return m.GetState(name) == StateClosed
}

func (m *manager) RetryAfter(name string) time.Duration {
	if m.GetState(name) != StateOpen {
		return 0
	}

	m.mu.RLock()
	timeout := m.configs[name].RecoveryTimeout
	m.mu.RUnlock()

	m.stateMu.Lock()
	opened, ok := m.openedAt[name]
	m.stateMu.Unlock()

	if !ok {
		return timeout
	}

	remaining := time.Until(opened.Add(timeout))
	if remaining < 0 {
		return 0
	}

	return remaining
}

func (m *manager) Reset(name string) {
	m.mu.Lock()

	config, exists := m.configs[name]
	if !exists {
		m.mu.Unlock()
		return
	}

	m.breakers[name] = m.newBreaker(name, config)
	m.mu.Unlock()

	m.stateMu.Lock()
	delete(m.openedAt, name)
	m.stateMu.Unlock()

	m.logger.Log(context.Background(), log.LevelInfo, "circuit breaker reset", log.String("breaker", name))
}

func (m *manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Log(context.Background(), log.LevelWarn, "attempted to register a nil state change listener")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// handleStateChange runs inside gobreaker's lock; it must not call back into the breaker.
func (m *manager) handleStateChange(name string, from gobreaker.State, to gobreaker.State) {
	ctx := context.Background()
	fromState := convertGobreakerState(from)
	toState := convertGobreakerState(to)

	m.stateMu.Lock()
	if toState == StateOpen {
		m.openedAt[name] = time.Now()
	} else {
		delete(m.openedAt, name)
	}
	m.stateMu.Unlock()

	level := log.LevelInfo
	if toState == StateOpen {
		level = log.LevelWarn
	}

	m.logger.Log(ctx, level, "circuit breaker state changed",
		log.String("breaker", name),
		log.String("from", string(fromState)),
		log.String("to", string(toState)))

	m.recordStateChange(ctx, name, fromState, toState)

	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		l := listener

		runtime.SafeGoWithContextAndComponent(ctx, m.logger, "circuitbreaker", "state_change_listener", runtime.KeepRunning,
			func(context.Context) {
				l.OnStateChange(name, fromState, toState)
			})
	}
}

func (m *manager) recordStateChange(ctx context.Context, name string, from, to State) {
	if m.metrics == nil {
		return
	}

	counter, err := m.metrics.Counter(stateChangeMetric)
	if err == nil {
		err = counter.WithLabels(map[string]string{
			"breaker": constant.SanitizeMetricLabel(name),
			"from":    string(from),
			"to":      string(to),
		}).AddOne(ctx)
	}

	if err == nil {
		err = m.metrics.RecordBreakerState(ctx, constant.SanitizeMetricLabel(name), to.Ordinal())
	}

	if err != nil {
		m.logger.Log(ctx, log.LevelWarn, "failed to record circuit breaker metric", log.String("breaker", name), log.Err(err))
	}
}
