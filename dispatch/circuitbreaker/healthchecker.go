package circuitbreaker

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
)

var (
	// ErrInvalidHealthCheckInterval indicates that the health check interval must be positive.
	ErrInvalidHealthCheckInterval = errors.New("circuitbreaker: health check interval must be positive")
	// ErrInvalidHealthCheckTimeout indicates that the health check timeout must be positive.
	ErrInvalidHealthCheckTimeout = errors.New("circuitbreaker: health check timeout must be positive")
)

const immediateCheckBuffer = 10

type healthChecker struct {
	manager      Manager
	services     map[string]HealthCheckFunc
	results      map[string]ServiceHealth
	interval     time.Duration
	checkTimeout time.Duration
	logger       log.Logger
	now          func() time.Time

	immediateCheck chan string
	stopChan       chan struct{}
	running        bool
	wg             sync.WaitGroup
	mu             sync.RWMutex
	lifecycleMu    sync.Mutex
}

// NewHealthChecker creates a health checker probing every interval, each
// probe bounded by checkTimeout.
func NewHealthChecker(manager Manager, interval, checkTimeout time.Duration, logger log.Logger) (HealthChecker, error) {
	if interval <= 0 {
		return nil, ErrInvalidHealthCheckInterval
	}

	if checkTimeout <= 0 {
		return nil, ErrInvalidHealthCheckTimeout
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &healthChecker{
		manager:        manager,
		services:       make(map[string]HealthCheckFunc),
		results:        make(map[string]ServiceHealth),
		interval:       interval,
		checkTimeout:   checkTimeout,
		logger:         logger,
		now:            time.Now,
		immediateCheck: make(chan string, immediateCheckBuffer),
	}, nil
}

func (hc *healthChecker) Register(name string, fn HealthCheckFunc) {
	if fn == nil {
		return
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.services[name] = fn
}

func (hc *healthChecker) Start(ctx context.Context) {
	hc.lifecycleMu.Lock()
	defer hc.lifecycleMu.Unlock()

	if hc.running {
		return
	}

	hc.running = true
	hc.stopChan = make(chan struct{})
	stop := hc.stopChan

	hc.wg.Add(1)

	runtime.SafeGoWithContextAndComponent(ctx, hc.logger, "circuitbreaker", "health_check_loop", runtime.KeepRunning,
		func(ctx context.Context) {
			defer hc.wg.Done()
			hc.loop(ctx, stop)
		})

	hc.logger.Log(ctx, log.LevelInfo, "health checker started", log.Duration("interval", hc.interval))
}

func (hc *healthChecker) Stop() {
	hc.lifecycleMu.Lock()
	defer hc.lifecycleMu.Unlock()

	if !hc.running {
		return
	}

	close(hc.stopChan)
	hc.wg.Wait()
	hc.running = false

	hc.logger.Log(context.Background(), log.LevelInfo, "health checker stopped")
}

func (hc *healthChecker) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.CheckNow(ctx)
		case name := <-hc.immediateCheck:
			hc.checkService(ctx, name)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (hc *healthChecker) CheckNow(ctx context.Context) map[string]ServiceHealth {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.services))
	for name := range hc.services {
		names = append(names, name)
	}
	hc.mu.RUnlock()

	for _, name := range names {
		hc.checkService(ctx, name)
	}

	return hc.GetHealthStatus()
}

func (hc *healthChecker) checkService(ctx context.Context, name string) {
	hc.mu.RLock()
	fn, exists := hc.services[name]
	hc.mu.RUnlock()

	if !exists {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	err := fn(probeCtx)

	cancel()

	result := ServiceHealth{
		Breaker:     hc.breakerState(name),
		Healthy:     err == nil,
		LastChecked: hc.now(),
	}

	if err != nil {
		result.LastError = err.Error()

		hc.logger.Log(ctx, log.LevelWarn, "health probe failed",
			log.String("service", name), log.String("breaker", string(result.Breaker)), log.Err(err))
	} else {
		hc.logger.Log(ctx, log.LevelDebug, "health probe succeeded", log.String("service", name))
	}

	hc.mu.Lock()
	hc.results[name] = result
	hc.mu.Unlock()
}

func (hc *healthChecker) breakerState(name string) State {
	if hc.manager == nil {
		return StateUnknown
	}

	return hc.manager.GetState(name)
}

func (hc *healthChecker) GetHealthStatus() map[string]ServiceHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	status := make(map[string]ServiceHealth, len(hc.services))
	maps.Copy(status, hc.results)

	for name := range hc.services {
		entry := status[name]
		entry.Breaker = hc.breakerState(name)
		status[name] = entry
	}

	return status
}

// OnStateChange schedules an immediate probe when a breaker opens.
func (hc *healthChecker) OnStateChange(name string, _ State, to State) {
	if to != StateOpen {
		return
	}

	select {
	case hc.immediateCheck <- name:
	default:
		hc.logger.Log(context.Background(), log.LevelDebug, "immediate health check queue full", log.String("service", name))
	}
}
