package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
	"github.com/gofiber/fiber/v2"
)

// ErrNoServersConfigured indicates no servers were configured for the manager
var ErrNoServersConfigured = errors.New("no servers configured: use WithHTTPServer()")

// ErrAlreadyStarted is returned when a ServerManager is started twice.
var ErrAlreadyStarted = errors.New("server manager already started")

// DefaultShutdownTimeout bounds each shutdown step.
const DefaultShutdownTimeout = 30 * time.Second

// Worker is a background component started before the HTTP server accepts
// traffic and stopped after it stops, such as the transaction pooler.
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

// ServerManager runs the HTTP server and its worker, and tears everything
// down in order on SIGINT, SIGTERM, a closed shutdown channel or a server
// startup failure: HTTP server, worker, closers in reverse order, telemetry,
// logger.
type ServerManager struct {
	httpServer         *fiber.App
	httpAddress        string
	worker             Worker
	closers            []namedCloser
	telemetry          *opentelemetry.Telemetry
	logger             log.Logger
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	shutdownTimeout    time.Duration
	startupErrors      chan error
	shutdownErr        error
	started            atomic.Bool
}

// NewServerManager creates a new instance of ServerManager.
// If logger is nil, a no-op logger is used.
func NewServerManager(telemetry *opentelemetry.Telemetry, logger log.Logger) *ServerManager {
	if logger == nil {
		logger = log.NewNop()
	}

	return &ServerManager{
		telemetry:       telemetry,
		logger:          logger,
		serversStarted:  make(chan struct{}),
		shutdownTimeout: DefaultShutdownTimeout,
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer configures the HTTP server for the ServerManager.
func (sm *ServerManager) WithHTTPServer(app *fiber.App, address string) *ServerManager {
	sm.httpServer = app
	sm.httpAddress = address

	return sm
}

// WithWorker configures the worker started before the HTTP server.
func (sm *ServerManager) WithWorker(worker Worker) *ServerManager {
	sm.worker = worker

	return sm
}

// WithCloser registers a resource released after the worker stops.
// Closers run in reverse registration order.
func (sm *ServerManager) WithCloser(name string, closeFn func(ctx context.Context) error) *ServerManager {
	if closeFn != nil {
		sm.closers = append(sm.closers, namedCloser{name: name, close: closeFn})
	}

	return sm
}

// WithShutdownChannel configures a custom shutdown channel for the ServerManager.
// This allows tests to trigger shutdown deterministically instead of relying on OS signals.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout bounds each shutdown step. Defaults to 30 seconds.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	if d > 0 {
		sm.shutdownTimeout = d
	}

	return sm
}

// ServersStarted returns a channel that is closed when server goroutines have been launched.
// Note: This signals that goroutines were spawned, not that sockets are bound and ready to accept connections.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

// Run implements dispatch.App.
func (sm *ServerManager) Run(_ *dispatch.Launcher) error {
	return sm.StartWithGracefulShutdownWithError()
}

// StartWithGracefulShutdownWithError starts the worker and the HTTP server and
// blocks until shutdown. It returns the startup failure that triggered the
// shutdown, if any, joined with the errors of the shutdown steps.
func (sm *ServerManager) StartWithGracefulShutdownWithError() error {
	if sm.httpServer == nil {
		return ErrNoServersConfigured
	}

	if !sm.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if sm.worker != nil {
		if err := sm.worker.Start(context.Background()); err != nil {
			sm.executeShutdown()

			return errors.Join(fmt.Errorf("worker start: %w", err), sm.shutdownErr)
		}
	}

	sm.startServers()

	startupErr := sm.waitForShutdown()

	sm.logInfo("Gracefully shutting down...")
	sm.executeShutdown()

	return errors.Join(startupErr, sm.shutdownErr)
}

func (sm *ServerManager) startServers() {
	runtime.SafeGoWithContextAndComponent(
		context.Background(),
		sm.logger,
		"server",
		"start_http_server",
		runtime.KeepRunning,
		func(_ context.Context) {
			sm.logInfof("Starting HTTP server on %s", sm.httpAddress)

			if err := sm.httpServer.Listen(sm.httpAddress); err != nil {
				sm.logErrorf("HTTP server error: %v", err)

				select {
				case sm.startupErrors <- fmt.Errorf("HTTP server: %w", err):
				default:
				}
			}
		},
	)

	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

func (sm *ServerManager) waitForShutdown() error {
	var signals chan os.Signal

	if sm.shutdownChan == nil {
		signals = make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

		defer signal.Stop(signals)
	}

	select {
	case <-sm.shutdownChan:
	case <-signals:
	case err := <-sm.startupErrors:
		sm.logErrorf("Server startup failed: %v", err)
		return err
	}

	return nil
}

// executeShutdown runs the shutdown sequence once. Step errors are logged
// and collected in shutdownErr.
func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		var errs []error

		step := func(name string, fn func(ctx context.Context) error) {
			ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
			defer cancel()

			sm.logInfof("Shutting down %s...", name)

			if err := fn(ctx); err != nil {
				sm.logErrorf("Error during %s shutdown: %v", name, err)
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}

		select {
		case <-sm.serversStarted:
		default:
			sm.logInfo("Shutdown initiated before servers were fully started.")
		}

		if sm.httpServer != nil {
			step("HTTP server", func(context.Context) error {
				return sm.httpServer.ShutdownWithTimeout(sm.shutdownTimeout)
			})
		}

		if sm.worker != nil {
			step("worker", sm.worker.Stop)
		}

		for i := len(sm.closers) - 1; i >= 0; i-- {
			step(sm.closers[i].name, sm.closers[i].close)
		}

		if sm.telemetry != nil {
			step("telemetry", sm.telemetry.ShutdownTelemetry)
		}

		if err := sm.logger.Sync(context.Background()); err != nil {
			sm.logErrorf("Failed to sync logger: %v", err)
		}

		sm.logInfo("Graceful shutdown completed")

		sm.shutdownErr = errors.Join(errs...)
	})
}

func (sm *ServerManager) logInfo(msg string) {
	sm.logger.Log(context.Background(), log.LevelInfo, msg)
}

func (sm *ServerManager) logInfof(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelInfo, fmt.Sprintf(format, args...))
}

func (sm *ServerManager) logErrorf(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelError, fmt.Sprintf(format, args...))
}
