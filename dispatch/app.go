package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/LerianStudio/lib-dispatch/dispatch/assert"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
)

const launcherComponent = "launcher"

var (
	// ErrLoggerNil is returned when the launcher has no logger.
	ErrLoggerNil = errors.New("logger is nil")
	// ErrNilLauncher is returned when a launcher method is called on a nil receiver.
	ErrNilLauncher = errors.New("launcher is nil")
	// ErrEmptyApp is returned when an app name is empty or whitespace.
	ErrEmptyApp = errors.New("app name is empty")
	// ErrNilApp is returned when a nil app instance is provided.
	ErrNilApp = errors.New("app is nil")
	// ErrDuplicateApp is returned when an app name is registered twice.
	ErrDuplicateApp = errors.New("app already registered")
	// ErrConfigFailed is returned when launcher option application collected errors.
	ErrConfigFailed = errors.New("launcher configuration failed")
	// ErrAppFailed wraps the errors returned by apps during RunWithError.
	ErrAppFailed = errors.New("app failed")
)

// App is a deployable component started by the Launcher, such as the HTTP
// server that fronts the transaction pooler.
type App interface {
	Run(launcher *Launcher) error
}

// LauncherOption configures a Launcher.
type LauncherOption func(l *Launcher)

// WithLogger sets the launcher logger.
func WithLogger(logger log.Logger) LauncherOption {
	return func(l *Launcher) {
		l.Logger = logger
	}
}

// RunApp registers an application with the launcher.
// Registration errors surface when RunWithError is called.
func RunApp(name string, app App) LauncherOption {
	return func(l *Launcher) {
		if err := l.Add(name, app); err != nil {
			l.configErrors = append(l.configErrors, fmt.Errorf("add app %q: %w", name, err))
		}
	}
}

type namedApp struct {
	name string
	app  App
}

// Launcher runs registered apps concurrently and waits for all of them.
type Launcher struct {
	Logger       log.Logger
	Verbose      bool
	apps         []namedApp
	configErrors []error
}

// NewLauncher creates a Launcher and applies opts in order.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{Verbose: true}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Add registers an application under a unique name. Apps start in registration order.
func (l *Launcher) Add(appName string, a App) error {
	if l == nil {
		asserter := assert.New(context.Background(), nil, launcherComponent, "Add")
		_ = asserter.Never(context.Background(), "launcher receiver is nil")

		return ErrNilLauncher
	}

	asserter := assert.New(context.Background(), l.Logger, launcherComponent, "Add")

	if strings.TrimSpace(appName) == "" {
		_ = asserter.Never(context.Background(), "app name must not be empty")
		return ErrEmptyApp
	}

	if a == nil {
		_ = asserter.Never(context.Background(), "app must not be nil", "app_name", appName)
		return ErrNilApp
	}

	for _, registered := range l.apps {
		if registered.name == appName {
			return fmt.Errorf("%w: %s", ErrDuplicateApp, appName)
		}
	}

	l.apps = append(l.apps, namedApp{name: appName, app: a})

	return nil
}

// Run runs every registered app and logs the outcome.
// Use RunWithError to handle the error explicitly.
func (l *Launcher) Run() {
	if err := l.RunWithError(); err != nil && l != nil && l.Logger != nil {
		l.Logger.Log(context.Background(), log.LevelError, "launcher error", log.Err(err))
	}
}

// RunWithError runs all apps and blocks until each returns. Errors returned
// by apps and panics recovered from them are joined under ErrAppFailed.
func (l *Launcher) RunWithError() error {
	if l == nil {
		return ErrNilLauncher
	}

	if l.Logger == nil {
		return ErrLoggerNil
	}

	if len(l.configErrors) > 0 {
		return errors.Join(append([]error{ErrConfigFailed}, l.configErrors...)...)
	}

	ctx := ContextWithLogger(context.Background(), l.Logger)

	l.Logger.Log(ctx, log.LevelInfo, "starting apps", log.Int("count", len(l.apps)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, entry := range l.apps {
		wg.Add(1)

		completed := false

		runtime.SafeGoWithContextAndComponent(ctx, l.Logger, launcherComponent, "run_app_"+entry.name, runtime.KeepRunning,
			func(ctx context.Context) {
				defer func() {
					if !completed {
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s: panic during run", entry.name))
						mu.Unlock()
					}

					wg.Done()
				}()

				if l.Verbose {
					l.Logger.Log(ctx, log.LevelInfo, "app starting", log.String("app", entry.name))
				}

				err := entry.app.Run(l)
				completed = true

				if err != nil {
					l.Logger.Log(ctx, log.LevelError, "app error", log.String("app", entry.name), log.Err(err))

					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
					mu.Unlock()

					return
				}

				if l.Verbose {
					l.Logger.Log(ctx, log.LevelInfo, "app finished", log.String("app", entry.name))
				}
			},
		)
	}

	wg.Wait()

	l.Logger.Log(ctx, log.LevelInfo, "launcher terminated")

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrAppFailed}, errs...)...)
	}

	return nil
}
