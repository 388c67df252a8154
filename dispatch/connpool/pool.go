package connpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/jackc/puddle/v2"
)

const (
	// DefaultMaxConnections is the default cap on concurrently checked-out handles.
	DefaultMaxConnections = 20
	// DefaultMaxIdle is the default number of handles kept warm between uses.
	DefaultMaxIdle = 10
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("connpool: pool is closed")
	// ErrNilFactory is returned when Config.Factory is nil.
	ErrNilFactory = errors.New("connpool: factory is required")
	// ErrInvalidMaxConnections is returned when MaxConnections is negative.
	ErrInvalidMaxConnections = errors.New("connpool: max connections must be positive")
)

// Config configures a Pool.
type Config[T any] struct {
	// Factory creates a new handle. Called lazily on Acquire.
	Factory func(ctx context.Context) (T, error)
	// Dispose releases a handle's resources. Optional.
	Dispose func(T)
	// MaxConnections caps checked-out plus idle handles. Zero uses DefaultMaxConnections.
	MaxConnections int
	// MaxIdle caps idle handles. Zero uses DefaultMaxIdle; it is clamped to MaxConnections.
	MaxIdle int
	// Logger receives lifecycle events.
	Logger log.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total     int   `json:"total"`
	Active    int   `json:"active"`
	Idle      int   `json:"idle"`
	Max       int   `json:"max"`
	Created   int64 `json:"created"`
	Disposed  int64 `json:"disposed"`
	Acquired  int64 `json:"acquired"`
	Cancelled int64 `json:"cancelled"`
}

// Pool is a bounded pool of handles of type T.
type Pool[T any] struct {
	pool    *puddle.Pool[T]
	maxIdle int
	maxConn int
	logger  log.Logger

	releaseMu sync.Mutex
	created   atomic.Int64
	disposed  atomic.Int64
	closed    atomic.Bool
}

// New builds a Pool. No handle is created until the first Acquire.
func New[T any](cfg Config[T]) (*Pool[T], error) {
	if cfg.Factory == nil {
		return nil, ErrNilFactory
	}

	if cfg.MaxConnections < 0 {
		return nil, ErrInvalidMaxConnections
	}

	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}

	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}

	if cfg.MaxIdle > cfg.MaxConnections {
		cfg.MaxIdle = cfg.MaxConnections
	}

	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	p := &Pool[T]{
		maxIdle: cfg.MaxIdle,
		maxConn: cfg.MaxConnections,
		logger:  cfg.Logger,
	}

	factory := cfg.Factory
	dispose := cfg.Dispose

	inner, err := puddle.NewPool(&puddle.Config[T]{
		Constructor: func(ctx context.Context) (T, error) {
			handle, err := factory(ctx)
			if err == nil {
				p.created.Add(1)
			}

			return handle, err
		},
		Destructor: func(handle T) {
			p.disposed.Add(1)

			if dispose != nil {
				dispose(handle)
			}
		},
		MaxSize: int32(cfg.MaxConnections), //nolint:gosec
	})
	if err != nil {
		return nil, fmt.Errorf("connpool: create pool: %w", err)
	}

	p.pool = inner

	return p, nil
}

// Lease is one checked-out handle. Exactly one of Release or Discard must be called.
type Lease[T any] struct {
	res  *puddle.Resource[T]
	pool *Pool[T]
	done atomic.Bool
}

// Value returns the leased handle.
func (l *Lease[T]) Value() T {
	return l.res.Value()
}

// Release returns the handle to the idle set, or disposes it when the idle
// set is full. Repeated calls are no-ops.
func (l *Lease[T]) Release() {
	if l == nil || !l.done.CompareAndSwap(false, true) {
		return
	}

	l.pool.release(l.res)
}

// Discard disposes a handle that must not be reused. Repeated calls are no-ops.
// The handle's slot is freed asynchronously, so Stats may count it as active
// for a short while after Discard returns.
func (l *Lease[T]) Discard() {
	if l == nil || !l.done.CompareAndSwap(false, true) {
		return
	}

	l.res.Destroy()
}

func (p *Pool[T]) release(res *puddle.Resource[T]) {
	p.releaseMu.Lock()
	defer p.releaseMu.Unlock()

	if p.closed.Load() || int(p.pool.Stat().IdleResources()) >= p.maxIdle {
		res.Destroy()
		return
	}

	res.Release()
}

// Acquire checks out a handle, creating one when none is idle and the cap
// allows. It blocks while MaxConnections handles are checked out until one
// is released or ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrPoolClosed
		}

		return nil, fmt.Errorf("connpool: acquire: %w", err)
	}

	return &Lease[T]{res: res, pool: p}, nil
}

// With acquires a handle, runs fn with it and releases it on every exit
// path. A panic in fn discards the handle and is re-raised.
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			lease.Discard()
			panic(r)
		}

		lease.Release()
	}()

	return fn(lease.Value())
}

// Stats returns pool counters.
func (p *Pool[T]) Stats() Stats {
	stat := p.pool.Stat()

	return Stats{
		Total:     int(stat.TotalResources()),
		Active:    int(stat.AcquiredResources()),
		Idle:      int(stat.IdleResources()),
		Max:       p.maxConn,
		Created:   p.created.Load(),
		Disposed:  p.disposed.Load(),
		Acquired:  stat.AcquireCount(),
		Cancelled: stat.CanceledAcquireCount(),
	}
}

// MaxIdle returns the effective idle cap.
func (p *Pool[T]) MaxIdle() int {
	return p.maxIdle
}

// Close disposes idle handles, waits for checked-out handles to be returned
// and rejects further acquires. Safe to call repeatedly.
func (p *Pool[T]) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.pool.Close()

	p.logger.Log(context.Background(), log.LevelInfo, "connection pool closed",
		log.Int64("created", p.created.Load()), log.Int64("disposed", p.disposed.Load()))
}
