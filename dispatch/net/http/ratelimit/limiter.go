package ratelimit

import (
	"time"

	libHTTP "github.com/LerianStudio/lib-dispatch/dispatch/net/http"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const (
	// DefaultMax is the default number of requests allowed per window.
	DefaultMax = 100
	// DefaultWindow is the default limiter window.
	DefaultWindow = time.Minute

	limitReachedTitle = "rate_limited"
)

// Config configures the submission rate limiter.
type Config struct {
	// Max requests per Window and client. Zero selects DefaultMax.
	Max int
	// Window is the fixed counting window. Zero selects DefaultWindow.
	Window time.Duration
	// Storage holds the counters. Nil keeps them in process memory.
	Storage fiber.Storage
	// KeyGenerator identifies the client. Nil keys by remote IP.
	KeyGenerator func(c *fiber.Ctx) string
}

// New returns a fixed-window limiter that answers 429 with the standard
// error body once a client exceeds Max requests in Window.
func New(cfg Config) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}

	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = func(c *fiber.Ctx) string { return c.IP() }
	}

	limiterCfg := limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Window,
		KeyGenerator: cfg.KeyGenerator,
		LimitReached: func(c *fiber.Ctx) error {
			return libHTTP.RespondError(c, fiber.StatusTooManyRequests, limitReachedTitle,
				"Too many submissions. Retry after the current window resets.")
		},
	}

	if cfg.Storage != nil {
		limiterCfg.Storage = cfg.Storage
	}

	return limiter.New(limiterCfg)
}
