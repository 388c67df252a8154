package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/assert"
	"github.com/LerianStudio/lib-dispatch/dispatch/backoff"
	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	libOpentelemetry "github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName          = "redis"
	maxPoolSize         = 1000
	reconnectBackoffCap = 30 * time.Second
)

var (
	// ErrNilClient is returned when a redis client receiver is nil.
	ErrNilClient = errors.New("redis client is nil")
	// ErrInvalidConfig indicates the provided redis configuration is invalid.
	ErrInvalidConfig = errors.New("invalid redis config")
)

// Config defines Redis client topology, auth, TLS, and connection settings.
type Config struct {
	Topology       Topology
	TLS            *TLSConfig
	Password       string
	Options        ConnectionOptions
	Logger         log.Logger
	MetricsFactory *metrics.MetricsFactory
}

// Topology selects exactly one Redis deployment mode.
type Topology struct {
	Standalone *StandaloneTopology
	Sentinel   *SentinelTopology
	Cluster    *ClusterTopology
}

// StandaloneTopology configures single-node Redis access.
type StandaloneTopology struct {
	Address string
}

// SentinelTopology configures Redis Sentinel access.
type SentinelTopology struct {
	Addresses  []string
	MasterName string
}

// ClusterTopology configures Redis cluster access.
type ClusterTopology struct {
	Addresses []string
}

// TLSConfig enables TLS. An empty CACertBase64 uses the system roots.
type TLSConfig struct {
	CACertBase64 string
	MinVersion   uint16
}

// ConnectionOptions configures protocol, timeouts, pools, and retries.
type ConnectionOptions struct {
	DB              int
	PoolSize        int
	MinIdleConns    int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	DialTimeout     time.Duration
	PoolTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// String redacts the password.
func (c Config) String() string {
	return fmt.Sprintf("redis.Config{Topology:%+v, TLS:%t, Password:REDACTED, DB:%d}", c.Topology, c.TLS != nil, c.Options.DB)
}

var connectionFailuresMetric = metrics.Metric{
	Name:        "redis_connection_failures_total",
	Unit:        "1",
	Description: "Total number of redis connection failures",
}

var reconnectionsMetric = metrics.Metric{
	Name:        "redis_reconnections_total",
	Unit:        "1",
	Description: "Total number of redis reconnection attempts",
}

// Client wraps a redis.UniversalClient with lazy, rate-limited reconnection.
type Client struct {
	mu        sync.RWMutex
	cfg       Config
	logger    log.Logger
	metrics   *metrics.MetricsFactory
	client    redis.UniversalClient
	connected bool

	lastReconnectAttempt time.Time
	reconnectAttempts    int
}

// New validates cfg and connects.
func New(ctx context.Context, cfg Config) (*Client, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     normalized,
		logger:  normalized.Logger,
		metrics: normalized.MetricsFactory,
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func nilClientAssert(ctx context.Context, operation string) error {
	a := assert.New(ctx, log.NewNop(), "redis.Client", operation)
	_ = a.Never(ctx, "nil receiver on *redis.Client")

	return ErrNilClient
}

// Connect (re)establishes the connection, closing any previous client.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return nilClientAssert(ctx, "Connect")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "redis.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure("connect")
		libOpentelemetry.HandleSpanError(span, "Failed to connect to redis", err)

		return err
	}

	return nil
}

// GetClient returns the live client, reconnecting with capped exponential
// backoff when the previous connection was dropped.
func (c *Client) GetClient(ctx context.Context) (redis.UniversalClient, error) {
	if c == nil {
		return nil, nilClientAssert(ctx, "GetClient")
	}

	c.mu.RLock()
	if c.client != nil {
		client := c.client
		c.mu.RUnlock()

		return client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if c.reconnectAttempts > 0 {
		delay := min(backoff.ExponentialWithJitter(500*time.Millisecond, c.reconnectAttempts), reconnectBackoffCap)

		if elapsed := time.Since(c.lastReconnectAttempt); elapsed < delay {
			return nil, fmt.Errorf("redis reconnect: rate-limited (next attempt in %s)", delay-elapsed)
		}
	}

	c.lastReconnectAttempt = time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "redis.reconnect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	if err := c.connectLocked(ctx); err != nil {
		c.reconnectAttempts++
		c.recordConnectionFailure("reconnect")
		c.recordReconnection("failure")
		libOpentelemetry.HandleSpanError(span, "Failed to reconnect redis", err)

		return nil, err
	}

	c.reconnectAttempts = 0
	c.recordReconnection("success")

	return c.client, nil
}

// Close closes the underlying client. Safe to call repeatedly.
func (c *Client) Close() error {
	if c == nil {
		return nilClientAssert(context.Background(), "Close")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeClientLocked()
}

// IsConnected reports whether the last connect succeeded and the client is open.
func (c *Client) IsConnected() (bool, error) {
	if c == nil {
		return false, nilClientAssert(context.Background(), "IsConnected")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.logger.Log(ctx, log.LevelInfo, "connecting to Redis/Valkey")

	if err := c.closeClientLocked(); err != nil {
		c.logger.Log(ctx, log.LevelWarn, "close before connect failed", log.Err(err))
	}

	opts, err := c.buildUniversalOptions()
	if err != nil {
		return fmt.Errorf("redis connect: build options: %w", err)
	}

	rdb := redis.NewUniversalClient(opts)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()

		c.logger.Log(ctx, log.LevelError, "redis ping failed", log.Err(err))

		return fmt.Errorf("redis connect: ping: %w", err)
	}

	c.client = rdb
	c.connected = true

	switch rdb.(type) {
	case *redis.ClusterClient:
		c.logger.Log(ctx, log.LevelInfo, "connected to Redis/Valkey in cluster mode")
	default:
		c.logger.Log(ctx, log.LevelInfo, "connected to Redis/Valkey")
	}

	if c.cfg.TLS == nil {
		c.logger.Log(ctx, log.LevelWarn, "redis connection established without TLS")
	}

	return nil
}

func (c *Client) closeClientLocked() error {
	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.connected = false

	return err
}

func (c *Client) buildUniversalOptions() (*redis.UniversalOptions, error) {
	o := c.cfg.Options
	opts := &redis.UniversalOptions{
		DB:              o.DB,
		Password:        c.cfg.Password,
		PoolSize:        o.PoolSize,
		MinIdleConns:    o.MinIdleConns,
		ReadTimeout:     o.ReadTimeout,
		WriteTimeout:    o.WriteTimeout,
		DialTimeout:     o.DialTimeout,
		PoolTimeout:     o.PoolTimeout,
		MaxRetries:      o.MaxRetries,
		MinRetryBackoff: o.MinRetryBackoff,
		MaxRetryBackoff: o.MaxRetryBackoff,
	}

	switch t := c.cfg.Topology; {
	case t.Standalone != nil:
		opts.Addrs = []string{t.Standalone.Address}
	case t.Sentinel != nil:
		opts.Addrs = t.Sentinel.Addresses
		opts.MasterName = t.Sentinel.MasterName
	case t.Cluster != nil:
		opts.Addrs = t.Cluster.Addresses
	}

	if c.cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(*c.cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("redis: TLS config: %w", err)
		}

		opts.TLSConfig = tlsCfg
	}

	return opts, nil
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	normalizeConnectionOptions(&cfg.Options)

	if cfg.TLS != nil {
		tlsCfg := *cfg.TLS
		if tlsCfg.MinVersion < tls.VersionTLS12 {
			tlsCfg.MinVersion = tls.VersionTLS12
		}

		cfg.TLS = &tlsCfg
	}

	if err := validateTopology(cfg.Topology); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func normalizeConnectionOptions(o *ConnectionOptions) {
	if o.PoolSize == 0 {
		o.PoolSize = 10
	}

	o.PoolSize = min(o.PoolSize, maxPoolSize)

	defaults := []struct {
		field *time.Duration
		value time.Duration
	}{
		{&o.ReadTimeout, 3 * time.Second},
		{&o.WriteTimeout, 3 * time.Second},
		{&o.DialTimeout, 5 * time.Second},
		{&o.PoolTimeout, 2 * time.Second},
		{&o.MinRetryBackoff, 8 * time.Millisecond},
		{&o.MaxRetryBackoff, time.Second},
	}

	for _, d := range defaults {
		if *d.field == 0 {
			*d.field = d.value
		}
	}

	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
}

func validateTopology(topology Topology) error {
	count := 0

	if topology.Standalone != nil {
		count++

		if strings.TrimSpace(topology.Standalone.Address) == "" {
			return configError("standalone address is required")
		}
	}

	if topology.Sentinel != nil {
		count++

		if strings.TrimSpace(topology.Sentinel.MasterName) == "" {
			return configError("sentinel master name is required")
		}

		if err := validateAddresses("sentinel", topology.Sentinel.Addresses); err != nil {
			return err
		}
	}

	if topology.Cluster != nil {
		count++

		if err := validateAddresses("cluster", topology.Cluster.Addresses); err != nil {
			return err
		}
	}

	if count != 1 {
		return configError("exactly one topology must be configured")
	}

	return nil
}

func validateAddresses(mode string, addresses []string) error {
	if len(addresses) == 0 {
		return configError(mode + " addresses are required")
	}

	for _, address := range addresses {
		if strings.TrimSpace(address) == "" {
			return configError(mode + " addresses cannot be empty")
		}
	}

	return nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.MinVersion == tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	if cfg.CACertBase64 == "" {
		return tlsConfig, nil
	}

	caCert, err := base64.StdEncoding.DecodeString(cfg.CACertBase64)
	if err != nil {
		return nil, err
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("adding CA cert failed")
	}

	tlsConfig.RootCAs = caCertPool

	return tlsConfig, nil
}

func (c *Client) recordConnectionFailure(operation string) {
	c.addOne(connectionFailuresMetric, "operation", constant.SanitizeMetricLabel(operation))
}

func (c *Client) recordReconnection(result string) {
	c.addOne(reconnectionsMetric, "result", result)
}

func (c *Client) addOne(m metrics.Metric, key, value string) {
	if c.metrics == nil {
		return
	}

	counter, err := c.metrics.Counter(m)
	if err != nil {
		c.logger.Log(context.Background(), log.LevelWarn, "failed to create redis metric counter", log.Err(err))
		return
	}

	if err := counter.WithLabels(map[string]string{key: value}).AddOne(context.Background()); err != nil {
		c.logger.Log(context.Background(), log.LevelWarn, "failed to record redis metric", log.Err(err))
	}
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
