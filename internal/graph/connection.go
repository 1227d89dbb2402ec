package graph

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "pagegraph-backend/pkg/errors"
	"pagegraph-backend/pkg/observability"
)

// ConnectionConfig configures the store connection.
type ConnectionConfig struct {
	URI               string
	Username          string
	Password          string
	Database          string
	MaxPoolSize       int           // fixed maximum enforced by the driver pool
	ConnectionTimeout time.Duration // socket connect timeout
}

// DefaultConnectionConfig returns the connection defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		URI:               "bolt://localhost:7687",
		MaxPoolSize:       50,
		ConnectionTimeout: 30 * time.Second,
	}
}

// PoolStats is the observability snapshot returned by CheckPool.
type PoolStats struct {
	InUse   int64  `json:"in_use"`
	Idle    int64  `json:"idle"`
	MaxSize int    `json:"max_size"`
	Status  string `json:"status"`
}

// Connection owns the driver and its session pool. Sessions are acquired per
// unit of work and never shared across workers.
type Connection struct {
	driver  neo4j.DriverWithContext
	cfg     ConnectionConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	inUse    atomic.Int64
	acquired atomic.Int64 // lifetime total, for idle estimation
}

// NewConnection opens the driver and verifies connectivity.
func NewConnection(ctx context.Context, cfg ConnectionConfig, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *config.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.ConnectionTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectionTimeout
			}
		},
	)
	if err != nil {
		return nil, appErrors.NewStore(appErrors.CodeServiceUnavailable, "failed to create driver", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, classifyStoreError(ctx, err)
	}

	logger.Info("connected to graph store",
		zap.String("uri", cfg.URI),
		zap.Int("max_pool_size", cfg.MaxPoolSize))

	return &Connection{driver: driver, cfg: cfg, breaker: newBreaker(logger), logger: logger}, nil
}

// newBreaker builds the store circuit breaker: trips after 5 consecutive
// failures, half-opens after 30s, admits 3 trial requests half-open.
func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph-store",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// acquireSession opens a session and tracks pool usage.
func (c *Connection) acquireSession(ctx context.Context) neo4j.SessionWithContext {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.cfg.Database,
	})
	c.acquired.Add(1)
	observability.StorePoolInUse.Set(float64(c.inUse.Add(1)))
	return session
}

// releaseSession closes a session and updates usage counters.
func (c *Connection) releaseSession(ctx context.Context, session neo4j.SessionWithContext) {
	if err := session.Close(ctx); err != nil {
		c.logger.Warn("failed to close session", zap.Error(err))
	}
	observability.StorePoolInUse.Set(float64(c.inUse.Add(-1)))
}

// CheckPool returns the current pool usage snapshot.
func (c *Connection) CheckPool(ctx context.Context) PoolStats {
	inUse := c.inUse.Load()
	idle := int64(c.cfg.MaxPoolSize) - inUse
	if idle < 0 {
		idle = 0
	}
	status := "healthy"
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		status = "unavailable"
	} else if c.breaker.State() == gobreaker.StateOpen {
		status = "degraded"
	}
	return PoolStats{
		InUse:   inUse,
		Idle:    idle,
		MaxSize: c.cfg.MaxPoolSize,
		Status:  status,
	}
}

// Close shuts the driver down. Called last during shutdown.
func (c *Connection) Close(ctx context.Context) error {
	c.logger.Info("closing graph store connection")
	return c.driver.Close(ctx)
}
