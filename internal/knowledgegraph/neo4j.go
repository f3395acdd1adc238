package knowledgegraph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/config"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// ErrConnectorClosed is returned by Session after Close.
var ErrConnectorClosed = errors.New("graph connector is closed")

// driverFactory builds the underlying driver. Swapped in tests.
type driverFactory func(cfg config.GraphConfig) (neo4j.DriverWithContext, error)

func newDriver(cfg config.GraphConfig) (neo4j.DriverWithContext, error) {
	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	return neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
		if cfg.ConnectTimeout > 0 {
			c.SocketConnectTimeout = cfg.ConnectTimeout
		}
	})
}

// Neo4jConnector owns a Neo4j driver. The driver is created and verified on
// the first Session call and released by Close. Callers own the connector
// and pass it where it is needed.
type Neo4jConnector struct {
	cfg     config.GraphConfig
	logger  *zap.Logger
	factory driverFactory

	mu     sync.Mutex
	driver neo4j.DriverWithContext
	closed bool
}

var _ schemas.GraphConnector = (*Neo4jConnector)(nil)

// NewNeo4jConnector returns a connector for cfg. No connection is made yet.
func NewNeo4jConnector(cfg config.GraphConfig, logger *zap.Logger) *Neo4jConnector {
	return &Neo4jConnector{
		cfg:     cfg,
		logger:  observability.Named(logger, "neo4j"),
		factory: newDriver,
	}
}

func (c *Neo4jConnector) ensureDriver(ctx context.Context) (neo4j.DriverWithContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectorClosed
	}
	if c.driver != nil {
		return c.driver, nil
	}

	driver, err := c.factory(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity at %s: %w", c.cfg.URI, err)
	}

	c.logger.Info("Connected to graph store.", zap.String("uri", c.cfg.URI), zap.String("database", c.cfg.Database))
	c.driver = driver
	return driver, nil
}

// Session opens a new session on the configured database.
func (c *Neo4jConnector) Session(ctx context.Context) (schemas.GraphSession, error) {
	driver, err := c.ensureDriver(ctx)
	if err != nil {
		return nil, err
	}
	s := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.cfg.Database,
	})
	return &neo4jSession{session: s}, nil
}

// Close releases the driver. It is safe to call more than once and on a
// connector that never connected.
func (c *Neo4jConnector) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}

// neo4jSession runs every call in its own managed transaction.
type neo4jSession struct {
	session neo4j.SessionWithContext
}

func (s *neo4jSession) Write(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	out, err := s.session.ExecuteWrite(ctx, collect(ctx, query, params))
	if err != nil {
		return nil, err
	}
	return out.([]map[string]any), nil
}

func (s *neo4jSession) Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	out, err := s.session.ExecuteRead(ctx, collect(ctx, query, params))
	if err != nil {
		return nil, err
	}
	return out.([]map[string]any), nil
}

func (s *neo4jSession) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

func collect(ctx context.Context, query string, params map[string]any) neo4j.ManagedTransactionWork {
	return func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, r := range records {
			rows = append(rows, r.AsMap())
		}
		return rows, nil
	}
}
