// Package neo4j wraps the Neo4j driver behind small interfaces so graph
// writers can be tested without a server.
package neo4j

import (
	"context"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/GCN-Heatmap/internal/config"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// Result is the subset of neo4j.ResultWithContext the adapters read.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
	Consume(ctx context.Context) (neo4j.ResultSummary, error)
}

// Transaction runs Cypher inside a managed transaction.
type Transaction interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
}

// TransactionWork is a unit of work retried by the driver on transient
// failures.
type TransactionWork func(tx Transaction) (any, error)

type session interface {
	ExecuteRead(ctx context.Context, work TransactionWork) (any, error)
	ExecuteWrite(ctx context.Context, work TransactionWork) (any, error)
	Close(ctx context.Context) error
}

type driverConn interface {
	VerifyConnectivity(ctx context.Context) error
	NewSession(ctx context.Context, cfg neo4j.SessionConfig) session
	Close(ctx context.Context) error
}

type stdResult struct{ res neo4j.ResultWithContext }

func (r *stdResult) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r *stdResult) Record() *neo4j.Record         { return r.res.Record() }
func (r *stdResult) Err() error                    { return r.res.Err() }
func (r *stdResult) Consume(ctx context.Context) (neo4j.ResultSummary, error) {
	return r.res.Consume(ctx)
}

type stdTransaction struct{ tx neo4j.ManagedTransaction }

func (t *stdTransaction) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	res, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &stdResult{res: res}, nil
}

type stdSession struct{ s neo4j.SessionWithContext }

func (s *stdSession) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	return s.s.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&stdTransaction{tx: tx})
	})
}

func (s *stdSession) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	return s.s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&stdTransaction{tx: tx})
	})
}

func (s *stdSession) Close(ctx context.Context) error { return s.s.Close(ctx) }

type stdDriver struct{ d neo4j.DriverWithContext }

func (d *stdDriver) VerifyConnectivity(ctx context.Context) error { return d.d.VerifyConnectivity(ctx) }
func (d *stdDriver) NewSession(ctx context.Context, cfg neo4j.SessionConfig) session {
	return &stdSession{s: d.d.NewSession(ctx, cfg)}
}
func (d *stdDriver) Close(ctx context.Context) error { return d.d.Close(ctx) }

// Driver owns the connection pool and runs read and write units of work
// against the configured database.
type Driver struct {
	driver   driverConn
	database string
	logger   logging.Logger
	once     sync.Once
}

// NewDriver connects to cfg.URI and verifies connectivity.
func NewDriver(ctx context.Context, cfg config.Neo4jConfig, log logging.Logger) (*Driver, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if cfg.URI == "" {
		return nil, errors.InvalidParam("neo4j uri required")
	}
	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	d, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = 50
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		c.MaxConnectionLifetime = time.Hour
		c.ConnectionAcquisitionTimeout = 60 * time.Second
		if cfg.ConnectionTimeout > 0 {
			c.SocketConnectTimeout = cfg.ConnectionTimeout
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeGraphStore, "create neo4j driver")
	}

	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.VerifyConnectivity(vctx); err != nil {
		d.Close(context.Background())
		return nil, errors.Wrap(err, errors.CodeGraphStore, "connect to neo4j").WithDetail(cfg.URI)
	}

	log.Info("connected to neo4j", logging.String("uri", cfg.URI), logging.String("database", cfg.Database))
	return newDriver(&stdDriver{d: d}, cfg.Database, log), nil
}

func newDriver(conn driverConn, database string, log logging.Logger) *Driver {
	if database == "" {
		database = "neo4j"
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Driver{driver: conn, database: database, logger: log.Named("neo4j")}
}

func (d *Driver) session(ctx context.Context, mode neo4j.AccessMode) session {
	return d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database, AccessMode: mode})
}

// ExecuteRead runs work in a read transaction.
func (d *Driver) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	s := d.session(ctx, neo4j.AccessModeRead)
	defer s.Close(ctx)

	res, err := s.ExecuteRead(ctx, work)
	if err != nil {
		d.logger.Error("neo4j read failed", logging.Err(err))
		return nil, errors.Wrap(err, errors.CodeGraphStore, "neo4j read failed")
	}
	return res, nil
}

// ExecuteWrite runs work in a write transaction.
func (d *Driver) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	s := d.session(ctx, neo4j.AccessModeWrite)
	defer s.Close(ctx)

	res, err := s.ExecuteWrite(ctx, work)
	if err != nil {
		d.logger.Error("neo4j write failed", logging.Err(err))
		return nil, errors.Wrap(err, errors.CodeGraphStore, "neo4j write failed")
	}
	return res, nil
}

// HealthCheck verifies connectivity and runs a trivial query.
func (d *Driver) HealthCheck(ctx context.Context) error {
	if err := d.driver.VerifyConnectivity(ctx); err != nil {
		return errors.Wrap(err, errors.CodeGraphStore, "neo4j connectivity check failed")
	}
	_, err := d.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		res, err := tx.Run(ctx, "RETURN 1 AS health", nil)
		if err != nil {
			return nil, err
		}
		return ExtractSingleRecord(ctx, res, func(r *neo4j.Record) (any, error) { return r.Values[0], nil })
	})
	return err
}

// Close shuts the driver down once.
func (d *Driver) Close(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		if err = d.driver.Close(ctx); err != nil {
			d.logger.Error("failed to close neo4j driver", logging.Err(err))
			return
		}
		d.logger.Info("neo4j driver closed")
	})
	return err
}

// ExtractSingleRecord maps the first record of result. An empty result is
// CodeNotFound.
func ExtractSingleRecord[T any](ctx context.Context, result Result, mapper func(*neo4j.Record) (T, error)) (T, error) {
	var zero T
	if result.Next(ctx) {
		return mapper(result.Record())
	}
	if err := result.Err(); err != nil {
		return zero, err
	}
	return zero, errors.NotFound("no record found")
}

// CollectRecords maps every record of result.
func CollectRecords[T any](ctx context.Context, result Result, mapper func(*neo4j.Record) (T, error)) ([]T, error) {
	var items []T
	for result.Next(ctx) {
		item, err := mapper(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
