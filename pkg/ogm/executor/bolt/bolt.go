// Package bolt runs statements against a Neo4j server through the official
// Go driver.
package bolt

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

// Config holds the connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger statements are traced to at Debug.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Driver opens one Neo4j session per transaction.
type Driver struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Driver, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	drv, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := drv.VerifyConnectivity(ctx); err != nil {
		drv.Close(ctx)
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URI, err)
	}
	return New(drv, cfg.Database, opts...), nil
}

// New wraps an existing driver.
func New(drv neo4j.DriverWithContext, database string, opts ...Option) *Driver {
	d := &Driver{driver: drv, database: database, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Begin opens a session and an explicit transaction.
func (d *Driver) Begin(ctx context.Context, mode executor.AccessMode) (executor.Tx, error) {
	access := neo4j.AccessModeRead
	if mode == executor.WriteMode {
		access = neo4j.AccessModeWrite
	}
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: access, DatabaseName: d.database})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("failed to begin %s transaction: %w", mode, err)
	}
	return &Tx{session: session, tx: tx, logger: d.logger}, nil
}

// Close closes the driver.
func (d *Driver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Tx is one explicit Neo4j transaction.
type Tx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	logger  *zap.Logger
}

// Run sends the statement text with its parameters.
func (t *Tx) Run(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	t.logger.Debug("run statement", zap.Stringer("kind", stmt.Kind), zap.String("cypher", stmt.Text))

	cursor, err := t.tx.Run(ctx, stmt.Text, stmt.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s statement: %w", stmt.Kind, err)
	}
	res := &executor.Result{}
	for cursor.Next(ctx) {
		rec := cursor.Record()
		if res.Keys == nil {
			res.Keys = rec.Keys
		}
		values := make([]any, len(rec.Values))
		for i, v := range rec.Values {
			values[i] = Value(v)
		}
		res.Add(values...)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s result: %w", stmt.Kind, err)
	}
	return res, nil
}

// Commit commits and closes the session.
func (t *Tx) Commit(ctx context.Context) error {
	defer t.session.Close(ctx)
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback rolls back and closes the session.
func (t *Tx) Rollback(ctx context.Context) error {
	defer t.session.Close(ctx)
	if err := t.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

// Value converts a driver value into the executor's record value shapes.
// Nodes and relationships keep their numeric ids, which is what id(n)
// returns.
//
//nolint:staticcheck
func Value(v any) any {
	switch val := v.(type) {
	case neo4j.Node:
		return &graph.Node{
			ID:         val.Id,
			Labels:     append([]string(nil), val.Labels...),
			Properties: properties(val.Props),
		}
	case neo4j.Relationship:
		return &graph.Edge{
			ID:         val.Id,
			Type:       val.Type,
			StartID:    val.StartId,
			EndID:      val.EndId,
			Properties: properties(val.Props),
		}
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Value(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Value(e)
		}
		return out
	}
	return v
}

func properties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = Value(v)
	}
	return out
}
