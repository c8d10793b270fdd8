package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/internal/config"
	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/executor/bolt"
	"github.com/conduit-lang/ogm/pkg/ogm/executor/embedded"
	"github.com/conduit-lang/ogm/pkg/ogm/store"
	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

// OpenDriver opens the backend cfg selects. The embedded backends own
// their store and release it on Close.
func OpenDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (executor.Driver, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return embedded.New(store.NewMemoryEngine(), embedded.WithLogger(logger)), nil
	case config.BackendBadger:
		engine, err := store.NewBadgerEngine(store.BadgerOptions{
			Path:       cfg.Badger.Path,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
		})
		if err != nil {
			return nil, err
		}
		return embedded.New(engine, embedded.WithLogger(logger)), nil
	case config.BackendSQLite:
		if path := cfg.SQLite.Path; path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
			}
		}
		engine, err := store.NewSQLiteEngine(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return embedded.New(engine, embedded.WithLogger(logger)), nil
	case config.BackendNeo4j:
		driver, err := bolt.Open(ctx, bolt.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		}, bolt.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return driver, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
}

// session is one opened backend.
type session struct {
	app     *app
	driver  executor.Driver
	manager *transaction.Manager
}

func (a *app) connect(ctx context.Context) (*session, error) {
	driver, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", a.cfg.Backend, err)
	}
	a.logger.Debug("opened backend", zap.String("backend", a.cfg.Backend))
	return &session{
		app:     a,
		driver:  driver,
		manager: transaction.NewManager(driver, transaction.WithLogger(a.logger)),
	}, nil
}

func (s *session) Close(ctx context.Context) {
	if err := s.driver.Close(ctx); err != nil {
		s.app.logger.Warn("failed to close backend", zap.Error(err))
	}
}

// read runs one statement in a read-only transaction under the configured
// retry policy.
func (s *session) read(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	return s.run(ctx, transaction.ReadOnly, stmt)
}

func (s *session) write(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	return s.run(ctx, transaction.ReadWrite, stmt)
}

func (s *session) run(ctx context.Context, mode transaction.Mode, stmt cypher.Statement) (*executor.Result, error) {
	var res *executor.Result
	err := s.manager.WithRetry(ctx, mode, &s.app.cfg.Retry, func(ctx context.Context, tx *transaction.Transaction) error {
		var err error
		res, err = tx.Run(ctx, stmt)
		return err
	})
	return res, err
}

// labels returns the labels of node id, or nil when it does not exist.
func (s *session) labels(ctx context.Context, id int64) ([]string, error) {
	res, err := s.read(ctx, cypher.Labels(id))
	if err != nil {
		return nil, err
	}
	return res.Strings()
}
