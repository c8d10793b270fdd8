package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engines(t *testing.T) map[string]Engine {
	t.Helper()

	badgerEngine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	sqliteEngine, err := NewSQLiteEngine(":memory:")
	require.NoError(t, err)

	all := map[string]Engine{
		"memory": NewMemoryEngine(),
		"badger": badgerEngine,
		"sqlite": sqliteEngine,
	}
	t.Cleanup(func() {
		for _, e := range all {
			e.Close()
		}
	})
	return all
}

func write(t *testing.T, e Engine, fn func(Txn)) {
	t.Helper()
	txn, err := e.Begin(context.Background(), true)
	require.NoError(t, err)
	fn(txn)
	require.NoError(t, txn.Commit())
}

func read(t *testing.T, e Engine) Txn {
	t.Helper()
	txn, err := e.Begin(context.Background(), false)
	require.NoError(t, err)
	t.Cleanup(func() { txn.Rollback() })
	return txn
}

func TestEngines_NodeLifecycle(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			var id int64
			write(t, e, func(txn Txn) {
				var err error
				id, err = txn.CreateNode([]string{"Person", "Entity"}, map[string]any{
					"name":   "ann",
					"age":    int64(41),
					"score":  1.5,
					"tags.0": "a",
				})
				require.NoError(t, err)
			})

			txn := read(t, e)
			n, err := txn.Node(id)
			require.NoError(t, err)
			assert.Equal(t, []string{"Person", "Entity"}, n.Labels)
			assert.Equal(t, "ann", n.Properties["name"])
			assert.Equal(t, int64(41), n.Properties["age"])
			assert.Equal(t, 1.5, n.Properties["score"])
			require.NoError(t, txn.Rollback())

			write(t, e, func(txn Txn) {
				require.NoError(t, txn.UpdateNode(id, []string{"Entity", "Admin"}, map[string]any{"name": "bea"}))
			})

			txn = read(t, e)
			n, err = txn.Node(id)
			require.NoError(t, err)
			assert.Equal(t, []string{"Person", "Entity", "Admin"}, n.Labels)
			assert.Equal(t, map[string]any{"name": "bea"}, n.Properties)

			admins, err := txn.NodesByLabel("Admin")
			require.NoError(t, err)
			require.Len(t, admins, 1)
			assert.Equal(t, id, admins[0].ID)
		})
	}
}

func TestEngines_EdgesAndDetachDelete(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			var a, b, c, ab, ac, ca int64
			write(t, e, func(txn Txn) {
				var err error
				a, err = txn.CreateNode([]string{"N"}, nil)
				require.NoError(t, err)
				b, err = txn.CreateNode([]string{"N"}, nil)
				require.NoError(t, err)
				c, err = txn.CreateNode([]string{"N"}, nil)
				require.NoError(t, err)
				ab, err = txn.CreateEdge("KNOWS", a, b, map[string]any{"since": int64(2001)})
				require.NoError(t, err)
				ac, err = txn.CreateEdge("LIKES", a, c, nil)
				require.NoError(t, err)
				ca, err = txn.CreateEdge("KNOWS", c, a, nil)
				require.NoError(t, err)
			})

			txn := read(t, e)
			out, err := txn.Outgoing(a)
			require.NoError(t, err)
			require.Len(t, out, 2)
			assert.Equal(t, ab, out[0].ID)
			assert.Equal(t, ac, out[1].ID)
			assert.Equal(t, int64(2001), out[0].Properties["since"])

			knows, err := txn.EdgesByType("KNOWS")
			require.NoError(t, err)
			assert.Len(t, knows, 2)

			edge, err := txn.Edge(ca)
			require.NoError(t, err)
			assert.Equal(t, c, edge.StartID)
			assert.Equal(t, a, edge.EndID)
			require.NoError(t, txn.Rollback())

			write(t, e, func(txn Txn) {
				require.NoError(t, txn.UpdateEdge(ab, map[string]any{"since": int64(2002)}))
				require.NoError(t, txn.DeleteNode(a))
			})

			txn = read(t, e)
			_, err = txn.Node(a)
			assert.True(t, IsNotFound(err))
			_, err = txn.Edge(ab)
			assert.True(t, IsNotFound(err))
			_, err = txn.Edge(ca)
			assert.True(t, IsNotFound(err))

			stats, err := txn.Stats()
			require.NoError(t, err)
			assert.Equal(t, int64(2), stats.Nodes)
			assert.Equal(t, int64(0), stats.Edges)
			assert.Equal(t, int64(2), stats.Labels["N"])
		})
	}
}

func TestEngines_Rollback(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := e.Begin(context.Background(), true)
			require.NoError(t, err)
			_, err = txn.CreateNode([]string{"Ghost"}, nil)
			require.NoError(t, err)
			require.NoError(t, txn.Rollback())

			r := read(t, e)
			ghosts, err := r.NodesByLabel("Ghost")
			require.NoError(t, err)
			assert.Empty(t, ghosts)
		})
	}
}

func TestEngines_ReadOnlyAndFinished(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := e.Begin(context.Background(), false)
			require.NoError(t, err)
			assert.False(t, txn.Writable())

			_, err = txn.CreateNode([]string{"X"}, nil)
			assert.ErrorIs(t, err, ErrReadOnly)
			require.NoError(t, txn.Commit())

			_, err = txn.Node(0)
			assert.ErrorIs(t, err, ErrTxnDone)
			assert.ErrorIs(t, txn.Commit(), ErrTxnDone)
		})
	}
}

func TestEngines_MissingEndpoints(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := e.Begin(context.Background(), true)
			require.NoError(t, err)
			defer txn.Rollback()

			_, err = txn.CreateEdge("X", 1000, 1001, nil)
			assert.True(t, IsNotFound(err))
			assert.True(t, IsNotFound(txn.UpdateNode(1000, nil, nil)))
			assert.True(t, IsNotFound(txn.DeleteEdge(1000)))
		})
	}
}

func TestMemoryEngine_ReadersSeeCommittedSnapshot(t *testing.T) {
	e := NewMemoryEngine()
	r := read(t, e)

	write(t, e, func(txn Txn) {
		_, err := txn.CreateNode([]string{"Late"}, nil)
		require.NoError(t, err)
	})

	late, err := r.NodesByLabel("Late")
	require.NoError(t, err)
	assert.Empty(t, late)

	late, err = read(t, e).NodesByLabel("Late")
	require.NoError(t, err)
	assert.Len(t, late, 1)
}

func TestClosedEngine(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, e.Close())
			_, err := e.Begin(context.Background(), false)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestSQLiteEngine_ErrorPaths(t *testing.T) {
	t.Run("schema failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS nodes").WillReturnError(errors.New("disk full"))

		_, err = NewSQLiteEngineFromDB(db)
		assert.ErrorContains(t, err, "failed to create graph tables")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO nodes").WillReturnError(errors.New("constraint"))
		mock.ExpectRollback()

		e, err := NewSQLiteEngineFromDB(db)
		require.NoError(t, err)
		txn, err := e.Begin(context.Background(), true)
		require.NoError(t, err)

		_, err = txn.CreateNode([]string{"X"}, map[string]any{"a": int64(1)})
		assert.ErrorContains(t, err, "failed to create node")
		require.NoError(t, txn.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update of missing node", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE nodes SET properties").
			WithArgs(sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		e, err := NewSQLiteEngineFromDB(db)
		require.NoError(t, err)
		txn, err := e.Begin(context.Background(), true)
		require.NoError(t, err)

		err = txn.UpdateNode(7, nil, map[string]any{})
		assert.True(t, IsNotFound(err))
		require.NoError(t, txn.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("locked"))

		e, err := NewSQLiteEngineFromDB(db)
		require.NoError(t, err)
		txn, err := e.Begin(context.Background(), true)
		require.NoError(t, err)

		assert.ErrorContains(t, txn.Commit(), "failed to commit")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
