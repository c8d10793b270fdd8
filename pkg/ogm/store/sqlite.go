package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	properties BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS node_labels (
	node_id INTEGER NOT NULL,
	label TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (node_id, label)
);
CREATE INDEX IF NOT EXISTS idx_node_labels_label ON node_labels (label, node_id);
CREATE TABLE IF NOT EXISTS edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	start_id INTEGER NOT NULL,
	end_id INTEGER NOT NULL,
	properties BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_start ON edges (start_id);
CREATE INDEX IF NOT EXISTS idx_edges_end ON edges (end_id);
CREATE INDEX IF NOT EXISTS idx_edges_type ON edges (type);
`

// SQLiteEngine persists the graph in three SQLite tables. Property maps
// are stored as msgpack blobs.
type SQLiteEngine struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteEngine opens (and if needed creates) the database at path.
// ":memory:" opens a private in-memory database.
func NewSQLiteEngine(path string) (*SQLiteEngine, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)
	e, err := NewSQLiteEngineFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// NewSQLiteEngineFromDB wraps an open database and creates the tables.
func NewSQLiteEngineFromDB(db *sql.DB) (*SQLiteEngine, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create graph tables: %w", err)
	}
	return &SQLiteEngine{db: db}, nil
}

// Begin starts a database transaction.
func (s *SQLiteEngine) Begin(ctx context.Context, writable bool) (Txn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTxn{ctx: ctx, tx: tx, writable: writable}, nil
}

// Close closes the database.
func (s *SQLiteEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type sqliteTxn struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
	done     bool
}

func (t *sqliteTxn) Writable() bool { return t.writable }

func (t *sqliteTxn) check(write bool) error {
	if t.done {
		return ErrTxnDone
	}
	if write && !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *sqliteTxn) addLabels(id int64, labels []string) error {
	for _, l := range labels {
		if l == "" {
			continue
		}
		_, err := t.tx.ExecContext(t.ctx,
			`INSERT OR IGNORE INTO node_labels (node_id, label, position)
			 VALUES (?, ?, (SELECT COUNT(*) FROM node_labels WHERE node_id = ?))`, id, l, id)
		if err != nil {
			return fmt.Errorf("failed to add label %q: %w", l, err)
		}
	}
	return nil
}

func (t *sqliteTxn) labelsOf(id int64) ([]string, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT label FROM node_labels WHERE node_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (t *sqliteTxn) CreateNode(labels []string, props map[string]any) (int64, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	data, err := encodeRecord(props)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(t.ctx, `INSERT INTO nodes (properties) VALUES (?)`, data)
	if err != nil {
		return 0, fmt.Errorf("failed to create node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read node id: %w", err)
	}
	if err := t.addLabels(id, mergeLabels(nil, labels)); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *sqliteTxn) UpdateNode(id int64, labels []string, props map[string]any) error {
	if err := t.check(true); err != nil {
		return err
	}
	data, err := encodeRecord(props)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `UPDATE nodes SET properties = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("failed to update node %d: %w", id, err)
	}
	if err := affected(res, fmt.Sprintf("node %d", id)); err != nil {
		return err
	}
	return t.addLabels(id, labels)
}

func (t *sqliteTxn) Node(id int64) (graph.Node, error) {
	if err := t.check(false); err != nil {
		return graph.Node{}, err
	}
	var data []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT properties FROM nodes WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return graph.Node{}, fmt.Errorf("failed to read node %d: %w", id, err)
	}
	return t.node(id, data)
}

func (t *sqliteTxn) node(id int64, data []byte) (graph.Node, error) {
	props, err := decodeProperties(data)
	if err != nil {
		return graph.Node{}, err
	}
	labels, err := t.labelsOf(id)
	if err != nil {
		return graph.Node{}, err
	}
	return graph.Node{ID: id, Labels: labels, Properties: props}, nil
}

func (t *sqliteTxn) NodesByLabel(label string) ([]graph.Node, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT n.id, n.properties FROM nodes n JOIN node_labels l ON l.node_id = n.id
		 WHERE l.label = ? ORDER BY n.id`, label)
	if err != nil {
		return nil, fmt.Errorf("failed to query label %q: %w", label, err)
	}
	type row struct {
		id   int64
		data []byte
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.data); err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]graph.Node, 0, len(found))
	for _, r := range found {
		n, err := t.node(r.id, r.data)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (t *sqliteTxn) DeleteNode(id int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node %d: %w", id, err)
	}
	if err := affected(res, fmt.Sprintf("node %d", id)); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM edges WHERE start_id = ? OR end_id = ?`, id, id); err != nil {
		return fmt.Errorf("failed to detach node %d: %w", id, err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM node_labels WHERE node_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete labels of node %d: %w", id, err)
	}
	return nil
}

func (t *sqliteTxn) CreateEdge(edgeType string, start, end int64, props map[string]any) (int64, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	var hasStart, hasEnd int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT (SELECT COUNT(*) FROM nodes WHERE id = ?), (SELECT COUNT(*) FROM nodes WHERE id = ?)`,
		start, end).Scan(&hasStart, &hasEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to check edge endpoints: %w", err)
	}
	if hasStart == 0 {
		return 0, fmt.Errorf("start node %d: %w", start, ErrNotFound)
	}
	if hasEnd == 0 {
		return 0, fmt.Errorf("end node %d: %w", end, ErrNotFound)
	}

	data, err := encodeRecord(props)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO edges (type, start_id, end_id, properties) VALUES (?, ?, ?, ?)`, edgeType, start, end, data)
	if err != nil {
		return 0, fmt.Errorf("failed to create edge: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTxn) UpdateEdge(id int64, props map[string]any) error {
	if err := t.check(true); err != nil {
		return err
	}
	data, err := encodeRecord(props)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `UPDATE edges SET properties = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("failed to update edge %d: %w", id, err)
	}
	return affected(res, fmt.Sprintf("edge %d", id))
}

const edgeColumns = `SELECT id, type, start_id, end_id, properties FROM edges`

func (t *sqliteTxn) Edge(id int64) (graph.Edge, error) {
	if err := t.check(false); err != nil {
		return graph.Edge{}, err
	}
	edges, err := t.queryEdges(edgeColumns+` WHERE id = ?`, id)
	if err != nil {
		return graph.Edge{}, err
	}
	if len(edges) == 0 {
		return graph.Edge{}, fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	return edges[0], nil
}

func (t *sqliteTxn) Outgoing(nodeID int64) ([]graph.Edge, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.queryEdges(edgeColumns+` WHERE start_id = ? ORDER BY id`, nodeID)
}

func (t *sqliteTxn) EdgesByType(edgeType string) ([]graph.Edge, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.queryEdges(edgeColumns+` WHERE type = ? ORDER BY id`, edgeType)
}

func (t *sqliteTxn) queryEdges(query string, args ...any) ([]graph.Edge, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var (
			e    graph.Edge
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.StartID, &e.EndID, &data); err != nil {
			return nil, err
		}
		if e.Properties, err = decodeProperties(data); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *sqliteTxn) DeleteEdge(id int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete edge %d: %w", id, err)
	}
	return affected(res, fmt.Sprintf("edge %d", id))
}

func (t *sqliteTxn) Stats() (Stats, error) {
	if err := t.check(false); err != nil {
		return Stats{}, err
	}
	s := newStats()
	if err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM nodes`).Scan(&s.Nodes); err != nil {
		return Stats{}, fmt.Errorf("failed to count nodes: %w", err)
	}
	if err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM edges`).Scan(&s.Edges); err != nil {
		return Stats{}, fmt.Errorf("failed to count edges: %w", err)
	}
	if err := t.groupCount(`SELECT label, COUNT(*) FROM node_labels GROUP BY label`, s.Labels); err != nil {
		return Stats{}, err
	}
	if err := t.groupCount(`SELECT type, COUNT(*) FROM edges GROUP BY type`, s.EdgeTypes); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (t *sqliteTxn) groupCount(query string, into map[string]int64) error {
	rows, err := t.tx.QueryContext(t.ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return err
		}
		into[name] = count
	}
	return rows.Err()
}

func (t *sqliteTxn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if !t.writable {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (t *sqliteTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func decodeProperties(data []byte) (map[string]any, error) {
	var props map[string]any
	if err := decodeRecord(data, &props); err != nil {
		return nil, err
	}
	return normalizeProperties(props), nil
}
