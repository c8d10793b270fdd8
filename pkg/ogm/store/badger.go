package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

// Key prefixes. Ids are encoded big endian so prefix scans return them in
// ascending order.
const (
	prefixNode     = byte(0x01) // node:id -> nodeRecord
	prefixEdge     = byte(0x02) // edge:id -> edgeRecord
	prefixLabel    = byte(0x03) // label:name:0x00:nodeID -> empty
	prefixOutgoing = byte(0x04) // out:nodeID:edgeID -> empty
	prefixIncoming = byte(0x05) // in:nodeID:edgeID -> empty
	prefixType     = byte(0x06) // type:name:0x00:edgeID -> empty
)

var (
	nodeSequenceKey = []byte("seq:node")
	edgeSequenceKey = []byte("seq:edge")
)

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps all data in memory.
	InMemory bool
	// SyncWrites forces an fsync after each commit.
	SyncWrites bool
}

// BadgerEngine persists the graph in BadgerDB. Node and edge records are
// msgpack encoded; ids come from Badger sequences.
type BadgerEngine struct {
	db    *badger.DB
	nodes *badger.Sequence
	edges *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// NewBadgerEngine opens a BadgerDB store.
func NewBadgerEngine(opts BadgerOptions) (*BadgerEngine, error) {
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		bopts = bopts.WithSyncWrites(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	nodes, err := db.GetSequence(nodeSequenceKey, 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open node sequence: %w", err)
	}
	edges, err := db.GetSequence(edgeSequenceKey, 128)
	if err != nil {
		nodes.Release()
		db.Close()
		return nil, fmt.Errorf("failed to open edge sequence: %w", err)
	}
	return &BadgerEngine{db: db, nodes: nodes, edges: edges}, nil
}

// NewBadgerEngineInMemory opens an in-memory BadgerDB store for tests.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngine(BadgerOptions{InMemory: true})
}

// Begin starts a Badger transaction.
func (b *BadgerEngine) Begin(ctx context.Context, writable bool) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return &badgerTxn{engine: b, txn: b.db.NewTransaction(writable), writable: writable}, nil
}

// Close releases the sequences and closes the database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	if err := b.nodes.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := b.edges.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func idBytes(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func idFromSuffix(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func nodeKey(id int64) []byte {
	return append([]byte{prefixNode}, idBytes(id)...)
}

func edgeKey(id int64) []byte {
	return append([]byte{prefixEdge}, idBytes(id)...)
}

func namedPrefix(prefix byte, name string) []byte {
	key := make([]byte, 0, len(name)+2)
	key = append(key, prefix)
	key = append(key, name...)
	return append(key, 0x00)
}

func labelKey(label string, nodeID int64) []byte {
	return append(namedPrefix(prefixLabel, label), idBytes(nodeID)...)
}

func typeKey(edgeType string, edgeID int64) []byte {
	return append(namedPrefix(prefixType, edgeType), idBytes(edgeID)...)
}

func adjacencyPrefix(prefix byte, nodeID int64) []byte {
	return append([]byte{prefix}, idBytes(nodeID)...)
}

func adjacencyKey(prefix byte, nodeID, edgeID int64) []byte {
	return append(adjacencyPrefix(prefix, nodeID), idBytes(edgeID)...)
}

type badgerTxn struct {
	engine   *BadgerEngine
	txn      *badger.Txn
	writable bool
	done     bool
}

func (t *badgerTxn) Writable() bool { return t.writable }

func (t *badgerTxn) check(write bool) error {
	if t.done {
		return ErrTxnDone
	}
	if write && !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *badgerTxn) next(seq *badger.Sequence) (int64, error) {
	id, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id: %w", err)
	}
	return int64(id), nil
}

func (t *badgerTxn) get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// scan returns the ids suffixing every key under prefix.
func (t *badgerTxn) scan(prefix []byte) []int64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var ids []int64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, idFromSuffix(it.Item().Key()))
	}
	return ids
}

func (t *badgerTxn) putNode(id int64, rec nodeRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := t.txn.Set(nodeKey(id), data); err != nil {
		return err
	}
	for _, l := range rec.Labels {
		if err := t.txn.Set(labelKey(l, id), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTxn) nodeRecord(id int64) (nodeRecord, error) {
	data, err := t.get(nodeKey(id))
	if err != nil {
		return nodeRecord{}, fmt.Errorf("node %d: %w", id, err)
	}
	return decodeNodeRecord(data)
}

func (t *badgerTxn) edgeRecord(id int64) (edgeRecord, error) {
	data, err := t.get(edgeKey(id))
	if err != nil {
		return edgeRecord{}, fmt.Errorf("edge %d: %w", id, err)
	}
	return decodeEdgeRecord(data)
}

func (t *badgerTxn) CreateNode(labels []string, props map[string]any) (int64, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	id, err := t.next(t.engine.nodes)
	if err != nil {
		return 0, err
	}
	rec := nodeRecord{Labels: mergeLabels(nil, labels), Properties: props}
	if err := t.putNode(id, rec); err != nil {
		return 0, fmt.Errorf("failed to create node: %w", err)
	}
	return id, nil
}

func (t *badgerTxn) UpdateNode(id int64, labels []string, props map[string]any) error {
	if err := t.check(true); err != nil {
		return err
	}
	rec, err := t.nodeRecord(id)
	if err != nil {
		return err
	}
	rec.Labels = mergeLabels(rec.Labels, labels)
	rec.Properties = props
	if err := t.putNode(id, rec); err != nil {
		return fmt.Errorf("failed to update node %d: %w", id, err)
	}
	return nil
}

func (t *badgerTxn) Node(id int64) (graph.Node, error) {
	if err := t.check(false); err != nil {
		return graph.Node{}, err
	}
	rec, err := t.nodeRecord(id)
	if err != nil {
		return graph.Node{}, err
	}
	return graph.Node{ID: id, Labels: rec.Labels, Properties: rec.Properties}, nil
}

func (t *badgerTxn) NodesByLabel(label string) ([]graph.Node, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	ids := t.scan(namedPrefix(prefixLabel, label))
	out := make([]graph.Node, 0, len(ids))
	for _, id := range ids {
		n, err := t.Node(id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (t *badgerTxn) DeleteNode(id int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	rec, err := t.nodeRecord(id)
	if err != nil {
		return err
	}
	edges := append(t.scan(adjacencyPrefix(prefixOutgoing, id)), t.scan(adjacencyPrefix(prefixIncoming, id))...)
	for _, eid := range edges {
		if err := t.deleteEdge(eid); err != nil && !IsNotFound(err) {
			return err
		}
	}
	for _, l := range rec.Labels {
		if err := t.txn.Delete(labelKey(l, id)); err != nil {
			return err
		}
	}
	return t.txn.Delete(nodeKey(id))
}

func (t *badgerTxn) CreateEdge(edgeType string, start, end int64, props map[string]any) (int64, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	if _, err := t.nodeRecord(start); err != nil {
		return 0, fmt.Errorf("start %w", err)
	}
	if _, err := t.nodeRecord(end); err != nil {
		return 0, fmt.Errorf("end %w", err)
	}
	id, err := t.next(t.engine.edges)
	if err != nil {
		return 0, err
	}
	data, err := encodeRecord(edgeRecord{Type: edgeType, Start: start, End: end, Properties: props})
	if err != nil {
		return 0, err
	}
	for _, kv := range [][]byte{
		edgeKey(id),
		adjacencyKey(prefixOutgoing, start, id),
		adjacencyKey(prefixIncoming, end, id),
		typeKey(edgeType, id),
	} {
		var val []byte
		if kv[0] == prefixEdge {
			val = data
		}
		if err := t.txn.Set(kv, val); err != nil {
			return 0, fmt.Errorf("failed to create edge: %w", err)
		}
	}
	return id, nil
}

func (t *badgerTxn) UpdateEdge(id int64, props map[string]any) error {
	if err := t.check(true); err != nil {
		return err
	}
	rec, err := t.edgeRecord(id)
	if err != nil {
		return err
	}
	rec.Properties = props
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return t.txn.Set(edgeKey(id), data)
}

func (t *badgerTxn) Edge(id int64) (graph.Edge, error) {
	if err := t.check(false); err != nil {
		return graph.Edge{}, err
	}
	rec, err := t.edgeRecord(id)
	if err != nil {
		return graph.Edge{}, err
	}
	return graph.Edge{ID: id, Type: rec.Type, StartID: rec.Start, EndID: rec.End, Properties: rec.Properties}, nil
}

func (t *badgerTxn) edges(ids []int64) ([]graph.Edge, error) {
	out := make([]graph.Edge, 0, len(ids))
	for _, id := range ids {
		e, err := t.Edge(id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *badgerTxn) Outgoing(nodeID int64) ([]graph.Edge, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.edges(t.scan(adjacencyPrefix(prefixOutgoing, nodeID)))
}

func (t *badgerTxn) EdgesByType(edgeType string) ([]graph.Edge, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.edges(t.scan(namedPrefix(prefixType, edgeType)))
}

func (t *badgerTxn) DeleteEdge(id int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.deleteEdge(id)
}

func (t *badgerTxn) deleteEdge(id int64) error {
	rec, err := t.edgeRecord(id)
	if err != nil {
		return err
	}
	for _, key := range [][]byte{
		adjacencyKey(prefixOutgoing, rec.Start, id),
		adjacencyKey(prefixIncoming, rec.End, id),
		typeKey(rec.Type, id),
		edgeKey(id),
	} {
		if err := t.txn.Delete(key); err != nil {
			return fmt.Errorf("failed to delete edge %d: %w", id, err)
		}
	}
	return nil
}

func (t *badgerTxn) Stats() (Stats, error) {
	if err := t.check(false); err != nil {
		return Stats{}, err
	}
	s := newStats()
	for _, id := range t.scan([]byte{prefixNode}) {
		n, err := t.Node(id)
		if err != nil {
			return Stats{}, err
		}
		s.addNode(n)
	}
	for _, id := range t.scan([]byte{prefixEdge}) {
		e, err := t.Edge(id)
		if err != nil {
			return Stats{}, err
		}
		s.addEdge(e)
	}
	return s, nil
}

func (t *badgerTxn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if !t.writable {
		t.txn.Discard()
		return nil
	}
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (t *badgerTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}
