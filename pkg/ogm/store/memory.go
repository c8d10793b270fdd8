package store

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

// memState is an immutable snapshot of the memory graph. Writers work on a
// copy and publish it on commit; inner index sets are copied before they are
// modified.
type memState struct {
	nodes    map[int64]graph.Node
	edges    map[int64]graph.Edge
	labels   map[string]map[int64]struct{}
	out      map[int64]map[int64]struct{}
	in       map[int64]map[int64]struct{}
	nextNode int64
	nextEdge int64
}

func newMemState() *memState {
	return &memState{
		nodes:  map[int64]graph.Node{},
		edges:  map[int64]graph.Edge{},
		labels: map[string]map[int64]struct{}{},
		out:    map[int64]map[int64]struct{}{},
		in:     map[int64]map[int64]struct{}{},
	}
}

func (s *memState) copy() *memState {
	return &memState{
		nodes:    maps.Clone(s.nodes),
		edges:    maps.Clone(s.edges),
		labels:   maps.Clone(s.labels),
		out:      maps.Clone(s.out),
		in:       maps.Clone(s.in),
		nextNode: s.nextNode,
		nextEdge: s.nextEdge,
	}
}

func addIndex[K comparable](idx map[K]map[int64]struct{}, key K, id int64) {
	set := maps.Clone(idx[key])
	if set == nil {
		set = map[int64]struct{}{}
	}
	set[id] = struct{}{}
	idx[key] = set
}

func removeIndex[K comparable](idx map[K]map[int64]struct{}, key K, id int64) {
	set, ok := idx[key]
	if !ok {
		return
	}
	set = maps.Clone(set)
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
		return
	}
	idx[key] = set
}

// MemoryEngine is an in-process Engine. Readers see the last committed
// snapshot; one writer runs at a time.
type MemoryEngine struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	state   *memState
	closed  bool
}

// NewMemoryEngine creates an empty memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{state: newMemState()}
}

// Begin starts a transaction. A writable transaction holds the writer lock
// until it commits or rolls back.
func (m *MemoryEngine) Begin(ctx context.Context, writable bool) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if writable {
		m.writeMu.Lock()
	}
	m.mu.RLock()
	closed, snapshot := m.closed, m.state
	m.mu.RUnlock()
	if closed {
		if writable {
			m.writeMu.Unlock()
		}
		return nil, ErrClosed
	}
	t := &memTxn{engine: m, writable: writable, state: snapshot}
	if writable {
		t.state = snapshot.copy()
	}
	return t, nil
}

// Close releases the graph. Further transactions fail with ErrClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.state = newMemState()
	return nil
}

type memTxn struct {
	engine   *MemoryEngine
	writable bool
	state    *memState
	done     bool
}

func (t *memTxn) Writable() bool { return t.writable }

func (t *memTxn) check(write bool) error {
	if t.done {
		return ErrTxnDone
	}
	if write && !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *memTxn) CreateNode(labels []string, props map[string]any) (int64, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	id := t.state.nextNode
	t.state.nextNode++
	n := graph.Node{ID: id, Labels: mergeLabels(nil, labels), Properties: graph.CloneProperties(props)}
	t.state.nodes[id] = n
	for _, l := range n.Labels {
		addIndex(t.state.labels, l, id)
	}
	return id, nil
}

func (t *memTxn) UpdateNode(id int64, labels []string, props map[string]any) error {
	if err := t.check(true); err != nil {
		return err
	}
	n, ok := t.state.nodes[id]
	if !ok {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	n.Labels = mergeLabels(n.Labels, labels)
	n.Properties = graph.CloneProperties(props)
	t.state.nodes[id] = n
	for _, l := range n.Labels {
		addIndex(t.state.labels, l, id)
	}
	return nil
}

func (t *memTxn) Node(id int64) (graph.Node, error) {
	if err := t.check(false); err != nil {
		return graph.Node{}, err
	}
	n, ok := t.state.nodes[id]
	if !ok {
		return graph.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return *n.Clone(), nil
}

func (t *memTxn) NodesByLabel(label string) ([]graph.Node, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	out := make([]graph.Node, 0, len(t.state.labels[label]))
	for id := range t.state.labels[label] {
		n := t.state.nodes[id]
		out = append(out, *n.Clone())
	}
	sortNodes(out)
	return out, nil
}

func (t *memTxn) DeleteNode(id int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	n, ok := t.state.nodes[id]
	if !ok {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	for eid := range t.state.out[id] {
		t.deleteEdge(eid)
	}
	for eid := range t.state.in[id] {
		t.deleteEdge(eid)
	}
	for _, l := range n.Labels {
		removeIndex(t.state.labels, l, id)
	}
	delete(t.state.nodes, id)
	return nil
}

func (t *memTxn) CreateEdge(edgeType string, start, end int64, props map[string]any) (int64, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	if _, ok := t.state.nodes[start]; !ok {
		return 0, fmt.Errorf("start node %d: %w", start, ErrNotFound)
	}
	if _, ok := t.state.nodes[end]; !ok {
		return 0, fmt.Errorf("end node %d: %w", end, ErrNotFound)
	}
	id := t.state.nextEdge
	t.state.nextEdge++
	t.state.edges[id] = graph.Edge{ID: id, Type: edgeType, StartID: start, EndID: end, Properties: graph.CloneProperties(props)}
	addIndex(t.state.out, start, id)
	addIndex(t.state.in, end, id)
	return id, nil
}

func (t *memTxn) UpdateEdge(id int64, props map[string]any) error {
	if err := t.check(true); err != nil {
		return err
	}
	e, ok := t.state.edges[id]
	if !ok {
		return fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	e.Properties = graph.CloneProperties(props)
	t.state.edges[id] = e
	return nil
}

func (t *memTxn) Edge(id int64) (graph.Edge, error) {
	if err := t.check(false); err != nil {
		return graph.Edge{}, err
	}
	e, ok := t.state.edges[id]
	if !ok {
		return graph.Edge{}, fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	return *e.Clone(), nil
}

func (t *memTxn) Outgoing(nodeID int64) ([]graph.Edge, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	out := make([]graph.Edge, 0, len(t.state.out[nodeID]))
	for id := range t.state.out[nodeID] {
		e := t.state.edges[id]
		out = append(out, *e.Clone())
	}
	sortEdges(out)
	return out, nil
}

func (t *memTxn) EdgesByType(edgeType string) ([]graph.Edge, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	var out []graph.Edge
	for _, e := range t.state.edges {
		if e.Type == edgeType {
			out = append(out, *e.Clone())
		}
	}
	sortEdges(out)
	return out, nil
}

func (t *memTxn) DeleteEdge(id int64) error {
	if err := t.check(true); err != nil {
		return err
	}
	if _, ok := t.state.edges[id]; !ok {
		return fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	t.deleteEdge(id)
	return nil
}

func (t *memTxn) deleteEdge(id int64) {
	e, ok := t.state.edges[id]
	if !ok {
		return
	}
	removeIndex(t.state.out, e.StartID, id)
	removeIndex(t.state.in, e.EndID, id)
	delete(t.state.edges, id)
}

func (t *memTxn) Stats() (Stats, error) {
	if err := t.check(false); err != nil {
		return Stats{}, err
	}
	s := newStats()
	for _, n := range t.state.nodes {
		s.addNode(n)
	}
	for _, e := range t.state.edges {
		s.addEdge(e)
	}
	return s, nil
}

func (t *memTxn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if !t.writable {
		return nil
	}
	defer t.engine.writeMu.Unlock()
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if t.engine.closed {
		return ErrClosed
	}
	t.engine.state = t.state
	return nil
}

func (t *memTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.writable {
		t.engine.writeMu.Unlock()
	}
	return nil
}
