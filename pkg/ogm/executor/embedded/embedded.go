// Package embedded runs statements against an in-process store.Engine.
// Statements are interpreted by kind from their structured parameters;
// raw Cypher is not supported.
package embedded

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/store"
)

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

// Driver executes statements against a store engine.
type Driver struct {
	engine store.Engine
	logger *zap.Logger
}

// New creates a driver over engine. The driver owns the engine and closes
// it on Close.
func New(engine store.Engine, opts ...Option) *Driver {
	d := &Driver{engine: engine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Engine returns the underlying store.
func (d *Driver) Engine() store.Engine {
	return d.engine
}

// Begin opens a store transaction.
func (d *Driver) Begin(ctx context.Context, mode executor.AccessMode) (executor.Tx, error) {
	txn, err := d.engine.Begin(ctx, mode == executor.WriteMode)
	if err != nil {
		return nil, fmt.Errorf("failed to begin %s transaction: %w", mode, err)
	}
	return &Tx{txn: txn, logger: d.logger}, nil
}

// Close closes the engine.
func (d *Driver) Close(ctx context.Context) error {
	return d.engine.Close()
}

// Tx interprets statements inside one store transaction.
type Tx struct {
	txn    store.Txn
	logger *zap.Logger
}

// Commit commits the store transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.txn.Commit()
}

// Rollback discards the store transaction.
func (t *Tx) Rollback(ctx context.Context) error {
	return t.txn.Rollback()
}

// Run executes one statement.
func (t *Tx) Run(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.logger.Debug("run statement", zap.Stringer("kind", stmt.Kind), zap.String("cypher", stmt.Text))

	res, err := t.run(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s statement: %w", stmt.Kind, err)
	}
	return res, nil
}

func (t *Tx) run(stmt cypher.Statement) (*executor.Result, error) {
	p := params(stmt.Params)

	switch stmt.Kind {
	case cypher.KindCreateNode:
		return t.createNodes(stmt.Labels, []map[string]any{p.props("properties")})
	case cypher.KindCreateNodes:
		var all []map[string]any
		for _, n := range p.list("nodes") {
			all = append(all, params(asMap(n)).props("properties"))
		}
		return t.createNodes(stmt.Labels, all)
	case cypher.KindUpdateNode:
		return t.updateNodes(stmt.Labels, []map[string]any{stmt.Params})
	case cypher.KindUpdateNodes:
		var all []map[string]any
		for _, n := range p.list("nodes") {
			all = append(all, asMap(n))
		}
		return t.updateNodes(stmt.Labels, all)
	case cypher.KindFindByID:
		return t.findByID(stmt.Root, p.int("id"))
	case cypher.KindFindAll:
		return t.findWhere(stmt.Root, nil)
	case cypher.KindFindWhere:
		return t.findWhere(stmt.Root, stmt.Where)
	case cypher.KindFindSubtree:
		return t.findSubtree(stmt.Root, p.int("id"), stmt.Depth, stmt.EdgeTypes)
	case cypher.KindLabels:
		return t.labels(p.int("id"))
	case cypher.KindDeleteAll:
		return t.deleteAll(stmt.Root)
	case cypher.KindCount:
		return t.count(stmt.Root)
	case cypher.KindLink:
		return t.link(stmt.EdgeType, []cypher.Tuple{{Source: p.int("id1"), Target: p.int("id2")}})
	case cypher.KindLinkTargets:
		var tuples []cypher.Tuple
		for _, target := range p.list("targets") {
			tuples = append(tuples, cypher.Tuple{Source: p.int("id"), Target: toInt(target)})
		}
		return t.link(stmt.EdgeType, tuples)
	case cypher.KindLinkTuples:
		var tuples []cypher.Tuple
		for _, v := range p.list("tuples") {
			tp := params(asMap(v))
			tuples = append(tuples, cypher.Tuple{Source: tp.int("source"), Target: tp.int("target")})
		}
		return t.link(stmt.EdgeType, tuples)
	case cypher.KindLinkSources:
		var tuples []cypher.Tuple
		for _, v := range p.list("sources") {
			sp := params(asMap(v))
			for _, target := range sp.list("targets") {
				tuples = append(tuples, cypher.Tuple{Source: sp.int("id"), Target: toInt(target)})
			}
		}
		return t.link(stmt.EdgeType, tuples)
	case cypher.KindCreateEdge:
		return t.createEdges(stmt.EdgeType, []map[string]any{stmt.Params})
	case cypher.KindCreateEdges:
		var all []map[string]any
		for _, v := range p.list("relationships") {
			all = append(all, asMap(v))
		}
		return t.createEdges(stmt.EdgeType, all)
	case cypher.KindUpdateEdge:
		return t.updateEdges(stmt.EdgeType, []map[string]any{stmt.Params})
	case cypher.KindUpdateEdges:
		var all []map[string]any
		for _, v := range p.list("relationships") {
			all = append(all, asMap(v))
		}
		return t.updateEdges(stmt.EdgeType, all)
	case cypher.KindFindEdge:
		return t.findEdge(stmt.EdgeType, p.int("id"))
	case cypher.KindFindEdges:
		return t.findEdges(stmt.EdgeType, nil)
	case cypher.KindFindEdgesWhere:
		return t.findEdges(stmt.EdgeType, stmt.Where)
	case cypher.KindDeleteEdges:
		return t.deleteEdges(stmt.EdgeType)
	case cypher.KindStats:
		return t.stats()
	case cypher.KindLabelCounts:
		return t.labelCounts()
	}
	return nil, fmt.Errorf("%w: %s", executor.ErrUnsupported, stmt.Kind)
}

func (t *Tx) createNodes(labels []string, all []map[string]any) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"id(n)"}}
	for _, props := range all {
		id, err := t.txn.CreateNode(labels, props)
		if err != nil {
			return nil, err
		}
		res.Add(id)
	}
	return res, nil
}

func (t *Tx) updateNodes(labels []string, all []map[string]any) (*executor.Result, error) {
	for _, m := range all {
		p := params(m)
		err := t.txn.UpdateNode(p.int("id"), labels, p.props("properties"))
		if err != nil && !store.IsNotFound(err) {
			return nil, err
		}
	}
	return &executor.Result{}, nil
}

// rooted returns the node when it exists and carries root.
func (t *Tx) rooted(root string, id int64) (*graph.Node, error) {
	n, err := t.txn.Node(id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if root != "" && !n.HasLabels(root) {
		return nil, nil
	}
	return &n, nil
}

// neighbourhood collects the direct outgoing edges of n and their ends.
func (t *Tx) neighbourhood(n *graph.Node) (map[string]any, error) {
	out, err := t.txn.Outgoing(n.ID)
	if err != nil {
		return nil, err
	}
	edges := make([]*graph.Edge, 0, len(out))
	nodes := make([]*graph.Node, 0, len(out))
	seen := map[int64]bool{}
	for i := range out {
		edges = append(edges, &out[i])
		if seen[out[i].EndID] {
			continue
		}
		seen[out[i].EndID] = true
		end, err := t.txn.Node(out[i].EndID)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &end)
	}
	return executor.SubgraphValue(n, edges, nodes), nil
}

func (t *Tx) findByID(root string, id int64) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"subgraph"}}
	n, err := t.rooted(root, id)
	if err != nil || n == nil {
		return res, err
	}
	sg, err := t.neighbourhood(n)
	if err != nil {
		return nil, err
	}
	res.Add(sg)
	return res, nil
}

func (t *Tx) findWhere(root string, where *cypher.PredicateGroup) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"subgraph"}}
	nodes, err := t.txn.NodesByLabel(root)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		ok, err := where.Matches(nodes[i].Properties)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		sg, err := t.neighbourhood(&nodes[i])
		if err != nil {
			return nil, err
		}
		res.Add(sg)
	}
	return res, nil
}

// findSubtree walks outgoing edges breadth first. An edge is included when
// its start node lies fewer than depth hops from the root.
func (t *Tx) findSubtree(root string, id int64, depth int, edgeTypes []string) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"subgraph"}}
	n, err := t.rooted(root, id)
	if err != nil || n == nil {
		return res, err
	}
	if depth == 0 {
		res.Add(executor.SubgraphValue(n, nil, nil))
		return res, nil
	}

	allowed := map[string]bool{}
	for _, et := range edgeTypes {
		allowed[et] = true
	}

	edges := []*graph.Edge{}
	nodes := []*graph.Node{}
	collected := map[int64]bool{}
	dist := map[int64]int{n.ID: 0}
	queue := []int64{n.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if depth > 0 && dist[cur] >= depth {
			continue
		}
		out, err := t.txn.Outgoing(cur)
		if err != nil {
			return nil, err
		}
		for i := range out {
			e := out[i]
			if len(allowed) > 0 && !allowed[e.Type] {
				continue
			}
			edges = append(edges, &e)
			if !collected[e.EndID] {
				collected[e.EndID] = true
				end, err := t.txn.Node(e.EndID)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, &end)
			}
			if _, ok := dist[e.EndID]; !ok {
				dist[e.EndID] = dist[cur] + 1
				queue = append(queue, e.EndID)
			}
		}
	}
	res.Add(executor.SubgraphValue(n, edges, nodes))
	return res, nil
}

func (t *Tx) labels(id int64) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"labels(n)"}}
	n, err := t.txn.Node(id)
	if err != nil {
		if store.IsNotFound(err) {
			return res, nil
		}
		return nil, err
	}
	labels := make([]any, len(n.Labels))
	for i, l := range n.Labels {
		labels[i] = l
	}
	res.Add(labels)
	return res, nil
}

func (t *Tx) deleteAll(root string) (*executor.Result, error) {
	nodes, err := t.txn.NodesByLabel(root)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if err := t.txn.DeleteNode(n.ID); err != nil && !store.IsNotFound(err) {
			return nil, err
		}
	}
	return &executor.Result{}, nil
}

func (t *Tx) count(root string) (*executor.Result, error) {
	nodes, err := t.txn.NodesByLabel(root)
	if err != nil {
		return nil, err
	}
	res := &executor.Result{Keys: []string{"count(n)"}}
	res.Add(int64(len(nodes)))
	return res, nil
}

// link merges one untyped-property edge per tuple. Tuples whose ends are
// missing match nothing and are skipped.
func (t *Tx) link(edgeType string, tuples []cypher.Tuple) (*executor.Result, error) {
	for _, tp := range tuples {
		out, err := t.txn.Outgoing(tp.Source)
		if err != nil {
			return nil, err
		}
		exists := false
		for _, e := range out {
			if e.Type == edgeType && e.EndID == tp.Target {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		if _, err := t.txn.CreateEdge(edgeType, tp.Source, tp.Target, nil); err != nil && !store.IsNotFound(err) {
			return nil, err
		}
	}
	return &executor.Result{}, nil
}

func (t *Tx) createEdges(edgeType string, all []map[string]any) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"id(r)"}}
	for _, m := range all {
		p := params(m)
		id, err := t.txn.CreateEdge(edgeType, p.int("sourceId"), p.int("targetId"), p.props("properties"))
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		res.Add(id)
	}
	return res, nil
}

func (t *Tx) updateEdges(edgeType string, all []map[string]any) (*executor.Result, error) {
	for _, m := range all {
		p := params(m)
		e, err := t.txn.Edge(p.int("id"))
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if e.Type != edgeType {
			continue
		}
		if err := t.txn.UpdateEdge(e.ID, p.props("properties")); err != nil {
			return nil, err
		}
	}
	return &executor.Result{}, nil
}

func (t *Tx) edgeRow(res *executor.Result, e graph.Edge) error {
	s, err := t.txn.Node(e.StartID)
	if err != nil {
		return err
	}
	o, err := t.txn.Node(e.EndID)
	if err != nil {
		return err
	}
	res.Add(&e, &s, &o)
	return nil
}

func (t *Tx) findEdge(edgeType string, id int64) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"r", "s", "t"}}
	e, err := t.txn.Edge(id)
	if err != nil {
		if store.IsNotFound(err) {
			return res, nil
		}
		return nil, err
	}
	if e.Type != edgeType {
		return res, nil
	}
	return res, t.edgeRow(res, e)
}

func (t *Tx) findEdges(edgeType string, where *cypher.PredicateGroup) (*executor.Result, error) {
	res := &executor.Result{Keys: []string{"r", "s", "t"}}
	edges, err := t.txn.EdgesByType(edgeType)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		ok, err := where.Matches(e.Properties)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := t.edgeRow(res, e); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (t *Tx) deleteEdges(edgeType string) (*executor.Result, error) {
	edges, err := t.txn.EdgesByType(edgeType)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if err := t.txn.DeleteEdge(e.ID); err != nil && !store.IsNotFound(err) {
			return nil, err
		}
	}
	return &executor.Result{}, nil
}

func (t *Tx) stats() (*executor.Result, error) {
	s, err := t.txn.Stats()
	if err != nil {
		return nil, err
	}
	res := &executor.Result{Keys: []string{"nodes", "edges"}}
	res.Add(s.Nodes, s.Edges)
	return res, nil
}

func (t *Tx) labelCounts() (*executor.Result, error) {
	s, err := t.txn.Stats()
	if err != nil {
		return nil, err
	}
	res := &executor.Result{Keys: []string{"label", "count"}}
	labels := make([]string, 0, len(s.Labels))
	for l := range s.Labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		res.Add(l, s.Labels[l])
	}
	return res, nil
}
