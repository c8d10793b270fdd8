package cypher

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies the template a statement was rendered from. Executors
// that do not speak Cypher interpret statements by kind.
type Kind int

const (
	KindRaw Kind = iota
	KindCreateNode
	KindCreateNodes
	KindUpdateNode
	KindUpdateNodes
	KindFindByID
	KindFindAll
	KindFindWhere
	KindFindSubtree
	KindLabels
	KindDeleteAll
	KindCount
	KindLink
	KindLinkTargets
	KindLinkTuples
	KindLinkSources
	KindCreateEdge
	KindCreateEdges
	KindUpdateEdge
	KindUpdateEdges
	KindFindEdge
	KindFindEdges
	KindFindEdgesWhere
	KindDeleteEdges
	KindStats
	KindLabelCounts
)

var kindNames = map[Kind]string{
	KindRaw:            "raw",
	KindCreateNode:     "create_node",
	KindCreateNodes:    "create_nodes",
	KindUpdateNode:     "update_node",
	KindUpdateNodes:    "update_nodes",
	KindFindByID:       "find_by_id",
	KindFindAll:        "find_all",
	KindFindWhere:      "find_where",
	KindFindSubtree:    "find_subtree",
	KindLabels:         "labels",
	KindDeleteAll:      "delete_all",
	KindCount:          "count",
	KindLink:           "link",
	KindLinkTargets:    "link_targets",
	KindLinkTuples:     "link_tuples",
	KindLinkSources:    "link_sources",
	KindCreateEdge:     "create_edge",
	KindCreateEdges:    "create_edges",
	KindUpdateEdge:     "update_edge",
	KindUpdateEdges:    "update_edges",
	KindFindEdge:       "find_edge",
	KindFindEdges:      "find_edges",
	KindFindEdgesWhere: "find_edges_where",
	KindDeleteEdges:    "delete_edges",
	KindStats:          "stats",
	KindLabelCounts:    "label_counts",
}

// String returns the string representation of the kind
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Writes reports whether statements of this kind modify the graph.
func (k Kind) Writes() bool {
	switch k {
	case KindFindByID, KindFindAll, KindFindWhere, KindFindSubtree, KindLabels, KindCount,
		KindFindEdge, KindFindEdges, KindFindEdgesWhere, KindStats, KindLabelCounts:
		return false
	}
	return true
}

// Statement is one rendered query with the structured inputs it was
// rendered from.
type Statement struct {
	Kind   Kind
	Text   string
	Params map[string]any

	// Labels are written by create and update statements.
	Labels []string
	// Root is the label matched by find, count and delete statements.
	Root string
	// EdgeType is the edge type linked, created or matched.
	EdgeType string
	// EdgeTypes restricts subtree traversal; empty means any type.
	EdgeTypes []string
	// Depth bounds subtree traversal; negative is unbounded.
	Depth int
	// Where is the predicate of find-where statements.
	Where *PredicateGroup
}

// String returns the statement text
func (s Statement) String() string {
	return s.Text
}

const subgraphReturn = "OPTIONAL MATCH (n)-[r]->(c) RETURN {root: n, relationships: collect(distinct r), nodes: collect(distinct c)}"

// NodeUpdate is one entry of a bulk node update.
type NodeUpdate struct {
	ID         int64
	Properties map[string]any
}

// Tuple links one source to one target.
type Tuple struct {
	Source int64
	Target int64
}

// Sources links one source to many targets.
type Sources struct {
	ID      int64
	Targets []int64
}

// EdgeCreate is one entry of a bulk edge creation.
type EdgeCreate struct {
	SourceID   int64
	TargetID   int64
	Properties map[string]any
}

// CreateNode renders the creation of one node.
func CreateNode(labels []string, props map[string]any) Statement {
	return Statement{
		Kind:   KindCreateNode,
		Text:   fmt.Sprintf("CREATE (n%s $properties) RETURN id(n)", LabelExpr(labels)),
		Params: map[string]any{"properties": props},
		Labels: labels,
	}
}

// CreateNodes renders the creation of many nodes sharing labels.
func CreateNodes(labels []string, props []map[string]any) Statement {
	nodes := make([]any, len(props))
	for i, p := range props {
		nodes[i] = map[string]any{"properties": p}
	}
	return Statement{
		Kind:   KindCreateNodes,
		Text:   fmt.Sprintf("UNWIND $nodes as node CREATE (n%s) SET n = node.properties RETURN id(n)", LabelExpr(labels)),
		Params: map[string]any{"nodes": nodes},
		Labels: labels,
	}
}

// UpdateNode renders the replacement of a node's properties. Labels are
// added, never removed.
func UpdateNode(id int64, labels []string, props map[string]any) Statement {
	return Statement{
		Kind:   KindUpdateNode,
		Text:   fmt.Sprintf("MATCH (n) WHERE id(n) = $id SET n%s SET n = $properties", LabelExpr(labels)),
		Params: map[string]any{"id": id, "properties": props},
		Labels: labels,
	}
}

// UpdateNodes is the bulk form of UpdateNode.
func UpdateNodes(labels []string, updates []NodeUpdate) Statement {
	nodes := make([]any, len(updates))
	for i, u := range updates {
		nodes[i] = map[string]any{"id": u.ID, "properties": u.Properties}
	}
	return Statement{
		Kind:   KindUpdateNodes,
		Text:   fmt.Sprintf("UNWIND $nodes as node MATCH (n) WHERE id(n) = node.id SET n%s SET n = node.properties", LabelExpr(labels)),
		Params: map[string]any{"nodes": nodes},
		Labels: labels,
	}
}

// FindByID renders the lookup of one node with its direct edges.
func FindByID(root string, id int64) Statement {
	return Statement{
		Kind:   KindFindByID,
		Text:   fmt.Sprintf("MATCH (n%s) WHERE id(n) = $id %s", LabelExpr([]string{root}), subgraphReturn),
		Params: map[string]any{"id": id},
		Root:   root,
	}
}

// FindAll renders the lookup of every node carrying root.
func FindAll(root string) Statement {
	return Statement{
		Kind:   KindFindAll,
		Text:   fmt.Sprintf("MATCH (n%s) %s", LabelExpr([]string{root}), subgraphReturn),
		Params: map[string]any{},
		Root:   root,
	}
}

// FindWhere renders the lookup of nodes carrying root that match where.
func FindWhere(root string, where *PredicateGroup) (Statement, error) {
	params := map[string]any{}
	counter := 0
	cond, err := where.ToCypher("n", &counter, params)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to render predicate: %w", err)
	}
	if cond == "" {
		s := FindAll(root)
		s.Kind = KindFindWhere
		s.Where = where
		return s, nil
	}
	return Statement{
		Kind:   KindFindWhere,
		Text:   fmt.Sprintf("MATCH (n%s) WHERE %s %s", LabelExpr([]string{root}), cond, subgraphReturn),
		Params: params,
		Root:   root,
		Where:  where,
	}, nil
}

// FindSubtree renders the lookup of a node and everything reachable from it
// over at most depth hops (negative is unbounded, 0 the node alone),
// optionally restricted to some edge types.
func FindSubtree(root string, id int64, depth int, edgeTypes ...string) Statement {
	s := Statement{
		Kind:      KindFindSubtree,
		Params:    map[string]any{"id": id},
		Root:      root,
		EdgeTypes: edgeTypes,
		Depth:     depth,
	}
	match := fmt.Sprintf("MATCH (n%s) WHERE id(n) = $id", LabelExpr([]string{root}))
	if depth == 0 {
		s.Text = match + " RETURN {root: n}"
		return s
	}

	types := ""
	if len(edgeTypes) > 0 {
		escaped := make([]string, len(edgeTypes))
		for i, t := range edgeTypes {
			escaped[i] = Escape(t)
		}
		types = ":" + strings.Join(escaped, "|")
	}
	hops := "*.."
	if depth > 0 {
		hops = fmt.Sprintf("*..%d", depth)
	}
	s.Text = fmt.Sprintf("%s OPTIONAL MATCH (n)-[r%s%s]->(c) UNWIND CASE WHEN r IS NULL THEN [null] ELSE r END as row "+
		"RETURN {root: n, relationships: collect(distinct row), nodes: collect(distinct c)}", match, types, hops)
	return s
}

// Labels renders the lookup of a node's labels.
func Labels(id int64) Statement {
	return Statement{
		Kind:   KindLabels,
		Text:   "MATCH (n) WHERE id(n) = $id RETURN labels(n)",
		Params: map[string]any{"id": id},
	}
}

// DeleteAll renders the removal of every node carrying root and its edges.
func DeleteAll(root string) Statement {
	return Statement{
		Kind:   KindDeleteAll,
		Text:   fmt.Sprintf("MATCH (n%s) DETACH DELETE n", LabelExpr([]string{root})),
		Params: map[string]any{},
		Root:   root,
	}
}

// Count renders the count of nodes carrying root.
func Count(root string) Statement {
	return Statement{
		Kind:   KindCount,
		Text:   fmt.Sprintf("MATCH (n%s) RETURN count(n)", LabelExpr([]string{root})),
		Params: map[string]any{},
		Root:   root,
	}
}

// Link merges one edge between two existing nodes.
func Link(edgeType string, source, target int64) Statement {
	return Statement{
		Kind:     KindLink,
		Text:     fmt.Sprintf("MATCH (a), (b) WHERE id(a) = $id1 and id(b) = $id2 MERGE (a)-[r:%s]->(b)", Escape(edgeType)),
		Params:   map[string]any{"id1": source, "id2": target},
		EdgeType: edgeType,
	}
}

// LinkTargets merges edges from one source to many targets.
func LinkTargets(edgeType string, source int64, targets []int64) Statement {
	return Statement{
		Kind: KindLinkTargets,
		Text: fmt.Sprintf("MATCH (a) WHERE id(a) = $id UNWIND $targets as target MATCH (b) WHERE id(b) = target "+
			"MERGE (a)-[r:%s]->(b)", Escape(edgeType)),
		Params:   map[string]any{"id": source, "targets": ids(targets)},
		EdgeType: edgeType,
	}
}

// LinkTuples merges one edge per source/target pair.
func LinkTuples(edgeType string, tuples []Tuple) Statement {
	list := make([]any, len(tuples))
	for i, t := range tuples {
		list[i] = map[string]any{"source": t.Source, "target": t.Target}
	}
	return Statement{
		Kind: KindLinkTuples,
		Text: fmt.Sprintf("UNWIND $tuples as tuple MATCH (a), (b) WHERE id(a) = tuple.source and id(b) = tuple.target "+
			"MERGE (a)-[r:%s]->(b)", Escape(edgeType)),
		Params:   map[string]any{"tuples": list},
		EdgeType: edgeType,
	}
}

// LinkSources merges edges from many sources to their targets.
func LinkSources(edgeType string, sources []Sources) Statement {
	list := make([]any, len(sources))
	for i, s := range sources {
		list[i] = map[string]any{"id": s.ID, "targets": ids(s.Targets)}
	}
	return Statement{
		Kind: KindLinkSources,
		Text: fmt.Sprintf("UNWIND $sources as source MATCH (a) WHERE id(a) = source.id UNWIND source.targets as target "+
			"MATCH (b) WHERE id(b) = target MERGE (a)-[r:%s]->(b)", Escape(edgeType)),
		Params:   map[string]any{"sources": list},
		EdgeType: edgeType,
	}
}

// CreateEdge creates one edge carrying properties.
func CreateEdge(edgeType string, source, target int64, props map[string]any) Statement {
	return Statement{
		Kind: KindCreateEdge,
		Text: fmt.Sprintf("MATCH (s), (t) WHERE id(s) = $sourceId and id(t) = $targetId "+
			"CREATE (s)-[r:%s $properties]->(t) RETURN id(r)", Escape(edgeType)),
		Params:   map[string]any{"sourceId": source, "targetId": target, "properties": props},
		EdgeType: edgeType,
	}
}

// CreateEdges is the bulk form of CreateEdge.
func CreateEdges(edgeType string, edges []EdgeCreate) Statement {
	list := make([]any, len(edges))
	for i, e := range edges {
		list[i] = map[string]any{"sourceId": e.SourceID, "targetId": e.TargetID, "properties": e.Properties}
	}
	return Statement{
		Kind: KindCreateEdges,
		Text: fmt.Sprintf("UNWIND $relationships as relationship MATCH (s), (t) WHERE id(s) = relationship.sourceId "+
			"and id(t) = relationship.targetId CREATE (s)-[r:%s]->(t) SET r = relationship.properties RETURN id(r)", Escape(edgeType)),
		Params:   map[string]any{"relationships": list},
		EdgeType: edgeType,
	}
}

// UpdateEdge replaces the properties of one edge.
func UpdateEdge(edgeType string, id int64, props map[string]any) Statement {
	return Statement{
		Kind:     KindUpdateEdge,
		Text:     fmt.Sprintf("MATCH ()-[r:%s]->() WHERE id(r) = $id SET r = $properties", Escape(edgeType)),
		Params:   map[string]any{"id": id, "properties": props},
		EdgeType: edgeType,
	}
}

// UpdateEdges is the bulk form of UpdateEdge.
func UpdateEdges(edgeType string, updates []NodeUpdate) Statement {
	list := make([]any, len(updates))
	for i, u := range updates {
		list[i] = map[string]any{"id": u.ID, "properties": u.Properties}
	}
	return Statement{
		Kind: KindUpdateEdges,
		Text: fmt.Sprintf("UNWIND $relationships as relationship MATCH ()-[r:%s]->() WHERE id(r) = relationship.id "+
			"SET r = relationship.properties", Escape(edgeType)),
		Params:   map[string]any{"relationships": list},
		EdgeType: edgeType,
	}
}

// FindEdge renders the lookup of one edge with its end nodes.
func FindEdge(edgeType string, id int64) Statement {
	return Statement{
		Kind:     KindFindEdge,
		Text:     fmt.Sprintf("MATCH (s)-[r:%s]->(t) WHERE id(r) = $id RETURN r, s, t", Escape(edgeType)),
		Params:   map[string]any{"id": id},
		EdgeType: edgeType,
	}
}

// FindEdges renders the lookup of every edge of a type.
func FindEdges(edgeType string) Statement {
	return Statement{
		Kind:     KindFindEdges,
		Text:     fmt.Sprintf("MATCH (s)-[r:%s]->(t) RETURN r, s, t", Escape(edgeType)),
		Params:   map[string]any{},
		EdgeType: edgeType,
	}
}

// FindEdgesWhere renders the lookup of edges of a type matching where.
func FindEdgesWhere(edgeType string, where *PredicateGroup) (Statement, error) {
	params := map[string]any{}
	counter := 0
	cond, err := where.ToCypher("r", &counter, params)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to render predicate: %w", err)
	}
	if cond == "" {
		s := FindEdges(edgeType)
		s.Kind = KindFindEdgesWhere
		return s, nil
	}
	return Statement{
		Kind:     KindFindEdgesWhere,
		Text:     fmt.Sprintf("MATCH (s)-[r:%s]->(t) WHERE %s RETURN r, s, t", Escape(edgeType), cond),
		Params:   params,
		EdgeType: edgeType,
		Where:    where,
	}, nil
}

// DeleteEdges removes every edge of a type.
func DeleteEdges(edgeType string) Statement {
	return Statement{
		Kind:     KindDeleteEdges,
		Text:     fmt.Sprintf("MATCH ()-[r:%s]->() DELETE r", Escape(edgeType)),
		Params:   map[string]any{},
		EdgeType: edgeType,
	}
}

// Stats counts every node and edge.
func Stats() Statement {
	return Statement{
		Kind:   KindStats,
		Text:   "CALL { MATCH (n) RETURN count(n) AS nodes } CALL { MATCH ()-[r]->() RETURN count(r) AS edges } RETURN nodes, edges",
		Params: map[string]any{},
	}
}

// LabelCounts counts nodes per label.
func LabelCounts() Statement {
	return Statement{
		Kind:   KindLabelCounts,
		Text:   "MATCH (n) UNWIND labels(n) AS label RETURN label, count(*) AS count ORDER BY label",
		Params: map[string]any{},
	}
}

// Raw wraps a caller provided query. Only executors that speak Cypher run
// raw statements.
func Raw(text string, params map[string]any) Statement {
	if params == nil {
		params = map[string]any{}
	}
	return Statement{Kind: KindRaw, Text: text, Params: params}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Escape quotes a label, edge type or property name with backticks unless
// it is a plain identifier.
func Escape(name string) string {
	if identifier.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// LabelExpr renders labels as ":L1:L2".
func LabelExpr(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		if l == "" {
			continue
		}
		b.WriteString(":")
		b.WriteString(Escape(l))
	}
	return b.String()
}

func ids(in []int64) []any {
	out := make([]any, len(in))
	for i, id := range in {
		out[i] = id
	}
	return out
}
