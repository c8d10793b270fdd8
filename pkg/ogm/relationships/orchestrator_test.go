package relationships

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/ogmtest"
	"github.com/conduit-lang/ogm/pkg/ogm/schema"
)

// recorder assigns ids to saved objects and records statements. Saving a
// node recurses into the orchestrator like a repository would.
type recorder struct {
	orch  *Orchestrator
	next  int64
	saves []string
	stmts []cypher.Statement
}

func (r *recorder) Save(ctx context.Context, desc *schema.TypeDescriptor, obj any) error {
	return r.SaveAll(ctx, desc, []any{obj})
}

func (r *recorder) SaveAll(ctx context.Context, desc *schema.TypeDescriptor, objs []any) error {
	for _, obj := range objs {
		if _, ok := desc.IDOf(obj); !ok {
			r.next++
			if err := desc.SetID(obj, r.next); err != nil {
				return err
			}
		}
		r.saves = append(r.saves, desc.Name)
	}
	if desc.IsRelationship() {
		return nil
	}
	return r.orch.HandleNodes(ctx, desc, objs)
}

func (r *recorder) Run(ctx context.Context, stmt cypher.Statement) (*executor.Result, error) {
	r.stmts = append(r.stmts, stmt)
	res := &executor.Result{Keys: []string{"id(r)"}}
	n := 0
	switch stmt.Kind {
	case cypher.KindCreateEdge:
		n = 1
	case cypher.KindCreateEdges:
		n = len(stmt.Params["relationships"].([]any))
	}
	for i := 0; i < n; i++ {
		r.next++
		res.Add(r.next)
	}
	return res, nil
}

func (r *recorder) kinds() []cypher.Kind {
	out := make([]cypher.Kind, len(r.stmts))
	for i, s := range r.stmts {
		out[i] = s.Kind
	}
	return out
}

func setup(t *testing.T, start int64) (*schema.Registry, *recorder) {
	t.Helper()
	reg := ogmtest.NewRegistry()
	rec := &recorder{next: start}
	rec.orch = New(reg, rec)
	return reg, rec
}

func describe[T any](t *testing.T, reg *schema.Registry) *schema.TypeDescriptor {
	t.Helper()
	d, err := reg.Describe(reflect.TypeOf((*T)(nil)).Elem(), false)
	require.NoError(t, err)
	return d
}

func TestHandleNode_BulkTargetsAreSavedThenLinked(t *testing.T) {
	reg, rec := setup(t, 100)
	top := &ogmtest.Top{ID: ogmtest.Int64(1)}
	m1 := &ogmtest.Middle{Value: "m1", Top: top}
	m2 := &ogmtest.Middle{Value: "m2", Top: top}
	top.Middles = []*ogmtest.Middle{m1, m2}

	require.NoError(t, rec.orch.HandleNode(context.Background(), describe[ogmtest.Top](t, reg), top))

	assert.Equal(t, []string{"Middle", "Middle"}, rec.saves)
	assert.Equal(t, int64(101), *m1.ID)
	assert.Equal(t, int64(102), *m2.ID)
	require.Equal(t, []cypher.Kind{cypher.KindLinkTuples, cypher.KindLinkTargets}, rec.kinds())

	back := rec.stmts[0]
	assert.Equal(t, "TOP", back.EdgeType)
	assert.Equal(t, []any{
		map[string]any{"source": int64(101), "target": int64(1)},
		map[string]any{"source": int64(102), "target": int64(1)},
	}, back.Params["tuples"])

	link := rec.stmts[1]
	assert.Equal(t, "MIDDLE", link.EdgeType)
	assert.Equal(t, int64(1), link.Params["id"])
	assert.Equal(t, []any{int64(101), int64(102)}, link.Params["targets"])
}

func TestHandleNode_SingleTarget(t *testing.T) {
	reg, rec := setup(t, 10)
	bottom := &ogmtest.Bottom{ID: ogmtest.Int64(1), Middle: &ogmtest.Middle{Value: "m"}}

	require.NoError(t, rec.orch.HandleNode(context.Background(), describe[ogmtest.Bottom](t, reg), bottom))

	assert.Equal(t, []string{"Middle"}, rec.saves)
	require.Equal(t, []cypher.Kind{cypher.KindLink}, rec.kinds())
	assert.Equal(t, map[string]any{"id1": int64(1), "id2": int64(11)}, rec.stmts[0].Params)
}

func TestHandleNode_SyncedTargetsAreOnlyLinked(t *testing.T) {
	reg, rec := setup(t, 10)
	bottom := &ogmtest.Bottom{ID: ogmtest.Int64(1), Middle: &ogmtest.Middle{ID: ogmtest.Int64(2)}}

	require.NoError(t, rec.orch.HandleNode(context.Background(), describe[ogmtest.Bottom](t, reg), bottom))
	assert.Empty(t, rec.saves)
	assert.Equal(t, []cypher.Kind{cypher.KindLink}, rec.kinds())
}

func TestHandleNodes_BatchesAcrossOwners(t *testing.T) {
	reg, rec := setup(t, 10)
	shared := &ogmtest.Bottom{Value: "shared"}
	m1 := &ogmtest.Middle{ID: ogmtest.Int64(1), Bottoms: []*ogmtest.Bottom{shared}}
	m2 := &ogmtest.Middle{ID: ogmtest.Int64(2), Bottoms: []*ogmtest.Bottom{shared, {Value: "own"}}}
	m3 := &ogmtest.Middle{ID: ogmtest.Int64(3)}

	err := rec.orch.HandleNodes(context.Background(), describe[ogmtest.Middle](t, reg), []any{m1, m2, m3})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bottom", "Bottom"}, rec.saves, "shared target is saved once")
	require.Equal(t, []cypher.Kind{cypher.KindLinkSources}, rec.kinds())
	assert.Equal(t, []any{
		map[string]any{"id": int64(1), "targets": []any{int64(11)}},
		map[string]any{"id": int64(2), "targets": []any{int64(11), int64(12)}},
	}, rec.stmts[0].Params["sources"])
}

func TestHandleNode_DynamicTargetsUseConcreteTypes(t *testing.T) {
	reg, rec := setup(t, 10)
	a := &ogmtest.A{ID: ogmtest.Int64(1), Bs: []ogmtest.Letter{&ogmtest.B{SomeInt: 1}, &ogmtest.C{CString: "c"}}}

	require.NoError(t, rec.orch.HandleNode(context.Background(), describe[ogmtest.A](t, reg), a))

	assert.Equal(t, []string{"B", "C"}, rec.saves)
	require.Equal(t, []cypher.Kind{cypher.KindLinkTargets}, rec.kinds())
	assert.Equal(t, []any{int64(11), int64(12)}, rec.stmts[0].Params["targets"])
}

func TestHandleNode_RelationshipEntities(t *testing.T) {
	reg, rec := setup(t, 10)
	job := &ogmtest.WorksAt{Role: "dev", Employer: &ogmtest.Company{ID: ogmtest.Int64(2)}}
	person := &ogmtest.Person{ID: ogmtest.Int64(1), Jobs: []*ogmtest.WorksAt{job}}

	require.NoError(t, rec.orch.HandleNode(context.Background(), describe[ogmtest.Person](t, reg), person))

	assert.Equal(t, []string{"WorksAt"}, rec.saves)
	assert.Same(t, person, job.Person, "source endpoint points at the owner")
	assert.Empty(t, rec.stmts, "entities link themselves")
}

func TestHandleNode_KeyedEdgesAreCreatedThenUpdated(t *testing.T) {
	reg, rec := setup(t, 10)
	c1, c2 := &ogmtest.ComplexChild{Value: "1"}, &ogmtest.ComplexChild{Value: "2"}
	parent := &ogmtest.ComplexParent{
		ID:      ogmtest.Int64(1),
		Complex: map[string]*ogmtest.ComplexChild{"b": c2, "a": c1},
	}
	parent.Array[1] = c1
	desc := describe[ogmtest.ComplexParent](t, reg)
	ctx := context.Background()

	require.NoError(t, rec.orch.HandleNode(ctx, desc, parent))

	require.Equal(t, []cypher.Kind{cypher.KindCreateEdge, cypher.KindCreateEdges}, rec.kinds())
	array := rec.stmts[0]
	assert.Equal(t, "ARRAY_COMPLEX", array.EdgeType)
	assert.Equal(t, map[string]any{graph.KeyProperty: "3/1"}, array.Params["properties"])

	byKey := rec.stmts[1]
	assert.Equal(t, []any{
		map[string]any{"sourceId": int64(1), "targetId": *c1.ID, "properties": map[string]any{graph.KeyProperty: "a"}},
		map[string]any{"sourceId": int64(1), "targetId": *c2.ID, "properties": map[string]any{graph.KeyProperty: "b"}},
	}, byKey.Params["relationships"])

	require.Len(t, parent.KeyedEdges["COMPLEX"], 2)
	edgeA := parent.KeyedEdges["COMPLEX"]["a"]

	rec.stmts = nil
	require.NoError(t, rec.orch.HandleNode(ctx, desc, parent))
	require.Equal(t, []cypher.Kind{cypher.KindUpdateEdge, cypher.KindUpdateEdges}, rec.kinds())
	assert.Equal(t, edgeA, rec.stmts[1].Params["relationships"].([]any)[0].(map[string]any)["id"])
}

func TestHandleNode_InvertedKeyedEdgesCarryTheValue(t *testing.T) {
	reg, rec := setup(t, 10)
	child := &ogmtest.ComplexChild{ID: ogmtest.Int64(5)}
	parent := &ogmtest.ComplexParent{
		ID:       ogmtest.Int64(1),
		Inverted: map[*ogmtest.ComplexChild]float64{child: 1.5},
	}

	require.NoError(t, rec.orch.HandleNode(context.Background(), describe[ogmtest.ComplexParent](t, reg), parent))

	require.Equal(t, []cypher.Kind{cypher.KindCreateEdge}, rec.kinds())
	assert.Equal(t, int64(5), rec.stmts[0].Params["targetId"])
	assert.Equal(t, map[string]any{graph.KeyProperty: 1.5}, rec.stmts[0].Params["properties"])
	assert.Equal(t, int64(11), parent.KeyedEdges["INVERTED_COMPLEX"]["#5"])
}

func TestHandleNode_Errors(t *testing.T) {
	reg, rec := setup(t, 10)

	err := rec.orch.HandleNode(context.Background(), describe[ogmtest.Top](t, reg), &ogmtest.Top{})
	assert.ErrorIs(t, err, ErrMissingID)

	err = rec.orch.HandleNode(context.Background(), describe[ogmtest.WorksAt](t, reg), &ogmtest.WorksAt{ID: ogmtest.Int64(1)})
	assert.ErrorIs(t, err, ErrUnsupportedTarget)

	assert.NoError(t, rec.orch.HandleNode(context.Background(), describe[ogmtest.Top](t, reg), nil))
	assert.NoError(t, rec.orch.HandleNodes(context.Background(), describe[ogmtest.Top](t, reg), []any{(*ogmtest.Top)(nil)}))
	assert.Empty(t, rec.stmts)
}
