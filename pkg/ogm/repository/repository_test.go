package repository

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/ogm/pkg/ogm/convert"
	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/executor/embedded"
	"github.com/conduit-lang/ogm/pkg/ogm/executor/executortest"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
	"github.com/conduit-lang/ogm/pkg/ogm/hooks"
	"github.com/conduit-lang/ogm/pkg/ogm/ogmtest"
	"github.com/conduit-lang/ogm/pkg/ogm/store"
	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

func newProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	driver := embedded.New(store.NewMemoryEngine())
	t.Cleanup(func() { _ = driver.Close(context.Background()) })
	return NewProvider(ogmtest.NewRegistry(), transaction.NewManager(driver), opts...)
}

func repo[T any](t *testing.T, p *Provider) *Repository[T] {
	t.Helper()
	r, err := For[T](p)
	require.NoError(t, err)
	return r
}

// tree builds top -> middle -> bottom with back references.
func tree() (*ogmtest.Top, *ogmtest.Middle, *ogmtest.Bottom) {
	top := &ogmtest.Top{Value: "top"}
	middle := &ogmtest.Middle{Value: "middle", Top: top}
	bottom := &ogmtest.Bottom{Value: "bottom", Middle: middle}
	middle.Bottoms = []*ogmtest.Bottom{bottom}
	top.Middles = []*ogmtest.Middle{middle}
	return top, middle, bottom
}

func TestSave_AssignsIDsAndFindsByID(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	tops := repo[ogmtest.Top](t, p)

	top := &ogmtest.Top{Value: "top", Middles: []*ogmtest.Middle{{Value: "m1"}, {Value: "m2"}}}
	require.NoError(t, tops.Save(ctx, top))
	require.NotNil(t, top.ID)
	require.NotNil(t, top.Middles[0].ID)
	require.NotNil(t, top.Middles[1].ID)

	middles := repo[ogmtest.Middle](t, p)
	n, err := middles.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	loaded, err := tops.FindByID(ctx, *top.ID)
	require.NoError(t, err)
	assert.Equal(t, "top", loaded.Value)
	require.Len(t, loaded.Middles, 2)
	values := []string{loaded.Middles[0].Value, loaded.Middles[1].Value}
	assert.ElementsMatch(t, []string{"m1", "m2"}, values)
}

func TestSave_UpdatesExistingNodes(t *testing.T) {
	ctx := context.Background()
	tops := repo[ogmtest.Top](t, newProvider(t))

	top := &ogmtest.Top{Value: "before"}
	require.NoError(t, tops.Save(ctx, top))
	id := *top.ID

	top.Value = "after"
	require.NoError(t, tops.Save(ctx, top))
	assert.Equal(t, id, *top.ID)

	loaded, err := tops.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "after", loaded.Value)

	n, err := tops.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSave_ScalarMapWithDottedKeys(t *testing.T) {
	ctx := context.Background()
	inventories := repo[ogmtest.Inventory](t, newProvider(t))

	inv := &ogmtest.Inventory{Hosts: map[string]string{"example.com": "1.2.3.4", "plain": "x"}, Count: 3}
	require.NoError(t, inventories.Save(ctx, inv))

	loaded, err := inventories.FindByID(ctx, *inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Hosts, loaded.Hosts)
	assert.Equal(t, uint64(3), loaded.Count)
}

func TestSave_RejectsUnsignedOverflow(t *testing.T) {
	ctx := context.Background()
	inventories := repo[ogmtest.Inventory](t, newProvider(t))

	err := inventories.Save(ctx, &ogmtest.Inventory{Count: math.MaxUint64})
	require.Error(t, err)
	assert.ErrorIs(t, err, convert.ErrOverflow)

	n, err := inventories.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSaveAll_BulkUpdateThenBulkCreate(t *testing.T) {
	next := int64(100)
	driver := executortest.New(func(stmt cypher.Statement) (*executor.Result, error) {
		res := &executor.Result{Keys: []string{"id(n)"}}
		if stmt.Kind == cypher.KindCreateNodes {
			for range stmt.Params["nodes"].([]any) {
				res.Add(next)
				next++
			}
		}
		return res, nil
	})
	p := NewProvider(ogmtest.NewRegistry(), transaction.NewManager(driver))
	tops := repo[ogmtest.Top](t, p)

	existing := &ogmtest.Top{ID: ogmtest.Int64(7), Value: "old"}
	a, b := &ogmtest.Top{Value: "a"}, &ogmtest.Top{Value: "b"}
	require.NoError(t, tops.SaveAll(context.Background(), []*ogmtest.Top{existing, a, nil, b}))

	assert.Equal(t, []cypher.Kind{cypher.KindUpdateNodes, cypher.KindCreateNodes}, driver.Kinds())
	assert.Equal(t, int64(100), *a.ID)
	assert.Equal(t, int64(101), *b.ID)
	assert.Equal(t, 1, driver.Commits, "one transaction for the whole batch")

	update := driver.Statements[0]
	assert.Equal(t, []string{"Top"}, update.Labels)
	nodes, ok := update.Params["nodes"].([]any)
	require.True(t, ok)
	require.Len(t, nodes, 1)
	row := nodes[0].(map[string]any)
	assert.Equal(t, int64(7), row["id"])
	props := row["properties"].(map[string]any)
	assert.Equal(t, "old", props["value"])
	assert.Equal(t, convert.TypeName(reflect.TypeOf(ogmtest.Top{})), props[graph.TypeTagProperty])
	assert.Len(t, props, 2)
}

func TestFindSubtree_Depth(t *testing.T) {
	ctx := context.Background()
	tops := repo[ogmtest.Top](t, newProvider(t))
	top, _, _ := tree()
	require.NoError(t, tops.Save(ctx, top))

	t.Run("node only", func(t *testing.T) {
		loaded, err := tops.FindSubtree(ctx, *top.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, "top", loaded.Value)
		assert.Empty(t, loaded.Middles)
	})

	t.Run("one hop", func(t *testing.T) {
		loaded, err := tops.FindSubtree(ctx, *top.ID, 1)
		require.NoError(t, err)
		require.Len(t, loaded.Middles, 1)
		assert.Equal(t, "middle", loaded.Middles[0].Value)
		assert.Empty(t, loaded.Middles[0].Bottoms)
		assert.Nil(t, loaded.Middles[0].Top)
	})

	t.Run("unbounded keeps identity", func(t *testing.T) {
		loaded, err := tops.FindSubtree(ctx, *top.ID, -1)
		require.NoError(t, err)
		require.Len(t, loaded.Middles, 1)
		middle := loaded.Middles[0]
		assert.Same(t, loaded, middle.Top)
		require.Len(t, middle.Bottoms, 1)
		assert.Equal(t, "bottom", middle.Bottoms[0].Value)
		assert.Same(t, middle, middle.Bottoms[0].Middle)
	})

	t.Run("edge type filter", func(t *testing.T) {
		loaded, err := tops.FindSubtree(ctx, *top.ID, -1, "MIDDLE")
		require.NoError(t, err)
		require.Len(t, loaded.Middles, 1)
		assert.Empty(t, loaded.Middles[0].Bottoms)
	})
}

func TestSave_CyclesCreateEachNodeOnce(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	top, middle, bottom := tree()
	require.NoError(t, repo[ogmtest.Bottom](t, p).Save(ctx, bottom))

	require.NotNil(t, top.ID)
	require.NotNil(t, middle.ID)
	for _, count := range []func(context.Context) (int64, error){
		repo[ogmtest.Top](t, p).Count,
		repo[ogmtest.Middle](t, p).Count,
		repo[ogmtest.Bottom](t, p).Count,
	} {
		n, err := count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}
}

func TestFindAllBy(t *testing.T) {
	ctx := context.Background()
	tops := repo[ogmtest.Top](t, newProvider(t))
	require.NoError(t, tops.SaveAll(ctx, []*ogmtest.Top{{Value: "a"}, {Value: "b"}, {Value: "c"}}))

	found, err := tops.FindAllBy(ctx, cypher.Where("value", cypher.OpIn, []any{"a", "c"}).Build())
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].Value)
	assert.Equal(t, "c", found[1].Value)

	one, err := tops.FindBy(ctx, cypher.Eq("value", "b").Build())
	require.NoError(t, err)
	assert.Equal(t, "b", one.Value)

	_, err = tops.FindBy(ctx, cypher.Eq("value", "z").Build())
	assert.True(t, IsNotFound(err))

	all, err := tops.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	tops := repo[ogmtest.Top](t, p)
	top, _, _ := tree()
	require.NoError(t, tops.Save(ctx, top))

	require.NoError(t, tops.DeleteAll(ctx))
	n, err := tops.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo[ogmtest.Middle](t, p).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "other types are kept")

	_, err = tops.FindByID(ctx, *top.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyedRelationshipsRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	parents := repo[ogmtest.ComplexParent](t, p)

	c1, c2 := &ogmtest.ComplexChild{Value: "1"}, &ogmtest.ComplexChild{Value: "2"}
	parent := &ogmtest.ComplexParent{Complex: map[string]*ogmtest.ComplexChild{"a": c1, "b": c2}}
	parent.Array[2] = c2
	require.NoError(t, parents.Save(ctx, parent))
	require.Len(t, parent.KeyedEdges["COMPLEX"], 2)
	require.NoError(t, parents.Save(ctx, parent), "second save updates the keyed edges")

	loaded, err := parents.FindByID(ctx, *parent.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Complex, 2)
	assert.Equal(t, "1", loaded.Complex["a"].Value)
	assert.Equal(t, "2", loaded.Complex["b"].Value)
	assert.Same(t, loaded.Complex["b"], loaded.Array[2])
	assert.Nil(t, loaded.Array[0])
	assert.Equal(t, parent.KeyedEdges["COMPLEX"], loaded.KeyedEdges["COMPLEX"])

	n, err := repo[ogmtest.ComplexChild](t, p).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRelationshipRepository(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	jobs, err := EdgesFor[ogmtest.WorksAt](p)
	require.NoError(t, err)

	job := &ogmtest.WorksAt{
		Role:     "dev",
		Person:   &ogmtest.Person{Name: "ada"},
		Employer: &ogmtest.Company{Name: "acme"},
	}
	require.NoError(t, jobs.Save(ctx, job))
	require.NotNil(t, job.ID)
	require.NotNil(t, job.Person.ID, "endpoints are saved first")
	require.NotNil(t, job.Employer.ID)

	loaded, err := jobs.FindByID(ctx, *job.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev", loaded.Role)
	assert.Equal(t, "ada", loaded.Person.Name)
	assert.Equal(t, "acme", loaded.Employer.Name)

	job.Role = "lead"
	require.NoError(t, jobs.Save(ctx, job))
	all, err := jobs.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "lead", all[0].Role)

	require.NoError(t, jobs.DeleteAll(ctx))
	all, err = jobs.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	n, err := repo[ogmtest.Person](t, p).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "end nodes survive")

	_, err = jobs.FindByID(ctx, *job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelationshipRepository_MissingEndpoint(t *testing.T) {
	jobs, err := EdgesFor[ogmtest.WorksAt](newProvider(t))
	require.NoError(t, err)
	err = jobs.Save(context.Background(), &ogmtest.WorksAt{Person: &ogmtest.Person{}})
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestRelationshipEntitiesThroughTheOwner(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	people := repo[ogmtest.Person](t, p)

	person := &ogmtest.Person{Name: "ada", Jobs: []*ogmtest.WorksAt{{Role: "dev", Employer: &ogmtest.Company{Name: "acme"}}}}
	require.NoError(t, people.Save(ctx, person))
	require.NotNil(t, person.Jobs[0].ID)

	loaded, err := people.FindByID(ctx, *person.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Jobs, 1)
	assert.Equal(t, "dev", loaded.Jobs[0].Role)
	assert.Same(t, loaded, loaded.Jobs[0].Person)
	assert.Equal(t, "acme", loaded.Jobs[0].Employer.Name)
}

func TestNamespaceAware(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, WithNamespaceAware(true))
	as := repo[ogmtest.NamespaceA](t, p)
	cs := repo[ogmtest.NamespaceC](t, p)

	a := &ogmtest.NamespaceA{A: "a", General: "g"}
	a.RootField = "root"
	a.Buddy = &ogmtest.AnalyticsNode{Value: 3}
	require.NoError(t, as.Save(ctx, a))

	t.Run("sibling type loads by id with overflow", func(t *testing.T) {
		c, err := cs.FindByID(ctx, *a.ID)
		require.NoError(t, err)
		assert.Equal(t, "root", c.RootField)
		assert.Empty(t, c.General)
		assert.Equal(t, "a", c.Sync["nsa_a"])
		assert.Equal(t, "g", c.Sync["nsa_general"])
		assert.Contains(t, c.Overflow, "nsa_BUDDY")
	})

	t.Run("find by qualifies fields", func(t *testing.T) {
		found, err := as.FindBy(ctx, cypher.Eq("general", "g").And("rootField", cypher.OpEqual, "root").Build())
		require.NoError(t, err)
		assert.Equal(t, *a.ID, *found.ID)

		_, err = as.FindBy(ctx, cypher.Eq("missing", 1).Build())
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("qualify", func(t *testing.T) {
		nodes := as.Nodes()
		q, err := nodes.Qualify("general")
		require.NoError(t, err)
		assert.Equal(t, "nsa_general", q)

		q, err = nodes.Qualify("nsc_general")
		require.NoError(t, err)
		assert.Equal(t, "nsc_general", q)

		q, err = nodes.QualifyRelationship("BUDDY")
		require.NoError(t, err)
		assert.Equal(t, "nsa_BUDDY", q)

		q, err = nodes.QualifyRelationship("ANALYTICS")
		require.NoError(t, err)
		assert.Equal(t, "root_ANALYTICS", q)

		_, err = nodes.QualifyRelationship("NOPE")
		assert.ErrorIs(t, err, ErrRelationshipNotFound)
	})

	t.Run("subtree with unqualified edge types", func(t *testing.T) {
		loaded, err := as.FindSubtree(ctx, *a.ID, 1, "BUDDY")
		require.NoError(t, err)
		require.NotNil(t, loaded.Buddy)
		assert.Equal(t, 3, loaded.Buddy.Value)
	})

	t.Run("root counts cover subtypes", func(t *testing.T) {
		require.NoError(t, cs.Save(ctx, &ogmtest.NamespaceC{C: "c"}))
		roots := repo[ogmtest.RootNode](t, p)
		n, err := roots.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = as.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	e := hooks.NewExecutor()
	loads := 0
	hooks.On(e, hooks.BeforeSave, func(_ *hooks.Context, top *ogmtest.Top) error {
		top.Value = strings.ToUpper(top.Value)
		return nil
	})
	hooks.On(e, hooks.AfterLoad, func(_ *hooks.Context, _ *ogmtest.Top) error {
		loads++
		return nil
	})
	hooks.On(e, hooks.BeforeSave, func(ctx *hooks.Context, b *ogmtest.Bottom) error {
		if !ctx.HasTransaction() {
			return errors.New("no transaction")
		}
		return errors.New("rejected")
	})

	p := newProvider(t, WithHooks(e))
	tops := repo[ogmtest.Top](t, p)
	top := &ogmtest.Top{Value: "x"}
	require.NoError(t, tops.Save(ctx, top))

	loaded, err := tops.FindByID(ctx, *top.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", loaded.Value)
	assert.Equal(t, 1, loads)

	bottoms := repo[ogmtest.Bottom](t, p)
	err = bottoms.Save(ctx, &ogmtest.Bottom{Value: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	n, err := bottoms.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed save is rolled back")
}

func TestQuery(t *testing.T) {
	node := &graph.Node{ID: 7, Labels: []string{"Top"}, Properties: map[string]any{"value": "q"}}
	child := &graph.Node{ID: 8, Labels: []string{"Middle"}, Properties: map[string]any{"value": "m"}}
	driver := executortest.New(func(stmt cypher.Statement) (*executor.Result, error) {
		res := &executor.Result{Keys: []string{"n"}}
		switch stmt.Text {
		case "nodes":
			res.Add(node)
		case "subgraph":
			res.Add(executor.SubgraphValue(node, []*graph.Edge{{ID: 1, Type: "MIDDLE", StartID: 7, EndID: 8}}, []*graph.Node{child}))
		case "scalar":
			res.Add(int64(1))
		}
		return res, nil
	})
	tops := repo[ogmtest.Top](t, NewProvider(ogmtest.NewRegistry(), transaction.NewManager(driver)))
	ctx := context.Background()

	top, err := tops.Query(ctx, "nodes", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *top.ID)
	assert.Equal(t, "q", top.Value)
	assert.Empty(t, top.Middles)

	all, err := tops.QueryAll(ctx, "subgraph", map[string]any{"x": 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, all[0].Middles, 1)
	assert.Equal(t, "m", all[0].Middles[0].Value)

	_, err = tops.Query(ctx, "scalar", nil)
	assert.ErrorIs(t, err, ErrUnexpectedResult)

	_, err = tops.Query(ctx, "empty", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, map[string]any{"x": 1}, driver.Statements[1].Params)
}

func TestQuery_EmbeddedRejectsRawStatements(t *testing.T) {
	tops := repo[ogmtest.Top](t, newProvider(t))
	_, err := tops.QueryAll(context.Background(), "MATCH (n) RETURN n", nil)
	assert.ErrorIs(t, err, executor.ErrUnsupported)
}

func TestWrongTypes(t *testing.T) {
	p := newProvider(t)
	nodes, err := p.Nodes(reflect.TypeOf(ogmtest.Top{}))
	require.NoError(t, err)
	assert.Same(t, nodes, repo[ogmtest.Top](t, p).Nodes(), "repositories are cached")

	err = nodes.Save(context.Background(), &ogmtest.Middle{})
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = p.Nodes(reflect.TypeOf(ogmtest.WorksAt{}))
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = p.Relationships(reflect.TypeOf(ogmtest.Top{}))
	assert.ErrorIs(t, err, ErrWrongType)

	assert.NoError(t, nodes.Save(context.Background(), (*ogmtest.Top)(nil)))
}
