package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/ogm/internal/config"
	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
	"github.com/conduit-lang/ogm/pkg/ogm/executor/embedded"
	"github.com/conduit-lang/ogm/pkg/ogm/store"
)

// shared keeps the store alive across command invocations.
type shared struct {
	executor.Driver
}

func (shared) Close(context.Context) error { return nil }

type fixture struct {
	driver *embedded.Driver
	ada    int64
	bob    int64
	paris  int64
}

func seed(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{driver: embedded.New(store.NewMemoryEngine())}
	t.Cleanup(func() { f.driver.Close(context.Background()) })

	ctx := context.Background()
	tx, err := f.driver.Begin(ctx, executor.WriteMode)
	require.NoError(t, err)
	create := func(labels []string, props map[string]any) int64 {
		res, err := tx.Run(ctx, cypher.CreateNode(labels, props))
		require.NoError(t, err)
		id, err := res.Int64()
		require.NoError(t, err)
		return id
	}
	f.ada = create([]string{"Person", "Entity"}, map[string]any{"name": "ada", "age": int64(36)})
	f.bob = create([]string{"Person", "Entity"}, map[string]any{"name": "bob"})
	f.paris = create([]string{"City"}, map[string]any{"name": "Paris"})
	for _, link := range []cypher.Statement{
		cypher.Link("KNOWS", f.ada, f.bob),
		cypher.Link("LIVES_IN", f.ada, f.paris),
		cypher.Link("LIVES_IN", f.bob, f.paris),
	} {
		_, err := tx.Run(ctx, link)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))
	return f
}

// run executes the CLI in an empty working directory.
func run(t *testing.T, f *fixture, ask Prompter, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	opts := []Option{}
	if f != nil {
		opts = append(opts, WithOpener(func(context.Context, *config.Config, *zap.Logger) (executor.Driver, error) {
			return shared{f.driver}, nil
		}))
	}
	if ask != nil {
		opts = append(opts, WithPrompter(ask))
	}

	cmd := NewRootCommand(opts...)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--no-color", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"version", "completion", "config", "inspect", "labels", "stats", "purge"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, nil, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ogm version: dev")
	assert.Contains(t, out, "Go version: go")
}

func TestUnknownBackend_SuggestsNearest(t *testing.T) {
	_, errOut, err := run(t, nil, nil, "--backend", "neo5j", "stats")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
	assert.Contains(t, errOut, "CONFIGURATION ERROR")
	assert.Contains(t, errOut, "Did you mean: neo4j?")
}

func TestUnknownOutput(t *testing.T) {
	_, _, err := run(t, nil, nil, "-o", "xml", "stats")
	assert.ErrorContains(t, err, `unknown output format "xml"`)
}

func TestStats(t *testing.T) {
	f := seed(t)

	out, _, err := run(t, f, nil, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "memory backend")
	assert.Contains(t, out, "nodes:         3")
	assert.Contains(t, out, "relationships: 3")
	assert.Contains(t, out, "City    1")
	assert.Contains(t, out, "Person  2")

	out, _, err = run(t, f, nil, "stats", "-o", "json")
	require.NoError(t, err)
	var stats statsView
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, statsView{Nodes: 3, Edges: 3, Labels: map[string]int64{"City": 1, "Entity": 2, "Person": 2}}, stats)
}

func TestStats_NamespaceAware(t *testing.T) {
	f := &fixture{driver: embedded.New(store.NewMemoryEngine())}
	t.Cleanup(func() { f.driver.Close(context.Background()) })
	ctx := context.Background()
	tx, err := f.driver.Begin(ctx, executor.WriteMode)
	require.NoError(t, err)
	_, err = tx.Run(ctx, cypher.CreateNode([]string{"crm_Person", "Base"}, map[string]any{}))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	out, _, err := run(t, f, nil, "--namespace-aware", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "NAMESPACE  LABEL   NODES")
	assert.Contains(t, out, "crm        Person  1")
	assert.Contains(t, out, "           Base    1")
}

func TestLabels(t *testing.T) {
	f := seed(t)

	out, _, err := run(t, f, nil, "labels", fmt.Sprint(f.ada))
	require.NoError(t, err)
	assert.Equal(t, "Person\nEntity\n", out)

	_, errOut, err := run(t, f, nil, "labels", "999")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Contains(t, errOut, "NOT FOUND: node 999")

	_, _, err = run(t, f, nil, "labels", "abc")
	assert.ErrorContains(t, err, `invalid node id "abc"`)
}

func TestInspectNode(t *testing.T) {
	f := seed(t)

	out, _, err := run(t, f, nil, "inspect", "node", fmt.Sprint(f.ada))
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Node %d", f.ada))
	assert.Contains(t, out, "labels: Person, Entity")
	assert.Contains(t, out, `name:   "ada"`)
	assert.Contains(t, out, "KNOWS")
	assert.Contains(t, out, "LIVES_IN")
	assert.Contains(t, out, `name="Paris"`)

	out, _, err = run(t, f, nil, "inspect", "node", fmt.Sprint(f.ada), "-o", "yaml")
	require.NoError(t, err)
	var view subgraphView
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, f.ada, view.Root.ID)
	assert.Len(t, view.Relationships, 2)
	assert.Len(t, view.Nodes, 2)
}

func TestInspectSubtree(t *testing.T) {
	f := seed(t)

	out, _, err := run(t, f, nil, "inspect", "subtree", fmt.Sprint(f.ada), "--edge", "KNOWS", "-o", "json")
	require.NoError(t, err)
	var view subgraphView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, f.bob, view.Nodes[0].ID)
	for _, e := range view.Relationships {
		assert.Equal(t, "KNOWS", e.Type)
	}

	out, _, err = run(t, f, nil, "inspect", "subtree", fmt.Sprint(f.ada), "--depth", "0", "-o", "json")
	require.NoError(t, err)
	view = subgraphView{}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, f.ada, view.Root.ID)
	assert.Empty(t, view.Nodes)
	assert.Empty(t, view.Relationships)

	_, _, err = run(t, f, nil, "inspect", "subtree", "999")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestPurge(t *testing.T) {
	f := seed(t)

	declined := func(p survey.Prompt, response any, opts ...survey.AskOpt) error {
		*response.(*bool) = false
		return nil
	}
	out, _, err := run(t, f, declined, "purge", "City")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	_, errOut, err := run(t, f, nil, "purge", "Persn")
	require.Error(t, err)
	assert.Contains(t, errOut, "Did you mean: Person?")

	out, _, err = run(t, f, nil, "purge", "Person", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ deleted 2 Person nodes")

	out, _, err = run(t, f, nil, "stats", "-o", "json")
	require.NoError(t, err)
	var stats statsView
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(1), stats.Nodes)
	assert.Equal(t, int64(0), stats.Edges)
}

func TestConfigInit_Defaults(t *testing.T) {
	out, _, err := run(t, nil, nil, "config", "init", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ wrote ogm.yaml (memory backend)")

	cfg, err := config.Load("ogm.yaml")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, _, err = run(t, nil, nil, "config", "init", "--yes")
	assert.NoError(t, err, "each run starts in a fresh directory")
}

func TestConfigInit_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ogm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: memory\n"), 0o644))

	_, _, err := run(t, nil, nil, "config", "init", "--yes", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	_, _, err = run(t, nil, nil, "config", "init", "--yes", "--force", "--path", path)
	assert.NoError(t, err)
}

func TestConfigInit_Interactive(t *testing.T) {
	var asked []string
	ask := func(p survey.Prompt, response any, opts ...survey.AskOpt) error {
		switch q := p.(type) {
		case *survey.Select:
			asked = append(asked, q.Message)
			*response.(*string) = config.BackendNeo4j
		case *survey.Input:
			asked = append(asked, q.Message)
			switch q.Message {
			case "Neo4j URI:":
				*response.(*string) = "bolt://graph:7687"
			case "Transaction retries:":
				*response.(*string) = "5"
			default:
				*response.(*string) = q.Default
			}
		case *survey.Password:
			asked = append(asked, q.Message)
			*response.(*string) = "secret"
		case *survey.Confirm:
			asked = append(asked, q.Message)
			*response.(*bool) = true
		default:
			return errors.New("unexpected prompt")
		}
		return nil
	}

	_, _, err := run(t, nil, ask, "config", "init")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Backend:",
		"Neo4j URI:",
		"Username:",
		"Password:",
		"Database (empty for the default):",
		"Qualify labels with their namespace?",
		"Transaction retries:",
	}, asked)

	cfg, err := config.Load("ogm.yaml")
	require.NoError(t, err)
	assert.Equal(t, config.BackendNeo4j, cfg.Backend)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Neo4j.Username)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.True(t, cfg.NamespaceAware)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
}

func TestConfigShow(t *testing.T) {
	t.Setenv("OGM_NEO4J_PASSWORD", "secret")
	out, _, err := run(t, nil, nil, "--backend", "sqlite", "--namespace-aware", "config", "show")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.BackendSQLite, cfg.Backend)
	assert.True(t, cfg.NamespaceAware)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "****", cfg.Neo4j.Password)
	assert.False(t, strings.Contains(out, "secret"))
}

func TestOpenDriver(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, backend := range []string{config.BackendMemory, config.BackendBadger, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend = backend
			cfg.Badger.Path = filepath.Join(dir, "badger")
			cfg.SQLite.Path = filepath.Join(dir, "sqlite", "graph.db")

			driver, err := OpenDriver(ctx, cfg, zap.NewNop())
			require.NoError(t, err)
			tx, err := driver.Begin(ctx, executor.ReadMode)
			require.NoError(t, err)
			res, err := tx.Run(ctx, cypher.Stats())
			require.NoError(t, err)
			require.Len(t, res.Records, 1)
			require.NoError(t, tx.Rollback(ctx))
			require.NoError(t, driver.Close(ctx))
		})
	}

	cfg := config.Default()
	cfg.Backend = "mongo"
	_, err := OpenDriver(ctx, cfg, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

// complete asks the CLI for shell completions of args.
func complete(t *testing.T, f *fixture, args ...string) []string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	cmd := NewRootCommand(WithOpener(func(context.Context, *config.Config, *zap.Logger) (executor.Driver, error) {
		return shared{f.driver}, nil
	}))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{cobra.ShellCompRequestCmd}, args...))
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, fmt.Sprintf(":%d", cobra.ShellCompDirectiveNoFileComp), lines[len(lines)-1])
	return lines[:len(lines)-1]
}

func TestCompletion_PurgeLabels(t *testing.T) {
	f := seed(t)

	assert.ElementsMatch(t, []string{"City", "Entity", "Person"}, complete(t, f, "purge", ""))
	assert.Equal(t, []string{"Person"}, complete(t, f, "purge", "Pe"))
	assert.Empty(t, complete(t, f, "purge", "City", ""))
}

func TestCompletion_FlagValues(t *testing.T) {
	f := seed(t)

	assert.Equal(t, config.Backends, complete(t, f, "stats", "--backend", ""))
	assert.Equal(t, []string{OutputTable, OutputYAML, OutputJSON}, complete(t, f, "stats", "-o", ""))
}

func TestCompletion_Script(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			out, _, err := run(t, nil, nil, "completion", shell)
			require.NoError(t, err)
			assert.Contains(t, out, "ogm")
		})
	}

	_, _, err := run(t, nil, nil, "completion", "tcsh")
	assert.Error(t, err)
}
