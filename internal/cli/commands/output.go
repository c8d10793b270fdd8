package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/ogm/internal/cli/ui"
	"github.com/conduit-lang/ogm/pkg/ogm/graph"
)

type nodeView struct {
	ID         int64          `json:"id" yaml:"id"`
	Labels     []string       `json:"labels" yaml:"labels"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

type edgeView struct {
	ID         int64          `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Start      int64          `json:"start" yaml:"start"`
	End        int64          `json:"end" yaml:"end"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type subgraphView struct {
	Root          nodeView   `json:"root" yaml:"root"`
	Nodes         []nodeView `json:"nodes" yaml:"nodes"`
	Relationships []edgeView `json:"relationships" yaml:"relationships"`
}

type statsView struct {
	Nodes  int64            `json:"nodes" yaml:"nodes"`
	Edges  int64            `json:"edges" yaml:"edges"`
	Labels map[string]int64 `json:"labels" yaml:"labels"`
}

func newNodeView(n *graph.Node) nodeView {
	props := n.Properties
	if props == nil {
		props = map[string]any{}
	}
	return nodeView{ID: n.ID, Labels: n.Labels, Properties: props}
}

// newSubgraphView orders nodes and edges by id and drops the root from the
// node list.
func newSubgraphView(sg *graph.Subgraph) subgraphView {
	v := subgraphView{Root: newNodeView(sg.Root), Nodes: []nodeView{}, Relationships: []edgeView{}}
	for _, n := range sg.Nodes {
		if n != nil && n.ID != sg.Root.ID {
			v.Nodes = append(v.Nodes, newNodeView(n))
		}
	}
	for _, e := range sg.Relationships {
		if e != nil {
			v.Relationships = append(v.Relationships, edgeView{ID: e.ID, Type: e.Type, Start: e.StartID, End: e.EndID, Properties: e.Properties})
		}
	}
	sort.Slice(v.Nodes, func(i, j int) bool { return v.Nodes[i].ID < v.Nodes[j].ID })
	sort.Slice(v.Relationships, func(i, j int) bool { return v.Relationships[i].ID < v.Relationships[j].ID })
	return v
}

// encode writes v as YAML or JSON and reports whether format was one of
// those.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case OutputJSON:
		return true, writeJSON(w, v)
	case OutputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(data)
		return true, err
	}
	return false, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

func (a *app) renderSubgraph(w io.Writer, v subgraphView) {
	noColor := a.colorless()

	ui.Header(w, fmt.Sprintf("Node %d", v.Root.ID), noColor)
	kv := ui.NewKeyValueTable(w, noColor)
	kv.AddRow("labels", strings.Join(v.Root.Labels, ", "))
	for _, key := range graph.SortedKeys(v.Root.Properties) {
		kv.AddRow(key, formatValue(v.Root.Properties[key]))
	}
	kv.Render()

	if len(v.Relationships) > 0 {
		fmt.Fprintln(w)
		ui.Header(w, "Relationships", noColor)
		table := ui.NewTable(w, noColor, "ID", "TYPE", "START", "END", "PROPERTIES")
		for _, e := range v.Relationships {
			table.AddRow(strconv.FormatInt(e.ID, 10), e.Type, strconv.FormatInt(e.Start, 10), strconv.FormatInt(e.End, 10), formatProperties(e.Properties))
		}
		table.Render()
	}

	if len(v.Nodes) > 0 {
		fmt.Fprintln(w)
		ui.Header(w, "Nodes", noColor)
		table := ui.NewTable(w, noColor, "ID", "LABELS", "PROPERTIES")
		for _, n := range v.Nodes {
			table.AddRow(strconv.FormatInt(n.ID, 10), strings.Join(n.Labels, ","), formatProperties(n.Properties))
		}
		table.Render()
	}
}

func formatProperties(props map[string]any) string {
	parts := make([]string, 0, len(props))
	for _, key := range graph.SortedKeys(props) {
		parts = append(parts, key+"="+formatValue(props[key]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	}
	return fmt.Sprint(v)
}
