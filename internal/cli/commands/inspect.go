package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/internal/cli/ui"
	"github.com/conduit-lang/ogm/pkg/ogm/cypher"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
)

// ErrNodeNotFound is returned when no node has the requested id.
var ErrNodeNotFound = errors.New("node not found")

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid node id %q", arg)
	}
	return id, nil
}

// withSession opens the configured backend for the duration of fn.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	return fn(ctx, s)
}

func newInspectCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect stored nodes",
		Example: `  # Show node 12 with its outgoing relationships
  ogm inspect node 12

  # Show everything reachable from node 12 over at most 3 hops
  ogm inspect subtree 12 --depth 3

  # Follow only ORDERS edges and print JSON
  ogm inspect subtree 12 --edge ORDERS -o json`,
	}
	cmd.AddCommand(newInspectNodeCommand(a))
	cmd.AddCommand(newInspectSubtreeCommand(a))
	return cmd
}

func newInspectNodeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "node <id>",
		Short: "Show a node with its outgoing relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.inspectSubtree(cmd, args[0], 1, nil)
		},
	}
}

func newInspectSubtreeCommand(a *app) *cobra.Command {
	var (
		depth int
		edges []string
	)
	cmd := &cobra.Command{
		Use:   "subtree <id>",
		Short: "Show everything reachable from a node",
		Long: `Show the nodes and relationships reachable from a node over outgoing
edges. A negative depth follows edges without limit; depth 0 shows the node
alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.inspectSubtree(cmd, args[0], depth, edges)
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "Maximum number of hops")
	cmd.Flags().StringSliceVarP(&edges, "edge", "e", nil, "Only follow these edge types (repeatable)")
	return cmd
}

func (a *app) inspectSubtree(cmd *cobra.Command, arg string, depth int, edges []string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	return a.withSession(cmd, func(ctx context.Context, s *session) error {
		labels, err := s.labels(ctx, id)
		if err != nil {
			return err
		}
		if len(labels) == 0 {
			ui.NotFound(fmt.Sprintf("node %d", id), nil, a.colorless()).Write(cmd.ErrOrStderr())
			return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
		}

		res, err := s.read(ctx, cypher.FindSubtree(labels[0], id, depth, edges...))
		if err != nil {
			return err
		}
		subgraphs, err := res.Subgraphs()
		if err != nil {
			return err
		}
		if len(subgraphs) == 0 {
			return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
		}

		view := newSubgraphView(subgraphs[0])
		out := cmd.OutOrStdout()
		if ok, err := encode(out, a.output, view); ok {
			return err
		}
		a.renderSubgraph(out, view)
		return nil
	})
}

func newLabelsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "labels <id>",
		Short: "Print the labels of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				labels, err := s.labels(ctx, id)
				if err != nil {
					return err
				}
				if len(labels) == 0 {
					ui.NotFound(fmt.Sprintf("node %d", id), nil, a.colorless()).Write(cmd.ErrOrStderr())
					return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
				}
				out := cmd.OutOrStdout()
				if ok, err := encode(out, a.output, labels); ok {
					return err
				}
				for _, label := range labels {
					fmt.Fprintln(out, label)
				}
				return nil
			})
		},
	}
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count nodes, relationships and labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				stats, order, err := s.stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if ok, err := encode(out, a.output, stats); ok {
					return err
				}

				noColor := a.colorless()
				ui.Header(out, fmt.Sprintf("%s backend", a.cfg.Backend), noColor)
				kv := ui.NewKeyValueTable(out, noColor)
				kv.AddRow("nodes", strconv.FormatInt(stats.Nodes, 10))
				kv.AddRow("relationships", strconv.FormatInt(stats.Edges, 10))
				kv.Render()
				if len(order) == 0 {
					return nil
				}
				fmt.Fprintln(out)
				if !a.cfg.NamespaceAware {
					table := ui.NewTable(out, noColor, "LABEL", "NODES")
					for _, label := range order {
						table.AddRow(label, strconv.FormatInt(stats.Labels[label], 10))
					}
					table.Render()
					return nil
				}
				// Qualified labels read <namespace>_<Label>.
				table := ui.NewTable(out, noColor, "NAMESPACE", "LABEL", "NODES")
				for _, label := range order {
					ns, name, ok := strings.Cut(label, "_")
					if !ok {
						ns, name = "", label
					}
					table.AddRow(ns, name, strconv.FormatInt(stats.Labels[label], 10))
				}
				table.Render()
				return nil
			})
		},
	}
}

// stats returns the totals and the labels in store order.
func (s *session) stats(ctx context.Context) (statsView, []string, error) {
	v := statsView{Labels: map[string]int64{}}
	res, err := s.read(ctx, cypher.Stats())
	if err != nil {
		return v, nil, err
	}
	if len(res.Records) == 0 || len(res.Records[0].Values) < 2 {
		return v, nil, errors.New("unexpected stats result")
	}
	v.Nodes, _ = executor.AsInt64(res.Records[0].Values[0])
	v.Edges, _ = executor.AsInt64(res.Records[0].Values[1])

	res, err = s.read(ctx, cypher.LabelCounts())
	if err != nil {
		return v, nil, err
	}
	var order []string
	for _, rec := range res.Records {
		if len(rec.Values) < 2 {
			continue
		}
		label, ok := rec.Values[0].(string)
		if !ok {
			continue
		}
		n, _ := executor.AsInt64(rec.Values[1])
		v.Labels[label] = n
		order = append(order, label)
	}
	return v, order, nil
}

func newPurgeCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge <label>",
		Short: "Delete every node carrying a label",
		Long: `Delete every node carrying a label together with its relationships.
Unless --yes is given the command asks for confirmation. Labels that no node
carries are reported with the closest existing labels.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.completeLabels,
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				stats, order, err := s.stats(ctx)
				if err != nil {
					return err
				}
				count, ok := stats.Labels[label]
				if !ok {
					ui.NotFound(fmt.Sprintf("label %s", label), ui.FindSimilar(label, order, 3), a.colorless()).Write(cmd.ErrOrStderr())
					return fmt.Errorf("no node carries label %q", label)
				}

				if !yes {
					confirmed := false
					prompt := &survey.Confirm{Message: fmt.Sprintf("Delete %d %s nodes and their relationships?", count, label)}
					if err := a.ask(prompt, &confirmed); err != nil {
						return err
					}
					if !confirmed {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
				}

				if _, err := s.write(ctx, cypher.DeleteAll(label)); err != nil {
					return err
				}
				a.logger.Info("purged label", zap.String("label", label), zap.Int64("nodes", count))
				ui.Success(cmd.OutOrStdout(), fmt.Sprintf("deleted %d %s nodes", count, label), a.colorless())
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
