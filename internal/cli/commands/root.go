package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/ogm/internal/cli/ui"
	"github.com/conduit-lang/ogm/internal/config"
	"github.com/conduit-lang/ogm/internal/logging"
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputYAML  = "yaml"
	OutputJSON  = "json"
)

var outputs = []string{OutputTable, OutputYAML, OutputJSON}

// standalone marks commands that run without loading the configuration.
const standalone = "ogm/standalone"

// Opener opens the graph driver a configuration selects.
type Opener func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (executor.Driver, error)

// Prompter asks one interactive question. survey.AskOne satisfies it.
type Prompter func(p survey.Prompt, response any, opts ...survey.AskOpt) error

// Option configures the root command.
type Option func(*app)

// WithOpener replaces the driver opener.
func WithOpener(open Opener) Option {
	return func(a *app) { a.open = open }
}

// WithPrompter replaces the interactive prompt.
func WithPrompter(ask Prompter) Option {
	return func(a *app) { a.ask = ask }
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	configPath     string
	backend        string
	namespaceAware bool
	noColor        bool
	logLevel       string
	output         string

	open Opener
	ask  Prompter

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand creates the root command
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{open: OpenDriver, ask: survey.AskOne, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}

	rootCmd := &cobra.Command{
		Use:   "ogm",
		Short: "Object graph mapper tooling",
		Long: color.CyanString(`ogm - typed objects on a property graph

Inspect and maintain the graphs written by the ogm mapper on any of its
backends: the in-memory store, BadgerDB, SQLite or Neo4j.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default ./ogm.yaml or ~/.ogm/ogm.yaml)")
	flags.StringVarP(&a.backend, "backend", "b", "", "Backend: memory, badger, sqlite or neo4j")
	flags.BoolVar(&a.namespaceAware, "namespace-aware", false, "Qualify labels and edge types with their namespace")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVarP(&a.output, "output", "o", OutputTable, "Output format: table, yaml or json")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewCompletionCommand())
	rootCmd.AddCommand(newConfigCommand(a))
	rootCmd.AddCommand(newInspectCommand(a))
	rootCmd.AddCommand(newLabelsCommand(a))
	rootCmd.AddCommand(newStatsCommand(a))
	rootCmd.AddCommand(newPurgeCommand(a))
	a.registerCompletions(rootCmd)

	return rootCmd
}

// setup loads the configuration, applies the flag overrides and builds
// the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if a.noColor {
		color.NoColor = true
	}
	if !slices.Contains(outputs, a.output) {
		return fmt.Errorf("unknown output format %q (expected table, yaml or json)", a.output)
	}
	if cmd.Annotations[standalone] == "true" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return a.configError(cmd.ErrOrStderr(), err)
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = a.backend
	}
	if cmd.Flags().Changed("namespace-aware") {
		cfg.NamespaceAware = a.namespaceAware
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return a.configError(cmd.ErrOrStderr(), err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) configError(w io.Writer, err error) error {
	var suggestions []string
	if errors.Is(err, config.ErrUnknownBackend) {
		name := a.backend
		if name == "" {
			name = os.Getenv(config.EnvPrefix + "_BACKEND")
		}
		suggestions = ui.FindSimilar(name, config.Backends, 2)
	}
	ui.ConfigError(err.Error(), suggestions, a.colorless()).Write(w)
	return err
}

func (a *app) colorless() bool {
	return a.noColor || color.NoColor
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Long:        "Display the ogm version, Git commit, build date, and Go version",
		Annotations: map[string]string{standalone: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)

			for _, row := range [][2]string{
				{"ogm version: ", Version},
				{"Git commit: ", GitCommit},
				{"Build date: ", BuildDate},
				{"Go version: ", goVer},
			} {
				titleColor.Fprint(out, row[0])
				valueColor.Fprintln(out, row[1])
			}
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
