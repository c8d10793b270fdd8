package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/ogm/internal/cli/ui"
	"github.com/conduit-lang/ogm/internal/codegen"
	"github.com/conduit-lang/ogm/internal/logging"
)

func main() {
	var (
		dir      string
		workers  int
		logLevel string
		noColor  bool
		dryRun   bool
	)

	rootCmd := &cobra.Command{
		Use:   "ogmgen [packages]",
		Short: "Generate ogm schema registrations",
		Long: `ogmgen reads //ogm:node and //ogm:relationship structs with ogm field
tags and writes ` + codegen.FileName + ` into each package. The file
declares OGMSchema() and RegisterOGMSchema(reg).`,
		Example: `  ogmgen ./...
  ogmgen --dry-run ./internal/model`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			if len(args) == 0 {
				args = []string{"./..."}
			}
			logger := logging.OrNop(logLevel, "console")
			defer logger.Sync()

			g := codegen.New(codegen.WithLogger(logger), codegen.WithWorkers(workers))
			pkgs, err := g.Load(cmd.Context(), dir, args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pkgs) == 0 {
				ui.Message{Level: ui.LevelWarning, Problem: "no annotated types found", NoColor: color.NoColor}.Write(out)
				return nil
			}

			if dryRun {
				for _, pkg := range pkgs {
					ui.Header(out, filepath.Join(pkg.Dir, codegen.FileName), color.NoColor)
					if err := codegen.Render(pkg).Render(out); err != nil {
						return err
					}
				}
				return nil
			}

			written, err := g.Generate(cmd.Context(), pkgs)
			if err != nil {
				return err
			}
			for i, path := range written {
				ui.Success(out, fmt.Sprintf("%s (%d types)", path, len(pkgs[i].Types)), color.NoColor)
			}
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&dir, "dir", "C", ".", "Directory the package patterns are resolved in")
	flags.IntVarP(&workers, "workers", "j", 4, "Files rendered in parallel")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&dryRun, "dry-run", false, "Print the generated files instead of writing them")

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
