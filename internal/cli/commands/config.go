package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/ogm/internal/cli/ui"
	"github.com/conduit-lang/ogm/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the ogm configuration",
		Long: `Create and display the ogm configuration.

Settings are read from ogm.yaml in the working directory, then from
~/.ogm/ogm.yaml. OGM_* environment variables override the file, for example
OGM_BACKEND=neo4j or OGM_NEO4J_URI=bolt://db:7687.`,
		Example: `  # Create ogm.yaml interactively
  ogm config init

  # Create ogm.yaml with the defaults
  ogm config init --yes

  # Print the effective settings
  ogm config show`,
	}

	cmd.AddCommand(newConfigInitCommand(a))
	cmd.AddCommand(newConfigShowCommand(a))
	return cmd
}

func newConfigInitCommand(a *app) *cobra.Command {
	var (
		path  string
		yes   bool
		force bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a new ogm.yaml",
		Annotations: map[string]string{standalone: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if !yes {
				if err := a.askConfig(cfg); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Write(path); err != nil {
				return err
			}
			ui.Success(cmd.OutOrStdout(), fmt.Sprintf("wrote %s (%s backend)", path, cfg.Backend), a.colorless())
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", config.FileName+".yaml", "File to write")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept the defaults without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// askConfig fills cfg from interactive answers.
func (a *app) askConfig(cfg *config.Config) error {
	if err := a.ask(&survey.Select{
		Message: "Backend:",
		Options: config.Backends,
		Default: cfg.Backend,
	}, &cfg.Backend); err != nil {
		return err
	}

	switch cfg.Backend {
	case config.BackendBadger:
		if err := a.ask(&survey.Confirm{Message: "Keep the store in memory only?", Default: false}, &cfg.Badger.InMemory); err != nil {
			return err
		}
		if !cfg.Badger.InMemory {
			if err := a.ask(&survey.Input{Message: "Data directory:", Default: cfg.Badger.Path}, &cfg.Badger.Path, survey.WithValidator(survey.Required)); err != nil {
				return err
			}
		}
	case config.BackendSQLite:
		if err := a.ask(&survey.Input{Message: "Database file:", Default: cfg.SQLite.Path}, &cfg.SQLite.Path, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	case config.BackendNeo4j:
		if err := a.ask(&survey.Input{Message: "Neo4j URI:", Default: cfg.Neo4j.URI}, &cfg.Neo4j.URI, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
		if err := a.ask(&survey.Input{Message: "Username:", Default: cfg.Neo4j.Username}, &cfg.Neo4j.Username); err != nil {
			return err
		}
		if err := a.ask(&survey.Password{Message: "Password:"}, &cfg.Neo4j.Password); err != nil {
			return err
		}
		if err := a.ask(&survey.Input{Message: "Database (empty for the default):"}, &cfg.Neo4j.Database); err != nil {
			return err
		}
	}

	if err := a.ask(&survey.Confirm{Message: "Qualify labels with their namespace?", Default: cfg.NamespaceAware}, &cfg.NamespaceAware); err != nil {
		return err
	}

	retries := strconv.Itoa(cfg.Retry.MaxRetries)
	if err := a.ask(&survey.Input{Message: "Transaction retries:", Default: retries}, &retries, survey.WithValidator(nonNegative)); err != nil {
		return err
	}
	n, err := strconv.Atoi(retries)
	if err != nil {
		return fmt.Errorf("invalid retry count %q: %w", retries, err)
	}
	cfg.Retry.MaxRetries = n
	return nil
}

func nonNegative(ans any) error {
	s, _ := ans.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return errors.New("enter a whole number of at least 0")
	}
	return nil
}

func newConfigShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after the file, environment and flags are applied. It is always printed as YAML with the Neo4j password masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg.Redacted())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
