// Package cli defines the stagehand command tree.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagehand-ci/stagehand/internal/app"
	"github.com/stagehand-ci/stagehand/internal/config"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand builds the `stagehand` command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "stagehand",
		Short:         "A workflow runner that executes YAML-defined job graphs",
		Long:          "Stagehand parses a workflow file, expands matrix jobs, builds the dependency graph, and executes jobs concurrently while honoring needs, conditions, and timeouts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a stagehand config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text, json")

	cmd.AddCommand(newRunCommand(flags))
	cmd.AddCommand(newPlanCommand(flags))
	cmd.AddCommand(newRunsCommand(flags))

	return cmd
}

// newApp loads configuration, applies flag overrides, and constructs the app.
func (f *rootFlags) newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	return app.New(cmd.OutOrStdout(), os.Stderr, cfg)
}

// parseKeyValues turns repeated `key=value` flags into a map.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, val, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", pair)
		}
		m[key] = val
	}
	return m, nil
}
