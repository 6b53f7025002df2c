package cli

import (
	"github.com/spf13/cobra"

	"github.com/stagehand-ci/stagehand/internal/app"
)

func newRunCommand(flags *rootFlags) *cobra.Command {
	var (
		workers int
		inputs  []string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			dispatchInputs, err := parseKeyValues(inputs)
			if err != nil {
				return err
			}

			_, err = a.Run(cmd.Context(), args[0], app.RunOptions{
				DispatchInputs: dispatchInputs,
				Workers:        workers,
			})
			return err
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "max jobs running concurrently (0 uses the configured default)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "workflow_dispatch input as key=value (repeatable)")

	return cmd
}
