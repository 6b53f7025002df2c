package cli

import (
	"github.com/spf13/cobra"
)

func newPlanCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <workflow-file>",
		Short: "Show the execution stages of a workflow without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Plan(cmd.Context(), args[0])
		},
	}
}
