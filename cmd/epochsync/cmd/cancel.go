package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Delete this machine's timer",
	Long: `Delete the timer stored under this machine's id. Succeeds when there is none.

Participants already waiting are not stopped unless they run with
--follow-cancel.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ctrl.Cancel(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Timer canceled.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
