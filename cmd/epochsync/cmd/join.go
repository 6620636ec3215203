package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/epochsync/internal/session"
)

var joinCmd = &cobra.Command{
	Use:   "join <id>",
	Short: "Wait on someone else's timer",
	Long: `Look up the timer stored under id and block until it fires.

An unknown id or a timer that has already ended is reported and the command
exits cleanly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ctrl.Join(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		switch res.Outcome {
		case session.UnknownID:
			fmt.Fprintf(cmd.OutOrStdout(), "No timer found for %s.\n", res.Key)
		case session.Expired:
			fmt.Fprintf(cmd.OutOrStdout(), "The timer for %s already ended at %s.\n", res.Key, formatEpoch(res.EndTime))
		case session.Canceled:
			fmt.Fprintln(cmd.OutOrStdout(), "Timer was canceled.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
