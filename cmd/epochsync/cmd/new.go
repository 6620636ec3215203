package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/epochsync/internal/session"
	"github.com/snehjoshi/epochsync/internal/timer"
)

var newCmd = &cobra.Command{
	Use:   "new <duration_minutes>",
	Short: "Start a timer and wait for it",
	Long: `Start a timer of the given number of whole minutes under this machine's id,
print the id others can join with, and block until it fires.

If a timer under this id has not expired yet, nothing is written and the
command exits non-zero. An expired timer is replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || minutes > timer.MaxDurationMinutes {
			return fmt.Errorf("invalid duration %q: must be a whole number of minutes up to %d", args[0], uint64(timer.MaxDurationMinutes))
		}
		cmd.SilenceUsage = true

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ctrl.New(cmd.Context(), minutes)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case session.AlreadyRunning:
			fmt.Fprintf(cmd.OutOrStdout(), "A timer is already running under %s, ending at %s.\n", res.Key, formatEpoch(res.EndTime))
			return errAlreadyRunning
		case session.Canceled:
			fmt.Fprintln(cmd.OutOrStdout(), "Timer was canceled.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
}
