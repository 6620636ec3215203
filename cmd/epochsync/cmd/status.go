package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/epochsync/internal/timer"
)

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show the state of a timer",
	Long: `Show whether the timer under id (default: this machine's id) is running,
expired, or absent. A record that cannot be parsed is reported as an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		var id string
		if len(args) == 1 {
			id = args[0]
		}
		r, err := a.ctrl.Status(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "ID:        %s\n", r.Key)
		fmt.Fprintf(cmd.OutOrStdout(), "State:     %s\n", r.State)
		if r.State == timer.StateAbsent {
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ends at:   %s\n", formatEpoch(r.EndTime))
		if r.State == timer.StateRunning {
			fmt.Fprintf(cmd.OutOrStdout(), "Remaining: %s\n", r.Remaining.Round(time.Second))
		}
		if r.TimerID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Run:       %s\n", r.TimerID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
