package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var printidCmd = &cobra.Command{
	Use:   "printid",
	Short: "Print this machine's id",
	Long:  `Print the id others pass to "epochsync join". The store is not contacted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		id, err := a.ctrl.PrintID()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(printidCmd)
}
