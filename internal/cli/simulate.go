package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-failure",
	Short: "Send a synthetic failed-invocation notification through the alerting channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := getApp().SimulateFailure(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), report.String())
		return nil
	},
}
