package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"token-indexer/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "token-indexer %s (%s)\n", version.Version, runtime.Version())
		fmt.Fprintf(out, "commit: %s\nbuilt:  %s\n", version.Commit, version.BuildDate)
	},
}
