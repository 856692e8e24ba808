package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scaredginger/dytor/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dytord %s commit=%s go=%s\n",
			build.Version(), build.CommitInfo(), build.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
