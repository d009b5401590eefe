package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mobsync %s\n", orUnknown(versionInfo.Version))
		fmt.Printf("  commit: %s\n", orUnknown(versionInfo.Commit))
		fmt.Printf("  built:  %s\n", orUnknown(versionInfo.BuildDate))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
