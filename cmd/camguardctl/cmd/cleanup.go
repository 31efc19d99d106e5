// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run an on-demand age-based prune of recorded segments",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/storage/cleanup"
		if cleanupDryRun {
			path += "?dry_run=true"
		}
		var result struct {
			DryRun       bool  `json:"dry_run"`
			RemovedCount int   `json:"removed_count"`
			FreedBytes   int64 `json:"freed_bytes"`
		}
		if err := client().Post(cmd.Context(), path, &result); err != nil {
			return err
		}
		verb := "removed"
		if result.DryRun {
			verb = "would remove"
		}
		fmt.Fprintf(os.Stdout, "%s %d segment(s), %d bytes\n", verb, result.RemovedCount, result.FreedBytes)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be removed without deleting")
	rootCmd.AddCommand(cleanupCmd)
}
