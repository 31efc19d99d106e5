// SPDX-License-Identifier: MIT

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fernbank/camguard/internal/cliutil"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage usage and per-source totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]interface{}
		if err := client().Get(cmd.Context(), "/api/storage", &stats); err != nil {
			return err
		}
		cliutil.Title(os.Stdout, "storage")
		cliutil.PrintKV(os.Stdout, stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
