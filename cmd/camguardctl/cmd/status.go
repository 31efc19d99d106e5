// SPDX-License-Identifier: MIT

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fernbank/camguard/internal/cliutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aggregate capture status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status map[string]interface{}
		if err := client().Get(cmd.Context(), "/api/status", &status); err != nil {
			return err
		}
		cliutil.Title(os.Stdout, "camguard status")
		cliutil.PrintKV(os.Stdout, status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
