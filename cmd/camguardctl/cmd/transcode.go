// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fernbank/camguard/internal/cliutil"
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode {stats|enable|disable}",
	Short: "Inspect or toggle the background re-encoder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "stats":
			var status map[string]interface{}
			if err := client().Get(cmd.Context(), "/api/transcoding/status", &status); err != nil {
				return err
			}
			cliutil.Title(os.Stdout, "transcoding")
			cliutil.PrintKV(os.Stdout, status)
			return nil
		case "enable":
			var result struct {
				OK bool `json:"ok"`
			}
			if err := client().Post(cmd.Context(), "/api/transcoding/enable", &result); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "transcoding enabled")
			return nil
		case "disable":
			var result struct {
				OK bool `json:"ok"`
			}
			if err := client().Post(cmd.Context(), "/api/transcoding/disable", &result); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "transcoding disabled")
			return nil
		default:
			return cliutil.ValidationError(fmt.Errorf("unknown transcode subcommand %q: want stats, enable or disable", args[0]))
		}
	},
}

func init() {
	rootCmd.AddCommand(transcodeCmd)
}
