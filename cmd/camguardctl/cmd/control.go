// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fernbank/camguard/internal/cliutil"
)

var startCmd = &cobra.Command{
	Use:   "start <id|all>",
	Short: "Start one capture source, or all of them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneOrAll(cmd, args[0], "start")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <id|all>",
	Short: "Stop one capture source, or all of them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneOrAll(cmd, args[0], "stop")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart all",
	Short: "Bulk restart of all capture sources; a single source id is rejected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		if target != "all" {
			return cliutil.ValidationError(fmt.Errorf("restart of a single source is not supported; use 'stop %s' then 'start %s', or 'restart all'", target, target))
		}
		var result map[string]interface{}
		if err := client().Post(cmd.Context(), "/api/system/restart_cameras", &result); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%v\n", result["message"])
		if w, ok := result["warning"]; ok && w != nil && w != "" {
			fmt.Fprintf(os.Stderr, "warning: %v\n", w)
		}
		return nil
	},
}

func runOneOrAll(cmd *cobra.Command, target, verb string) error {
	if target == "all" {
		var result struct {
			Results map[string]string `json:"results"`
		}
		path := fmt.Sprintf("/api/%s_all", verb)
		if err := client().Post(cmd.Context(), path, &result); err != nil {
			return err
		}
		cliutil.PrintBulkResult(os.Stdout, result.Results)
		return nil
	}

	path := fmt.Sprintf("/api/camera/%s/%s", target, verb)
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := client().Post(cmd.Context(), path, &result); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s: ok\n", target)
	return nil
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd)
}
