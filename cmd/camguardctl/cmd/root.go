// SPDX-License-Identifier: MIT

// Package cmd implements the camguardctl CLI commands: a thin dispatcher
// over camguardd's HTTP control surface, built on a cobra root command
// with one subcommand per file.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fernbank/camguard/internal/cliutil"
)

var serverAddr string

// rootCmd is the base command when camguardctl is invoked with no
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "camguardctl",
	Short: "Control surface client for the camguard capture daemon",
	Long: `camguardctl is a thin CLI dispatcher over camguardd's HTTP control
surface: it lists, starts, stops and restarts capture sources, reports
storage and re-encoder statistics, and triggers an on-demand cleanup
pass, all by calling the daemon's running HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:8080", "camguardd control surface base URL")
}

func client() *cliutil.Client {
	return cliutil.New(serverAddr)
}

// Execute runs the root command and returns the process exit code:
// 0 success, 1 validation error, 2 operational error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cliutil.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "error:", exitErr.Error())
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
