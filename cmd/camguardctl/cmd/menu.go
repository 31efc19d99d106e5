// SPDX-License-Identifier: MIT

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fernbank/camguard/internal/menu"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Launch the interactive operator menu",
	RunE: func(cmd *cobra.Command, args []string) error {
		return menu.CreateMainMenu(client()).Display()
	},
}

func init() {
	rootCmd.AddCommand(menuCmd)
}
