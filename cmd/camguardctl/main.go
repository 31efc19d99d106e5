// Package main implements camguardctl, the thin CLI dispatcher over
// camguardd's HTTP control surface.
//
// Usage:
//
//	camguardctl [--server=URL] <command> [args]
//
// Commands:
//
//	status                     Show aggregate capture status
//	start <id|all>             Start one source, or all of them
//	stop <id|all>              Stop one source, or all of them
//	restart all                Bulk restart (stop, settle, start)
//	stats                      Show storage usage and per-source totals
//	cleanup [--dry-run]        Run an on-demand age-based prune
//	transcode {stats|enable|disable}
//	menu                       Launch the interactive huh-based menu
//
// Exit codes: 0 success, 1 validation error, 2 operational error.
package main

import (
	"os"

	"github.com/fernbank/camguard/cmd/camguardctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
