// SPDX-License-Identifier: MIT

//go:build linux

package transcode

import "syscall"

// lowerPriority sets the re-encode child to the lowest niceness the
// platform allows, so it never competes with live capture for CPU.
// Best-effort: an unprivileged process may not be able to raise niceness
// to the maximum on every kernel, so the error is logged by the caller,
// not treated as fatal.
func lowerPriority(pid int) error {
	return syscall.Setpriority(syscall.PRIO_PROCESS, pid, 19)
}
