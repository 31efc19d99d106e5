// SPDX-License-Identifier: MIT

//go:build !linux

package transcode

// lowerPriority is a no-op on platforms without setpriority(2) semantics
// camguard targets; the scheduling gate's CPU/IO-wait thresholds still
// apply regardless.
func lowerPriority(pid int) error { return nil }
