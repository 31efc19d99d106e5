// SPDX-License-Identifier: MIT

package config

import "sync/atomic"

// Toggles holds the runtime flags operators flip live, kept explicitly
// separate from Snapshot: the snapshot is immutable for the process
// lifetime, but the transcoder-enabled flag and the shutdown-in-progress
// flag change during normal operation and must never require a config
// reload.
type Toggles struct {
	transcoderEnabled atomic.Bool
	shuttingDown      atomic.Bool
}

// NewToggles creates a Toggles seeded from the snapshot's initial
// transcoder.enabled value.
func NewToggles(initialTranscoderEnabled bool) *Toggles {
	t := &Toggles{}
	t.transcoderEnabled.Store(initialTranscoderEnabled)
	return t
}

// TranscoderEnabled reports whether the re-encoder is currently allowed to
// start new work.
func (t *Toggles) TranscoderEnabled() bool {
	return t.transcoderEnabled.Load()
}

// SetTranscoderEnabled flips the transcoder flag. Per the Open Question
// decision in SPEC_FULL.md §4, disabling never interrupts a file already
// in progress — it only prevents a new candidate from being picked up.
func (t *Toggles) SetTranscoderEnabled(enabled bool) {
	t.transcoderEnabled.Store(enabled)
}

// ShuttingDown reports whether process-wide shutdown has been initiated.
func (t *Toggles) ShuttingDown() bool {
	return t.shuttingDown.Load()
}

// BeginShutdown marks process-wide shutdown as in progress. Crash
// retries and new transcode candidates must not start once this is set.
func (t *Toggles) BeginShutdown() {
	t.shuttingDown.Store(true)
}
