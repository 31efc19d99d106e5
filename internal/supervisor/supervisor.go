// SPDX-License-Identifier: MIT

// Package supervisor owns a single source's capture-child lifecycle:
// state machine, command serialization and bounded exponential backoff
// on unexpected exit. Each Supervisor is a
// suture.Service, so the fleet controller (internal/fleet) runs a tree of
// them under a suture.Supervisor instead of a hand-rolled goroutine pool.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/encoder"
)

// State is one of the source supervisor's lifecycle states.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Errors surfaced to fleet callers.
var (
	ErrBusy         = errors.New("supervisor: busy")
	ErrLaunchFailed = errors.New("supervisor: launch failed")
)

// UnexpectedExitError reports a child that exited while Running.
type UnexpectedExitError struct {
	Code int
}

func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("supervisor: unexpected exit code %d", e.Code)
}

// Backoff implements the fixed restart policy: initial delay 2s, doubling
// to a 60s cap, reset to initial after 10 continuous minutes Running,
// pinned Failed after 5 exits within a 300s window.
type Backoff struct {
	mu           sync.Mutex
	currentDelay time.Duration
	exitTimes    []time.Time
}

const (
	backoffInitial    = 2 * time.Second
	backoffMax        = 60 * time.Second
	backoffResetAfter = 10 * time.Minute
	pinWindow         = 300 * time.Second
	pinThreshold      = 5
)

// NewBackoff creates a Backoff at its initial delay.
func NewBackoff() *Backoff {
	return &Backoff{currentDelay: backoffInitial}
}

// RecordExit records an unexpected exit and returns the delay to wait
// before the next launch attempt, along with whether the supervisor
// should pin in Failed (5 exits within 300s).
func (b *Backoff) RecordExit(runDuration time.Duration, now time.Time) (delay time.Duration, pin bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runDuration >= backoffResetAfter {
		b.currentDelay = backoffInitial
		b.exitTimes = nil
	}
	delay = b.currentDelay
	b.currentDelay *= 2
	if b.currentDelay > backoffMax {
		b.currentDelay = backoffMax
	}

	b.exitTimes = append(b.exitTimes, now)
	cutoff := now.Add(-pinWindow)
	kept := b.exitTimes[:0]
	for _, t := range b.exitTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.exitTimes = kept

	return delay, len(b.exitTimes) >= pinThreshold
}

// Reset clears the backoff state after an operator-initiated restart.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentDelay = backoffInitial
	b.exitTimes = nil
}

// Status is a point-in-time read of a supervisor's state.
type Status struct {
	SourceID    string
	State       State
	Pid         int
	StartedAt   time.Time
	LastExit    int
	HasLastExit bool
	StderrTail  []string
}

// command is a serialized request processed one at a time by the
// supervisor's run loop, keeping all state mutation on a single
// goroutine.
type command struct {
	kind  commandKind
	reply chan error
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

const defaultGracefulDeadline = 10 * time.Second

// Supervisor owns one source's child lifecycle and implements
// suture.Service so the fleet controller can run it under a supervision
// tree with automatic restart semantics layered on top of this package's
// own backoff (suture's own restart intervals are kept short; the
// domain-level backoff lives here because the restart schedule needs to
// be precise and independently testable).
type Supervisor struct {
	sourceID string
	src      config.SourceConfig
	snap     *config.Snapshot
	adapter  *encoder.Adapter
	logger   *slog.Logger

	gracefulDeadline time.Duration
	backoff          *Backoff

	mu          sync.RWMutex
	state       State
	handle      *encoder.ChildHandle
	started     time.Time
	lastExit    int
	hasLastExit bool

	commands          chan command
	shutdownRequested func() bool
}

// New creates a Supervisor for one source.
func New(sourceID string, src config.SourceConfig, snap *config.Snapshot, adapter *encoder.Adapter, logger *slog.Logger, shuttingDown func() bool) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		sourceID:          sourceID,
		src:               src,
		snap:              snap,
		adapter:           adapter,
		logger:            logger.With("source", sourceID),
		gracefulDeadline:  defaultGracefulDeadline,
		backoff:           NewBackoff(),
		state:             StateStopped,
		commands:          make(chan command),
		shutdownRequested: shuttingDown,
	}
}

// Name identifies this service within a suture supervision tree.
func (s *Supervisor) Name() string { return s.sourceID }

// Serve implements suture.Service. It runs the supervisor's command loop
// until ctx is cancelled, at which point any running child is stopped
// gracefully before returning.
func (s *Supervisor) Serve(ctx context.Context) error {
	defer s.stopChildIfRunning()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
		case <-s.watchChild():
			s.handleChildExit(ctx)
		}
	}
}

// watchChild returns a channel that fires once when the current child
// handle has exited, or a nil channel (never fires) when there is none.
func (s *Supervisor) watchChild() <-chan struct{} {
	s.mu.RLock()
	h := s.handle
	st := s.state
	s.mu.RUnlock()
	if h == nil || st != StateRunning {
		return nil
	}
	ch := make(chan struct{})
	go func() {
		_, err := s.adapter.Wait(h, 24*time.Hour)
		if err == nil {
			close(ch)
		}
	}()
	return ch
}

func (s *Supervisor) handleCommand(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = s.doStart(ctx)
	case cmdStop:
		err = s.doStop()
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (s *Supervisor) doStart(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return nil // idempotent
	case StateStarting, StateStopping:
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateStarting
	s.mu.Unlock()

	outDir := s.snap.SourceDir(s.sourceID)
	args := encoder.BuildArgs(s.snap, s.sourceID, s.src, outDir)
	handle, err := s.adapter.Launch(ctx, s.sourceID, args)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		s.logger.Error("launch failed", "err", err)
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	s.mu.Lock()
	s.handle = handle
	s.started = time.Now()
	s.state = StateRunning
	s.mu.Unlock()
	s.logger.Info("source started", "pid", handle.Pid)
	return nil
}

func (s *Supervisor) doStop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateStopping {
		s.mu.Unlock()
		return ErrBusy
	}
	handle := s.handle
	s.state = StateStopping
	s.mu.Unlock()

	s.stopHandle(handle)

	s.mu.Lock()
	s.state = StateStopped
	s.handle = nil
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) stopChildIfRunning() {
	s.mu.RLock()
	handle := s.handle
	state := s.state
	s.mu.RUnlock()
	if handle == nil || state == StateStopped {
		return
	}
	s.stopHandle(handle)
	s.mu.Lock()
	s.state = StateStopped
	s.handle = nil
	s.mu.Unlock()
}

// stopHandle sends the interrupt signal then waits up to the graceful
// deadline before force-killing.
func (s *Supervisor) stopHandle(handle *encoder.ChildHandle) {
	if handle == nil {
		return
	}
	_ = s.adapter.SignalInterrupt(handle) // ESRCH race is benign
	if _, err := s.adapter.Wait(handle, s.gracefulDeadline); err != nil {
		s.logger.Warn("graceful stop timed out, force killing", "pid", handle.Pid)
		_ = s.adapter.SignalKill(handle)
		_, _ = s.adapter.Wait(handle, 5*time.Second)
	}
}

func (s *Supervisor) handleChildExit(ctx context.Context) {
	s.mu.Lock()
	handle := s.handle
	started := s.started
	s.mu.Unlock()
	if handle == nil {
		return
	}

	status, _ := handle.LastExit()
	s.mu.Lock()
	s.lastExit = status.Code
	s.hasLastExit = true
	s.handle = nil
	s.state = StateFailed
	s.mu.Unlock()

	s.logger.Warn("unexpected exit", "code", status.Code)

	if s.shutdownRequested != nil && s.shutdownRequested() {
		return
	}

	delay, pin := s.backoff.RecordExit(time.Since(started), time.Now())
	if pin {
		s.logger.Error("pinned failed: too many exits in window")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := s.doStart(ctx); err != nil {
		s.logger.Error("auto-restart failed", "err", err)
	}
}

// sendCommand submits a command and waits for its reply, or returns
// immediately if ctx is done first.
func (s *Supervisor) sendCommand(ctx context.Context, kind commandKind) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- command{kind: kind, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start requests a transition to Running.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.sendCommand(ctx, cmdStart)
}

// Stop requests a transition to Stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.sendCommand(ctx, cmdStop)
}

// Restart stops then starts, clearing the backoff so the new run starts
// at the initial delay (operator-initiated restarts are not penalized by
// prior crash history).
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.backoff.Reset()
	return s.Start(ctx)
}

// ClearBackoff resets the crash-retry backoff, used by the fleet
// controller's restart_all so a bulk operator restart is never penalized
// by prior crash history.
func (s *Supervisor) ClearBackoff() {
	s.backoff.Reset()
}

// Status returns a point-in-time snapshot of this supervisor.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		SourceID:    s.sourceID,
		State:       s.state,
		StartedAt:   s.started,
		LastExit:    s.lastExit,
		HasLastExit: s.hasLastExit,
	}
	if s.handle != nil {
		st.Pid = s.handle.Pid
		st.StderrTail = s.handle.StderrTail(32)
	}
	return st
}

// IsHealthy reports whether the supervisor is Running with a live child.
func (s *Supervisor) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning || s.handle == nil {
		return false
	}
	_, exited := s.handle.LastExit()
	return !exited
}

var _ suture.Service = (*Supervisor)(nil)
