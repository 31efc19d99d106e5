// SPDX-License-Identifier: MIT

// Package fleet is the registry of per-source supervisors: a single
// suture.Supervisor tree plus the bulk operations the HTTP control
// surface drives.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/encoder"
	"github.com/fernbank/camguard/internal/supervisor"
)

// settleInterval is the fixed pause between stop-all and start-all in a
// bulk restart, letting device handles release.
const settleInterval = 2 * time.Second

// Outcome is the per-source result of a bulk operation.
type Outcome struct {
	SourceID string
	Err      error
}

// BulkResult is the aggregate outcome of a fleet-wide operation.
type BulkResult struct {
	Outcomes []Outcome
	Success  bool
}

type entry struct {
	sup   *supervisor.Supervisor
	token suture.ServiceToken
}

// Controller is the fleet-wide registry and mutation gate.
type Controller struct {
	tree   *suture.Supervisor
	logger *slog.Logger

	// mu is the single mutation mutex every state-changing
	// control-surface route must acquire before issuing commands;
	// read-only Snapshot calls do not take it.
	mu sync.Mutex

	entries map[string]*entry
}

// New creates an empty Controller. Call Register for each configured
// source, then Serve the Controller as a suture.Service to start the
// tree.
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		tree:    suture.NewSimple("camguard-fleet"),
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register adds a source's supervisor to the tree. Must be called before
// Serve starts the tree.
func (c *Controller) Register(sourceID string, src config.SourceConfig, snap *config.Snapshot, adapter *encoder.Adapter, shuttingDown func() bool) {
	sup := supervisor.New(sourceID, src, snap, adapter, c.logger, shuttingDown)
	token := c.tree.Add(sup)
	c.entries[sourceID] = &entry{sup: sup, token: token}
}

// Name identifies this service within an outer suture supervision tree.
func (c *Controller) Name() string { return "fleet" }

// Serve implements suture.Service so the Controller's tree can itself be
// supervised by an outer tree (e.g. alongside the re-encoder engine).
func (c *Controller) Serve(ctx context.Context) error {
	return c.tree.Serve(ctx)
}

var _ suture.Service = (*Controller)(nil)

func (c *Controller) lookup(id string) (*entry, error) {
	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("fleet: unknown source %q", id)
	}
	return e, nil
}

// Start forwards to one supervisor's Start.
func (c *Controller) Start(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookup(id)
	if err != nil {
		return err
	}
	return e.sup.Start(ctx)
}

// Stop forwards to one supervisor's Stop.
func (c *Controller) Stop(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookup(id)
	if err != nil {
		return err
	}
	return e.sup.Stop(ctx)
}

// Restart forwards to one supervisor's Restart.
func (c *Controller) Restart(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookup(id)
	if err != nil {
		return err
	}
	return e.sup.Restart(ctx)
}

// enabledIDs returns the sorted set of registered source ids.
func (c *Controller) enabledIDs() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartAll starts every registered source in parallel, collecting
// per-id results. Not atomic: partial success is reported, never rolled
// back.
func (c *Controller) StartAll(ctx context.Context) BulkResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parallelOp(ctx, func(ctx context.Context, e *entry) error {
		return e.sup.Start(ctx)
	})
}

// StopAll stops every registered source in parallel.
func (c *Controller) StopAll(ctx context.Context) BulkResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parallelOp(ctx, func(ctx context.Context, e *entry) error {
		return e.sup.Stop(ctx)
	})
}

// RestartAll performs a bulk restart: stop all in parallel, settle,
// start all in parallel, aggregate.
func (c *Controller) RestartAll(ctx context.Context) BulkResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	stopRes := c.parallelOp(ctx, func(ctx context.Context, e *entry) error {
		return e.sup.Stop(ctx)
	})

	select {
	case <-time.After(settleInterval):
	case <-ctx.Done():
	}

	startRes := c.parallelOp(ctx, func(ctx context.Context, e *entry) error {
		e.sup.ClearBackoff()
		return e.sup.Start(ctx)
	})

	success := stopRes.Success && startRes.Success
	return BulkResult{Outcomes: startRes.Outcomes, Success: success}
}

func (c *Controller) parallelOp(ctx context.Context, op func(context.Context, *entry) error) BulkResult {
	ids := c.enabledIDs()
	outcomes := make([]Outcome, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		e := c.entries[id]
		wg.Add(1)
		go func(i int, id string, e *entry) {
			defer wg.Done()
			outcomes[i] = Outcome{SourceID: id, Err: op(ctx, e)}
		}(i, id, e)
	}
	wg.Wait()

	success := true
	for _, o := range outcomes {
		if o.Err != nil {
			success = false
			break
		}
	}
	return BulkResult{Outcomes: outcomes, Success: success}
}

// Snapshot returns the status of every registered supervisor. It never
// takes the mutation mutex, and each supervisor's Status() takes only
// that supervisor's own read lock, so this never blocks on a mutator
// holding the mutation mutex. Each entry is consistent on its own; the
// entries are not read as one atomic view.
func (c *Controller) Snapshot() []supervisor.Status {
	ids := c.enabledIDs()
	out := make([]supervisor.Status, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.entries[id].sup.Status())
	}
	return out
}
