// SPDX-License-Identifier: MIT

// Package health implements the periodic health tick and HTTP health
// surface: confirm source liveness, trigger storage pruning, run the
// re-encoder's deferred-delete sweep, and emit one structured status
// line per tick.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/fleet"
	"github.com/fernbank/camguard/internal/storage"
	"github.com/fernbank/camguard/internal/supervisor"
	"github.com/fernbank/camguard/internal/transcode"
)

// defaultTickInterval is the health monitor's periodic tick.
const defaultTickInterval = 10 * time.Second

// SourceInfo describes the health state of a single source supervisor.
type SourceInfo struct {
	Name    string        `json:"name"`
	State   string        `json:"state"`
	Uptime  time.Duration `json:"uptime_ns"`
	Healthy bool          `json:"healthy"`
	LastExit int          `json:"last_exit,omitempty"`
}

// StorageInfo summarizes recordings-volume occupancy in a health response.
type StorageInfo struct {
	TotalBytes   uint64  `json:"total_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	UsedFraction float64 `json:"used_fraction"`
}

// TranscodeInfo summarizes the re-encoder's cumulative statistics.
type TranscodeInfo struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Response is the JSON body returned by /healthz.
type Response struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Sources   []SourceInfo  `json:"sources"`
	Storage   *StorageInfo  `json:"storage,omitempty"`
	Transcode *TranscodeInfo `json:"transcode,omitempty"`
}

// Monitor runs the periodic health tick and serves /healthz + /metrics.
type Monitor struct {
	fleet  *fleet.Controller
	store  *storage.Manager
	engine *transcode.Engine
	snap   *config.Snapshot
	logger *slog.Logger

	tickInterval time.Duration
	metrics      *metricsSet
}

// New creates a Monitor tying together the fleet controller, storage
// manager and re-encoder engine.
func New(f *fleet.Controller, store *storage.Manager, engine *transcode.Engine, snap *config.Snapshot, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		fleet:        f,
		store:        store,
		engine:       engine,
		snap:         snap,
		logger:       logger.With("component", "health"),
		tickInterval: defaultTickInterval,
		metrics:      newMetricsSet(),
	}
}

// Name identifies this service within a suture supervision tree.
func (m *Monitor) Name() string { return "health-monitor" }

// Serve implements suture.Service: it ticks every tickInterval until ctx
// is cancelled, performing the five ordered steps below.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick performs five ordered steps: liveness, emergency prune, age-based
// prune, deferred-delete sweep, one summary log line. None of them
// block on a supervisor for more than a bounded short interval; a real
// transcode or a massive prune has already yielded control by the time
// this runs (the re-encoder and storage pruning here only evaluate
// thresholds and dispatch bounded operations).
func (m *Monitor) tick(ctx context.Context) {
	statuses := m.fleet.Snapshot()
	for _, st := range statuses {
		healthy := st.State == supervisor.StateRunning
		m.metrics.setSourceHealthy(st.SourceID, healthy)
		m.metrics.setSourceUptime(st.SourceID, time.Since(st.StartedAt))
	}

	usage, err := m.store.Usage()
	if err != nil {
		m.logger.Error("usage query failed", "err", err)
	} else {
		m.metrics.setDiskUsage(usage)
		if usage.UsedFraction >= m.snap.Storage.EmergencyUsedFraction {
			before := usage
			res, err := m.store.EmergencyPrune(m.snap.Storage.EmergencyTargetFraction)
			if err != nil {
				m.logger.Error("emergency prune failed", "err", err)
			} else {
				after, _ := m.store.Usage()
				m.logger.Warn("emergency prune ran",
					"before_fraction", before.UsedFraction,
					"after_fraction", after.UsedFraction,
					"removed", res.RemovedCount,
					"freed_bytes", res.FreedBytes,
				)
			}
		}
	}

	if m.snap.Storage.CleanupEnabled {
		maxAge := time.Duration(m.snap.Storage.MaxAgeDays) * 24 * time.Hour
		if res, err := m.store.PruneByAge(maxAge, false); err != nil {
			m.logger.Error("age prune failed", "err", err)
		} else if res.RemovedCount > 0 {
			m.logger.Info("age prune ran", "removed", res.RemovedCount, "freed_bytes", res.FreedBytes)
		}
	}

	if m.engine != nil {
		m.engine.DeferredDeleteSweep()
		stats := m.engine.StatsSnapshot()
		m.metrics.setTranscodeStats(stats)
	}

	m.logger.Info("health tick complete", "sources", len(statuses))
}

// Response builds the current /healthz JSON body.
func (m *Monitor) Response() Response {
	statuses := m.fleet.Snapshot()
	sources := make([]SourceInfo, 0, len(statuses))
	healthy := len(statuses) > 0
	for _, st := range statuses {
		ok := st.State == supervisor.StateRunning
		if !ok {
			healthy = false
		}
		sources = append(sources, SourceInfo{
			Name:     st.SourceID,
			State:    st.State.String(),
			Uptime:   time.Since(st.StartedAt),
			Healthy:  ok,
			LastExit: st.LastExit,
		})
	}

	resp := Response{Timestamp: time.Now(), Sources: sources}
	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	if usage, err := m.store.Usage(); err == nil {
		resp.Storage = &StorageInfo{
			TotalBytes:   usage.TotalBytes,
			FreeBytes:    usage.FreeBytes,
			UsedFraction: usage.UsedFraction,
		}
		if usage.UsedFraction >= m.snap.Storage.EmergencyUsedFraction {
			resp.Status = "degraded"
		}
	}

	if m.engine != nil {
		stats := m.engine.StatsSnapshot()
		resp.Transcode = &TranscodeInfo{Succeeded: stats.Succeeded, Failed: stats.Failed}
	}

	return resp
}

// HealthzHandler serves /healthz as JSON.
func (m *Monitor) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := m.Response()
	w.Header().Set("Content-Type", "application/json")
	if resp.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// MetricsHandler serves /metrics using the registered Prometheus collectors.
func (m *Monitor) MetricsHandler() http.Handler {
	return m.metrics.handler()
}
