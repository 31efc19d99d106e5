// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/fernbank/camguard/internal/supervisor"
)

const (
	defaultRecordingsLimit = 50
	maxRecordingsLimit     = 500
	defaultLogLines        = 100
	maxLogLines            = 1000
	cpuSampleDuration      = 200 * time.Millisecond
)

func filenameOf(path string) string {
	return filepath.Base(path)
}

// cameraStatus is one source's entry in GET /api/status and /api/cameras.
type cameraStatus struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Recording  bool    `json:"recording"`
	Healthy    bool    `json:"healthy"`
	Resolution string  `json:"resolution"`
	Framerate  int     `json:"framerate"`
	Device     string  `json:"device"`
	Pid        int     `json:"pid,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemBytes   uint64  `json:"mem_bytes,omitempty"`
}

func (s *Server) cameraStatuses() []cameraStatus {
	statuses := s.fleet.Snapshot()
	out := make([]cameraStatus, 0, len(statuses))
	for _, st := range statuses {
		src := s.snap.Sources[st.SourceID]
		cs := cameraStatus{
			ID:         st.SourceID,
			Name:       src.Name,
			State:      st.State.String(),
			Recording:  st.State == supervisor.StateRunning,
			Healthy:    st.State == supervisor.StateRunning,
			Resolution: src.Resolution,
			Framerate:  src.Framerate,
			Device:     src.Device,
		}
		if st.Pid != 0 {
			cs.Pid = st.Pid
			if p, err := process.NewProcess(int32(st.Pid)); err == nil {
				if pct, err := p.CPUPercent(); err == nil {
					cs.CPUPercent = pct
				}
				if mi, err := p.MemoryInfo(); err == nil && mi != nil {
					cs.MemBytes = mi.RSS
				}
			}
		}
		out = append(out, cs)
	}
	return out
}

// handleStatus serves GET /api/status: aggregate counts, health tier,
// disk summary, per-child detail.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cameras := s.cameraStatuses()
	healthyCount := 0
	for _, c := range cameras {
		if c.Healthy {
			healthyCount++
		}
	}

	tier := "healthy"
	switch {
	case len(cameras) == 0 || healthyCount == 0:
		tier = "unhealthy"
	case healthyCount < len(cameras):
		tier = "degraded"
	}

	usage, err := s.store.Usage()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"health_tier":    tier,
		"camera_count":   len(cameras),
		"healthy_count":  healthyCount,
		"cameras":        cameras,
		"disk": map[string]interface{}{
			"total_bytes":   usage.TotalBytes,
			"free_bytes":    usage.FreeBytes,
			"used_fraction": usage.UsedFraction,
		},
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

// handleCameras serves GET /api/cameras.
func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cameraStatuses())
}

// recordingEntry is one segment in GET /api/recordings.
type recordingEntry struct {
	Camera   string    `json:"camera"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
}

// handleRecordings serves GET /api/recordings?camera=<id|all>&limit=<n>,
// newest first, bounded by limit (default 50, max 500).
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	camera := r.URL.Query().Get("camera")
	if camera == "all" {
		camera = ""
	}

	limit := defaultRecordingsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxRecordingsLimit {
		limit = maxRecordingsLimit
	}

	segs, err := s.store.Scan(camera)
	if err != nil {
		writeError(w, err)
		return
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].ModTime.After(segs[j].ModTime) })
	if len(segs) > limit {
		segs = segs[:limit]
	}

	out := make([]recordingEntry, 0, len(segs))
	for _, seg := range segs {
		out = append(out, recordingEntry{
			Camera:   seg.SourceID,
			Filename: filenameOf(seg.Path),
			Size:     seg.Size,
			ModTime:  seg.ModTime,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStorage serves GET /api/storage: filesystem usage plus per-source
// totals.
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.store.Usage()
	if err != nil {
		writeError(w, err)
		return
	}
	segs, err := s.store.Scan("")
	if err != nil {
		writeError(w, err)
		return
	}

	perSource := make(map[string]int64)
	for _, seg := range segs {
		perSource[seg.SourceID] += seg.Size
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_bytes":   usage.TotalBytes,
		"free_bytes":    usage.FreeBytes,
		"used_fraction": usage.UsedFraction,
		"per_source":    perSource,
	})
}

// handleSystemCPU serves GET /api/system/cpu: a short, bounded
// gopsutil sample of host-wide CPU utilization.
func (s *Server) handleSystemCPU(w http.ResponseWriter, r *http.Request) {
	pcts, err := cpu.PercentWithContext(r.Context(), cpuSampleDuration, false)
	if err != nil || len(pcts) == 0 {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"percent": pcts[0]})
}

// handleSystemMemory serves GET /api/system/memory: host memory snapshot.
func (s *Server) handleSystemMemory(w http.ResponseWriter, r *http.Request) {
	vm, err := mem.VirtualMemoryWithContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_bytes":     vm.Total,
		"available_bytes": vm.Available,
		"used_percent":    vm.UsedPercent,
	})
}

// handleLogs serves GET /api/logs?lines=<n>, default 100, max 1000.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	if n > maxLogLines {
		n = maxLogLines
	}
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.logs.Last(n))
}

// handleCleanup serves POST /api/storage/cleanup?dry_run=<bool>, backing
// camguardctl's "cleanup [--dry-run]" subcommand with an on-demand
// age-based prune outside the health monitor's 10s tick.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	maxAge := time.Duration(s.snap.Storage.MaxAgeDays) * 24 * time.Hour
	result, err := s.store.PruneByAge(maxAge, dryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dry_run":       dryRun,
		"removed_count": result.RemovedCount,
		"freed_bytes":   result.FreedBytes,
	})
}
