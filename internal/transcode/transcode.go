// SPDX-License-Identifier: MIT

// Package transcode implements the background re-encoder engine:
// candidate selection, a six-step scheduling gate, a single-slot
// low-priority child launch, verification, atomic swap with crash-safe
// markers, a deferred-delete sweep and persisted statistics. The engine
// itself is a suture.Service, the same backbone internal/supervisor
// uses.
package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/encoder"
	"github.com/fernbank/camguard/internal/probe"
	"github.com/fernbank/camguard/internal/storage"
)

const (
	defaultPollInterval  = 60 * time.Second
	cpuSampleWindow      = 2 * time.Second
	cancelGraceDeadline  = 300 * time.Second
	verifyDurationSlack  = time.Second
	verifyFrameRateSlack = 1.0
	tempSizeFloor        = 1024 // 1 KiB
	expectedSizeRatio    = 0.6
	markerSweepBound     = 200
)

// CandidateCounters are the aggregate counters the candidate scan logs.
type CandidateCounters struct {
	Scanned          int
	TooNew           int
	AlreadyTranscoded int
	InProgress       int
	WrongCodec       int
	Eligible         int
}

// Marker is the sidecar record persisted next to a replaced segment.
type Marker struct {
	ReplacedAt    time.Time `json:"replaced_at"`
	OriginalSize  int64     `json:"original_size"`
	NewSize       int64     `json:"new_size"`
	OriginalPath  string    `json:"original_path"`
	DeleteAfter   time.Time `json:"delete_after"`
}

// Stats are cumulative counters persisted at the recordings root.
type Stats struct {
	Succeeded       int       `json:"succeeded"`
	Failed          int       `json:"failed"`
	OriginalBytes   int64     `json:"original_bytes"`
	ReplacedBytes   int64     `json:"replaced_bytes"`
	LastSuccess     time.Time `json:"last_success"`
	LastErrorText   string    `json:"last_error_text"`
}

// Progress is exposed while a transcode child runs.
type Progress struct {
	Path           string
	SourceID       string
	OriginalSize   int64
	CurrentSize    int64
	PercentApprox  float64
}

// Engine runs the background re-encoder.
type Engine struct {
	snap    *config.Snapshot
	toggles *config.Toggles
	adapter *encoder.Adapter
	prober  *probe.Prober
	store   *storage.Manager
	logger  *slog.Logger

	pollInterval time.Duration

	mu       sync.Mutex
	stats    Stats
	progress *Progress
}

// New creates an Engine over the given snapshot, toggles and process
// adapters. adapter's FFmpegPath is used for the transcode child;
// prober's Path for verification.
func New(snap *config.Snapshot, toggles *config.Toggles, adapter *encoder.Adapter, prober *probe.Prober, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		snap:         snap,
		toggles:      toggles,
		adapter:      adapter,
		prober:       prober,
		store:        storage.New(snap),
		logger:       logger.With("component", "transcode"),
		pollInterval: defaultPollInterval,
	}
	e.stats = e.loadStats()
	return e
}

// Name identifies this service within a suture supervision tree.
func (e *Engine) Name() string { return "transcoder" }

// Serve implements suture.Service: it runs RecoverCrashed once at
// startup, then loops the scheduling gate and candidate processing
// until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	if err := e.RecoverCrashed(); err != nil {
		e.logger.Error("crash recovery failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ok, reason := e.evaluateGates(ctx)
		if !ok {
			e.logger.Debug("scheduling gate blocked", "reason", reason)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.pollInterval):
			}
			continue
		}

		e.DeferredDeleteSweep()

		cand, _, err := e.SelectCandidates()
		if err != nil {
			e.logger.Error("candidate scan failed", "err", err)
		} else if len(cand) > 0 {
			e.processOne(ctx, cand[0])
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.pollInterval):
		}
	}
}

// evaluateGates runs the six-step scheduling gate in order,
// short-circuiting on the first failure.
func (e *Engine) evaluateGates(ctx context.Context) (bool, string) {
	if !e.toggles.TranscoderEnabled() {
		return false, "disabled"
	}
	if !e.snap.Transcoder.InSchedule(time.Now()) {
		return false, "outside schedule window"
	}
	cpuPct, err := sampleCPUPercent(ctx, cpuSampleWindow)
	if err != nil {
		return false, fmt.Sprintf("cpu sample error: %v", err)
	}
	if cpuPct > e.snap.Transcoder.MaxCPUPercent {
		return false, "cpu above threshold"
	}
	ioWait, err := sampleIOWaitPercent(ctx, cpuSampleWindow)
	if err != nil {
		return false, fmt.Sprintf("iowait sample error: %v", err)
	}
	if ioWait > e.snap.Transcoder.MaxIOWait {
		return false, "io wait above threshold"
	}
	usage, err := e.store.Usage()
	if err != nil {
		return false, fmt.Sprintf("usage error: %v", err)
	}
	freeGB := float64(usage.FreeBytes) / (1 << 30)
	if freeGB < float64(e.snap.Transcoder.MinFreeGB) {
		return false, "free space below threshold"
	}
	if e.toggles.ShuttingDown() {
		return false, "shutting down"
	}
	return true, ""
}

func sampleCPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, errors.New("no cpu sample returned")
	}
	return pcts[0], nil
}

// sampleIOWaitPercent takes two cpu.TimesWithContext samples window apart
// and derives the fraction of total CPU time spent in iowait, the same
// two-sample delta gopsutil uses for CPU percent. It blocks for window.
func sampleIOWaitPercent(ctx context.Context, window time.Duration) (float64, error) {
	before, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(before) == 0 {
		return 0, fmt.Errorf("sample iowait: %w", err)
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(window):
	}
	after, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(after) == 0 {
		return 0, fmt.Errorf("sample iowait: %w", err)
	}

	b, a := before[0], after[0]
	dIowait := a.Iowait - b.Iowait
	dTotal := totalCPUTime(a) - totalCPUTime(b)
	if dTotal <= 0 {
		return 0, nil
	}
	return (dIowait / dTotal) * 100, nil
}

func totalCPUTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}

// SelectCandidates scans every source directory, filters by
// age/marker/codec, and returns eligible files oldest first, alongside
// the aggregate counters from the scan.
func (e *Engine) SelectCandidates() ([]storage.Segment, CandidateCounters, error) {
	segs, err := e.store.Scan("")
	if err != nil {
		return nil, CandidateCounters{}, err
	}

	var counters CandidateCounters
	var eligible []storage.Segment
	minAge := time.Duration(e.snap.Transcoder.MinAgeDays) * 24 * time.Hour

	for _, s := range segs {
		counters.Scanned++

		if time.Since(s.ModTime) < minAge {
			counters.TooNew++
			continue
		}
		if fileExists(s.Path + ".transcoded") {
			counters.AlreadyTranscoded++
			continue
		}
		if s.Transcoding {
			counters.InProgress++
			continue
		}

		res, err := e.prober.Probe(context.Background(), s.Path)
		if err != nil {
			counters.WrongCodec++
			continue
		}
		if res.CodecName == targetCodecName(e.snap.Transcoder.OutputCodec) {
			counters.WrongCodec++
			continue
		}

		counters.Eligible++
		eligible = append(eligible, s)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].ModTime.Before(eligible[j].ModTime)
	})

	e.logger.Info("candidate scan complete",
		"scanned", counters.Scanned,
		"too_new", counters.TooNew,
		"already_transcoded", counters.AlreadyTranscoded,
		"in_progress", counters.InProgress,
		"wrong_codec", counters.WrongCodec,
		"eligible", counters.Eligible,
	)

	return eligible, counters, nil
}

func targetCodecName(outputCodec string) string {
	if outputCodec == "h265-target" {
		return "hevc"
	}
	return "h264"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// processOne runs the full lifecycle for one candidate: execute, verify,
// swap or fail, and record statistics — the state machine from
// Untouched through Swapped/Retired or Failed.
func (e *Engine) processOne(ctx context.Context, seg storage.Segment) {
	tempPath := seg.Path + ".transcoding"
	e.setProgress(&Progress{Path: seg.Path, SourceID: seg.SourceID, OriginalSize: seg.Size})
	defer e.setProgress(nil)

	if err := e.execute(ctx, seg, tempPath); err != nil {
		e.logger.Error("transcode execution failed", "path", seg.Path, "err", err)
		_ = os.Remove(tempPath)
		e.recordFailure(err)
		return
	}

	if err := e.verify(ctx, seg, tempPath); err != nil {
		e.logger.Warn("verification failed", "path", seg.Path, "err", err)
		_ = os.Remove(tempPath)
		e.recordFailure(err)
		return
	}

	newSize, err := e.swap(seg, tempPath)
	if err != nil {
		e.logger.Error("atomic swap failed", "path", seg.Path, "err", err)
		e.recordFailure(err)
		return
	}

	e.recordSuccess(seg.Size, newSize)
}

// execute launches the re-encode child at the lowest available OS
// scheduling priority, writing to path.transcoding.
func (e *Engine) execute(ctx context.Context, seg storage.Segment, tempPath string) error {
	src, ok := e.snap.Sources[seg.SourceID]
	if !ok {
		return fmt.Errorf("unknown source %q for candidate %s", seg.SourceID, seg.Path)
	}

	args := buildTranscodeArgs(e.snap, src, seg.Path, tempPath)

	// Launched detached from ctx: cancellation is handled cooperatively
	// below (interrupt, grace deadline, kill) rather than via
	// exec.CommandContext's immediate SIGKILL on ctx cancellation.
	handle, err := e.adapter.Launch(context.Background(), seg.SourceID, args)
	if err != nil {
		return fmt.Errorf("launch transcode child: %w", err)
	}
	if err := lowerPriority(handle.Pid); err != nil {
		e.logger.Debug("could not lower child priority", "err", err)
	}

	const pollSlice = time.Second
	for {
		status, err := e.adapter.Wait(handle, pollSlice)
		if errors.Is(err, context.DeadlineExceeded) {
			if info, statErr := os.Stat(tempPath); statErr == nil {
				e.updateProgressSize(info.Size())
			}
			if ctx.Err() != nil {
				return e.cancelRun(handle)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("wait transcode child: %w", err)
		}
		if status.Code != 0 {
			return fmt.Errorf("transcode child exited with code %d", status.Code)
		}
		return nil
	}
}

// cancelRun performs cooperative cancellation for an in-flight
// transcode: interrupt, wait up to the grace deadline, then kill. A
// cancelled run never performs the swap.
func (e *Engine) cancelRun(handle *encoder.ChildHandle) error {
	_ = e.adapter.SignalInterrupt(handle)
	if _, err := e.adapter.Wait(handle, cancelGraceDeadline); err != nil {
		_ = e.adapter.SignalKill(handle)
		_, _ = e.adapter.Wait(handle, 5*time.Second)
	}
	return errors.New("transcode cancelled")
}

// buildTranscodeArgs constructs the re-encode argv: decode the existing
// segment, encode with the transcoder block's own codec/preset/quality,
// write to tempPath.
func buildTranscodeArgs(snap *config.Snapshot, src config.SourceConfig, inputPath, tempPath string) []string {
	codec := "libx264"
	if snap.Transcoder.OutputCodec == "h265-target" {
		codec = "libx265"
	}
	return []string{
		"-i", inputPath,
		"-c:v", codec,
		"-preset", snap.Transcoder.Preset,
		"-crf", fmt.Sprintf("%d", snap.Transcoder.Quality),
		"-c:a", "copy",
		tempPath,
	}
}

// verify runs the post-transcode verification checklist; any failure
// returns a non-nil error.
func (e *Engine) verify(ctx context.Context, seg storage.Segment, tempPath string) error {
	info, err := os.Stat(tempPath)
	if err != nil {
		return fmt.Errorf("temp missing: %w", err)
	}
	if info.Size() < tempSizeFloor {
		return errors.New("temp below size floor")
	}

	orig, err := e.prober.Probe(ctx, seg.Path)
	if err != nil {
		return fmt.Errorf("probe original: %w", err)
	}
	temp, err := e.prober.Probe(ctx, tempPath)
	if err != nil {
		return fmt.Errorf("probe temp: %w", err)
	}

	if math.Abs(temp.Duration.Seconds()-orig.Duration.Seconds()) > verifyDurationSlack.Seconds() {
		return errors.New("duration mismatch")
	}
	if temp.Width != orig.Width || temp.Height != orig.Height {
		return errors.New("resolution mismatch")
	}
	if math.Abs(temp.FrameRate-orig.FrameRate) > verifyFrameRateSlack {
		return errors.New("frame rate mismatch")
	}
	if err := e.prober.Validate(ctx, tempPath); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}

	savings := (1 - float64(info.Size())/float64(seg.Size)) * 100
	if savings < e.snap.Transcoder.MinSavingsPercent {
		return fmt.Errorf("savings %.1f%% below threshold", savings)
	}
	return nil
}

// swap performs the atomic rename sequence: original out of the way,
// temp into place, marker written atomically.
func (e *Engine) swap(seg storage.Segment, tempPath string) (int64, error) {
	originalPath := seg.Path + ".original"
	if err := os.Rename(seg.Path, originalPath); err != nil {
		return 0, fmt.Errorf("rename original: %w", err)
	}
	if err := os.Rename(tempPath, seg.Path); err != nil {
		_ = os.Rename(originalPath, seg.Path) // best-effort rollback
		return 0, fmt.Errorf("rename temp into place: %w", err)
	}

	info, err := os.Stat(seg.Path)
	if err != nil {
		return 0, fmt.Errorf("stat swapped file: %w", err)
	}

	marker := Marker{
		ReplacedAt:   time.Now(),
		OriginalSize: seg.Size,
		NewSize:      info.Size(),
		OriginalPath: originalPath,
		DeleteAfter:  time.Now().Add(time.Duration(e.snap.Transcoder.KeepOriginalDays) * 24 * time.Hour),
	}
	if err := writeMarker(seg.Path+".transcoded", marker); err != nil {
		return 0, fmt.Errorf("write marker: %w", err)
	}
	return info.Size(), nil
}

func writeMarker(path string, m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o640)
}

func readMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, err
	}
	return m, nil
}

// RecoverCrashed reconciles partial re-encode states left behind by an
// unclean shutdown.
func (e *Engine) RecoverCrashed() error {
	segs, err := e.store.Scan("")
	if err != nil {
		return err
	}
	for _, seg := range segs {
		tempPath := seg.Path + ".transcoding"
		originalPath := seg.Path + ".original"
		markerPath := seg.Path + ".transcoded"

		hasTemp := fileExists(tempPath)
		hasOriginal := fileExists(originalPath)
		hasMarker := fileExists(markerPath)

		switch {
		case hasTemp && !hasOriginal:
			e.logger.Warn("crash recovery: deleting orphaned temp", "path", tempPath)
			_ = os.Remove(tempPath)
		case hasOriginal && !hasMarker:
			e.logger.Warn("crash recovery: synthesizing marker for incomplete swap", "path", seg.Path)
			info, statErr := os.Stat(seg.Path)
			var newSize int64
			if statErr == nil {
				newSize = info.Size()
			}
			origInfo, _ := os.Stat(originalPath)
			var origSize int64
			if origInfo != nil {
				origSize = origInfo.Size()
			}
			marker := Marker{
				ReplacedAt:   time.Now(),
				OriginalSize: origSize,
				NewSize:      newSize,
				OriginalPath: originalPath,
				DeleteAfter:  time.Now().Add(time.Duration(e.snap.Transcoder.KeepOriginalDays) * 24 * time.Hour),
			}
			if err := writeMarker(markerPath, marker); err != nil {
				e.logger.Error("crash recovery: failed to synthesize marker", "err", err)
			}
		case hasMarker && !hasOriginal:
			e.logger.Warn("crash recovery: deleting orphaned marker", "path", markerPath)
			_ = os.Remove(markerPath)
		}
	}
	return nil
}

// DeferredDeleteSweep deletes the paired .original and marker for every
// segment whose marker's deletion time has passed, bounded per sweep.
func (e *Engine) DeferredDeleteSweep() {
	segs, err := e.store.Scan("")
	if err != nil {
		e.logger.Error("deferred delete sweep: scan failed", "err", err)
		return
	}

	deleted := 0
	for _, seg := range segs {
		if deleted >= markerSweepBound {
			return
		}
		markerPath := seg.Path + ".transcoded"
		if !fileExists(markerPath) {
			continue
		}
		marker, err := readMarker(markerPath)
		if err != nil {
			continue
		}
		if time.Now().Before(marker.DeleteAfter) {
			continue
		}
		if err := os.Remove(marker.OriginalPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("deferred delete: could not remove original", "path", marker.OriginalPath, "err", err)
			continue
		}
		_ = os.Remove(markerPath)
		deleted++
	}
}

func (e *Engine) setProgress(p *Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = p
}

func (e *Engine) updateProgressSize(size int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.progress == nil {
		return
	}
	e.progress.CurrentSize = size
	if e.progress.OriginalSize > 0 {
		expected := float64(e.progress.OriginalSize) * expectedSizeRatio
		e.progress.PercentApprox = math.Min(100, (float64(size)/expected)*100)
	}
}

// CurrentProgress returns a copy of the current in-flight transcode's progress,
// or nil when idle.
func (e *Engine) CurrentProgress() *Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.progress == nil {
		return nil
	}
	p := *e.progress
	return &p
}

func (e *Engine) recordSuccess(origSize, newSize int64) {
	e.mu.Lock()
	e.stats.Succeeded++
	e.stats.OriginalBytes += origSize
	e.stats.ReplacedBytes += newSize
	e.stats.LastSuccess = time.Now()
	stats := e.stats
	e.mu.Unlock()
	e.persistStats(stats)
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	e.stats.Failed++
	e.stats.LastErrorText = err.Error()
	stats := e.stats
	e.mu.Unlock()
	e.persistStats(stats)
}

func (e *Engine) persistStats(stats Stats) {
	data, err := json.Marshal(stats)
	if err != nil {
		e.logger.Error("marshal stats failed", "err", err)
		return
	}
	if err := renameio.WriteFile(e.snap.StatsFilePath(), data, 0o640); err != nil {
		e.logger.Error("persist stats failed", "err", err)
	}
}

func (e *Engine) loadStats() Stats {
	data, err := os.ReadFile(e.snap.StatsFilePath())
	if err != nil {
		return Stats{}
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return Stats{}
	}
	return stats
}

// StatsSnapshot returns a copy of the current cumulative statistics.
func (e *Engine) StatsSnapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
