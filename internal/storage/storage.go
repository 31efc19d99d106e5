// SPDX-License-Identifier: MIT

// Package storage manages the recordings tree's disk budget: segment
// scanning, disk usage, age-based pruning and emergency pruning under a
// directory-glob-then-parse scan, with gopsutil/v4/disk standing in for
// a hand-rolled syscall.Statfs call for usage().
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/fernbank/camguard/internal/config"
)

// maxFilesPerInvocation caps how many files one EmergencyPrune call
// deletes.
const maxFilesPerInvocation = 1000

// segmentPattern matches <id>_YYYYMMDD_HHMMSS.<ext>. The source id itself
// may contain underscores, so the timestamp suffix is anchored from the end.
var segmentPattern = regexp.MustCompile(`^(.+)_(\d{8})_(\d{6})\.([A-Za-z0-9]+)$`)

// Segment is one finished or in-progress container file in a source
// directory.
type Segment struct {
	SourceID    string
	Path        string
	RecordedAt  time.Time
	ModTime     time.Time
	Size        int64
	Transcoding bool // a companion .transcoding temp exists beside it
}

// Usage reports filesystem-level occupancy of the recordings volume.
type Usage struct {
	TotalBytes   uint64
	FreeBytes    uint64
	UsedFraction float64
}

// PruneResult reports the outcome of a prune operation.
type PruneResult struct {
	RemovedCount int
	FreedBytes   int64
}

// Manager scans and prunes the recordings tree described by a config
// Snapshot.
type Manager struct {
	snap *config.Snapshot
}

// New creates a Manager over the given snapshot's recordings tree.
func New(snap *config.Snapshot) *Manager {
	return &Manager{snap: snap}
}

// parseSegmentName extracts the source id and recording start time from
// a segment filename, or ok=false if it doesn't match the grammar.
func parseSegmentName(name string) (sourceID string, recordedAt time.Time, ok bool) {
	m := segmentPattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, false
	}
	ts, err := time.ParseInLocation("20060102150405", m[2]+m[3], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return m[1], ts, true
}

// Scan lists segment files across source directories, or within a single
// source directory when sourceID is non-empty. It ignores files that
// don't match the segment grammar and the .transcoded/.original
// auxiliaries, reporting only whether a .transcoding companion exists.
func (m *Manager) Scan(sourceID string) ([]Segment, error) {
	ids := []string{sourceID}
	if sourceID == "" {
		ids = nil
		for id := range m.snap.Sources {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []Segment
	for _, id := range ids {
		segs, err := m.scanOne(id)
		if err != nil {
			return nil, err
		}
		out = append(out, segs...)
	}
	return out, nil
}

func (m *Manager) scanOne(sourceID string) ([]Segment, error) {
	dir := m.snap.SourceDir(sourceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: scan %s: %w", sourceID, err)
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	var segs []Segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, recordedAt, ok := parseSegmentName(e.Name())
		if !ok || id != sourceID {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		segs = append(segs, Segment{
			SourceID:    sourceID,
			Path:        filepath.Join(dir, e.Name()),
			RecordedAt:  recordedAt,
			ModTime:     info.ModTime(),
			Size:        info.Size(),
			Transcoding: names[e.Name()+".transcoding"],
		})
	}
	return segs, nil
}

// Usage queries total/free bytes on the recordings base directory's
// filesystem.
func (m *Manager) Usage() (Usage, error) {
	u, err := disk.Usage(m.snap.RecordingsBaseDirectory)
	if err != nil {
		return Usage{}, fmt.Errorf("storage: usage: %w", err)
	}
	return Usage{
		TotalBytes:   u.Total,
		FreeBytes:    u.Free,
		UsedFraction: u.UsedPercent / 100,
	}, nil
}

// mostRecentPerSource returns, for each source id present, the path of
// its most-recently-modified segment — the one safety rules forbid
// deleting.
func mostRecentPerSource(segs []Segment) map[string]string {
	latest := make(map[string]time.Time)
	paths := make(map[string]string)
	for _, s := range segs {
		if cur, ok := latest[s.SourceID]; !ok || s.ModTime.After(cur) {
			latest[s.SourceID] = s.ModTime
			paths[s.SourceID] = s.Path
		}
	}
	return paths
}

// PruneByAge removes segment files older than now - maxAge, honoring the
// safety rules: never the most recent segment of any source, never a
// file with a live .transcoding companion. With dryRun it reports what
// would have been removed without touching the filesystem.
func (m *Manager) PruneByAge(maxAge time.Duration, dryRun bool) (PruneResult, error) {
	segs, err := m.Scan("")
	if err != nil {
		return PruneResult{}, err
	}
	protected := mostRecentPerSource(segs)
	cutoff := time.Now().Add(-maxAge)

	var result PruneResult
	for _, s := range segs {
		if s.ModTime.After(cutoff) || s.ModTime.Equal(cutoff) {
			continue
		}
		if protected[s.SourceID] == s.Path || s.Transcoding {
			continue
		}
		if !dryRun {
			if err := os.Remove(s.Path); err != nil {
				continue
			}
		}
		result.RemovedCount++
		result.FreedBytes += s.Size
	}
	return result, nil
}

// EmergencyPrune deletes oldest segments across all sources — strictly
// oldest modification time first, ties broken by lexical path order —
// until used fraction falls to targetFraction or the per-invocation
// bound is reached.
func (m *Manager) EmergencyPrune(targetFraction float64) (PruneResult, error) {
	segs, err := m.Scan("")
	if err != nil {
		return PruneResult{}, err
	}
	protected := mostRecentPerSource(segs)

	var candidates []Segment
	for _, s := range segs {
		if protected[s.SourceID] == s.Path || s.Transcoding {
			continue
		}
		candidates = append(candidates, s)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ModTime.Equal(candidates[j].ModTime) {
			return candidates[i].ModTime.Before(candidates[j].ModTime)
		}
		return candidates[i].Path < candidates[j].Path
	})

	var result PruneResult
	for _, s := range candidates {
		if result.RemovedCount >= maxFilesPerInvocation {
			break
		}
		u, err := m.Usage()
		if err != nil {
			return result, err
		}
		if u.UsedFraction <= targetFraction {
			break
		}
		if err := os.Remove(s.Path); err != nil {
			continue
		}
		result.RemovedCount++
		result.FreedBytes += s.Size
	}
	return result, nil
}
