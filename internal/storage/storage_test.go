// SPDX-License-Identifier: MIT

package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fernbank/camguard/internal/config"
)

func touch(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func newTestSnapshot(t *testing.T, sourceIDs ...string) *config.Snapshot {
	base := t.TempDir()
	snap := config.DefaultSnapshot()
	snap.RecordingsBaseDirectory = base
	for _, id := range sourceIDs {
		require.NoError(t, os.MkdirAll(snap.SourceDir(id), 0o755))
		snap.Sources[id] = config.SourceConfig{Enabled: true}
	}
	return snap
}

func TestParseSegmentName(t *testing.T) {
	id, ts, ok := parseSegmentName("cam1_20260115_143000.mp4")
	require.True(t, ok)
	require.Equal(t, "cam1", id)
	require.Equal(t, 2026, ts.Year())
	require.Equal(t, 14, ts.Hour())

	_, _, ok = parseSegmentName("cam1.transcoded")
	require.False(t, ok)

	_, _, ok = parseSegmentName("garbage")
	require.False(t, ok)
}

func TestScan_IgnoresAuxiliaryFiles(t *testing.T) {
	snap := newTestSnapshot(t, "cam1")
	dir := snap.SourceDir("cam1")
	now := time.Now()

	touch(t, filepath.Join(dir, "cam1_20260101_120000.mp4"), 100, now)
	touch(t, filepath.Join(dir, "cam1_20260101_120000.mp4.original"), 200, now)
	touch(t, filepath.Join(dir, "cam1_20260101_120000.mp4.transcoded"), 10, now)
	touch(t, filepath.Join(dir, "notasegment.txt"), 5, now)

	segs, err := New(snap).Scan("cam1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "cam1", segs[0].SourceID)
}

func TestScan_FlagsTranscodingCompanion(t *testing.T) {
	snap := newTestSnapshot(t, "cam1")
	dir := snap.SourceDir("cam1")
	now := time.Now()

	touch(t, filepath.Join(dir, "cam1_20260101_120000.mp4"), 100, now)
	touch(t, filepath.Join(dir, "cam1_20260101_120000.mp4.transcoding"), 1, now)

	segs, err := New(snap).Scan("cam1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.True(t, segs[0].Transcoding)
}

func TestPruneByAge_NeverRemovesMostRecent(t *testing.T) {
	snap := newTestSnapshot(t, "cam1")
	dir := snap.SourceDir("cam1")
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	touch(t, filepath.Join(dir, "cam1_20260101_010000.mp4"), 100, old)
	touch(t, filepath.Join(dir, "cam1_20260102_010000.mp4"), 100, recent)

	res, err := New(snap).PruneByAge(24*time.Hour, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.RemovedCount)

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 1)
}

func TestPruneByAge_SkipsTranscodingCompanion(t *testing.T) {
	snap := newTestSnapshot(t, "cam1")
	dir := snap.SourceDir("cam1")
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	touch(t, filepath.Join(dir, "cam1_20260101_010000.mp4"), 100, old)
	touch(t, filepath.Join(dir, "cam1_20260101_010000.mp4.transcoding"), 1, old)
	touch(t, filepath.Join(dir, "cam1_20260102_010000.mp4"), 100, recent)

	res, err := New(snap).PruneByAge(24*time.Hour, false)
	require.NoError(t, err)
	require.Equal(t, 0, res.RemovedCount)
}

func TestPruneByAge_DryRunDoesNotDelete(t *testing.T) {
	snap := newTestSnapshot(t, "cam1")
	dir := snap.SourceDir("cam1")
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	touch(t, filepath.Join(dir, "cam1_20260101_010000.mp4"), 100, old)
	touch(t, filepath.Join(dir, "cam1_20260102_010000.mp4"), 100, recent)

	res, err := New(snap).PruneByAge(24*time.Hour, true)
	require.NoError(t, err)
	require.Equal(t, 1, res.RemovedCount)

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 2)
}

func TestScan_ListsAllSourcesWhenIDEmpty(t *testing.T) {
	snap := newTestSnapshot(t, "cam1", "cam2")
	base := time.Now().Add(-10 * time.Hour)

	touch(t, filepath.Join(snap.SourceDir("cam1"), "cam1_20260101_010000.mp4"), 100, base)
	touch(t, filepath.Join(snap.SourceDir("cam1"), "cam1_20260101_020000.mp4"), 100, base.Add(time.Hour))
	touch(t, filepath.Join(snap.SourceDir("cam2"), "cam2_20260101_000000.mp4"), 100, base.Add(-time.Hour))
	touch(t, filepath.Join(snap.SourceDir("cam2"), "cam2_20260101_030000.mp4"), 100, base.Add(2*time.Hour))

	segs, err := New(snap).Scan("")
	require.NoError(t, err)
	require.Len(t, segs, 4)
}

func TestMostRecentPerSource(t *testing.T) {
	now := time.Now()
	segs := []Segment{
		{SourceID: "cam1", Path: "/a", ModTime: now.Add(-time.Hour)},
		{SourceID: "cam1", Path: "/b", ModTime: now},
		{SourceID: "cam2", Path: "/c", ModTime: now.Add(-time.Minute)},
	}
	protected := mostRecentPerSource(segs)
	require.Equal(t, "/b", protected["cam1"])
	require.Equal(t, "/c", protected["cam2"])
}
