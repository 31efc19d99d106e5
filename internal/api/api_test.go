// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/encoder"
	"github.com/fernbank/camguard/internal/fleet"
	"github.com/fernbank/camguard/internal/health"
	"github.com/fernbank/camguard/internal/logring"
	"github.com/fernbank/camguard/internal/probe"
	"github.com/fernbank/camguard/internal/storage"
	"github.com/fernbank/camguard/internal/transcode"
)

func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 5\n"), 0o755))
	return path
}

func newTestServer(t *testing.T) (*Server, *config.Snapshot, context.CancelFunc) {
	ffmpeg := writeFakeFFmpeg(t)
	base := t.TempDir()

	snap := config.DefaultSnapshot()
	snap.RecordingsBaseDirectory = base
	snap.Sources["cam1"] = config.SourceConfig{Device: "/dev/video0", Name: "Front Door", Resolution: "1920x1080", Framerate: 15, InputCodec: "mjpeg", Enabled: true}
	require.NoError(t, os.MkdirAll(snap.SourceDir("cam1"), 0o755))

	adapter := encoder.New(ffmpeg)
	f := fleet.New(nil)
	f.Register("cam1", snap.Sources["cam1"], snap, adapter, func() bool { return false })

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.Serve(ctx) }()

	store := storage.New(snap)
	toggles := config.NewToggles(false)
	engine := transcode.New(snap, toggles, adapter, probe.New("ffprobe"), nil)
	monitor := health.New(f, store, engine, snap, nil)
	logs := logring.New(100)

	return New(f, store, engine, toggles, snap, monitor, logs, nil), snap, cancel
}

func TestHandleCameras_ListsRegisteredSources(t *testing.T) {
	s, _, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/cameras", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var cams []cameraStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cams))
	require.Len(t, cams, 1)
	require.Equal(t, "cam1", cams[0].ID)
	require.Equal(t, "Front Door", cams[0].Name)
}

func TestHandleCameraStartStop(t *testing.T) {
	s, _, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/camera/cam1/start", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/camera/unknown/start", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/camera/cam1/stop", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStartAllStopAll(t *testing.T) {
	s, _, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/start_all", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["results"]["cam1"])
}

func TestHandleRecordings_BoundedAndNewestFirst(t *testing.T) {
	s, snap, cancel := newTestServer(t)
	defer cancel()

	dir := snap.SourceDir("cam1")
	older := time.Date(2026, 1, 1, 1, 0, 0, 0, time.Local)
	newer := time.Date(2026, 1, 1, 2, 0, 0, 0, time.Local)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cam1_20260101_010000.mp4"), make([]byte, 10), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "cam1_20260101_010000.mp4"), older, older))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cam1_20260101_020000.mp4"), make([]byte, 20), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "cam1_20260101_020000.mp4"), newer, newer))

	req := httptest.NewRequest(http.MethodGet, "/api/recordings?camera=cam1&limit=1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []recordingEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "cam1_20260101_020000.mp4", entries[0].Filename)
}

func TestHandleDownload_RejectsPathTraversal(t *testing.T) {
	s, snap, cancel := newTestServer(t)
	defer cancel()

	dir := snap.SourceDir("cam1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cam1_20260101_010000.mp4"), make([]byte, 10), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/download/cam1/..%2F..%2Fetc%2Fpasswd", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDownload_ServesExistingFile(t *testing.T) {
	s, snap, cancel := newTestServer(t)
	defer cancel()

	dir := snap.SourceDir("cam1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cam1_20260101_010000.mp4"), []byte("data"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/download/cam1/cam1_20260101_010000.mp4", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "data", rec.Body.String())
}

func TestHandleDownload_MissingFileIs404(t *testing.T) {
	s, _, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/download/cam1/cam1_20260101_010000.mp4", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDelete_RemovesFile(t *testing.T) {
	s, snap, cancel := newTestServer(t)
	defer cancel()

	path := filepath.Join(snap.SourceDir("cam1"), "cam1_20260101_010000.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	req := httptest.NewRequest(http.MethodDelete, "/api/delete/cam1/cam1_20260101_010000.mp4", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestHandleTranscodingEnableDisable(t *testing.T) {
	s, _, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/transcoding/enable", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.toggles.TranscoderEnabled())

	req = httptest.NewRequest(http.MethodGet, "/api/transcoding/status", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, true, status["enabled"])

	req = httptest.NewRequest(http.MethodPost, "/api/transcoding/disable", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, s.toggles.TranscoderEnabled())
}

func TestHandleStorage_ReportsPerSourceTotals(t *testing.T) {
	s, snap, cancel := newTestServer(t)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(snap.SourceDir("cam1"), "cam1_20260101_010000.mp4"), make([]byte, 123), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/storage", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	perSource := body["per_source"].(map[string]interface{})
	require.Equal(t, float64(123), perSource["cam1"])
}

func TestHandleCleanup_DryRunLeavesFilesInPlace(t *testing.T) {
	s, snap, cancel := newTestServer(t)
	defer cancel()
	snap.Storage.MaxAgeDays = 1

	dir := snap.SourceDir("cam1")
	oldPath := filepath.Join(dir, "cam1_20200101_010000.mp4")
	newPath := filepath.Join(dir, "cam1_20260101_010000.mp4")
	require.NoError(t, os.WriteFile(oldPath, []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("data"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))

	req := httptest.NewRequest(http.MethodPost, "/api/storage/cleanup?dry_run=true", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["dry_run"])
	require.Equal(t, float64(1), body["removed_count"])

	_, err := os.Stat(oldPath)
	require.NoError(t, err)
}

func TestHandleLogs_BoundedByMax(t *testing.T) {
	s, _, cancel := newTestServer(t)
	defer cancel()

	for i := 0; i < 5; i++ {
		s.logs.Append(logring.Line{Time: time.Now(), Level: "INFO", Message: "line"})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/logs?lines=2", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var lines []logring.Line
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	require.Len(t, lines, 2)
}
