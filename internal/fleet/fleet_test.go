// SPDX-License-Identifier: MIT

package fleet

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/encoder"
)

func writeFakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake-executable tests require a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestController(t *testing.T, ids []string, ffmpegPath string) (*Controller, func()) {
	snap := config.DefaultSnapshot()
	snap.RecordingsBaseDirectory = t.TempDir()
	adapter := encoder.New(ffmpegPath)

	c := New(nil)
	for _, id := range ids {
		src := config.SourceConfig{
			Device:     "/dev/video0",
			Resolution: "1920x1080",
			Framerate:  15,
			InputCodec: "mjpeg",
			Enabled:    true,
		}
		c.Register(id, src, snap, adapter, func() bool { return false })
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Serve(ctx)
		close(done)
	}()

	return c, func() {
		cancel()
		<-done
	}
}

func TestController_StartAllStopAll(t *testing.T) {
	fake := writeFakeFFmpeg(t, "while true; do sleep 0.05; done\n")
	c, cleanup := newTestController(t, []string{"cam1", "cam2"}, fake)
	defer cleanup()

	ctx := context.Background()
	res := c.StartAll(ctx)
	require.True(t, res.Success)
	require.Len(t, res.Outcomes, 2)

	require.Eventually(t, func() bool {
		for _, s := range c.Snapshot() {
			if s.State.String() != "running" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	res = c.StopAll(ctx)
	require.True(t, res.Success)
	for _, s := range c.Snapshot() {
		require.Equal(t, "stopped", s.State.String())
	}
}

func TestController_UnknownSource(t *testing.T) {
	fake := writeFakeFFmpeg(t, "exit 0\n")
	c, cleanup := newTestController(t, []string{"cam1"}, fake)
	defer cleanup()

	err := c.Start(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestController_RestartAll_SettlesBetweenStopAndStart(t *testing.T) {
	fake := writeFakeFFmpeg(t, "while true; do sleep 0.05; done\n")
	c, cleanup := newTestController(t, []string{"cam1"}, fake)
	defer cleanup()

	ctx := context.Background()
	require.True(t, c.StartAll(ctx).Success)
	require.Eventually(t, func() bool {
		return c.Snapshot()[0].State.String() == "running"
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	res := c.RestartAll(ctx)
	elapsed := time.Since(start)

	require.True(t, res.Success)
	require.GreaterOrEqual(t, elapsed, settleInterval)
}

func TestController_Snapshot_SortedByID(t *testing.T) {
	fake := writeFakeFFmpeg(t, "exit 0\n")
	c, cleanup := newTestController(t, []string{"cam2", "cam1", "cam3"}, fake)
	defer cleanup()

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "cam1", snap[0].SourceID)
	require.Equal(t, "cam2", snap[1].SourceID)
	require.Equal(t, "cam3", snap[2].SourceID)
}
