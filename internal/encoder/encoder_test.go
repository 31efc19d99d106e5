// SPDX-License-Identifier: MIT

package encoder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fernbank/camguard/internal/config"
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

func testSource() config.SourceConfig {
	return config.SourceConfig{
		Device:     "/dev/video0",
		Name:       "front door",
		Resolution: "1920x1080",
		Framerate:  15,
		InputCodec: "mjpeg",
		Enabled:    true,
	}
}

func TestBuildArgs_StreamCopy(t *testing.T) {
	snap := config.DefaultSnapshot()
	snap.RecordingsBaseDirectory = "/data"
	snap.SegmentDurationSeconds = 300

	args := BuildArgs(snap, "cam1", testSource(), "/data/cam1")

	require.Contains(t, args, "copy")
	require.Contains(t, args, "/dev/video0")
	require.Contains(t, args, "1920x1080")
	require.Contains(t, args, "mjpeg")
	joined := strings.Join(args, " ")
	require.Contains(t, joined, "cam1_%Y%m%d_%H%M%S.mp4")
}

func TestBuildArgs_Transcode(t *testing.T) {
	snap := config.DefaultSnapshot()
	snap.RecordingsBaseDirectory = "/data"
	snap.OutputCodec = "h265-target"

	args := BuildArgs(snap, "cam1", testSource(), "/data/cam1")

	require.Contains(t, args, "libx265")
	require.NotContains(t, args, "copy")
}

func TestLaunchAndWait_CleanExit(t *testing.T) {
	fake := writeFakeFFmpeg(t, "echo line1 >&2\necho line2 >&2\nexit 0\n")
	a := New(fake)

	h, err := a.Launch(context.Background(), "cam1", []string{})
	require.NoError(t, err)
	require.Greater(t, h.Pid, 0)

	status, err := a.Wait(h, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, status.Code)

	tail := h.StderrTail(10)
	require.Contains(t, tail, "line1")
	require.Contains(t, tail, "line2")
}

func TestLaunchAndWait_NonZeroExit(t *testing.T) {
	fake := writeFakeFFmpeg(t, "exit 7\n")
	a := New(fake)

	h, err := a.Launch(context.Background(), "cam1", []string{})
	require.NoError(t, err)

	status, err := a.Wait(h, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, status.Code)
}

func TestLaunch_ExecutableNotFound(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "does-not-exist"))
	_, err := a.Launch(context.Background(), "cam1", []string{})
	require.ErrorIs(t, err, ErrExecutableNotFound)
}

func TestSignalInterrupt_GracefulExit(t *testing.T) {
	fake := writeFakeFFmpeg(t, "trap 'exit 0' INT\nwhile true; do sleep 0.05; done\n")
	a := New(fake)

	h, err := a.Launch(context.Background(), "cam1", []string{})
	require.NoError(t, err)

	require.NoError(t, a.SignalInterrupt(h))

	status, err := a.Wait(h, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, status.Code)
}

func TestWait_DeadlineExceeded(t *testing.T) {
	fake := writeFakeFFmpeg(t, "while true; do sleep 0.05; done\n")
	a := New(fake)

	h, err := a.Launch(context.Background(), "cam1", []string{})
	require.NoError(t, err)
	defer a.SignalKill(h)

	_, err = a.Wait(h, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStderrTail_BoundedRing(t *testing.T) {
	h := &ChildHandle{}
	for i := 0; i < stderrRingSize+10; i++ {
		h.appendStderr("line")
	}
	require.Len(t, h.StderrTail(0), stderrRingSize)
}
