// SPDX-License-Identifier: MIT

package probe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFakeFFprobe writes a shell script standing in for ffprobe, so the
// process lifecycle can be exercised without a real binary.
func writeFakeFFprobe(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake-executable tests require a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestProbe_ParsesStream(t *testing.T) {
	out := `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,"r_frame_rate":"30000/1001"}],"format":{"duration":"12.500000"}}`
	fake := writeFakeFFprobe(t, "echo '"+out+"'\nexit 0\n")

	p := New(fake)
	res, err := p.Probe(context.Background(), "/tmp/whatever.mp4")
	require.NoError(t, err)
	require.Equal(t, "h264", res.CodecName)
	require.Equal(t, 1920, res.Width)
	require.Equal(t, 1080, res.Height)
	require.InDelta(t, 29.97, res.FrameRate, 0.01)
	require.InDelta(t, 12.5, res.Duration.Seconds(), 0.01)
}

func TestProbe_NoVideoStream(t *testing.T) {
	out := `{"streams":[],"format":{"duration":"0"}}`
	fake := writeFakeFFprobe(t, "echo '"+out+"'\nexit 0\n")

	p := New(fake)
	_, err := p.Probe(context.Background(), "/tmp/whatever.mp4")
	require.Error(t, err)
}

func TestProbe_NonZeroExit(t *testing.T) {
	fake := writeFakeFFprobe(t, "exit 1\n")

	p := New(fake)
	_, err := p.Probe(context.Background(), "/tmp/whatever.mp4")
	require.Error(t, err)
}

func TestValidate_Success(t *testing.T) {
	fake := writeFakeFFprobe(t, "exit 0\n")
	p := New(fake)
	require.NoError(t, p.Validate(context.Background(), "/tmp/whatever.mp4"))
}

func TestValidate_Failure(t *testing.T) {
	fake := writeFakeFFprobe(t, "echo 'stream error' >&2\nexit 1\n")
	p := New(fake)
	err := p.Validate(context.Background(), "/tmp/whatever.mp4")
	require.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	require.InDelta(t, 25.0, parseFrameRate("25/1"), 0.001)
	require.InDelta(t, 0.0, parseFrameRate("1/0"), 0.001)
	require.InDelta(t, 23.976, parseFrameRate("24000/1001"), 0.001)
}
