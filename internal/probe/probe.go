// SPDX-License-Identifier: MIT

// Package probe wraps the ffprobe executable as a black-box collaborator:
// given a file path, it returns duration, resolution, frame rate and
// codec identifier for the video track. The re-encoder's candidate scan
// and its verification step both depend on this package.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Result holds the subset of ffprobe's output camguard depends on.
type Result struct {
	Duration   time.Duration
	Width      int
	Height     int
	FrameRate  float64
	CodecName  string
}

// Prober runs ffprobe against a file path.
type Prober struct {
	// Path to the ffprobe executable.
	Path string
}

// New creates a Prober using the given ffprobe executable path.
func New(path string) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	return &Prober{Path: path}
}

// ffprobeStream/ffprobeFormat mirror the subset of ffprobe's JSON schema
// (`-print_format json -show_streams -show_format`) camguard reads.
type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Probe runs ffprobe against path and parses duration, resolution, frame
// rate and codec identifier for the first video stream.
func (p *Prober) Probe(ctx context.Context, path string) (Result, error) {
	// #nosec G204 - path is a segment file this process manages, not raw user input
	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	if len(parsed.Streams) == 0 {
		return Result{}, fmt.Errorf("ffprobe %s: no video stream found", path)
	}

	stream := parsed.Streams[0]
	durSecs, _ := strconv.ParseFloat(parsed.Format.Duration, 64)

	return Result{
		Duration:  time.Duration(durSecs * float64(time.Second)),
		Width:     stream.Width,
		Height:    stream.Height,
		FrameRate: parseFrameRate(stream.RFrameRate),
		CodecName: stream.CodecName,
	}, nil
}

// Validate forces ffprobe to fully decode the video stream
// (`-count_frames`) rather than just reading container metadata, so a
// truncated or corrupt re-encode output surfaces as an error here instead
// of passing a shallow probe. Spec.md §4.7 calls this "a separate
// invocation of the probe/validator that fails on stream errors".
func (p *Prober) Validate(ctx context.Context, path string) error {
	// #nosec G204 - path is a segment file this process manages, not raw user input
	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-count_frames",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_read_frames",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("integrity check failed for %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// parseFrameRate parses ffprobe's rational frame rate string ("30000/1001").
func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
