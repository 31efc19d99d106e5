// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validSnapshot(t *testing.T, dir string) *Snapshot {
	t.Helper()
	s := DefaultSnapshot()
	s.RecordingsBaseDirectory = dir
	s.Sources = map[string]SourceConfig{
		"cam1": {
			Device:     "/dev/video0",
			Name:       "Front Door",
			Resolution: "1920x1080",
			Framerate:  15,
			InputCodec: "h264",
			Enabled:    true,
		},
	}
	return s
}

func TestValidate_Valid(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)
	require.NoError(t, s.Validate())
}

func TestValidate_NoEnabledSource(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)
	src := s.Sources["cam1"]
	src.Enabled = false
	s.Sources["cam1"] = src

	err := s.Validate()
	require.Error(t, err)
	var ie *InvalidError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "sources", ie.Field)
}

func TestValidate_BadResolution(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)
	src := s.Sources["cam1"]
	src.Resolution = "not-a-resolution"
	s.Sources["cam1"] = src

	err := s.Validate()
	require.Error(t, err)
}

func TestValidate_DuplicateIsImpossibleByMapButBadIDRejected(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)
	s.Sources["cam/1"] = s.Sources["cam1"]

	err := s.Validate()
	require.Error(t, err)
}

func TestValidate_SegmentDurationFloor(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)
	s.SegmentDurationSeconds = 5

	err := s.Validate()
	require.Error(t, err)
}

func TestValidate_RelativeBaseDirRejected(t *testing.T) {
	s := validSnapshot(t, "relative/path")
	err := s.Validate()
	require.Error(t, err)
}

func TestValidate_ScheduleWindowEqualRejected(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)
	s.Transcoder.ScheduleStart = "10:00"
	s.Transcoder.ScheduleEnd = "10:00"

	err := s.Validate()
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, s.Save(path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, s.RecordingsBaseDirectory, loaded.RecordingsBaseDirectory)
	require.Equal(t, s.Sources["cam1"].Device, loaded.Sources["cam1"].Device)
	require.Equal(t, s.Storage.EmergencyUsedFraction, loaded.Storage.EmergencyUsedFraction)
}

func TestLoader_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	s := validSnapshot(t, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, s.Save(path))

	t.Setenv("CAMGUARD_HTTP_PORT", "9999")

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, 9999, loaded.HTTP.Port)
}

func TestScheduleWindow_WrapAround(t *testing.T) {
	tc := TranscoderConfig{ScheduleStart: "22:00", ScheduleEnd: "06:00"}

	cases := []struct {
		hhmm string
		want bool
	}{
		{"04:30", true},
		{"07:00", false},
		{"22:00", true},
		{"06:00", false},
		{"23:59", true},
	}

	for _, c := range cases {
		loc := time.Now().Location()
		var h, m int
		_, err := time.Parse("15:04", c.hhmm)
		require.NoError(t, err)
		parsed, err := time.ParseInLocation("15:04", c.hhmm, loc)
		require.NoError(t, err)
		h, m = parsed.Hour(), parsed.Minute()
		now := time.Date(2024, 1, 1, h, m, 0, 0, loc)
		require.Equal(t, c.want, tc.InSchedule(now), "time %s", c.hhmm)
	}
}

func TestScheduleWindow_NonWrapping(t *testing.T) {
	tc := TranscoderConfig{ScheduleStart: "01:00", ScheduleEnd: "05:00"}
	loc := time.Now().Location()

	require.True(t, tc.InSchedule(time.Date(2024, 1, 1, 2, 0, 0, 0, loc)))
	require.False(t, tc.InSchedule(time.Date(2024, 1, 1, 6, 0, 0, 0, loc)))
	require.True(t, tc.InSchedule(time.Date(2024, 1, 1, 1, 0, 0, 0, loc)))
	require.False(t, tc.InSchedule(time.Date(2024, 1, 1, 5, 0, 0, 0, loc)))
}

func TestCheckWritableDir_MissingDir(t *testing.T) {
	err := checkWritableDir(filepath.Join(os.TempDir(), "camguard-does-not-exist-xyz"))
	require.Error(t, err)
}
