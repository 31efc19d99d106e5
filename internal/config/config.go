// SPDX-License-Identifier: MIT

// Package config loads and validates the camguard configuration document.
//
// A Snapshot is read once at process startup and passed by reference to
// every other component; it never mutates for the life of the process.
// Operator-facing runtime toggles (transcoder enabled, shutdown requested)
// live beside the snapshot as explicit atomics in this package, not as
// config mutation — see Toggles.
package config

import (
	"fmt"
	"time"
)

// DefaultConfigPath is the default location for the configuration file.
const DefaultConfigPath = "/etc/camguard/config.yaml"

// DefaultLockPath is the default location for the daemon's single-instance
// lock file, held for the process lifetime.
const DefaultLockPath = "/run/camguard/camguardd.lock"

// Snapshot is the complete, validated camguard configuration.
type Snapshot struct {
	RecordingsBaseDirectory string                  `yaml:"recordings_base_directory" koanf:"recordings_base_directory"`
	SegmentDurationSeconds  int                     `yaml:"segment_duration_seconds" koanf:"segment_duration_seconds"`
	OutputCodec             string                  `yaml:"output_codec" koanf:"output_codec"`
	Sources                 map[string]SourceConfig `yaml:"sources" koanf:"sources"`
	Storage                 StorageConfig           `yaml:"storage" koanf:"storage"`
	Transcoder              TranscoderConfig        `yaml:"transcoder" koanf:"transcoder"`
	HTTP                    HTTPConfig              `yaml:"http" koanf:"http"`
}

// SourceConfig describes one configured capture unit.
type SourceConfig struct {
	Device     string `yaml:"device" koanf:"device"`
	Name       string `yaml:"name" koanf:"name"`
	Resolution string `yaml:"resolution" koanf:"resolution"`
	Framerate  int    `yaml:"framerate" koanf:"framerate"`
	InputCodec string `yaml:"input_codec" koanf:"input_codec"`
	Enabled    bool   `yaml:"enabled" koanf:"enabled"`
}

// StorageConfig controls segment retention and emergency pruning.
type StorageConfig struct {
	CleanupEnabled           bool    `yaml:"cleanup_enabled" koanf:"cleanup_enabled"`
	MaxAgeDays               int     `yaml:"max_age_days" koanf:"max_age_days"`
	EmergencyUsedFraction    float64 `yaml:"emergency_used_fraction" koanf:"emergency_used_fraction"`
	EmergencyTargetFraction  float64 `yaml:"emergency_target_fraction" koanf:"emergency_target_fraction"`
}

// TranscoderConfig controls the background re-encoder engine.
type TranscoderConfig struct {
	Enabled            bool    `yaml:"enabled" koanf:"enabled"`
	MinAgeDays         int     `yaml:"min_age_days" koanf:"min_age_days"`
	ScheduleStart      string  `yaml:"schedule_start" koanf:"schedule_start"`
	ScheduleEnd        string  `yaml:"schedule_end" koanf:"schedule_end"`
	MaxCPUPercent      float64 `yaml:"max_cpu_percent" koanf:"max_cpu_percent"`
	MaxIOWait          float64 `yaml:"max_io_wait" koanf:"max_io_wait"`
	OutputCodec        string  `yaml:"output_codec" koanf:"output_codec"`
	Preset             string  `yaml:"preset" koanf:"preset"`
	Quality            int     `yaml:"quality" koanf:"quality"`
	KeepOriginalDays   int     `yaml:"keep_original_days" koanf:"keep_original_days"`
	MinFreeGB          int     `yaml:"min_free_gb" koanf:"min_free_gb"`
	MinSavingsPercent  float64 `yaml:"min_savings_percent" koanf:"min_savings_percent"`
}

// HTTPConfig controls the operator-facing control surface.
type HTTPConfig struct {
	Host string `yaml:"host" koanf:"host"`
	Port int    `yaml:"port" koanf:"port"`
}

// SourceDir returns the per-source segment directory: the recordings base
// directory joined with the source identifier.
func (s *Snapshot) SourceDir(id string) string {
	return s.RecordingsBaseDirectory + "/" + id
}

// EnabledSources returns the identifiers of every enabled source, in
// insertion order is not guaranteed (map iteration) — callers that need
// determinism should sort.
func (s *Snapshot) EnabledSources() []string {
	var ids []string
	for id, src := range s.Sources {
		if src.Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// StatsFilePath returns the path of the persisted transcoder statistics
// file at the root of the recordings tree.
func (s *Snapshot) StatsFilePath() string {
	return s.RecordingsBaseDirectory + "/.transcoding_stats"
}

// DefaultSnapshot returns a Snapshot populated with production-reasonable
// defaults; callers merge a config file and environment overrides on top
// of this before validating.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		SegmentDurationSeconds: 600,
		OutputCodec:            "copy",
		Sources:                make(map[string]SourceConfig),
		Storage: StorageConfig{
			CleanupEnabled:          true,
			MaxAgeDays:              30,
			EmergencyUsedFraction:   0.95,
			EmergencyTargetFraction: 0.85,
		},
		Transcoder: TranscoderConfig{
			Enabled:           false,
			MinAgeDays:        7,
			ScheduleStart:     "01:00",
			ScheduleEnd:       "05:00",
			MaxCPUPercent:     50,
			MaxIOWait:         20,
			OutputCodec:       "h265-target",
			Preset:            "medium",
			Quality:           28,
			KeepOriginalDays:  1,
			MinFreeGB:         5,
			MinSavingsPercent: 20,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// InvalidError reports a single configuration validation failure with a
// precise field reference.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &InvalidError{Field: field, Reason: reason}
}

// durationFromHHMM parses "HH:MM" into a time.Duration offset from midnight.
func durationFromHHMM(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("not in HH:MM form: %w", err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
