// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "go.yaml.in/yaml/v3"
)

// Loader wraps koanf for layered configuration loading: built-in defaults,
// overridden by the YAML file, overridden by CAMGUARD_*-prefixed
// environment variables.
type Loader struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a Loader.
type Option func(*Loader) error

// WithYAMLFile sets the YAML configuration file path.
func WithYAMLFile(path string) Option {
	return func(l *Loader) error {
		l.filePath = path
		return nil
	}
}

// WithEnvPrefix overrides the environment variable prefix (default "CAMGUARD").
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) error {
		l.envPrefix = prefix
		return nil
	}
}

// NewLoader creates a loader and performs the initial load.
func NewLoader(opts ...Option) (*Loader, error) {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: "CAMGUARD",
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) reload() error {
	k := koanf.New(".")

	defaults := structToMap(DefaultSnapshot())
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: l.envPrefix + "_",
		TransformFunc: func(key, value string) (string, any) {
			return toLowerDot(strings.TrimPrefix(key, l.envPrefix+"_")), value
		},
	}), nil); err != nil {
		return fmt.Errorf("load environment overrides: %w", err)
	}

	l.mu.Lock()
	l.k = k
	l.mu.Unlock()
	return nil
}

// Load unmarshals and validates the current layered configuration.
func (l *Loader) Load() (*Snapshot, error) {
	l.mu.RLock()
	k := l.k
	l.mu.RUnlock()

	var snap Snapshot
	if err := k.Unmarshal("", &snap); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LoadSnapshot is a convenience one-shot loader used by cmd/camguardd.
func LoadSnapshot(path string) (*Snapshot, error) {
	l, err := NewLoader(WithYAMLFile(path))
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// Save writes the snapshot to path atomically using renameio — write to a
// temp file in the same directory, fsync, rename — so a crash mid-write
// never leaves a truncated config file behind.
func (s *Snapshot) Save(path string) error {
	data, err := yamlv3.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// topLevelEnvSections lists the known nested config sections so their env
// var form (SECTION_FIELD_NAME) splits at the section boundary rather than
// at every underscore.
var topLevelEnvSections = []string{"storage_", "transcoder_", "http_"}

// toLowerDot converts the portion of an env var key left over after the
// env TransformFunc trims the CAMGUARD_ prefix (env.Provider passes the
// full key, prefix included) into a dot-delimited koanf key,
// e.g. STORAGE_MAX_AGE_DAYS -> storage.max_age_days, HTTP_PORT -> http.port.
// Per-source overrides (sources.<id>.*) are expected via the YAML file,
// not environment variables — a source's field set is too deep to map
// onto a flat env var name unambiguously.
func toLowerDot(s string) string {
	lower := strings.ToLower(s)
	for _, section := range topLevelEnvSections {
		if strings.HasPrefix(lower, section) {
			name := strings.TrimSuffix(section, "_")
			return name + "." + strings.TrimPrefix(lower, section)
		}
	}
	return strings.ReplaceAll(lower, "_", ".")
}

// structToMap converts the default Snapshot into the nested map shape
// koanf's confmap.Provider expects, keyed the same as the koanf struct
// tags so field-level overrides compose correctly.
func structToMap(s *Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"recordings_base_directory": s.RecordingsBaseDirectory,
		"segment_duration_seconds":  s.SegmentDurationSeconds,
		"output_codec":              s.OutputCodec,
		"storage": map[string]interface{}{
			"cleanup_enabled":           s.Storage.CleanupEnabled,
			"max_age_days":              s.Storage.MaxAgeDays,
			"emergency_used_fraction":   s.Storage.EmergencyUsedFraction,
			"emergency_target_fraction": s.Storage.EmergencyTargetFraction,
		},
		"transcoder": map[string]interface{}{
			"enabled":              s.Transcoder.Enabled,
			"min_age_days":         s.Transcoder.MinAgeDays,
			"schedule_start":       s.Transcoder.ScheduleStart,
			"schedule_end":         s.Transcoder.ScheduleEnd,
			"max_cpu_percent":      s.Transcoder.MaxCPUPercent,
			"max_io_wait":          s.Transcoder.MaxIOWait,
			"output_codec":         s.Transcoder.OutputCodec,
			"preset":               s.Transcoder.Preset,
			"quality":              s.Transcoder.Quality,
			"keep_original_days":   s.Transcoder.KeepOriginalDays,
			"min_free_gb":          s.Transcoder.MinFreeGB,
			"min_savings_percent":  s.Transcoder.MinSavingsPercent,
		},
		"http": map[string]interface{}{
			"host": s.HTTP.Host,
			"port": s.HTTP.Port,
		},
	}
}
