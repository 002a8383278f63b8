package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Daemon contains scheduler and lifecycle settings.
type Daemon struct {
	MaxConcurrentJobs       int     `toml:"max_concurrent_jobs"`
	AutoSaveIntervalSeconds int     `toml:"auto_save_interval_seconds"`
	ShutdownGraceSeconds    int     `toml:"shutdown_grace_seconds"`
	ProgressEventsPerSecond float64 `toml:"progress_events_per_second"` // 0 disables throttling
}

// Paths contains the on-disk layout. Empty derived paths are placed under
// DataDir during normalization.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	DepsDir     string `toml:"deps_dir"`
	SocketPath  string `toml:"socket_path"`
	StateFile   string `toml:"state_file"`
	ArchivePath string `toml:"archive_path"`
	LogDir      string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Encoding contains the defaults applied to jobs submitted without explicit
// settings.
type Encoding struct {
	DefaultEncoder                  string `toml:"default_encoder"`
	DefaultAudioMode                string `toml:"default_audio_mode"`
	DefaultAudioBitrate             int    `toml:"default_audio_bitrate"`
	DefaultAudioCodec               string `toml:"default_audio_codec"`
	OutputSuffix                    string `toml:"output_suffix"`
	OutputContainer                 string `toml:"output_container"`
	PreciseFrameCount               bool   `toml:"precise_frame_count"`
	PreciseFrameCountTimeoutSeconds int    `toml:"precise_frame_count_timeout_seconds"`
}

// SvtAv1 holds SvtAv1EncApp defaults.
type SvtAv1 struct {
	Preset int      `toml:"preset"`
	CRF    int      `toml:"crf"`
	Params []string `toml:"params"`
}

// Aom holds aomenc defaults.
type Aom struct {
	CPUUsed int      `toml:"cpu-used"`
	CRF     int      `toml:"crf"`
	Params  []string `toml:"params"`
}

// Encoders groups per-encoder defaults.
type Encoders struct {
	SvtAv1 SvtAv1 `toml:"svt-av1"`
	Aom    Aom    `toml:"aom"`
}

// Binaries selects where each external tool is resolved from: "system" uses
// PATH, "compiled" uses <deps_dir>/bin. The other source is tried when the
// preferred one is missing.
type Binaries struct {
	FFmpegSource string `toml:"ffmpeg_source"`
	SvtAv1Source string `toml:"svt_av1_source"`
	AomSource    string `toml:"aom_source"`
}

// Metrics configures the optional Prometheus exporter.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Config encapsulates all configuration values for EncodeTalker.
//
// Configuration sections by subsystem:
//   - Daemon: concurrency ceiling, auto-save cadence, shutdown grace
//   - Paths: data directory layout and IPC endpoint
//   - Logging: log format and level
//   - Encoding: defaults for new jobs and probing behaviour
//   - Encoder: per-encoder presets, quality and extra arguments
//   - Binaries: system vs locally compiled tool resolution
//   - Metrics: Prometheus exporter
type Config struct {
	Daemon   Daemon   `toml:"daemon"`
	Paths    Paths    `toml:"paths"`
	Logging  Logging  `toml:"logging"`
	Encoding Encoding `toml:"encoding"`
	Encoder  Encoders `toml:"encoder"`
	Binaries Binaries `toml:"binaries"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("encodetalker.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.LogDir,
		filepath.Join(c.Paths.DepsDir, "bin"),
		filepath.Dir(c.Paths.StateFile),
		filepath.Dir(c.Paths.ArchivePath),
	}
	if !IsNamedPipe(c.Paths.SocketPath) {
		dirs = append(dirs, filepath.Dir(c.Paths.SocketPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "encodetalkerd.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "encodetalkerd.pid")
}

// CompiledBinDir returns the directory holding locally built tools.
func (c *Config) CompiledBinDir() string {
	return filepath.Join(c.Paths.DepsDir, "bin")
}

// AutoSaveInterval returns the period between state snapshots.
func (c *Config) AutoSaveInterval() time.Duration {
	return time.Duration(c.Daemon.AutoSaveIntervalSeconds) * time.Second
}

// ShutdownGrace returns how long shutdown waits for active jobs.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Daemon.ShutdownGraceSeconds) * time.Second
}

// PreciseFrameCountTimeout bounds the decode-only frame counting pass.
func (c *Config) PreciseFrameCountTimeout() time.Duration {
	return time.Duration(c.Encoding.PreciseFrameCountTimeoutSeconds) * time.Second
}

// OutputPathFor derives the default output path for an input file:
// <dir>/<stem><output_suffix><output_container>.
func (c *Config) OutputPathFor(input string) string {
	dir := filepath.Dir(input)
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+c.Encoding.OutputSuffix+c.Encoding.OutputContainer)
}

// IsNamedPipe reports whether the endpoint refers to a Windows named pipe.
func IsNamedPipe(path string) bool {
	return strings.HasPrefix(path, `\\.\pipe\`)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	expanded, err := expandEnv(pathValue)
	if err != nil {
		return "", err
	}
	pathValue = expanded
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// expandEnv substitutes $VAR and ${VAR}; an unset variable is an error rather
// than an empty string.
func expandEnv(value string) (string, error) {
	var missing []string
	out := os.Expand(value, func(name string) string {
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined environment variable %s in %q", strings.Join(missing, ", "), value)
	}
	return out, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
