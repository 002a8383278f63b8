package config

import (
	"errors"
	"fmt"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateEncoders(); err != nil {
		return err
	}
	if err := c.validateBinaries(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.MaxConcurrentJobs < 1 {
		return errors.New("daemon.max_concurrent_jobs must be at least 1")
	}
	if c.Daemon.AutoSaveIntervalSeconds <= 0 {
		return errors.New("daemon.auto_save_interval_seconds must be positive")
	}
	if c.Daemon.ShutdownGraceSeconds < 0 {
		return errors.New("daemon.shutdown_grace_seconds must be non-negative")
	}
	if c.Daemon.ProgressEventsPerSecond < 0 {
		return errors.New("daemon.progress_events_per_second must be non-negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (expected console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if _, err := job.ParseEncoder(c.Encoding.DefaultEncoder); err != nil {
		return fmt.Errorf("encoding.default_encoder: %w", err)
	}
	kind, err := job.ParseAudioKind(c.Encoding.DefaultAudioMode)
	if err != nil {
		return fmt.Errorf("encoding.default_audio_mode: %w", err)
	}
	if kind != job.AudioCopy && c.Encoding.DefaultAudioBitrate <= 0 {
		return errors.New("encoding.default_audio_bitrate must be positive")
	}
	if c.Encoding.PreciseFrameCountTimeoutSeconds <= 0 {
		return errors.New("encoding.precise_frame_count_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateEncoders() error {
	if c.Encoder.SvtAv1.Preset < 0 || c.Encoder.SvtAv1.Preset > 13 {
		return fmt.Errorf("encoder.svt-av1.preset %d out of range 0-13", c.Encoder.SvtAv1.Preset)
	}
	if c.Encoder.SvtAv1.CRF < 0 || c.Encoder.SvtAv1.CRF > 63 {
		return fmt.Errorf("encoder.svt-av1.crf %d out of range 0-63", c.Encoder.SvtAv1.CRF)
	}
	if c.Encoder.Aom.CPUUsed < 0 || c.Encoder.Aom.CPUUsed > 9 {
		return fmt.Errorf("encoder.aom.cpu-used %d out of range 0-9", c.Encoder.Aom.CPUUsed)
	}
	if c.Encoder.Aom.CRF < 0 || c.Encoder.Aom.CRF > 63 {
		return fmt.Errorf("encoder.aom.crf %d out of range 0-63", c.Encoder.Aom.CRF)
	}
	return nil
}

func (c *Config) validateBinaries() error {
	for key, value := range map[string]string{
		"binaries.ffmpeg_source":  c.Binaries.FFmpegSource,
		"binaries.svt_av1_source": c.Binaries.SvtAv1Source,
		"binaries.aom_source":     c.Binaries.AomSource,
	} {
		if value != SourceSystem && value != SourceCompiled {
			return fmt.Errorf("%s: unsupported value %q (expected system or compiled)", key, value)
		}
	}
	return nil
}
