package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeEncoding()
	c.normalizeBinaries()
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = defaultMetricsListen
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derived := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.deps_dir", &c.Paths.DepsDir, joinPath(c.Paths.DataDir, "deps")},
		{"paths.state_file", &c.Paths.StateFile, joinPath(c.Paths.DataDir, "state.json")},
		{"paths.archive_path", &c.Paths.ArchivePath, joinPath(c.Paths.DataDir, "archive.db")},
		{"paths.log_dir", &c.Paths.LogDir, joinPath(c.Paths.DataDir, "logs")},
	}
	for _, d := range derived {
		if strings.TrimSpace(*d.value) == "" {
			*d.value = d.fallback
		}
		if *d.value, err = expandPath(*d.value); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	c.Paths.SocketPath = strings.TrimSpace(c.Paths.SocketPath)
	if c.Paths.SocketPath == "" {
		c.Paths.SocketPath = defaultSocketPath(c.Paths.DataDir)
	}
	if !IsNamedPipe(c.Paths.SocketPath) {
		if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
			return fmt.Errorf("paths.socket_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeEncoding() {
	c.Encoding.DefaultEncoder = strings.ToLower(strings.TrimSpace(c.Encoding.DefaultEncoder))
	if c.Encoding.DefaultEncoder == "" {
		c.Encoding.DefaultEncoder = defaultEncoder
	}
	c.Encoding.DefaultAudioMode = strings.ToLower(strings.TrimSpace(c.Encoding.DefaultAudioMode))
	if c.Encoding.DefaultAudioMode == "" {
		c.Encoding.DefaultAudioMode = defaultAudioMode
	}
	c.Encoding.DefaultAudioCodec = strings.TrimSpace(c.Encoding.DefaultAudioCodec)
	if c.Encoding.DefaultAudioCodec == "" {
		c.Encoding.DefaultAudioCodec = defaultAudioCodec
	}
	c.Encoding.OutputContainer = strings.TrimSpace(c.Encoding.OutputContainer)
	if c.Encoding.OutputContainer == "" {
		c.Encoding.OutputContainer = defaultOutputContainer
	}
	if !strings.HasPrefix(c.Encoding.OutputContainer, ".") {
		c.Encoding.OutputContainer = "." + c.Encoding.OutputContainer
	}
}

func (c *Config) normalizeBinaries() {
	for _, field := range []*string{&c.Binaries.FFmpegSource, &c.Binaries.SvtAv1Source, &c.Binaries.AomSource} {
		*field = strings.ToLower(strings.TrimSpace(*field))
	}
	if c.Binaries.FFmpegSource == "" {
		c.Binaries.FFmpegSource = defaultFFmpegSource
	}
	if c.Binaries.SvtAv1Source == "" {
		c.Binaries.SvtAv1Source = defaultEncoderSource
	}
	if c.Binaries.AomSource == "" {
		c.Binaries.AomSource = defaultEncoderSource
	}
}

func joinPath(elem ...string) string {
	return filepath.Join(elem...)
}
