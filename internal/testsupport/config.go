package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"

	"github.com/ValentinMastro/EncodeTalker/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// DefaultTools are the executables the encode pipeline spawns.
var DefaultTools = []string{"ffmpeg", "ffprobe", "SvtAv1EncApp", "aomenc"}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.DepsDir = filepath.Join(base, "deps")
	cfgVal.Paths.StateFile = filepath.Join(base, "data", "state.json")
	cfgVal.Paths.ArchivePath = filepath.Join(base, "data", "archive.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = socketPath(t)
	cfgVal.Daemon.ShutdownGraceSeconds = 2
	cfgVal.Metrics.Listen = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// socketPath keeps unix socket paths short; sun_path is limited to ~104 bytes
// and t.TempDir() embeds the test name.
func socketPath(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		return `\\.\pipe\encodetalker-test-` + uuid.NewString()
	}
	dir, err := os.MkdirTemp("", "et")
	if err != nil {
		t.Fatalf("mkdir socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

// WithMaxConcurrent sets the scheduler ceiling.
func WithMaxConcurrent(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.MaxConcurrentJobs = n
	}
}

// WithSystemBinaries resolves every tool from PATH first.
func WithSystemBinaries() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Binaries.FFmpegSource = config.SourceSystem
		b.cfg.Binaries.SvtAv1Source = config.SourceSystem
		b.cfg.Binaries.AomSource = config.SourceSystem
	}
}

// WithStubbedBinaries writes stub executables for the provided names into the
// compiled bin directory. If names is empty, every pipeline tool is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = DefaultTools
		}
		for _, name := range names {
			WriteScript(b.t, b.cfg.CompiledBinDir(), name, "exit 0\n")
		}
	}
}

// WithStubScript writes one stub with a custom shell body into the compiled
// bin directory.
func WithStubScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		WriteScript(b.t, b.cfg.CompiledBinDir(), name, body)
	}
}

// WriteScript writes an executable /bin/sh script and returns its path.
func WriteScript(t testing.TB, dir, name, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(dir, name)
	if runtime.GOOS == "windows" {
		target += ".exe"
	}
	script := fmt.Sprintf("#!/bin/sh\n%s", body)
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}

// PrependPath puts dir at the front of PATH for the rest of the test.
func PrependPath(t testing.TB, dir string) {
	t.Helper()
	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
