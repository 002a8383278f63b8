package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/config"
	"github.com/ValentinMastro/EncodeTalker/internal/daemon"
	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/queue"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
	"github.com/ValentinMastro/EncodeTalker/internal/testsupport"
)

// holdRunner keeps jobs running until released or cancelled.
type holdRunner struct {
	release chan struct{}
	once    sync.Once
}

func (r *holdRunner) Run(ctx context.Context, _ job.Job, cancel <-chan struct{}, progress chan<- job.Stats) error {
	total := uint64(1000)
	stats := job.NewStats(&total, nil)
	stats.Frame = 250
	stats.FPS = 12.5
	stats.Recompute()
	select {
	case progress <- stats:
	default:
	}
	select {
	case <-r.release:
		return nil
	case <-cancel:
		return services.ErrCancelled
	case <-ctx.Done():
		return services.ErrCancelled
	}
}

func (r *holdRunner) releaseAll() {
	r.once.Do(func() { close(r.release) })
}

type cliTestEnv struct {
	cfg        *config.Config
	queue      *queue.Manager
	daemon     *daemon.Daemon
	runner     *holdRunner
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithMaxConcurrent(1), testsupport.WithStubbedBinaries())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	bus := events.NewBus(64)
	runner := &holdRunner{release: make(chan struct{})}
	mgr, err := queue.NewManager(queue.Options{
		MaxConcurrent: cfg.Daemon.MaxConcurrentJobs,
		Runner:        runner,
		Persistence:   queue.NewPersistence(cfg.Paths.StateFile),
		Bus:           bus,
		Logger:        logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("queue.NewManager: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Dependencies{
		Queue:  mgr,
		Deps:   deps.NewManager(cfg, bus),
		Bus:    bus,
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		runner.releaseAll()
		_ = d.Shutdown(context.Background())
	})

	return &cliTestEnv{
		cfg:        cfg,
		queue:      mgr,
		daemon:     d,
		runner:     runner,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
