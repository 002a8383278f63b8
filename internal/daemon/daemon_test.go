package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/config"
	"github.com/ValentinMastro/EncodeTalker/internal/daemon"
	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/queue"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
	"github.com/ValentinMastro/EncodeTalker/internal/testsupport"
)

// gateRunner finishes a job when release is closed, and honours cancel and
// ctx like the real pipeline.
type gateRunner struct {
	release chan struct{}
	started chan struct{}
}

func newGateRunner() *gateRunner {
	return &gateRunner{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (r *gateRunner) Run(ctx context.Context, _ job.Job, cancel <-chan struct{}, _ chan<- job.Stats) error {
	r.started <- struct{}{}
	select {
	case <-r.release:
		return nil
	case <-cancel:
		return services.ErrCancelled
	case <-ctx.Done():
		return services.ErrCancelled
	}
}

type harness struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	runner *gateRunner
	queue  *queue.Manager
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	bus := events.NewBus(64)
	runner := newGateRunner()
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
	return &harness{cfg: cfg, daemon: d, runner: runner, queue: mgr}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.daemon.Start(context.Background()); err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon test: %v", err)
		}
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = h.daemon.Shutdown(context.Background())
	})
}

func dial(t *testing.T, path string) *ipc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := ipc.Dial(ctx, path)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitFor(t *testing.T, client *ipc.Client, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-client.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := newHarness(t, cfg)
	h.start(t)

	if !h.daemon.Running() {
		t.Fatal("expected daemon to report running")
	}
	if err := h.daemon.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}

	if err := h.daemon.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.daemon.Running() {
		t.Fatal("expected daemon to be stopped")
	}
	if _, err := os.Stat(cfg.Paths.StateFile); err != nil {
		t.Fatalf("expected state file after shutdown: %v", err)
	}
	if runtime.GOOS != "windows" {
		if _, err := os.Stat(cfg.Paths.SocketPath); !os.IsNotExist(err) {
			t.Fatalf("expected socket removed, stat err=%v", err)
		}
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newHarness(t, cfg)
	first.start(t)

	second := newHarness(t, cfg)
	err := second.daemon.Start(context.Background())
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestJobLifecycleOverIPC(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	h := newHarness(t, cfg)
	h.start(t)
	client := dial(t, cfg.Paths.SocketPath)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	input := filepath.Join(testsupport.BaseDir(cfg), "in.mkv")
	id, err := client.AddJob(ctx, input, filepath.Join(testsupport.BaseDir(cfg), "out.mkv"), job.DefaultEncodingConfig())
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitFor(t, client, events.KindJobStarted)

	active, err := client.ListActive(ctx)
	if err != nil || len(active) != 1 || active[0].ID != id {
		t.Fatalf("expected job active, got %v (err=%v)", active, err)
	}

	close(h.runner.release)
	evt := waitFor(t, client, events.KindJobCompleted)
	if evt.JobID != id {
		t.Fatalf("completion for wrong job %s", evt.JobID)
	}

	history, err := client.ListHistory(ctx)
	if err != nil || len(history) != 1 || history[0].Status != job.StatusCompleted {
		t.Fatalf("unexpected history %v (err=%v)", history, err)
	}

	if err := client.RetryJob(ctx, id); err == nil || !strings.Contains(err.Error(), "not failed") {
		t.Fatalf("expected retry of completed job to be rejected, got %v", err)
	}
	if _, err := client.GetStats(ctx, id); err == nil {
		t.Fatal("expected stats error for finished job")
	}
	removed, err := client.ClearHistory(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearHistory = %d, %v", removed, err)
	}

	info, err := client.DependencyStatus(ctx)
	if err != nil {
		t.Fatalf("DependencyStatus: %v", err)
	}
	if len(info.Binaries) != 4 {
		t.Fatalf("expected 4 dependency entries, got %d", len(info.Binaries))
	}
}

func TestShutdownRequestOverIPC(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := newHarness(t, cfg)
	h.start(t)
	client := dial(t, cfg.Paths.SocketPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown request: %v", err)
	}
	select {
	case <-h.daemon.ShutdownRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown request not signalled")
	}

	if err := h.daemon.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	waitFor(t, client, events.KindDaemonShutdown)
}

func TestShutdownAbandonsRunningJobForReload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.ShutdownGraceSeconds = 1
	h := newHarness(t, cfg)
	h.start(t)

	running, err := h.queue.AddJob("/in/a.mkv", "/out/a.mkv", job.DefaultEncodingConfig())
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	select {
	case <-h.runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	waiting, err := h.queue.AddJob("/in/b.mkv", "/out/b.mkv", job.DefaultEncodingConfig())
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if err := h.daemon.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	snap, err := queue.NewPersistence(cfg.Paths.StateFile).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Active) != 1 || snap.Active[0].ID != running {
		t.Fatalf("expected running job persisted as active, got %+v", snap.Active)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != waiting {
		t.Fatalf("expected waiting job persisted in queue, got %+v", snap.Queue)
	}
	if len(snap.History) != 0 {
		t.Fatalf("abandoned job must not reach history, got %+v", snap.History)
	}

	// The next start demotes the abandoned job to the head of the queue.
	next := newHarness(t, cfg)
	next.start(t)
	select {
	case <-next.runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("restored job never started")
	}
	active := next.queue.ListActive()
	if len(active) != 1 || active[0].ID != running {
		t.Fatalf("expected demoted job to run first, got %+v", active)
	}
}

func TestAddJobRefusedWhileDraining(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := newHarness(t, cfg)
	h.start(t)
	client := dial(t, cfg.Paths.SocketPath)

	h.queue.StopAcceptingJobs()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.AddJob(ctx, "/in/a.mkv", "/out/a.mkv", job.DefaultEncodingConfig())
	if err == nil || !strings.Contains(err.Error(), "not accepting") {
		t.Fatalf("expected not accepting error, got %v", err)
	}
}

func TestAddJobDuringStartupSurvivesStateLoad(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	const persisted = 20000
	snap := queue.EmptySnapshot()
	for i := range persisted {
		j := job.New(fmt.Sprintf("/in/%05d.mkv", i), fmt.Sprintf("/out/%05d.mkv", i), job.DefaultEncodingConfig())
		j.MarkStarted()
		j.MarkCompleted()
		snap.History = append(snap.History, j)
	}
	if err := queue.NewPersistence(cfg.Paths.StateFile).Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	h := newHarness(t, cfg)
	started := make(chan error, 1)
	go func() { started <- h.daemon.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var client *ipc.Client
	for client == nil {
		c, err := ipc.Dial(ctx, cfg.Paths.SocketPath)
		if err == nil {
			client = c
			break
		}
		select {
		case startErr := <-started:
			if startErr != nil {
				if strings.Contains(startErr.Error(), "operation not permitted") {
					t.Skipf("skipping daemon test: %v", startErr)
				}
				t.Fatalf("Start: %v", startErr)
			}
			started <- nil
		default:
		}
		if ctx.Err() != nil {
			t.Fatalf("daemon endpoint never appeared: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	defer client.Close()

	id, addErr := client.AddJob(ctx, "/in/early.mkv", "/out/early.mkv", job.DefaultEncodingConfig())

	if err := <-started; err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon test: %v", err)
		}
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		close(h.runner.release)
		_ = h.daemon.Shutdown(context.Background())
	})
	if addErr != nil {
		t.Fatalf("AddJob: %v", addErr)
	}

	if _, ok := h.queue.GetJob(id); !ok {
		q, a, hist := h.queue.Counts()
		t.Fatalf("accepted job %s lost after state load (queue=%d active=%d history=%d)", id, q, a, hist)
	}
	if got := len(h.queue.ListHistory()); got != persisted {
		t.Fatalf("history = %d, want %d", got, persisted)
	}
}
