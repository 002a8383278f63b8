package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/ValentinMastro/EncodeTalker/internal/config"
	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/queue"
)

// workerStopTimeout bounds how long shutdown waits for pipelines to reap
// their subprocesses after the scheduler context is cancelled.
const workerStopTimeout = 10 * time.Second

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another encodetalker daemon instance is already running")

// Dependencies bundles the components the daemon coordinates.
type Dependencies struct {
	Queue  *queue.Manager
	Deps   *deps.Manager
	Bus    *events.Bus
	Logger *slog.Logger
}

// Daemon owns the process lifecycle.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	queue  *queue.Manager
	deps   *deps.Manager
	bus    *events.Bus

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	server  *ipc.Server

	shutdownRequested chan struct{}
	requestOnce       sync.Once
	shutdownOnce      sync.Once
	shutdownErr       error
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, d Dependencies) (*Daemon, error) {
	if cfg == nil || d.Queue == nil || d.Deps == nil {
		return nil, errors.New("daemon requires config, queue manager and dependency manager")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:               cfg,
		logger:            logging.NewComponentLogger(logger, "daemon"),
		queue:             d.Queue,
		deps:              d.Deps,
		bus:               d.Bus,
		lockPath:          lockPath,
		lock:              flock.New(lockPath),
		shutdownRequested: make(chan struct{}),
	}, nil
}

// Start acquires the instance lock, binds the IPC endpoint, restores the
// persisted state and starts the admission loop and the auto-save timer.
// Any error is fatal to the process.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	listener, err := ipc.Listen(d.cfg.Paths.SocketPath)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("bind IPC endpoint: %w", err)
	}
	// Clients may connect from here on; their requests wait in the backlog
	// until the persisted state is in place and Serve starts accepting.
	demoted, _ := d.queue.LoadState()

	// Signals must not cut the drain short; the scheduler and the server only
	// stop through Shutdown.
	base := context.WithoutCancel(ctx)
	d.server = ipc.NewServer(base, listener, d, d.bus, d.logger)
	d.server.OnShutdown(d.RequestShutdown)
	d.server.Serve()

	schedCtx, cancel := context.WithCancel(base)
	d.cancel = cancel
	d.loops.Add(1)
	go func() {
		defer d.loops.Done()
		_ = d.queue.Run(schedCtx)
	}()
	if interval := d.cfg.AutoSaveInterval(); interval > 0 {
		d.loops.Add(1)
		go func() {
			defer d.loops.Done()
			d.autoSave(schedCtx, interval)
		}()
	}

	d.running.Store(true)
	d.logger.Info("encodetalker daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("endpoint", listener.Addr()),
		logging.Int("demoted_jobs", demoted),
		logging.Int("max_concurrent", d.queue.MaxConcurrent()),
	)
	return nil
}

func (d *Daemon) autoSave(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are logged by SaveState and retried next tick.
			_ = d.queue.SaveState()
		}
	}
}

// RequestShutdown asks the process to stop. It is safe to call repeatedly.
func (d *Daemon) RequestShutdown() {
	d.requestOnce.Do(func() {
		close(d.shutdownRequested)
	})
}

// ShutdownRequested is closed once a client asked the daemon to stop.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdownRequested
}

// Running reports whether Start succeeded and Shutdown has not finished.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Endpoint returns the IPC endpoint path.
func (d *Daemon) Endpoint() string {
	return d.cfg.Paths.SocketPath
}

// Shutdown drains and stops the daemon: new jobs are refused, clients are
// told, running jobs get the configured grace period, the scheduler is
// cancelled, state is saved, the endpoint is removed and the lock released.
// It returns the final save error, if any.
func (d *Daemon) Shutdown(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}
	d.shutdownOnce.Do(func() {
		d.shutdownErr = d.shutdown(ctx)
	})
	return d.shutdownErr
}

func (d *Daemon) shutdown(ctx context.Context) error {
	d.logger.Info("encodetalker daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))

	d.queue.StopAcceptingJobs()
	d.bus.Publish(events.DaemonShutdown())

	grace := d.cfg.ShutdownGrace()
	if !d.queue.WaitActiveJobs(ctx, grace) {
		_, active, _ := d.queue.Counts()
		logging.WarnWithContext(d.logger, "active jobs did not finish within grace period", "shutdown_grace_expired",
			logging.Int("active_jobs", active),
			logging.Duration("grace", grace),
			logging.Impact("running encodes are aborted and restart from scratch next launch"),
			logging.ErrorHint("raise daemon.shutdown_grace_seconds to let long encodes finish"),
		)
	}

	d.cancel()
	d.loops.Wait()
	if !d.queue.WaitWorkers(workerStopTimeout) {
		logging.WarnWithContext(d.logger, "pipelines still running after cancellation", "shutdown_workers_stuck",
			logging.Duration("timeout", workerStopTimeout),
			logging.Impact("encoder subprocesses may outlive the daemon"),
			logging.ErrorHint("check for orphaned ffmpeg or encoder processes"),
		)
	}

	saveErr := d.queue.SaveState()

	d.server.Close()

	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.String("lock", d.lockPath),
			logging.Error(err),
			logging.Impact("a new daemon may refuse to start until this process exits"),
			logging.ErrorHint("remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("encodetalker daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return saveErr
}
