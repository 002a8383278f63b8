package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ValentinMastro/EncodeTalker/internal/archive"
	"github.com/ValentinMastro/EncodeTalker/internal/config"
	"github.com/ValentinMastro/EncodeTalker/internal/daemon"
	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/encoder"
	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/metrics"
	"github.com/ValentinMastro/EncodeTalker/internal/queue"
)

// eventBufferSize is the per-subscriber buffer on the daemon event bus.
const eventBufferSize = 256

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the EncodeTalker daemon and blocks until a signal or a Shutdown
// request ends it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Development:      opts.Development,
		FilePath:         filepath.Join(cfg.Paths.LogDir, logging.DaemonLogFile),
		SessionID:        uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	bus := events.NewBus(eventBufferSize)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	var archiver queue.Archiver
	store, err := archive.Open(cfg.Paths.ArchivePath)
	if err != nil {
		logging.WarnWithContext(logger, "history archive unavailable", "archive_open_failed",
			logging.Error(err),
			logging.String("path", cfg.Paths.ArchivePath),
			logging.String(logging.FieldErrorHint, "check permissions on the data directory"),
			logging.String(logging.FieldImpact, "finished jobs will not be archived this session"),
		)
	} else {
		archiver = store
		defer store.Close()
	}

	depsMgr := deps.NewManager(cfg, bus)
	logDependencySnapshot(logger, depsMgr)

	pipeline := &encoder.Pipeline{
		Binaries:          depsMgr,
		PreciseFrameCount: cfg.Encoding.PreciseFrameCount,
		PreciseTimeout:    cfg.PreciseFrameCountTimeout(),
		Logger:            logger,
	}

	qm, err := queue.NewManager(queue.Options{
		MaxConcurrent: cfg.Daemon.MaxConcurrentJobs,
		Runner:        pipeline,
		Persistence:   queue.NewPersistence(cfg.Paths.StateFile),
		Bus:           bus,
		Archive:       archiver,
		Metrics:       m,
		Logger:        logger,
		ProgressRate:  cfg.Daemon.ProgressEventsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("create queue manager: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Dependencies{
		Queue:  qm,
		Deps:   depsMgr,
		Bus:    bus,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		logging.WarnWithContext(logger, "pid file not written", "pid_file_failed",
			logging.Error(err),
			logging.String("path", pidPath),
			logging.String(logging.FieldImpact, "force stop will not find the daemon process"),
		)
	} else {
		defer os.Remove(pidPath)
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if m != nil {
		go func() {
			if err := m.Serve(metricsCtx, cfg.Metrics.Listen, logger); err != nil {
				logging.WarnWithContext(logger, "metrics exporter stopped", "metrics_serve_failed",
					logging.Error(err),
					logging.String("listen", cfg.Metrics.Listen),
					logging.String(logging.FieldImpact, "prometheus scrapes will fail"),
				)
			}
		}()
	}

	reason := "signal"
	select {
	case <-signalCtx.Done():
	case <-d.ShutdownRequested():
		reason = "request"
	}
	logger.Info("encodetalker daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
		logging.String("reason", reason),
	)

	if err := d.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, mgr *deps.Manager) {
	if logger == nil || mgr == nil {
		return
	}
	status := mgr.CheckStatus()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("all_present", status.AllPresent),
	}
	for _, bin := range status.Binaries {
		attrs = append(attrs,
			logging.Bool(bin.Name+"_available", bin.Available),
			logging.String(bin.Name+"_binary", bin.Command),
			logging.String(bin.Name+"_source", string(bin.Source)),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if !status.AllPresent {
		for _, bin := range status.Binaries {
			if bin.Available || bin.Optional {
				continue
			}
			logging.WarnWithContext(logger, "required tool missing", "dependency_missing",
				logging.String("tool", bin.Name),
				logging.String("detail", bin.Detail),
				logging.String(logging.FieldErrorHint, "install the tool or set its source in [binaries]"),
				logging.String(logging.FieldImpact, "jobs needing this tool will fail"),
			)
		}
	}
}
