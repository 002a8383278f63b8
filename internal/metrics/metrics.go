// Package metrics exposes scheduler and host gauges in the Prometheus text
// format. A nil *Metrics accepts every call and records nothing, so callers
// never need to check whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
)

const hostRefreshInterval = 15 * time.Second

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	queueJobs    prometheus.Gauge
	activeJobs   prometheus.Gauge
	historyJobs  prometheus.Gauge
	finished     *prometheus.CounterVec
	encodeFPS    *prometheus.GaugeVec
	hostCPU      prometheus.Gauge
	hostMemUsed  prometheus.Gauge
	hostMemTotal prometheus.Gauge
}

// New registers every collector on registry. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		queueJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encodetalker_queue_jobs",
			Help: "Jobs waiting in the queue",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encodetalker_active_jobs",
			Help: "Jobs currently encoding",
		}),
		historyJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encodetalker_history_jobs",
			Help: "Jobs held in history",
		}),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "encodetalker_jobs_finished_total",
				Help: "Jobs that reached a terminal state",
			},
			[]string{"status"},
		),
		encodeFPS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "encodetalker_encode_fps",
				Help: "Latest encoder throughput in frames per second",
			},
			[]string{"job_id"},
		),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encodetalker_host_cpu_percent",
			Help: "Host CPU usage percentage (0-100)",
		}),
		hostMemUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encodetalker_host_memory_used_bytes",
			Help: "Host memory in use",
		}),
		hostMemTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encodetalker_host_memory_total_bytes",
			Help: "Host memory installed",
		}),
	}
	registry.MustRegister(
		m.queueJobs, m.activeJobs, m.historyJobs,
		m.finished, m.encodeFPS,
		m.hostCPU, m.hostMemUsed, m.hostMemTotal,
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetCounts updates the partition gauges.
func (m *Metrics) SetCounts(queued, active, history int) {
	if m == nil {
		return
	}
	m.queueJobs.Set(float64(queued))
	m.activeJobs.Set(float64(active))
	m.historyJobs.Set(float64(history))
}

// JobFinished counts a terminal transition and drops the job's fps series.
func (m *Metrics) JobFinished(id string, status job.Status) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(string(status)).Inc()
	m.encodeFPS.DeleteLabelValues(id)
}

// ObserveFPS records the latest throughput of a running job.
func (m *Metrics) ObserveFPS(id string, fps float64) {
	if m == nil {
		return
	}
	m.encodeFPS.WithLabelValues(id).Set(fps)
}

// RefreshHost samples CPU and memory usage.
func (m *Metrics) RefreshHost() {
	if m == nil {
		return
	}
	if percent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percent) > 0 {
		m.hostCPU.Set(percent[0])
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		m.hostMemUsed.Set(float64(vmem.Used))
		m.hostMemTotal.Set(float64(vmem.Total))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until ctx ends. Host gauges are refreshed
// periodically while serving.
func (m *Metrics) Serve(ctx context.Context, listen string, logger *slog.Logger) error {
	if m == nil {
		return nil
	}
	logger = logging.NewComponentLogger(logger, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go m.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics exporter listening", logging.String("listen", listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Metrics) refreshLoop(ctx context.Context) {
	m.RefreshHost()
	ticker := time.NewTicker(hostRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshHost()
		}
	}
}
