package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

func TestCountsAndOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetCounts(3, 1, 7)
	m.JobFinished("a", job.StatusCompleted)
	m.JobFinished("b", job.StatusFailed)
	m.JobFinished("c", job.StatusFailed)

	if got := testutil.ToFloat64(m.queueJobs); got != 3 {
		t.Fatalf("queue gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.historyJobs); got != 7 {
		t.Fatalf("history gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.finished.WithLabelValues("failed")); got != 2 {
		t.Fatalf("failed counter = %v", got)
	}
}

func TestFPSSeriesRemovedOnFinish(t *testing.T) {
	m := New(nil)
	m.ObserveFPS("job-1", 42.5)
	if n := testutil.CollectAndCount(m.encodeFPS); n != 1 {
		t.Fatalf("fps series = %d, want 1", n)
	}
	m.JobFinished("job-1", job.StatusCompleted)
	if n := testutil.CollectAndCount(m.encodeFPS); n != 0 {
		t.Fatalf("fps series = %d after finish, want 0", n)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.SetCounts(1, 0, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "encodetalker_queue_jobs 1") {
		t.Fatalf("unexpected exposition:\n%s", rec.Body.String())
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetCounts(1, 2, 3)
	m.ObserveFPS("x", 1)
	m.JobFinished("x", job.StatusCancelled)
	m.RefreshHost()
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}
