package job

import (
	"testing"
	"time"
)

func TestNewJobIsQueued(t *testing.T) {
	j := New("/in/movie.mkv", "/out/movie.av1.mkv", DefaultEncodingConfig())
	if j.Status != StatusQueued {
		t.Fatalf("status = %s, want queued", j.Status)
	}
	if j.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}
	if j.StartedAt != nil || j.FinishedAt != nil || j.Stats != nil || j.ErrorMessage != "" {
		t.Fatalf("unexpected lifecycle fields on new job: %+v", j)
	}
}

func TestLifecycleKeepsStatsAndErrorInStep(t *testing.T) {
	j := New("in", "out", DefaultEncodingConfig())

	j.MarkStarted()
	if j.Status != StatusRunning || j.Stats == nil || j.StartedAt == nil {
		t.Fatalf("running job missing fields: %+v", j)
	}

	j.MarkFailed("ffmpeg exited with status 1")
	if j.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if j.Stats != nil {
		t.Fatal("stats must be cleared once the job leaves running")
	}
	if j.ErrorMessage == "" || j.FinishedAt == nil {
		t.Fatalf("failed job missing fields: %+v", j)
	}

	j.ResetForRetry()
	if j.Status != StatusQueued || j.ErrorMessage != "" || j.StartedAt != nil || j.FinishedAt != nil {
		t.Fatalf("retry reset incomplete: %+v", j)
	}
}

func TestMarkFailedSubstitutesEmptyMessage(t *testing.T) {
	j := New("in", "out", DefaultEncodingConfig())
	j.MarkStarted()
	j.MarkFailed("   ")
	if j.ErrorMessage != "unknown error" {
		t.Fatalf("error message = %q", j.ErrorMessage)
	}
}

func TestCancelQueuedJobHasNoStart(t *testing.T) {
	j := New("in", "out", DefaultEncodingConfig())
	j.MarkCancelled()
	if j.Status != StatusCancelled || j.StartedAt != nil || j.FinishedAt == nil {
		t.Fatalf("unexpected cancelled job: %+v", j)
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultEncodingConfig()
	cfg.AudioStreams = []int{0, 1}
	cfg.Params.Extra = []string{"--tune", "0"}
	j := New("in", "out", cfg)
	j.MarkStarted()
	total := uint64(100)
	j.Stats.TotalFrames = &total

	clone := j.Clone()
	clone.Config.AudioStreams[0] = 9
	clone.Config.Params.Extra[1] = "3"
	*clone.Stats.TotalFrames = 5
	*clone.StartedAt = time.Time{}

	if j.Config.AudioStreams[0] != 0 || j.Config.Params.Extra[1] != "0" {
		t.Fatal("config slices shared with clone")
	}
	if *j.Stats.TotalFrames != 100 {
		t.Fatal("stats shared with clone")
	}
	if j.StartedAt.IsZero() {
		t.Fatal("started_at shared with clone")
	}
}

func TestExecutionDuration(t *testing.T) {
	j := New("in", "out", DefaultEncodingConfig())
	if _, ok := j.ExecutionDuration(); ok {
		t.Fatal("queued job has no execution duration")
	}
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	j.StartedAt = &start
	j.FinishedAt = &end
	d, ok := j.ExecutionDuration()
	if !ok || d != 90*time.Second {
		t.Fatalf("duration = %v, %v", d, ok)
	}
}

func TestParseStatus(t *testing.T) {
	for _, status := range AllStatuses() {
		got, ok := ParseStatus(" " + string(status) + " ")
		if !ok || got != status {
			t.Fatalf("ParseStatus(%q) = %q, %v", status, got, ok)
		}
	}
	if _, ok := ParseStatus("review"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if !StatusCancelled.IsTerminal() || StatusRunning.IsTerminal() {
		t.Fatal("terminal classification wrong")
	}
}
