package job

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is one requested transcode.
type Job struct {
	ID           uuid.UUID      `json:"id"`
	InputPath    string         `json:"input_path"`
	OutputPath   string         `json:"output_path"`
	Config       EncodingConfig `json:"config"`
	Status       Status         `json:"status"`
	Stats        *Stats         `json:"stats,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

var now = func() time.Time { return time.Now().UTC() }

// New creates a queued job with a fresh identifier.
func New(input, output string, cfg EncodingConfig) Job {
	return Job{
		ID:         uuid.New(),
		InputPath:  input,
		OutputPath: output,
		Config:     cfg.Clone(),
		Status:     StatusQueued,
		CreatedAt:  now(),
	}
}

// MarkStarted transitions the job to Running with zeroed stats.
func (j *Job) MarkStarted() {
	started := now()
	j.Status = StatusRunning
	j.StartedAt = &started
	j.FinishedAt = nil
	j.ErrorMessage = ""
	j.Stats = &Stats{}
}

// MarkCompleted transitions the job to Completed.
func (j *Job) MarkCompleted() {
	j.finish(StatusCompleted)
}

// MarkCancelled transitions the job to Cancelled. A job cancelled while still
// queued keeps a nil StartedAt.
func (j *Job) MarkCancelled() {
	j.finish(StatusCancelled)
}

// MarkFailed transitions the job to Failed with the given diagnostic.
func (j *Job) MarkFailed(message string) {
	j.finish(StatusFailed)
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	j.ErrorMessage = message
}

func (j *Job) finish(status Status) {
	finished := now()
	j.Status = status
	j.Stats = nil
	j.ErrorMessage = ""
	j.FinishedAt = &finished
}

// ResetForRetry returns a failed job to the queued state, clearing its
// error, stats and execution timestamps.
func (j *Job) ResetForRetry() {
	j.resetToQueued()
}

// DemoteToQueued is applied to jobs that were running when the daemon
// stopped; an interrupted encode always restarts from scratch.
func (j *Job) DemoteToQueued() {
	j.resetToQueued()
}

func (j *Job) resetToQueued() {
	j.Status = StatusQueued
	j.Stats = nil
	j.ErrorMessage = ""
	j.StartedAt = nil
	j.FinishedAt = nil
}

// ExecutionDuration returns the time between start and finish, or since the
// start for a running job.
func (j Job) ExecutionDuration() (time.Duration, bool) {
	if j.StartedAt == nil {
		return 0, false
	}
	end := now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(*j.StartedAt), true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j Job) Clone() Job {
	out := j
	out.Config = j.Config.Clone()
	if j.Stats != nil {
		s := j.Stats.Clone()
		out.Stats = &s
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// ShortID returns the first eight characters of the identifier.
func (j Job) ShortID() string {
	return j.ID.String()[:8]
}
