package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// Kind identifies the payload carried by an Event.
type Kind string

const (
	KindJobAdded               Kind = "job_added"
	KindJobStarted             Kind = "job_started"
	KindJobProgress            Kind = "job_progress"
	KindJobCompleted           Kind = "job_completed"
	KindJobFailed              Kind = "job_failed"
	KindJobCancelled           Kind = "job_cancelled"
	KindDaemonShutdown         Kind = "daemon_shutdown"
	KindDepsBuildStarted       Kind = "deps_build_started"
	KindDepsBuildProgress      Kind = "deps_build_progress"
	KindDepsBuildItemCompleted Kind = "deps_build_item_completed"
	KindDepsBuildCompleted     Kind = "deps_build_completed"
	KindDepsBuildFailed        Kind = "deps_build_failed"
)

// IsJobEvent reports whether the kind concerns a single job.
func (k Kind) IsJobEvent() bool {
	switch k {
	case KindJobAdded, KindJobStarted, KindJobProgress, KindJobCompleted, KindJobFailed, KindJobCancelled:
		return true
	default:
		return false
	}
}

// DependencyProgress describes a dependency build step.
type DependencyProgress struct {
	Name  string `json:"name,omitempty"`
	Index int    `json:"index,omitempty"`
	Total int    `json:"total,omitempty"`
	Step  string `json:"step,omitempty"`
}

// Event is one notification. Seq and Timestamp are assigned by Bus.Publish.
type Event struct {
	Seq        uint64              `json:"seq"`
	ID         uuid.UUID           `json:"id"`
	Timestamp  time.Time           `json:"ts"`
	Kind       Kind                `json:"kind"`
	JobID      uuid.UUID           `json:"job_id,omitzero"`
	Stats      *job.Stats          `json:"stats,omitempty"`
	Error      string              `json:"error,omitempty"`
	Dependency *DependencyProgress `json:"dependency,omitempty"`
}

func newEvent(kind Kind) Event {
	return Event{ID: uuid.New(), Kind: kind}
}

func jobEvent(kind Kind, id uuid.UUID) Event {
	evt := newEvent(kind)
	evt.JobID = id
	return evt
}

func JobAdded(id uuid.UUID) Event   { return jobEvent(KindJobAdded, id) }
func JobStarted(id uuid.UUID) Event { return jobEvent(KindJobStarted, id) }

// JobProgress carries a copy of stats.
func JobProgress(id uuid.UUID, stats job.Stats) Event {
	evt := jobEvent(KindJobProgress, id)
	s := stats.Clone()
	evt.Stats = &s
	return evt
}

func JobCompleted(id uuid.UUID) Event { return jobEvent(KindJobCompleted, id) }

func JobFailed(id uuid.UUID, message string) Event {
	evt := jobEvent(KindJobFailed, id)
	evt.Error = message
	return evt
}

func JobCancelled(id uuid.UUID) Event { return jobEvent(KindJobCancelled, id) }

func DaemonShutdown() Event { return newEvent(KindDaemonShutdown) }

func DepsBuildStarted(total int) Event {
	evt := newEvent(KindDepsBuildStarted)
	evt.Dependency = &DependencyProgress{Total: total}
	return evt
}

func DepsBuildProgress(name string, index, total int, step string) Event {
	evt := newEvent(KindDepsBuildProgress)
	evt.Dependency = &DependencyProgress{Name: name, Index: index, Total: total, Step: step}
	return evt
}

func DepsBuildItemCompleted(name string) Event {
	evt := newEvent(KindDepsBuildItemCompleted)
	evt.Dependency = &DependencyProgress{Name: name}
	return evt
}

func DepsBuildCompleted() Event { return newEvent(KindDepsBuildCompleted) }

func DepsBuildFailed(name, message string) Event {
	evt := newEvent(KindDepsBuildFailed)
	evt.Dependency = &DependencyProgress{Name: name}
	evt.Error = message
	return evt
}
