// Package queue owns every job the daemon knows about and decides when each
// one runs.
//
// A job lives in exactly one of three partitions: the FIFO queue, the active
// set, or history. Each partition is its own collection guarded by its own
// RWMutex; a transition that moves a job between partitions holds both locks
// (always acquired queue, then active, then history) so readers never observe
// a job in two places or in none. No lock is held while a pipeline runs.
//
// Manager.Run is the admission loop. It is the only place jobs are moved from
// the queue into the active set, which makes MaxConcurrent a hard ceiling even
// under concurrent AddJob bursts. Each dispatched job runs on its own
// goroutine; its progress is written back into the active entry and
// republished on the event bus.
//
// Persistence snapshots the three partitions to a JSON file with an atomic
// replace. Restore demotes jobs found in the active partition back to the
// head of the queue, since an interrupted encode is always restarted.
package queue
