// Package job defines the transcode job model shared by the scheduler, the
// encoding pipeline, persistence and the IPC protocol.
//
// A Job moves through Queued, Running and one terminal status (Completed,
// Failed, Cancelled). Stats are only attached while a job is Running and the
// error message only when it Failed; the Mark* helpers keep those fields in
// step with the status so callers never have to.
package job
