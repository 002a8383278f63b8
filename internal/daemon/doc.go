// Package daemon coordinates the long-running encodetalkerd process.
//
// It enforces single-instance execution with a flock, binds the IPC endpoint,
// restores the persisted queue (demoting jobs that were running when the
// previous process stopped), runs the admission loop and the periodic state
// save, and drives the ordered shutdown sequence. The daemon also adapts IPC
// requests onto the queue manager and the dependency manager.
//
// Keep orchestration here: scheduling lives in internal/queue and process
// management in internal/encoder.
package daemon
