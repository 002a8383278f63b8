// Package services defines shared utilities consumed by the scheduler, the
// encoding pipeline and the IPC layer.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, pipeline stages, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into terminal job outcomes (completed, failed, cancelled).
//
// Use these helpers when wiring new pipeline steps so error handling and
// observability stay uniform across the daemon.
package services
