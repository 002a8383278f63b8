// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video/subtitle stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - CountFrames: exact frame count through a decode-only pass
//
// Helper methods on Result and Stream provide stream selection, duration
// parsing, and rational frame-rate evaluation.
package ffprobe
