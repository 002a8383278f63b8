// Package encoder turns one job into a finished AV1 container.
//
// The Pipeline probes the source with ffprobe, pipes a 10-bit y4m stream from
// ffmpeg into SvtAv1EncApp or aomenc through a kernel pipe, transcodes or
// copies the selected audio tracks, and muxes video, audio and subtitles with
// stream copy. Encoder progress text is split on carriage returns as well as
// newlines and fed to a StatsParser, whose snapshots are published on the
// caller's progress channel.
//
// Cancellation races the encoder's exit; whichever way the race resolves, no
// child process outlives Run.
package encoder
