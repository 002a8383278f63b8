package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/media/ffprobe"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
)

// Package-level hooks so tests can substitute ffprobe.
var (
	inspectMedia = ffprobe.Inspect
	countFrames  = ffprobe.CountFrames
)

// FrameCountSource records how VideoInfo.TotalFrames was obtained.
type FrameCountSource string

const (
	FrameCountMetadata FrameCountSource = "metadata"
	FrameCountDecode   FrameCountSource = "decode"
	// FrameCountEstimate is ceil(duration × fps). It is an approximation and
	// may drift on variable frame rate sources.
	FrameCountEstimate FrameCountSource = "estimate"
	FrameCountUnknown  FrameCountSource = "unknown"
)

// StreamInfo describes an audio or subtitle track. Index is relative to the
// track type, matching ffmpeg's 0:a:N / 0:s:N selectors.
type StreamInfo struct {
	Index    int
	Codec    string
	Language string
	Title    string
	Channels int
}

// VideoInfo is the probe result the pipeline works from.
type VideoInfo struct {
	Duration         time.Duration
	Width            int
	Height           int
	FPS              float64
	TotalFrames      *uint64
	FrameCountSource FrameCountSource
	AudioStreams     []StreamInfo
	SubtitleStreams  []StreamInfo
}

// DurationPtr returns the duration as an optional value for stats.
func (v VideoInfo) DurationPtr() *time.Duration {
	if v.Duration <= 0 {
		return nil
	}
	d := v.Duration
	return &d
}

// Prober extracts VideoInfo from a source file.
type Prober struct {
	FFprobe           string
	PreciseFrameCount bool
	PreciseTimeout    time.Duration
	Logger            *slog.Logger
}

// Probe inspects path. It fails when ffprobe fails, when its output cannot be
// parsed, or when the file holds no video stream.
func (p Prober) Probe(ctx context.Context, path string) (VideoInfo, error) {
	result, err := inspectMedia(ctx, p.FFprobe, path)
	if err != nil {
		return VideoInfo{}, services.Wrap(services.ErrExternalTool, "probe", "ffprobe", "failed to read media metadata", err)
	}

	video, ok := result.FirstVideoStream()
	if !ok {
		return VideoInfo{}, services.Wrap(services.ErrValidation, "probe", "inspect streams", fmt.Sprintf("no video stream found in %s", path), nil)
	}

	info := VideoInfo{
		Width:            video.Width,
		Height:           video.Height,
		FPS:              video.FrameRate(),
		FrameCountSource: FrameCountUnknown,
	}

	seconds := result.DurationSeconds()
	if seconds <= 0 || math.IsNaN(seconds) {
		seconds = parseSeconds(video.Duration)
	}
	if seconds > 0 {
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	for i, s := range result.StreamsOfType("audio") {
		info.AudioStreams = append(info.AudioStreams, streamInfo(i, s))
	}
	for i, s := range result.StreamsOfType("subtitle") {
		info.SubtitleStreams = append(info.SubtitleStreams, streamInfo(i, s))
	}

	if err := p.resolveFrameCount(ctx, path, video, seconds, &info); err != nil {
		return VideoInfo{}, err
	}
	return info, nil
}

// resolveFrameCount fills the frame total. It fails only when ctx itself is
// cancelled during the precise count.
func (p Prober) resolveFrameCount(ctx context.Context, path string, video ffprobe.Stream, seconds float64, info *VideoInfo) error {
	if count, ok := video.FrameCount(); ok {
		info.TotalFrames = &count
		info.FrameCountSource = FrameCountMetadata
		return nil
	}

	logger := logging.NewComponentLogger(p.Logger, "probe")
	if p.PreciseFrameCount {
		countCtx := ctx
		if p.PreciseTimeout > 0 {
			var cancel context.CancelFunc
			countCtx, cancel = context.WithTimeout(ctx, p.PreciseTimeout)
			defer cancel()
		}
		started := time.Now()
		count, err := countFrames(countCtx, p.FFprobe, path)
		switch {
		case err == nil:
			info.TotalFrames = &count
			info.FrameCountSource = FrameCountDecode
			logger.Debug("precise frame count complete",
				logging.Uint64("frames", count),
				logging.Duration("elapsed", time.Since(started)),
			)
			return nil
		case ctx.Err() != nil:
			return services.Wrap(services.ErrCancelled, "probe", "count frames", "aborted", ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			logging.WarnWithContext(logger, "precise frame count timed out", "frame_count_timeout",
				logging.Duration("timeout", p.PreciseTimeout),
				logging.Impact("progress uses an estimated frame count"),
				logging.ErrorHint("raise encoding.precise_frame_count_timeout_seconds"),
			)
		default:
			logging.WarnWithContext(logger, "precise frame count failed", "frame_count_failed",
				logging.Error(err),
				logging.Impact("progress uses an estimated frame count"),
				logging.ErrorHint("check that ffprobe can decode the source"),
			)
		}
	}

	if seconds > 0 && info.FPS > 0 {
		estimate := uint64(math.Ceil(seconds * info.FPS))
		info.TotalFrames = &estimate
		info.FrameCountSource = FrameCountEstimate
	}
	return nil
}

func streamInfo(index int, s ffprobe.Stream) StreamInfo {
	return StreamInfo{
		Index:    index,
		Codec:    s.CodecName,
		Language: s.Tag("language"),
		Title:    s.Tag("title"),
		Channels: s.Channels,
	}
}

func parseSeconds(value string) float64 {
	var v float64
	if _, err := fmt.Sscanf(value, "%g", &v); err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
