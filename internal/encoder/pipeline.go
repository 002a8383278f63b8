package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
)

// ErrCancelled is returned by Run when the job was cancelled or the daemon
// context ended before the pipeline finished.
var ErrCancelled = fmt.Errorf("encode %w", services.ErrCancelled)

const (
	// stderrDrainTimeout bounds how long Run waits for the encoder's stderr to
	// reach EOF after the encoder exited.
	stderrDrainTimeout = 2 * time.Second
	processWaitDelay   = 2 * time.Second
)

// BinaryResolver maps a tool name to an executable path.
type BinaryResolver interface {
	BinaryPath(name string) (string, error)
}

// Pipeline runs probe, video encode, audio transcode and mux for one job.
type Pipeline struct {
	Binaries          BinaryResolver
	PreciseFrameCount bool
	PreciseTimeout    time.Duration
	Logger            *slog.Logger
}

type toolPaths struct {
	ffmpeg  string
	ffprobe string
	encoder string
}

// Run produces j.OutputPath. Progress snapshots are sent without blocking; a
// full channel drops the update. Closing cancel (or cancelling ctx) kills any
// running child and makes Run return ErrCancelled.
func (p *Pipeline) Run(ctx context.Context, j job.Job, cancel <-chan struct{}, progress chan<- job.Stats) error {
	ctx = services.WithJobID(ctx, j.ID)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(p.Logger, "pipeline"))

	tools, err := p.resolveTools(j.Config.Encoder)
	if err != nil {
		return err
	}

	runCtx, stop := withCancelSignal(ctx, cancel)
	defer stop()

	prober := Prober{
		FFprobe:           tools.ffprobe,
		PreciseFrameCount: p.PreciseFrameCount,
		PreciseTimeout:    p.PreciseTimeout,
		Logger:            logger,
	}
	info, err := prober.Probe(runCtx, j.InputPath)
	if runCtx.Err() != nil {
		return ErrCancelled
	}
	if err != nil {
		return err
	}
	if err := validateSelection(j.Config, info); err != nil {
		return err
	}
	logger.Info("source probed",
		logging.Stage("probe"),
		logging.Duration("duration", info.Duration),
		logging.String("resolution", fmt.Sprintf("%dx%d", info.Width, info.Height)),
		logging.Float64("fps", info.FPS),
		logging.Any("total_frames", info.TotalFrames),
		logging.String("frame_count_source", string(info.FrameCountSource)),
		logging.Int("audio_streams", len(info.AudioStreams)),
		logging.Int("subtitle_streams", len(info.SubtitleStreams)),
	)

	outDir := filepath.Dir(j.OutputPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "setup", "create output directory", outDir, err)
	}
	tempID := uuid.New().String()
	videoTemp := filepath.Join(outDir, tempID+".ivf")
	audioTemp := filepath.Join(outDir, tempID+"."+audioExtension(j.Config.Audio))
	defer removeTemp(logger, videoTemp, audioTemp)

	if err := p.encodeVideo(ctx, cancel, tools, j, info, videoTemp, progress, logger); err != nil {
		return err
	}

	hasAudio := len(info.AudioStreams) > 0
	if hasAudio {
		logger.Info("audio transcode started", logging.Stage("audio"), logging.String("mode", j.Config.Audio.String()))
		if err := runTool(runCtx, "audio", tools.ffmpeg, audioArgs(j.InputPath, j.Config.Audio, j.Config.AudioStreams, audioTemp)); err != nil {
			return err
		}
	} else {
		logger.Info("source has no audio; skipping audio stage", logging.Stage("audio"))
		audioTemp = ""
	}

	plan := muxPlan{
		Video:           videoTemp,
		Audio:           audioTemp,
		Source:          j.InputPath,
		HasSubtitles:    len(info.SubtitleStreams) > 0,
		SubtitleStreams: j.Config.SubtitleStreams,
		Output:          j.OutputPath,
	}
	logger.Info("mux started", logging.Stage("mux"), logging.String("output", j.OutputPath))
	if err := runTool(runCtx, "mux", tools.ffmpeg, muxArgs(plan)); err != nil {
		return err
	}

	logger.Info("encode complete", logging.String("output", j.OutputPath))
	return nil
}

func (p *Pipeline) resolveTools(encoder job.EncoderType) (toolPaths, error) {
	if p.Binaries == nil {
		return toolPaths{}, services.Wrap(services.ErrConfiguration, "setup", "resolve binaries", "no binary resolver configured", nil)
	}
	var tools toolPaths
	for _, entry := range []struct {
		name string
		dst  *string
	}{
		{"ffmpeg", &tools.ffmpeg},
		{"ffprobe", &tools.ffprobe},
		{encoder.Binary(), &tools.encoder},
	} {
		path, err := p.Binaries.BinaryPath(entry.name)
		if err != nil {
			return toolPaths{}, services.Wrap(services.ErrConfiguration, "setup", "resolve binaries", entry.name+" unavailable", err)
		}
		*entry.dst = path
	}
	return tools, nil
}

func validateSelection(cfg job.EncodingConfig, info VideoInfo) error {
	for _, idx := range cfg.AudioStreams {
		if idx >= len(info.AudioStreams) {
			return services.Wrap(services.ErrValidation, "probe", "select audio",
				fmt.Sprintf("audio stream %d requested but source has %d", idx, len(info.AudioStreams)), nil)
		}
	}
	for _, idx := range cfg.SubtitleStreams {
		if idx >= len(info.SubtitleStreams) {
			return services.Wrap(services.ErrValidation, "probe", "select subtitles",
				fmt.Sprintf("subtitle stream %d requested but source has %d", idx, len(info.SubtitleStreams)), nil)
		}
	}
	return nil
}

type videoResult struct {
	encodeErr error
	decodeErr error
}

// encodeVideo connects ffmpeg's stdout to the encoder's stdin through an OS
// pipe and races the encoder's exit against cancellation.
func (p *Pipeline) encodeVideo(ctx context.Context, cancel <-chan struct{}, tools toolPaths, j job.Job, info VideoInfo, output string, progress chan<- job.Stats, logger *slog.Logger) error {
	videoReader, videoWriter, err := os.Pipe()
	if err != nil {
		return services.Wrap(services.ErrTransient, "video", "create pipe", "", err)
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		videoReader.Close()
		videoWriter.Close()
		return services.Wrap(services.ErrTransient, "video", "create pipe", "", err)
	}

	decodeTail := newTailBuffer(diagnosticTailBytes)
	decoder := exec.Command(tools.ffmpeg, decodeArgs(j.InputPath)...)
	decoder.Stdout = videoWriter
	decoder.Stderr = decodeTail
	decoder.WaitDelay = processWaitDelay

	encodeTail := newTailBuffer(diagnosticTailBytes)
	encoder := exec.Command(tools.encoder, encoderArgs(j.Config.Encoder, j.Config.Params, output)...)
	encoder.Stdin = videoReader
	encoder.Stderr = stderrWriter

	closeParentEnds := func() {
		videoReader.Close()
		videoWriter.Close()
		stderrWriter.Close()
	}

	if err := decoder.Start(); err != nil {
		closeParentEnds()
		stderrReader.Close()
		return services.Wrap(services.ErrExternalTool, "video", "start ffmpeg", tools.ffmpeg, err)
	}
	if err := encoder.Start(); err != nil {
		closeParentEnds()
		stderrReader.Close()
		killProcess(decoder)
		_ = decoder.Wait()
		return services.Wrap(services.ErrExternalTool, "video", "start encoder", tools.encoder, err)
	}
	// The children hold their own copies; the parent keeps only the stderr read end.
	closeParentEnds()

	logger.Info("video encode started",
		logging.Stage("video"),
		logging.String("encoder", j.Config.Encoder.DisplayName()),
		logging.Int("crf", int(j.Config.Params.CRF)),
		logging.Int("preset", int(j.Config.Params.Preset)),
	)

	parser := NewStatsParser(info.TotalFrames, info.DurationPtr())
	parser.SetSourceFrameRate(info.FPS)
	parseDone := make(chan struct{})
	go func() {
		defer close(parseDone)
		p.streamProgress(stderrReader, parser, encodeTail, progress, logger)
	}()

	done := make(chan videoResult, 1)
	go func() {
		encodeErr := encoder.Wait()
		select {
		case <-parseDone:
		case <-time.After(stderrDrainTimeout):
			stderrReader.Close()
			<-parseDone
		}
		stderrReader.Close()
		decodeErr := decoder.Wait()
		done <- videoResult{encodeErr: encodeErr, decodeErr: decodeErr}
	}()

	var res videoResult
	select {
	case res = <-done:
	case <-cancel:
		terminate(logger, "cancel requested", decoder, encoder, done)
		return ErrCancelled
	case <-ctx.Done():
		terminate(logger, "daemon context ended", decoder, encoder, done)
		return ErrCancelled
	}

	if res.encodeErr != nil {
		detail := encodeTail.String()
		if d := decodeTail.String(); d != "" {
			detail = joinDiagnostics(detail, "ffmpeg: "+d)
		}
		return services.Wrap(services.ErrExternalTool, "video", "encode",
			fmt.Sprintf("%s failed: %s", filepath.Base(tools.encoder), orExitStatus(detail, res.encodeErr)), res.encodeErr)
	}
	if res.decodeErr != nil {
		return services.Wrap(services.ErrExternalTool, "video", "decode",
			fmt.Sprintf("ffmpeg failed: %s", orExitStatus(decodeTail.String(), res.decodeErr)), res.decodeErr)
	}

	final := parser.Stats()
	logger.Info("video encode complete",
		logging.Stage("video"),
		logging.Uint64("frames", final.Frame),
		logging.Float64("fps", final.FPS),
	)
	return nil
}

func (p *Pipeline) streamProgress(r io.Reader, parser *StatsParser, tail *tailBuffer, progress chan<- job.Stats, logger *slog.Logger) {
	sampler := logging.NewProgressSampler(0, 0)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	scanner.Split(SplitRecords)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		_, _ = tail.Write([]byte(line + "\n"))
		if !parser.ParseLine(line) {
			continue
		}
		stats := parser.Stats()
		if progress != nil {
			select {
			case progress <- stats:
			default:
			}
		}
		percent := stats.ProgressPercent
		if stats.TotalFrames == nil && stats.TotalDuration == nil {
			percent = -1
		}
		if sampler.ShouldLog(percent, stats.Frame) {
			logger.Debug("encode progress",
				logging.Stage("video"),
				logging.Float64("percent", stats.ProgressPercent),
				logging.Uint64("frame", stats.Frame),
				logging.Float64("fps", stats.FPS),
			)
		}
	}
}

// terminate kills both children and waits for the waiter goroutine so no
// process or pipe outlives the call.
func terminate(logger *slog.Logger, reason string, decoder, encoder *exec.Cmd, done <-chan videoResult) {
	killProcess(encoder)
	killProcess(decoder)
	<-done
	logger.Info("video encode aborted", logging.Stage("video"), logging.String("reason", reason))
}

func killProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

// runTool runs a single ffmpeg invocation bound to ctx. Cancellation of ctx
// kills the process and yields ErrCancelled.
func runTool(ctx context.Context, stage, binary string, args []string) error {
	tail := newTailBuffer(diagnosticTailBytes)
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = tail
	cmd.Stdout = tail
	cmd.WaitDelay = processWaitDelay
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return services.Wrap(services.ErrExternalTool, stage, "ffmpeg",
			fmt.Sprintf("ffmpeg failed: %s", orExitStatus(tail.String(), err)), err)
	}
	return nil
}

// withCancelSignal derives a context that is cancelled when either ctx ends
// or the cancel channel closes.
func withCancelSignal(ctx context.Context, cancel <-chan struct{}) (context.Context, context.CancelFunc) {
	runCtx, stop := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-cancel:
			stop(ErrCancelled)
		case <-runCtx.Done():
		}
	}()
	return runCtx, func() { stop(nil) }
}

func removeTemp(logger *slog.Logger, paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(logger, "failed to remove temporary file", "temp_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.Impact("intermediate file left next to the output"),
				logging.ErrorHint("delete the file manually"),
			)
		}
	}
}

func orExitStatus(detail string, err error) string {
	if strings.TrimSpace(detail) != "" {
		return detail
	}
	return err.Error()
}

func joinDiagnostics(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "\n")
}
