package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ValentinMastro/EncodeTalker/internal/config"
	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

type addFlags struct {
	encoder         string
	crf             uint8
	preset          uint8
	threads         uint32
	audio           string
	audioBitrate    uint32
	audioCodec      string
	audioStreams    []int
	subtitleStreams []int
	params          []string
}

func newJobCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAddCommand(ctx),
		newCancelCommand(ctx),
		newRetryCommand(ctx),
		newShowCommand(ctx),
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var flags addFlags
	cmd := &cobra.Command{
		Use:   "add <input> [output]",
		Short: "Queue a file for AV1 transcoding",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input, err := absPath(args[0])
			if err != nil {
				return err
			}
			output := cfg.OutputPathFor(input)
			if len(args) == 2 {
				if output, err = absPath(args[1]); err != nil {
					return err
				}
			}
			encCfg, err := buildEncodingConfig(cmd, cfg, flags)
			if err != nil {
				return err
			}

			return ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
				id, err := client.AddJob(commandCtx(cmd), input, output, encCfg)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued job %s\n", id)
				fmt.Fprintf(out, "  Input:   %s\n", input)
				fmt.Fprintf(out, "  Output:  %s\n", output)
				fmt.Fprintf(out, "  Encoder: %s\n", encoderSummary(encCfg))
				fmt.Fprintf(out, "  Audio:   %s\n", encCfg.Audio)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.encoder, "encoder", "", "Encoder: svt-av1 or aom (default from config)")
	f.Uint8Var(&flags.crf, "crf", 0, "Constant rate factor (0-63)")
	f.Uint8Var(&flags.preset, "preset", 0, "Preset (svt-av1 0-13) or cpu-used (aom 0-9)")
	f.Uint32Var(&flags.threads, "threads", 0, "Encoder threads (0 lets the encoder decide)")
	f.StringVar(&flags.audio, "audio", "", "Audio mode: opus, copy or custom")
	f.Uint32Var(&flags.audioBitrate, "audio-bitrate", 0, "Audio bitrate in kbps")
	f.StringVar(&flags.audioCodec, "audio-codec", "", "ffmpeg audio codec for --audio custom")
	f.IntSliceVar(&flags.audioStreams, "audio-streams", nil, "Audio stream indices to keep, e.g. 0,1 (default all)")
	f.IntSliceVar(&flags.subtitleStreams, "subtitle-streams", nil, "Subtitle stream indices to keep (default all)")
	f.StringArrayVar(&flags.params, "param", nil, "Extra encoder argument (repeatable)")
	return cmd
}

// buildEncodingConfig starts from the configured defaults for the chosen
// encoder and applies only the flags the user set.
func buildEncodingConfig(cmd *cobra.Command, cfg *config.Config, flags addFlags) (job.EncodingConfig, error) {
	var encoder job.EncoderType
	if strings.TrimSpace(flags.encoder) != "" {
		parsed, err := job.ParseEncoder(flags.encoder)
		if err != nil {
			return job.EncodingConfig{}, err
		}
		encoder = parsed
	}
	encCfg, err := cfg.JobDefaults(encoder)
	if err != nil {
		return job.EncodingConfig{}, err
	}

	changed := cmd.Flags().Changed
	if changed("crf") {
		encCfg.Params.CRF = flags.crf
	}
	if changed("preset") {
		encCfg.Params.Preset = flags.preset
	}
	if changed("threads") {
		encCfg.Params.Threads = flags.threads
	}
	if changed("param") {
		encCfg.Params.Extra = append(encCfg.Params.Extra, flags.params...)
	}
	if changed("audio-streams") {
		encCfg.AudioStreams = flags.audioStreams
	}
	if changed("subtitle-streams") {
		encCfg.SubtitleStreams = flags.subtitleStreams
	}

	if changed("audio") || changed("audio-bitrate") || changed("audio-codec") {
		kind := encCfg.Audio.Kind
		if changed("audio") {
			if kind, err = job.ParseAudioKind(flags.audio); err != nil {
				return job.EncodingConfig{}, err
			}
		}
		bitrate := encCfg.Audio.Bitrate
		if bitrate == 0 {
			bitrate = uint32(cfg.Encoding.DefaultAudioBitrate)
		}
		if changed("audio-bitrate") {
			bitrate = flags.audioBitrate
		}
		codec := encCfg.Audio.Codec
		if codec == "" {
			codec = cfg.Encoding.DefaultAudioCodec
		}
		if changed("audio-codec") {
			codec = flags.audioCodec
		}
		switch kind {
		case job.AudioCopy:
			encCfg.Audio = job.CopyAudio()
		case job.AudioCustom:
			encCfg.Audio = job.CustomAudio(codec, bitrate)
		default:
			encCfg.Audio = job.OpusAudio(bitrate)
		}
	}

	if err := encCfg.Validate(); err != nil {
		return job.EncodingConfig{}, err
	}
	return encCfg, nil
}

func absPath(arg string) (string, error) {
	expanded, err := config.ExpandPath(arg)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", arg, err)
	}
	return abs, nil
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
				id, err := resolveJobID(commandCtx(cmd), client, args[0])
				if err != nil {
					return err
				}
				if err := client.CancelJob(commandCtx(cmd), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", id.String()[:8])
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
				id, err := resolveJobID(commandCtx(cmd), client, args[0])
				if err != nil {
					return err
				}
				if err := client.RetryJob(commandCtx(cmd), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s requeued\n", id.String()[:8])
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show job details and live statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
				id, err := resolveJobID(commandCtx(cmd), client, args[0])
				if err != nil {
					return err
				}
				j, err := client.GetJob(commandCtx(cmd), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printJob(out, j, shouldColorize(out))
				return nil
			})
		},
	}
}

func printJob(out io.Writer, j job.Job, colorize bool) {
	fmt.Fprintf(out, "Job %s\n", j.ID)
	fmt.Fprintf(out, "  Status:     %s\n", colorizeStatus(j.Status, colorize))
	fmt.Fprintf(out, "  Input:      %s\n", j.InputPath)
	fmt.Fprintf(out, "  Output:     %s\n", j.OutputPath)
	fmt.Fprintf(out, "  Encoder:    %s\n", encoderSummary(j.Config))
	if j.Config.Params.Threads > 0 {
		fmt.Fprintf(out, "  Threads:    %d\n", j.Config.Params.Threads)
	}
	if len(j.Config.Params.Extra) > 0 {
		fmt.Fprintf(out, "  Params:     %s\n", strings.Join(j.Config.Params.Extra, " "))
	}
	fmt.Fprintf(out, "  Audio:      %s (streams: %s)\n", j.Config.Audio, streamSubset(j.Config.AudioStreams))
	fmt.Fprintf(out, "  Subtitles:  streams: %s\n", streamSubset(j.Config.SubtitleStreams))
	fmt.Fprintf(out, "  Created:    %s\n", formatTimestamp(&j.CreatedAt))
	fmt.Fprintf(out, "  Started:    %s\n", formatTimestamp(j.StartedAt))
	fmt.Fprintf(out, "  Finished:   %s\n", formatTimestamp(j.FinishedAt))
	if d, ok := j.ExecutionDuration(); ok {
		fmt.Fprintf(out, "  Elapsed:    %s\n", formatDuration(d))
	}
	if s := j.Stats; s != nil {
		frames := fmt.Sprintf("%d", s.Frame)
		if s.TotalFrames != nil {
			frames = fmt.Sprintf("%d / %d", s.Frame, *s.TotalFrames)
		}
		fmt.Fprintf(out, "  Frames:     %s\n", frames)
		fmt.Fprintf(out, "  Progress:   %s\n", formatProgress(s))
		fmt.Fprintf(out, "  FPS:        %s\n", formatFPS(s))
		fmt.Fprintf(out, "  Bitrate:    %.1f kbps\n", s.Bitrate)
		fmt.Fprintf(out, "  ETA:        %s\n", formatETA(s))
	}
	if j.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:\n%s\n", indent(j.ErrorMessage, "    "))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
