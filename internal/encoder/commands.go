package encoder

import (
	"fmt"
	"strconv"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// decodeArgs streams the source as 10-bit 4:2:0 y4m on stdout.
func decodeArgs(input string) []string {
	return []string{
		"-nostats", "-loglevel", "error",
		"-i", input,
		"-f", "yuv4mpegpipe",
		"-pix_fmt", "yuv420p10le",
		"-strict", "-1",
		"-",
	}
}

// encoderArgs builds the command line for the chosen encoder reading y4m
// from stdin and writing IVF to output.
func encoderArgs(encoder job.EncoderType, params job.EncoderParams, output string) []string {
	args := make([]string, 0, 16+len(params.Extra))
	switch encoder {
	case job.EncoderAom:
		args = append(args,
			"-",
			"--cq-level", strconv.Itoa(int(params.CRF)),
			"--cpu-used", strconv.Itoa(int(params.Preset)),
			"--end-usage=q",
		)
		if params.Threads > 0 {
			args = append(args, "--threads", strconv.FormatUint(uint64(params.Threads), 10))
		}
		args = append(args, "--ivf", "-o", output)
	default:
		args = append(args,
			"-i", "stdin",
			"--crf", strconv.Itoa(int(params.CRF)),
			"--preset", strconv.Itoa(int(params.Preset)),
		)
		if params.Threads > 0 {
			args = append(args, "--lp", strconv.FormatUint(uint64(params.Threads), 10))
		}
		args = append(args, "--progress", "2", "-b", output)
	}
	return append(args, params.Extra...)
}

// audioExtension picks the intermediate container for the audio mode.
func audioExtension(mode job.AudioMode) string {
	if mode.Kind == job.AudioOpus {
		return "opus"
	}
	return "mka"
}

// audioArgs extracts the selected audio tracks. Nil or empty streams select
// every audio track.
func audioArgs(input string, mode job.AudioMode, streams []int, output string) []string {
	args := []string{"-y", "-nostats", "-loglevel", "error", "-i", input, "-vn", "-sn", "-dn"}
	if len(streams) == 0 {
		args = append(args, "-map", "0:a")
	} else {
		for _, idx := range streams {
			args = append(args, "-map", fmt.Sprintf("0:a:%d", idx))
		}
	}
	switch mode.Kind {
	case job.AudioCopy:
		args = append(args, "-c:a", "copy")
	case job.AudioCustom:
		args = append(args, "-c:a", mode.Codec, "-b:a", fmt.Sprintf("%dk", mode.Bitrate))
	default:
		args = append(args, "-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", mode.Bitrate))
	}
	return append(args, output)
}

// muxPlan lists the inputs of the final stream-copy mux.
type muxPlan struct {
	Video           string
	Audio           string // empty when the source has no audio
	Source          string
	HasSubtitles    bool
	SubtitleStreams []int
	Output          string
}

func muxArgs(plan muxPlan) []string {
	args := []string{"-y", "-nostats", "-loglevel", "error", "-i", plan.Video}
	sourceInput := 1
	if plan.Audio != "" {
		args = append(args, "-i", plan.Audio)
		sourceInput = 2
	}
	if plan.HasSubtitles {
		args = append(args, "-i", plan.Source)
	}

	args = append(args, "-map", "0:v:0")
	if plan.Audio != "" {
		args = append(args, "-map", "1:a")
	}
	if plan.HasSubtitles {
		if len(plan.SubtitleStreams) == 0 {
			args = append(args, "-map", fmt.Sprintf("%d:s?", sourceInput))
		} else {
			for _, idx := range plan.SubtitleStreams {
				args = append(args, "-map", fmt.Sprintf("%d:s:%d", sourceInput, idx))
			}
		}
	}

	args = append(args, "-c:v", "copy")
	if plan.Audio != "" {
		args = append(args, "-c:a", "copy")
	}
	if plan.HasSubtitles {
		args = append(args, "-c:s", "copy")
	}
	return append(args, plan.Output)
}
