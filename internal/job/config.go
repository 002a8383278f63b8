package job

import (
	"fmt"
	"slices"
	"strings"
)

// EncoderType selects the AV1 encoder family.
type EncoderType string

const (
	EncoderSvtAv1 EncoderType = "svt-av1"
	EncoderAom    EncoderType = "aom"
)

// ParseEncoder accepts the canonical names plus common aliases.
func ParseEncoder(value string) (EncoderType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "svt-av1", "svtav1", "svt":
		return EncoderSvtAv1, nil
	case "aom", "libaom", "aomenc":
		return EncoderAom, nil
	default:
		return "", fmt.Errorf("unknown encoder %q (expected svt-av1 or aom)", value)
	}
}

// DisplayName returns the human readable encoder name.
func (e EncoderType) DisplayName() string {
	switch e {
	case EncoderSvtAv1:
		return "SVT-AV1"
	case EncoderAom:
		return "libaom AV1"
	default:
		return string(e)
	}
}

// Binary returns the executable the pipeline spawns for this encoder.
func (e EncoderType) Binary() string {
	if e == EncoderAom {
		return "aomenc"
	}
	return "SvtAv1EncApp"
}

// AudioKind selects how audio tracks are handled.
type AudioKind string

const (
	AudioOpus   AudioKind = "opus"
	AudioCopy   AudioKind = "copy"
	AudioCustom AudioKind = "custom"
)

// ParseAudioKind converts a string into an AudioKind.
func ParseAudioKind(value string) (AudioKind, error) {
	switch AudioKind(strings.ToLower(strings.TrimSpace(value))) {
	case AudioOpus:
		return AudioOpus, nil
	case AudioCopy:
		return AudioCopy, nil
	case AudioCustom:
		return AudioCustom, nil
	default:
		return "", fmt.Errorf("unknown audio mode %q (expected opus, copy or custom)", value)
	}
}

// AudioMode describes the audio handling for a job. Bitrate is in kbps and is
// ignored in copy mode; Codec is only used in custom mode.
type AudioMode struct {
	Kind    AudioKind `json:"kind"`
	Bitrate uint32    `json:"bitrate,omitempty"`
	Codec   string    `json:"codec,omitempty"`
}

func OpusAudio(kbps uint32) AudioMode { return AudioMode{Kind: AudioOpus, Bitrate: kbps} }

func CopyAudio() AudioMode { return AudioMode{Kind: AudioCopy} }

func CustomAudio(codec string, kbps uint32) AudioMode {
	return AudioMode{Kind: AudioCustom, Codec: codec, Bitrate: kbps}
}

func (m AudioMode) String() string {
	switch m.Kind {
	case AudioOpus:
		return fmt.Sprintf("Opus %dk", m.Bitrate)
	case AudioCopy:
		return "Copy"
	case AudioCustom:
		return fmt.Sprintf("%s %dk", m.Codec, m.Bitrate)
	default:
		return string(m.Kind)
	}
}

// Validate checks that the mode carries the fields its kind requires.
func (m AudioMode) Validate() error {
	switch m.Kind {
	case AudioOpus:
		if m.Bitrate == 0 {
			return fmt.Errorf("opus audio requires a bitrate")
		}
	case AudioCopy:
	case AudioCustom:
		if strings.TrimSpace(m.Codec) == "" {
			return fmt.Errorf("custom audio requires a codec")
		}
		if m.Bitrate == 0 {
			return fmt.Errorf("custom audio requires a bitrate")
		}
	default:
		return fmt.Errorf("unknown audio mode %q", m.Kind)
	}
	return nil
}

// EncoderParams carries the encoder knobs. Threads of zero leaves the choice
// to the encoder.
type EncoderParams struct {
	CRF     uint8    `json:"crf"`
	Preset  uint8    `json:"preset"`
	Threads uint32   `json:"threads,omitempty"`
	Extra   []string `json:"extra_params,omitempty"`
}

// EncodingConfig is the per-job encoding configuration. Nil stream subsets
// select every stream of that type.
type EncodingConfig struct {
	Encoder         EncoderType   `json:"encoder"`
	Audio           AudioMode     `json:"audio_mode"`
	AudioStreams    []int         `json:"audio_streams,omitempty"`
	SubtitleStreams []int         `json:"subtitle_streams,omitempty"`
	Params          EncoderParams `json:"encoder_params"`
}

// DefaultEncodingConfig returns SVT-AV1 at CRF 30 preset 6 with Opus 128k.
func DefaultEncodingConfig() EncodingConfig {
	return EncodingConfig{
		Encoder: EncoderSvtAv1,
		Audio:   OpusAudio(128),
		Params:  EncoderParams{CRF: 30, Preset: 6},
	}
}

// Validate reports configuration errors that would make the pipeline fail
// before spawning anything.
func (c EncodingConfig) Validate() error {
	switch c.Encoder {
	case EncoderSvtAv1:
		if c.Params.CRF > 63 {
			return fmt.Errorf("crf %d out of range 0-63", c.Params.CRF)
		}
		if c.Params.Preset > 13 {
			return fmt.Errorf("svt-av1 preset %d out of range 0-13", c.Params.Preset)
		}
	case EncoderAom:
		if c.Params.CRF > 63 {
			return fmt.Errorf("cq-level %d out of range 0-63", c.Params.CRF)
		}
		if c.Params.Preset > 9 {
			return fmt.Errorf("aom cpu-used %d out of range 0-9", c.Params.Preset)
		}
	default:
		return fmt.Errorf("unknown encoder %q", c.Encoder)
	}
	for _, idx := range c.AudioStreams {
		if idx < 0 {
			return fmt.Errorf("negative audio stream index %d", idx)
		}
	}
	for _, idx := range c.SubtitleStreams {
		if idx < 0 {
			return fmt.Errorf("negative subtitle stream index %d", idx)
		}
	}
	return c.Audio.Validate()
}

// Clone returns a deep copy.
func (c EncodingConfig) Clone() EncodingConfig {
	out := c
	out.AudioStreams = slices.Clone(c.AudioStreams)
	out.SubtitleStreams = slices.Clone(c.SubtitleStreams)
	out.Params.Extra = slices.Clone(c.Params.Extra)
	return out
}
