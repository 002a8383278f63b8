package config

import (
	"slices"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// JobDefaults builds the encoding configuration a job receives when the
// client only names an encoder (or nothing at all). An empty encoder selects
// encoding.default_encoder.
func (c *Config) JobDefaults(encoder job.EncoderType) (job.EncodingConfig, error) {
	if encoder == "" {
		parsed, err := job.ParseEncoder(c.Encoding.DefaultEncoder)
		if err != nil {
			return job.EncodingConfig{}, err
		}
		encoder = parsed
	}

	cfg := job.EncodingConfig{Encoder: encoder}
	switch encoder {
	case job.EncoderAom:
		cfg.Params = job.EncoderParams{
			CRF:    uint8(c.Encoder.Aom.CRF),
			Preset: uint8(c.Encoder.Aom.CPUUsed),
			Extra:  slices.Clone(c.Encoder.Aom.Params),
		}
	default:
		cfg.Params = job.EncoderParams{
			CRF:    uint8(c.Encoder.SvtAv1.CRF),
			Preset: uint8(c.Encoder.SvtAv1.Preset),
			Extra:  slices.Clone(c.Encoder.SvtAv1.Params),
		}
	}

	kind, err := job.ParseAudioKind(c.Encoding.DefaultAudioMode)
	if err != nil {
		return job.EncodingConfig{}, err
	}
	bitrate := uint32(c.Encoding.DefaultAudioBitrate)
	switch kind {
	case job.AudioCopy:
		cfg.Audio = job.CopyAudio()
	case job.AudioCustom:
		cfg.Audio = job.CustomAudio(c.Encoding.DefaultAudioCodec, bitrate)
	default:
		cfg.Audio = job.OpusAudio(bitrate)
	}
	return cfg, nil
}
