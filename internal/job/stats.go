package job

import "time"

// Stats is the live progress record of a running job. ProgressPercent and ETA
// are derived; call Recompute after changing any other field.
type Stats struct {
	Frame           uint64         `json:"frame"`
	TotalFrames     *uint64        `json:"total_frames,omitempty"`
	FPS             float64        `json:"fps"`
	Bitrate         float64        `json:"bitrate_kbps"`
	TimeEncoded     time.Duration  `json:"time_encoded"`
	TotalDuration   *time.Duration `json:"total_duration,omitempty"`
	ProgressPercent float64        `json:"progress_percent"`
	ETA             *time.Duration `json:"eta,omitempty"`
}

// NewStats returns zeroed stats carrying the fixed totals of the source.
func NewStats(totalFrames *uint64, totalDuration *time.Duration) Stats {
	s := Stats{}
	if totalFrames != nil {
		v := *totalFrames
		s.TotalFrames = &v
	}
	if totalDuration != nil {
		v := *totalDuration
		s.TotalDuration = &v
	}
	return s
}

// Recompute derives progress and ETA from the other fields. Progress falls
// back from frames to elapsed time and is left unchanged when neither total is
// known.
func (s *Stats) Recompute() {
	switch {
	case s.TotalFrames != nil && *s.TotalFrames > 0:
		s.ProgressPercent = clampPercent(float64(s.Frame) / float64(*s.TotalFrames) * 100)
	case s.TotalDuration != nil && *s.TotalDuration > 0:
		s.ProgressPercent = clampPercent(float64(s.TimeEncoded) / float64(*s.TotalDuration) * 100)
	}

	s.ETA = nil
	if s.TotalFrames != nil && s.FPS > 0 {
		var remaining uint64
		if *s.TotalFrames > s.Frame {
			remaining = *s.TotalFrames - s.Frame
		}
		eta := time.Duration(float64(remaining) / s.FPS * float64(time.Second))
		s.ETA = &eta
	}
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	out := s
	if s.TotalFrames != nil {
		v := *s.TotalFrames
		out.TotalFrames = &v
	}
	if s.TotalDuration != nil {
		v := *s.TotalDuration
		out.TotalDuration = &v
	}
	if s.ETA != nil {
		v := *s.ETA
		out.ETA = &v
	}
	return out
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
