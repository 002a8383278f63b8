package logging

// ProgressSampler thins encoder progress down to log-worthy updates. With a
// known total it emits once per percentage step; without one it falls back
// to a fixed frame interval. It is not safe for concurrent use.
type ProgressSampler struct {
	step       float64
	frameEvery uint64
	lastBucket int
	lastFrame  uint64
	started    bool
}

// NewProgressSampler returns a sampler emitting every step percent (default 5)
// or, when the percentage is unknown, every frameEvery frames (default 1000).
func NewProgressSampler(step float64, frameEvery uint64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	if frameEvery == 0 {
		frameEvery = 1000
	}
	return &ProgressSampler{step: step, frameEvery: frameEvery, lastBucket: -1}
}

// ShouldLog reports whether the update should reach the log. A negative
// percent means the total is unknown. The first update always logs.
func (s *ProgressSampler) ShouldLog(percent float64, frame uint64) bool {
	if s == nil {
		return true
	}
	if !s.started {
		s.started = true
		s.lastFrame = frame
		if percent >= 0 {
			s.lastBucket = s.bucket(percent)
		}
		return true
	}
	if percent >= 0 {
		b := s.bucket(percent)
		if b <= s.lastBucket {
			return false
		}
		s.lastBucket = b
		s.lastFrame = frame
		return true
	}
	if frame < s.lastFrame+s.frameEvery {
		return false
	}
	s.lastFrame = frame
	return true
}

func (s *ProgressSampler) bucket(percent float64) int {
	if percent > 100 {
		percent = 100
	}
	return int(percent / s.step)
}
