package encoder

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// ffmpeg style key=value progress.
var (
	reFrame   = regexp.MustCompile(`frame=\s*(\d+)`)
	reFPS     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	reBitrate = regexp.MustCompile(`bitrate=\s*([\d.]+)`)
	reTime    = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)
)

// SvtAv1EncApp --progress 2 status lines, current and legacy layouts:
//
//	Encoding:  1234/ 5678 Frames @ 45.67 fps | 1234.56 kbps | Time: 0:00:27 [-0:01:20]
//	Encoding frame  1234 12.34 kbps 45.67 fps
var (
	reSvtStatus = regexp.MustCompile(`Encoding:\s*(\d+)(?:\s*/\s*\d+)?\s*Frames\s*@\s*([\d.]+)\s*fps(?:\s*\|\s*([\d.]+)\s*kbps)?`)
	reSvtLegacy = regexp.MustCompile(`Encoding frame\s+(\d+)\s+([\d.]+)\s*kbps\s+([\d.]+)\s*fps`)
)

// aomenc status lines:
//
//	Pass 1/1 frame  123/122  45678B  2970b/f  74250b/s  5230 ms (23.52 fps)
var (
	reAomFrame   = regexp.MustCompile(`frame\s+(\d+)/\d+`)
	reAomBitrate = regexp.MustCompile(`(\d+)b/s`)
	reAomFPS     = regexp.MustCompile(`\(([\d.]+)\s*fps\)`)
)

// StatsParser accumulates progress for one job from the mixed output of
// ffmpeg and the AV1 encoders. It is not safe for concurrent use.
type StatsParser struct {
	stats     job.Stats
	sourceFPS float64
}

// NewStatsParser returns a parser whose progress is computed against the
// given totals. Either total may be nil.
func NewStatsParser(totalFrames *uint64, totalDuration *time.Duration) *StatsParser {
	return &StatsParser{stats: job.NewStats(totalFrames, totalDuration)}
}

// SetSourceFrameRate lets the parser derive encoded time from frame counts
// for encoders that do not print a timestamp.
func (p *StatsParser) SetSourceFrameRate(fps float64) {
	if fps > 0 {
		p.sourceFPS = fps
	}
}

// ParseLine applies one output record. Only fields present on the line are
// updated; progress and ETA are recomputed afterwards. It reports whether the
// line carried any progress information.
func (p *StatsParser) ParseLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	var matched bool
	switch {
	case strings.Contains(line, "Encoding"):
		matched = p.parseSvt(line)
	case strings.HasPrefix(line, "Pass ") || reAomFPS.MatchString(line) && reAomFrame.MatchString(line):
		matched = p.parseAom(line)
	}
	if !matched {
		matched = p.parseKeyValue(line)
	}
	if matched {
		p.stats.Recompute()
	}
	return matched
}

// Stats returns a copy of the current progress record.
func (p *StatsParser) Stats() job.Stats {
	return p.stats.Clone()
}

func (p *StatsParser) parseKeyValue(line string) bool {
	matched := false
	if m := reFrame.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.stats.Frame = v
			matched = true
		}
	}
	if m := reFPS.FindStringSubmatch(line); m != nil {
		if v, ok := parseDecimal(m[1]); ok {
			p.stats.FPS = v
			matched = true
		}
	}
	if m := reBitrate.FindStringSubmatch(line); m != nil {
		if v, ok := parseDecimal(m[1]); ok {
			p.stats.Bitrate = v
			matched = true
		}
	}
	if m := reTime.FindStringSubmatch(line); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		cs, _ := strconv.Atoi(m[4])
		p.stats.TimeEncoded = time.Duration(h)*time.Hour +
			time.Duration(mi)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(cs)*10*time.Millisecond
		matched = true
	} else if matched {
		p.deriveTimeEncoded()
	}
	return matched
}

func (p *StatsParser) parseSvt(line string) bool {
	if m := reSvtStatus.FindStringSubmatch(line); m != nil {
		frame, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return false
		}
		p.stats.Frame = frame
		if v, ok := parseDecimal(m[2]); ok {
			p.stats.FPS = v
		}
		if v, ok := parseDecimal(m[3]); ok {
			p.stats.Bitrate = v
		}
		p.deriveTimeEncoded()
		return true
	}
	if m := reSvtLegacy.FindStringSubmatch(line); m != nil {
		frame, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return false
		}
		p.stats.Frame = frame
		if v, ok := parseDecimal(m[2]); ok {
			p.stats.Bitrate = v
		}
		if v, ok := parseDecimal(m[3]); ok {
			p.stats.FPS = v
		}
		p.deriveTimeEncoded()
		return true
	}
	return false
}

func (p *StatsParser) parseAom(line string) bool {
	m := reAomFrame.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	frame, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return false
	}
	p.stats.Frame = frame
	if m := reAomFPS.FindStringSubmatch(line); m != nil {
		if v, ok := parseDecimal(m[1]); ok {
			p.stats.FPS = v
		}
	}
	if m := reAomBitrate.FindStringSubmatch(line); m != nil {
		if v, ok := parseDecimal(m[1]); ok {
			p.stats.Bitrate = v / 1000
		}
	}
	p.deriveTimeEncoded()
	return true
}

func (p *StatsParser) deriveTimeEncoded() {
	if p.sourceFPS <= 0 {
		return
	}
	p.stats.TimeEncoded = time.Duration(float64(p.stats.Frame) / p.sourceFPS * float64(time.Second))
}

func parseDecimal(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
