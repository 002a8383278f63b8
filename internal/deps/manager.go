package deps

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ValentinMastro/EncodeTalker/internal/config"
	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
)

// Source selects where a tool is resolved from.
type Source string

const (
	SourceSystem   Source = config.SourceSystem
	SourceCompiled Source = config.SourceCompiled
)

// ParseSource maps a configuration value to a Source. Unknown values resolve
// to SourceSystem.
func ParseSource(value string) Source {
	if strings.EqualFold(strings.TrimSpace(value), config.SourceCompiled) {
		return SourceCompiled
	}
	return SourceSystem
}

func (s Source) other() Source {
	if s == SourceCompiled {
		return SourceSystem
	}
	return SourceCompiled
}

// Tool names as spawned by the pipeline, without platform suffix.
const (
	ToolFFmpeg  = "ffmpeg"
	ToolFFprobe = "ffprobe"
	ToolSvtAv1  = "SvtAv1EncApp"
	ToolAom     = "aomenc"
)

var descriptions = map[string]string{
	ToolFFmpeg:  "Decoding, audio transcoding and muxing",
	ToolFFprobe: "Media inspection and frame counting",
	ToolSvtAv1:  "SVT-AV1 video encoder",
	ToolAom:     "libaom AV1 video encoder",
}

// StatusInfo is the dependency snapshot returned to clients.
type StatusInfo struct {
	AllPresent bool
	Binaries   []Status
	Build      BuildState
}

// Manager resolves tool paths according to the configured sources.
type Manager struct {
	sources map[string]Source
	binDir  string
	tracker *BuildTracker
}

// NewManager builds a manager from the [binaries] configuration section.
// ffprobe follows the ffmpeg source.
func NewManager(cfg *config.Config, bus *events.Bus) *Manager {
	ffmpegSource := ParseSource(cfg.Binaries.FFmpegSource)
	return &Manager{
		sources: map[string]Source{
			ToolFFmpeg:  ffmpegSource,
			ToolFFprobe: ffmpegSource,
			ToolSvtAv1:  ParseSource(cfg.Binaries.SvtAv1Source),
			ToolAom:     ParseSource(cfg.Binaries.AomSource),
		},
		binDir:  cfg.CompiledBinDir(),
		tracker: NewBuildTracker(bus),
	}
}

// Tracker exposes the dependency build tracker.
func (m *Manager) Tracker() *BuildTracker {
	return m.tracker
}

// Requirements lists every tool with its preferred source.
func (m *Manager) Requirements() []Requirement {
	names := []string{ToolFFmpeg, ToolFFprobe, ToolSvtAv1, ToolAom}
	reqs := make([]Requirement, 0, len(names))
	for _, name := range names {
		reqs = append(reqs, Requirement{
			Name:        name,
			Command:     executableName(name),
			Description: descriptions[name],
			Source:      m.sourceFor(name),
		})
	}
	return reqs
}

// BinaryPath resolves a tool, trying the preferred source first and the other
// source second. The error names both attempts.
func (m *Manager) BinaryPath(name string) (string, error) {
	preferred := m.sourceFor(name)
	path, firstErr := m.resolve(name, preferred)
	if firstErr == nil {
		return path, nil
	}
	path, secondErr := m.resolve(name, preferred.other())
	if secondErr == nil {
		return path, nil
	}
	return "", services.Wrap(services.ErrConfiguration, "deps", "resolve "+name,
		"binary unavailable", errors.Join(firstErr, secondErr))
}

// CheckStatus reports availability of every tool plus the build state.
func (m *Manager) CheckStatus() StatusInfo {
	reqs := m.Requirements()
	info := StatusInfo{
		AllPresent: true,
		Binaries:   make([]Status, 0, len(reqs)),
		Build:      m.tracker.State(),
	}
	for _, req := range reqs {
		status := Status{
			Name:        req.Name,
			Command:     req.Command,
			Description: req.Description,
			Source:      req.Source,
		}
		path, err := m.BinaryPath(req.Name)
		if err != nil {
			status.Detail = err.Error()
			if !req.Optional {
				info.AllPresent = false
			}
		} else {
			status.Command = path
			status.Available = true
			if source := m.sourceOf(path); source != req.Source {
				status.Source = source
				status.Detail = fmt.Sprintf("resolved from %s fallback", source)
			}
		}
		info.Binaries = append(info.Binaries, status)
	}
	return info
}

func (m *Manager) sourceFor(name string) Source {
	if source, ok := m.sources[name]; ok {
		return source
	}
	return SourceSystem
}

func (m *Manager) sourceOf(path string) Source {
	if m.binDir != "" && filepath.Dir(path) == filepath.Clean(m.binDir) {
		return SourceCompiled
	}
	return SourceSystem
}

func (m *Manager) resolve(name string, source Source) (string, error) {
	exe := executableName(name)
	if source == SourceCompiled {
		candidate := filepath.Join(m.binDir, exe)
		info, err := os.Stat(candidate)
		if err != nil {
			return "", fmt.Errorf("compiled %s: %w", candidate, err)
		}
		if !isExecutable(info) {
			return "", fmt.Errorf("compiled %s: not executable", candidate)
		}
		return candidate, nil
	}
	path, err := exec.LookPath(exe)
	if err != nil {
		return "", fmt.Errorf("system %s: %w", exe, err)
	}
	return path, nil
}
