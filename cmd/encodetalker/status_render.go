package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

// colorizeStatus tints a job status label for terminals.
func colorizeStatus(status job.Status, colorize bool) string {
	label := status.Label()
	if !colorize {
		return label
	}
	var color string
	switch status {
	case job.StatusRunning:
		color = ansiBlue
	case job.StatusCompleted:
		color = ansiGreen
	case job.StatusFailed:
		color = ansiRed
	case job.StatusCancelled:
		color = ansiYellow
	default:
		return label
	}
	return color + label + ansiReset
}

func dependencyLines(info deps.StatusInfo, colorize bool) []string {
	lines := make([]string, 0, len(info.Binaries)+2)
	summary := "All required tools available"
	summaryKind := statusOK
	if !info.AllPresent {
		summary = "Required tools missing"
		summaryKind = statusError
	}
	lines = append(lines, renderStatusLine("Summary", summaryKind, summary, colorize))

	missing := make([]string, 0)
	for _, bin := range info.Binaries {
		if bin.Available {
			message := fmt.Sprintf("Ready (%s: %s)", bin.Source, bin.Command)
			if bin.Detail != "" {
				message += "; " + bin.Detail
			}
			lines = append(lines, renderStatusLine(bin.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(bin.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if bin.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(bin.Name, kind, detail, colorize))
		missing = append(missing, bin.Name)
	}
	if info.Build.Compiling {
		lines = append(lines, renderStatusLine("Build", statusInfo, fmt.Sprintf("%s: %s (%d/%d)", info.Build.Current, info.Build.Step, info.Build.Completed, info.Build.Total), colorize))
	} else if info.Build.LastError != "" {
		lines = append(lines, renderStatusLine("Build", statusWarn, info.Build.LastError, colorize))
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
