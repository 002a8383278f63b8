package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

const maxPathWidth = 48

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatProgress(stats *job.Stats) string {
	if stats == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", stats.ProgressPercent)
}

func formatETA(stats *job.Stats) string {
	if stats == nil || stats.ETA == nil {
		return "-"
	}
	return formatDuration(*stats.ETA)
}

func formatFPS(stats *job.Stats) string {
	if stats == nil || stats.FPS <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", stats.FPS)
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// shortenPath keeps the file name and trims the directory from the left.
func shortenPath(path string) string {
	if len(path) <= maxPathWidth {
		return path
	}
	base := filepath.Base(path)
	if len(base) >= maxPathWidth-3 {
		return "..." + base[len(base)-(maxPathWidth-3):]
	}
	return "..." + path[len(path)-(maxPathWidth-3):]
}

func encoderSummary(cfg job.EncodingConfig) string {
	label := cfg.Encoder.DisplayName()
	return fmt.Sprintf("%s crf %d p%d", label, cfg.Params.CRF, cfg.Params.Preset)
}

func streamSubset(indices []int) string {
	if len(indices) == 0 {
		return "all"
	}
	parts := make([]string, 0, len(indices))
	for _, idx := range indices {
		parts = append(parts, fmt.Sprintf("%d", idx))
	}
	return strings.Join(parts, ",")
}

func truncate(s string, width int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
