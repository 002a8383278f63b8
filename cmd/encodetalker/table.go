package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ValentinMastro/EncodeTalker/internal/archive"
	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

const errorCellWidth = 40

// column describes one table column over items of type T. cell receives the
// item's position so ordinal columns need no extra state.
type column[T any] struct {
	title    string
	align    text.Align
	maxWidth int
	cell     func(i int, item T) string
}

func left[T any](title string, cell func(int, T) string) column[T] {
	return column[T]{title: title, align: text.AlignLeft, cell: cell}
}

func right[T any](title string, cell func(int, T) string) column[T] {
	return column[T]{title: title, align: text.AlignRight, cell: cell}
}

func (c column[T]) clipped(width int) column[T] {
	c.maxWidth = width
	return c
}

// renderTable draws one row per item in the rounded style.
func renderTable[T any](columns []column[T], items []T) string {
	if len(columns) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, 0, len(columns))
	configs := make([]table.ColumnConfig, 0, len(columns))
	for n, c := range columns {
		header = append(header, c.title)
		cfg := table.ColumnConfig{Number: n + 1, Align: c.align, AlignHeader: text.AlignLeft}
		if c.maxWidth > 0 {
			cfg.WidthMax = c.maxWidth
			cfg.WidthMaxEnforcer = truncate
		}
		configs = append(configs, cfg)
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for i, item := range items {
		row := make(table.Row, 0, len(columns))
		for _, c := range columns {
			row = append(row, c.cell(i, item))
		}
		tw.AppendRow(row)
	}
	return tw.Render()
}

func jobID(_ int, j job.Job) string    { return j.ShortID() }
func jobInput(_ int, j job.Job) string { return shortenPath(j.InputPath) }

func jobElapsed(_ int, j job.Job) string {
	if d, ok := j.ExecutionDuration(); ok {
		return formatDuration(d)
	}
	return "-"
}

func jobStatus(colorize bool) func(int, job.Job) string {
	return func(_ int, j job.Job) string { return colorizeStatus(j.Status, colorize) }
}

func queueColumns() []column[job.Job] {
	return []column[job.Job]{
		right("#", func(i int, _ job.Job) string { return fmt.Sprintf("%d", i+1) }),
		left("ID", jobID),
		left("Input", jobInput),
		left("Encoder", func(_ int, j job.Job) string { return encoderSummary(j.Config) }),
		left("Audio", func(_ int, j job.Job) string { return j.Config.Audio.String() }),
	}
}

func activeColumns(colorize bool) []column[job.Job] {
	return []column[job.Job]{
		left("ID", jobID),
		left("Input", jobInput),
		left("Status", jobStatus(colorize)),
		right("Progress", func(_ int, j job.Job) string { return formatProgress(j.Stats) }),
		right("FPS", func(_ int, j job.Job) string { return formatFPS(j.Stats) }),
		right("ETA", func(_ int, j job.Job) string { return formatETA(j.Stats) }),
		right("Elapsed", jobElapsed),
	}
}

func historyColumns(colorize bool) []column[job.Job] {
	return []column[job.Job]{
		left("ID", jobID),
		left("Input", jobInput),
		left("Status", jobStatus(colorize)),
		left("Finished", func(_ int, j job.Job) string { return formatTimestamp(j.FinishedAt) }),
		right("Elapsed", jobElapsed),
		left("Error", func(_ int, j job.Job) string { return j.ErrorMessage }).clipped(errorCellWidth),
	}
}

func archiveColumns(colorize bool) []column[archive.Entry] {
	return []column[archive.Entry]{
		left("ID", func(_ int, e archive.Entry) string {
			if len(e.ID) > 8 {
				return e.ID[:8]
			}
			return e.ID
		}),
		left("Input", func(_ int, e archive.Entry) string { return shortenPath(e.InputPath) }),
		left("Encoder", func(_ int, e archive.Entry) string { return e.Encoder }),
		left("Status", func(_ int, e archive.Entry) string { return colorizeStatus(e.Status, colorize) }),
		left("Finished", func(_ int, e archive.Entry) string { return formatTimestamp(e.FinishedAt) }),
		right("Elapsed", func(_ int, e archive.Entry) string { return formatDuration(e.Duration) }),
		left("Error", func(_ int, e archive.Entry) string { return e.ErrorMessage }).clipped(errorCellWidth),
	}
}

func dependencyColumns() []column[deps.Status] {
	return []column[deps.Status]{
		left("Tool", func(_ int, s deps.Status) string { return s.Name }),
		left("Available", func(_ int, s deps.Status) string { return yesNo(s.Available) }),
		left("Source", func(_ int, s deps.Status) string { return string(s.Source) }),
		left("Path", func(_ int, s deps.Status) string {
			if !s.Available {
				return "-"
			}
			return s.Command
		}),
		left("Detail", func(_ int, s deps.Status) string { return s.Detail }),
	}
}

type collectionCount struct {
	name  string
	count int
}

func countColumns() []column[collectionCount] {
	return []column[collectionCount]{
		left("Collection", func(_ int, c collectionCount) string { return c.name }),
		right("Count", func(_ int, c collectionCount) string { return fmt.Sprintf("%d", c.count) }),
	}
}
