package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler writes every record to each destination whose level accepts it.
// The daemon uses it to pair console output with the JSON log file.
type teeHandler []slog.Handler

// TeeHandler combines destinations into one handler. Nil entries are skipped;
// a single destination is returned as is.
func TeeHandler(handlers ...slog.Handler) slog.Handler {
	var dst teeHandler
	for _, h := range handlers {
		if h != nil {
			dst = append(dst, h)
		}
	}
	switch len(dst) {
	case 0:
		return NoopHandler{}
	case 1:
		return dst[0]
	}
	return dst
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = fn(h)
	}
	return next
}
