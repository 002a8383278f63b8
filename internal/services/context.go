package services

import (
	"context"

	"github.com/google/uuid"
)

type (
	jobIDKey     struct{}
	stageKey     struct{}
	requestIDKey struct{}
)

// WithJobID annotates ctx with the job being processed. The nil UUID leaves
// ctx unchanged.
func WithJobID(ctx context.Context, id uuid.UUID) context.Context {
	if id == uuid.Nil {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey{}, id)
}

// JobIDFromContext returns the job annotated by WithJobID.
func JobIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(jobIDKey{}).(uuid.UUID)
	return id, ok
}

// WithStage annotates ctx with a pipeline stage (probe, video, audio, mux).
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey{}, stage)
}

func StageFromContext(ctx context.Context) (string, bool) {
	stage, ok := ctx.Value(stageKey{}).(string)
	return stage, ok
}

// WithRequestID annotates ctx with the IPC request being served so daemon
// logs can be correlated with the client call.
func WithRequestID(ctx context.Context, id uuid.UUID) context.Context {
	if id == uuid.Nil {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(requestIDKey{}).(uuid.UUID)
	return id, ok
}
