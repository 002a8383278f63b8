package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// OutcomeStatus maps the result of a pipeline run to the terminal status the
// scheduler records in history.
func OutcomeStatus(err error) job.Status {
	switch {
	case err == nil:
		return job.StatusCompleted
	case errors.Is(err, ErrCancelled):
		return job.StatusCancelled
	default:
		return job.StatusFailed
	}
}

// FailureHint suggests the operator's next step for a failed job based on the
// marker carried by err.
func FailureHint(err error) string {
	switch {
	case errors.Is(err, ErrExternalTool):
		return "check that the encoder tools run (encodetalker deps), then retry the job"
	case errors.Is(err, ErrValidation):
		return "check the input file and the selected stream indices"
	case errors.Is(err, ErrConfiguration):
		return "fix the configuration or the output location, then retry the job"
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransient):
		return "retry the job"
	default:
		return "inspect the error, then retry the job"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
