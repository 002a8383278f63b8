package queue

import (
	"fmt"

	"github.com/ValentinMastro/EncodeTalker/internal/services"
)

var (
	// ErrNotAccepting is returned by AddJob and RetryJob once the daemon is draining.
	ErrNotAccepting = fmt.Errorf("%w: daemon is not accepting new jobs", services.ErrValidation)
	// ErrJobNotFound is returned when an id is in no partition the operation looks at.
	ErrJobNotFound = fmt.Errorf("job %w", services.ErrNotFound)
	// ErrNotRetryable is returned by RetryJob for anything but a failed history entry.
	ErrNotRetryable = fmt.Errorf("%w: job not found or not failed", services.ErrValidation)
	// ErrNoStats is returned by GetStats for a job that is not running.
	ErrNoStats = fmt.Errorf("%w: job has no stats (not running)", services.ErrValidation)
)
