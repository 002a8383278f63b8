package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// resolveJobID accepts a full job id or a unique prefix of one known to the
// daemon.
func resolveJobID(ctx context.Context, client *ipc.Client, arg string) (uuid.UUID, error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	if arg == "" {
		return uuid.Nil, fmt.Errorf("job id is required")
	}
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}

	var known []job.Job
	for _, list := range []func(context.Context) ([]job.Job, error){client.ListQueue, client.ListActive, client.ListHistory} {
		jobs, err := list(ctx)
		if err != nil {
			return uuid.Nil, err
		}
		known = append(known, jobs...)
	}
	return matchPrefix(known, arg)
}

func matchPrefix(jobs []job.Job, prefix string) (uuid.UUID, error) {
	var matches []uuid.UUID
	for _, j := range jobs {
		if strings.HasPrefix(j.ID.String(), prefix) {
			matches = append(matches, j.ID)
		}
	}
	switch len(matches) {
	case 0:
		return uuid.Nil, fmt.Errorf("no job matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		short := make([]string, 0, len(matches))
		for _, id := range matches {
			short = append(short, id.String()[:8])
		}
		return uuid.Nil, fmt.Errorf("job id %q is ambiguous (%s)", prefix, strings.Join(short, ", "))
	}
}
