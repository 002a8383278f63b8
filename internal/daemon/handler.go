package daemon

import (
	"context"
	"fmt"

	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/queue"
)

// Handle adapts IPC requests onto the queue and dependency managers.
// Shutdown is answered by the server itself.
func (d *Daemon) Handle(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	switch req.Op {
	case ipc.OpPing:
		return ipc.PongResponse(req.ID), nil
	case ipc.OpAddJob:
		args := req.AddJob
		id, err := d.queue.AddJob(args.Input, args.Output, args.Config)
		if err != nil {
			return nil, err
		}
		logging.WithContext(ctx, d.logger).Info("job submitted",
			logging.String(logging.FieldEventType, "job_submitted"),
			logging.JobID(id),
			logging.String("input", args.Input),
			logging.String("encoder", string(args.Config.Encoder)),
		)
		return ipc.JobIDResponse(req.ID, id), nil
	case ipc.OpCancelJob:
		return nil, d.queue.CancelJob(req.JobID)
	case ipc.OpRetryJob:
		return nil, d.queue.RetryJob(req.JobID)
	case ipc.OpListQueue:
		return ipc.JobListResponse(req.ID, d.queue.ListQueue()), nil
	case ipc.OpListActive:
		return ipc.JobListResponse(req.ID, d.queue.ListActive()), nil
	case ipc.OpListHistory:
		return ipc.JobListResponse(req.ID, d.queue.ListHistory()), nil
	case ipc.OpGetJob:
		j, ok := d.queue.GetJob(req.JobID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, req.JobID)
		}
		return ipc.JobResponse(req.ID, j), nil
	case ipc.OpGetStats:
		stats, err := d.queue.GetStats(req.JobID)
		if err != nil {
			return nil, err
		}
		return ipc.StatsResponse(req.ID, stats), nil
	case ipc.OpRemoveFromHistory:
		return nil, d.queue.RemoveFromHistory(req.JobID)
	case ipc.OpClearHistory:
		resp := ipc.OkResponse(req.ID)
		resp.Count = d.queue.ClearHistory()
		return resp, nil
	case ipc.OpGetDependencyStatus:
		return ipc.DependencyStatusResponse(req.ID, d.deps.CheckStatus()), nil
	}
	return nil, fmt.Errorf("unsupported operation %s", req.Op)
}
