package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

const clientEventBuffer = 256

// ErrConnectionClosed reports a call on a client whose connection has ended.
var ErrConnectionClosed = errors.New("ipc: connection closed")

// RemoteError is an error response returned by the daemon.
type RemoteError struct {
	Op      Op
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Client talks to the daemon over one connection. Calls may be issued
// concurrently; responses are matched to requests by id and events are
// delivered on Events.
type Client struct {
	conn    Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uuid.UUID]chan *Response
	err     error

	events        chan events.Event
	droppedEvents atomic.Uint64
	done          chan struct{}
	closeOnce     sync.Once
}

// Dial connects to the daemon endpoint at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	conn, err := DialConn(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient starts a client on an established connection.
func NewClient(conn Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[uuid.UUID]chan *Response),
		events:  make(chan events.Event, clientEventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events returns pushed daemon events. The channel is closed when the
// connection ends. Events are dropped rather than blocking responses when
// the channel is full.
func (c *Client) Events() <-chan events.Event {
	return c.events
}

// DroppedEvents reports how many events were discarded because Events was
// not drained.
func (c *Client) DroppedEvents() uint64 {
	return c.droppedEvents.Load()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.mu.Lock()
		c.err = readErr
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		close(c.done)
		close(c.events)
		_ = c.Close()
	}()

	for {
		msg, err := readMessage(c.conn)
		if err != nil {
			readErr = err
			return
		}
		switch msg.Kind {
		case MessageResponse:
			c.mu.Lock()
			ch, ok := c.pending[msg.Response.RequestID]
			delete(c.pending, msg.Response.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- msg.Response
			}
		case MessageEvent:
			select {
			case c.events <- *msg.Event:
			default:
				c.droppedEvents.Add(1)
			}
		default:
			readErr = fmt.Errorf("%w: unexpected %s from server", ErrProtocol, msg.Kind)
			return
		}
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, c.err)
	}
	return ErrConnectionClosed
}

// Call sends req and waits for its response. Error responses are returned
// as *RemoteError.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, c.closedErr()
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeMessage(c.conn, RequestMessage(req))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return nil, fmt.Errorf("send %s: %w", req.Op, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.closedErr()
		}
		if resp.Kind == ResultError {
			return nil, &RemoteError{Op: req.Op, Message: resp.Message}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uuid.UUID) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) expect(ctx context.Context, req *Request, kind ResultKind) (*Response, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Kind != kind {
		return nil, fmt.Errorf("%w: %s answered with %s, want %s", ErrProtocol, req.Op, resp.Kind, kind)
	}
	return resp, nil
}

// AddJob submits a job and returns its id.
func (c *Client) AddJob(ctx context.Context, input, output string, cfg job.EncodingConfig) (uuid.UUID, error) {
	resp, err := c.expect(ctx, NewAddJobRequest(input, output, cfg), ResultJobID)
	if err != nil {
		return uuid.Nil, err
	}
	return resp.JobID, nil
}

// CancelJob cancels a queued or running job.
func (c *Client) CancelJob(ctx context.Context, id uuid.UUID) error {
	_, err := c.expect(ctx, NewJobRequest(OpCancelJob, id), ResultOk)
	return err
}

// RetryJob requeues a failed job.
func (c *Client) RetryJob(ctx context.Context, id uuid.UUID) error {
	_, err := c.expect(ctx, NewJobRequest(OpRetryJob, id), ResultOk)
	return err
}

func (c *Client) listJobs(ctx context.Context, op Op) ([]job.Job, error) {
	resp, err := c.expect(ctx, NewRequest(op), ResultJobList)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// ListQueue returns queued jobs in admission order.
func (c *Client) ListQueue(ctx context.Context) ([]job.Job, error) {
	return c.listJobs(ctx, OpListQueue)
}

// ListActive returns running jobs.
func (c *Client) ListActive(ctx context.Context) ([]job.Job, error) {
	return c.listJobs(ctx, OpListActive)
}

// ListHistory returns finished jobs in completion order.
func (c *Client) ListHistory(ctx context.Context) ([]job.Job, error) {
	return c.listJobs(ctx, OpListHistory)
}

// GetJob fetches one job from any collection.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (job.Job, error) {
	resp, err := c.expect(ctx, NewJobRequest(OpGetJob, id), ResultJob)
	if err != nil {
		return job.Job{}, err
	}
	return *resp.Job, nil
}

// GetStats fetches the live stats of a job.
func (c *Client) GetStats(ctx context.Context, id uuid.UUID) (job.Stats, error) {
	resp, err := c.expect(ctx, NewJobRequest(OpGetStats, id), ResultStats)
	if err != nil {
		return job.Stats{}, err
	}
	if resp.Stats == nil {
		return job.Stats{}, nil
	}
	return *resp.Stats, nil
}

// RemoveFromHistory deletes one history entry.
func (c *Client) RemoveFromHistory(ctx context.Context, id uuid.UUID) error {
	_, err := c.expect(ctx, NewJobRequest(OpRemoveFromHistory, id), ResultOk)
	return err
}

// ClearHistory empties the history and returns how many entries were removed.
func (c *Client) ClearHistory(ctx context.Context) (int, error) {
	resp, err := c.expect(ctx, NewRequest(OpClearHistory), ResultOk)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Shutdown asks the daemon to drain and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.expect(ctx, NewRequest(OpShutdown), ResultOk)
	return err
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.expect(ctx, NewRequest(OpPing), ResultPong)
	return err
}

// DependencyStatus reports external tool availability.
func (c *Client) DependencyStatus(ctx context.Context) (deps.StatusInfo, error) {
	resp, err := c.expect(ctx, NewRequest(OpGetDependencyStatus), ResultDependencyStatus)
	if err != nil {
		return deps.StatusInfo{}, err
	}
	if resp.Dependencies == nil {
		return deps.StatusInfo{}, nil
	}
	return *resp.Dependencies, nil
}
