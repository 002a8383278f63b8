package ipc

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// ErrProtocol reports a message whose tag and payload disagree.
var ErrProtocol = errors.New("ipc: protocol violation")

// MessageKind tags the payload carried by a Message. Zero is invalid.
type MessageKind uint8

const (
	MessageRequest MessageKind = iota + 1
	MessageResponse
	MessageEvent
)

func (k MessageKind) String() string {
	switch k {
	case MessageRequest:
		return "request"
	case MessageResponse:
		return "response"
	case MessageEvent:
		return "event"
	}
	return fmt.Sprintf("message(%d)", uint8(k))
}

// Op identifies a request operation.
type Op uint8

const (
	OpAddJob Op = iota + 1
	OpCancelJob
	OpRetryJob
	OpListQueue
	OpListActive
	OpListHistory
	OpGetJob
	OpGetStats
	OpRemoveFromHistory
	OpClearHistory
	OpShutdown
	OpPing
	OpGetDependencyStatus
)

var opNames = map[Op]string{
	OpAddJob:              "add_job",
	OpCancelJob:           "cancel_job",
	OpRetryJob:            "retry_job",
	OpListQueue:           "list_queue",
	OpListActive:          "list_active",
	OpListHistory:         "list_history",
	OpGetJob:              "get_job",
	OpGetStats:            "get_stats",
	OpRemoveFromHistory:   "remove_from_history",
	OpClearHistory:        "clear_history",
	OpShutdown:            "shutdown",
	OpPing:                "ping",
	OpGetDependencyStatus: "get_dependency_status",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

func (o Op) needsJobID() bool {
	switch o {
	case OpCancelJob, OpRetryJob, OpGetJob, OpGetStats, OpRemoveFromHistory:
		return true
	}
	return false
}

// ResultKind tags the result carried by a Response.
type ResultKind uint8

const (
	ResultOk ResultKind = iota + 1
	ResultError
	ResultJobID
	ResultJob
	ResultJobList
	ResultStats
	ResultPong
	ResultDependencyStatus
)

func (k ResultKind) String() string {
	switch k {
	case ResultOk:
		return "ok"
	case ResultError:
		return "error"
	case ResultJobID:
		return "job_id"
	case ResultJob:
		return "job"
	case ResultJobList:
		return "job_list"
	case ResultStats:
		return "stats"
	case ResultPong:
		return "pong"
	case ResultDependencyStatus:
		return "dependency_status"
	}
	return fmt.Sprintf("result(%d)", uint8(k))
}

// AddJobArgs carries the AddJob payload.
type AddJobArgs struct {
	Input  string
	Output string
	Config job.EncodingConfig
}

// Request is a client operation.
type Request struct {
	ID     uuid.UUID
	Op     Op
	JobID  uuid.UUID
	AddJob *AddJobArgs
}

// Response answers the request with the same id. Count is set by
// ClearHistory.
type Response struct {
	RequestID    uuid.UUID
	Kind         ResultKind
	Message      string
	JobID        uuid.UUID
	Job          *job.Job
	Jobs         []job.Job
	Stats        *job.Stats
	Dependencies *deps.StatusInfo
	Count        int
}

// Message is the unit carried by one frame.
type Message struct {
	Kind     MessageKind
	Request  *Request
	Response *Response
	Event    *events.Event
}

// NewRequest creates a request with a fresh id.
func NewRequest(op Op) *Request {
	return &Request{ID: uuid.New(), Op: op}
}

// NewJobRequest creates a request addressing one job.
func NewJobRequest(op Op, id uuid.UUID) *Request {
	req := NewRequest(op)
	req.JobID = id
	return req
}

// NewAddJobRequest creates an AddJob request.
func NewAddJobRequest(input, output string, cfg job.EncodingConfig) *Request {
	req := NewRequest(OpAddJob)
	req.AddJob = &AddJobArgs{Input: input, Output: output, Config: cfg}
	return req
}

func OkResponse(id uuid.UUID) *Response {
	return &Response{RequestID: id, Kind: ResultOk}
}

func ErrorResponse(id uuid.UUID, message string) *Response {
	return &Response{RequestID: id, Kind: ResultError, Message: message}
}

func JobIDResponse(id, jobID uuid.UUID) *Response {
	return &Response{RequestID: id, Kind: ResultJobID, JobID: jobID}
}

func JobResponse(id uuid.UUID, j job.Job) *Response {
	return &Response{RequestID: id, Kind: ResultJob, Job: &j}
}

func JobListResponse(id uuid.UUID, jobs []job.Job) *Response {
	return &Response{RequestID: id, Kind: ResultJobList, Jobs: jobs}
}

func StatsResponse(id uuid.UUID, stats job.Stats) *Response {
	return &Response{RequestID: id, Kind: ResultStats, Stats: &stats}
}

func PongResponse(id uuid.UUID) *Response {
	return &Response{RequestID: id, Kind: ResultPong}
}

func DependencyStatusResponse(id uuid.UUID, info deps.StatusInfo) *Response {
	return &Response{RequestID: id, Kind: ResultDependencyStatus, Dependencies: &info}
}

// RequestMessage wraps req.
func RequestMessage(req *Request) Message {
	return Message{Kind: MessageRequest, Request: req}
}

// ResponseMessage wraps resp.
func ResponseMessage(resp *Response) Message {
	return Message{Kind: MessageResponse, Response: resp}
}

// EventMessage wraps evt.
func EventMessage(evt events.Event) Message {
	return Message{Kind: MessageEvent, Event: &evt}
}

// Validate checks that the tag matches exactly one payload and that the
// payload is internally consistent.
func (m Message) Validate() error {
	switch m.Kind {
	case MessageRequest:
		if m.Request == nil || m.Response != nil || m.Event != nil {
			return fmt.Errorf("%w: request tag with mismatched payload", ErrProtocol)
		}
		return m.Request.validate()
	case MessageResponse:
		if m.Response == nil || m.Request != nil || m.Event != nil {
			return fmt.Errorf("%w: response tag with mismatched payload", ErrProtocol)
		}
		return m.Response.validate()
	case MessageEvent:
		if m.Event == nil || m.Request != nil || m.Response != nil {
			return fmt.Errorf("%w: event tag with mismatched payload", ErrProtocol)
		}
		if m.Event.Kind == "" {
			return fmt.Errorf("%w: event without kind", ErrProtocol)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown message kind %d", ErrProtocol, uint8(m.Kind))
}

func (r *Request) validate() error {
	switch {
	case r.ID == uuid.Nil:
		return fmt.Errorf("%w: request without id", ErrProtocol)
	case !r.Op.Valid():
		return fmt.Errorf("%w: unknown operation %d", ErrProtocol, uint8(r.Op))
	case r.Op == OpAddJob && r.AddJob == nil:
		return fmt.Errorf("%w: add_job without arguments", ErrProtocol)
	case r.Op != OpAddJob && r.AddJob != nil:
		return fmt.Errorf("%w: %s carries add_job arguments", ErrProtocol, r.Op)
	case r.Op.needsJobID() && r.JobID == uuid.Nil:
		return fmt.Errorf("%w: %s without job id", ErrProtocol, r.Op)
	}
	return nil
}

func (r *Response) validate() error {
	switch r.Kind {
	case ResultOk, ResultPong, ResultJobList, ResultStats, ResultDependencyStatus:
		return nil
	case ResultError:
		if r.Message == "" {
			return fmt.Errorf("%w: error response without message", ErrProtocol)
		}
	case ResultJobID:
		if r.JobID == uuid.Nil {
			return fmt.Errorf("%w: job_id response without id", ErrProtocol)
		}
	case ResultJob:
		if r.Job == nil {
			return fmt.Errorf("%w: job response without job", ErrProtocol)
		}
	default:
		return fmt.Errorf("%w: unknown result kind %d", ErrProtocol, uint8(r.Kind))
	}
	return nil
}
