package ipc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/events"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/services"
)

const (
	connOutboxSize     = 64
	connEventBuffer    = 256
	acceptRetryBackoff = 50 * time.Millisecond
	closeFlushTimeout  = time.Second
)

// Handler executes one request. A returned error becomes an error response
// carrying err.Error(); a nil response with a nil error becomes Ok.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Server accepts client connections, dispatches their requests to the
// Handler and pushes every bus event to every connection.
type Server struct {
	listener Listener
	handler  Handler
	bus      *events.Bus
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	conns      map[uint64]*connection
	nextConnID atomic.Uint64

	shutdownOnce sync.Once
	onShutdown   func()
	closeOnce    sync.Once
}

// NewServer wraps an already bound listener.
func NewServer(ctx context.Context, listener Listener, handler Handler, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		listener: listener,
		handler:  handler,
		bus:      bus,
		logger:   logging.NewComponentLogger(logger, "ipc"),
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[uint64]*connection),
	}
}

// OnShutdown registers the callback run once after a Shutdown request has
// been answered. Call before Serve.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = fn
}

// Addr returns the endpoint the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr()
}

// ConnectionCount reports the number of open client connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Serve starts accepting connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("endpoint", s.listener.Addr()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if errors.Is(err, ErrPeerRejected) {
					logging.WarnWithContext(s.logger, "rejected IPC peer", "ipc_peer_rejected",
						logging.Error(err),
						logging.Impact("connection from another user was refused"),
						logging.ErrorHint("connect as the user running encodetalkerd"))
					continue
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.Impact("IPC clients may fail to connect"),
					logging.ErrorHint("check socket permissions and restart the daemon if needed"))
				time.Sleep(acceptRetryBackoff)
				continue
			}
			s.track(conn)
		}
	}()
}

func (s *Server) track(conn Conn) {
	c := &connection{
		id:         s.nextConnID.Add(1),
		srv:        s,
		conn:       conn,
		outbox:     make(chan outbound, connOutboxSize),
		done:       make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
	c.logger = s.logger.With(logging.Uint64("conn_id", c.id))

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.sub = s.bus.Subscribe(connEventBuffer)
	if c.sub == nil {
		close(c.eventsDone)
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.serve()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
	}()
}

// Close stops accepting, flushes events already published to each client,
// drops every connection and removes the endpoint.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.listener.Close()
		s.mu.Lock()
		conns := make([]*connection, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		var flush sync.WaitGroup
		for _, c := range conns {
			flush.Add(1)
			go func() {
				defer flush.Done()
				c.flush(closeFlushTimeout)
				c.close()
			}()
		}
		flush.Wait()
		s.wg.Wait()
		if err := Cleanup(s.listener.Addr()); err != nil {
			logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
				logging.String("endpoint", s.listener.Addr()),
				logging.Error(err),
				logging.Impact("stale IPC socket may block future starts"),
				logging.ErrorHint("remove the socket file manually"))
		}
	})
}

func (s *Server) triggerShutdown() {
	if s.onShutdown == nil {
		return
	}
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutdown requested via IPC", logging.String(logging.FieldEventType, "daemon_shutdown_requested"))
		go s.onShutdown()
	})
}

type outbound struct {
	msg     Message
	after   func()
	flushed chan struct{}
}

type connection struct {
	id     uint64
	srv    *Server
	conn   Conn
	logger *slog.Logger

	sub        *events.Subscription
	outbox     chan outbound
	done       chan struct{}
	eventsDone chan struct{}
	closeOnce  sync.Once
}

func (c *connection) serve() {
	c.logger.Debug("client connected")
	defer c.logger.Debug("client disconnected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	if c.sub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.forwardEvents()
		}()
	}

	c.readLoop()
	c.close()
	wg.Wait()
}

// flush stops the event subscription, forwards what it still buffers and
// waits until the writer has sent everything queued so far.
func (c *connection) flush(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	c.sub.Close()
	select {
	case <-c.eventsDone:
	case <-c.done:
		return
	case <-timer.C:
		return
	}
	marker := make(chan struct{})
	select {
	case c.outbox <- outbound{flushed: marker}:
	case <-c.done:
		return
	case <-timer.C:
		return
	}
	select {
	case <-marker:
	case <-c.done:
	case <-timer.C:
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// send queues msg for the writer. It reports false once the connection is
// closing.
func (c *connection) send(msg Message, after func()) bool {
	select {
	case c.outbox <- outbound{msg: msg, after: after}:
		return true
	case <-c.done:
		return false
	}
}

func (c *connection) readLoop() {
	for {
		msg, err := readMessage(c.conn)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, ErrProtocol), errors.Is(err, ErrMalformedFrame), errors.Is(err, ErrFrameTooLarge):
				logging.WarnWithContext(c.logger, "closing connection after protocol error", "ipc_protocol_error",
					logging.Error(err),
					logging.Impact("this client was disconnected"),
					logging.ErrorHint("ensure the client and daemon versions match"))
			default:
				c.logger.Debug("connection read failed", logging.Error(err))
			}
			return
		}
		if msg.Kind != MessageRequest {
			logging.WarnWithContext(c.logger, "closing connection after unexpected message", "ipc_protocol_error",
				logging.String("message_kind", msg.Kind.String()),
				logging.Impact("this client was disconnected"),
				logging.ErrorHint("clients may only send requests"))
			return
		}
		resp, after := c.dispatch(msg.Request)
		if !c.send(ResponseMessage(resp), after) {
			return
		}
	}
}

func (c *connection) dispatch(req *Request) (*Response, func()) {
	ctx := services.WithRequestID(c.srv.ctx, req.ID)
	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("request received", logging.String("op", req.Op.String()))

	if req.Op == OpShutdown {
		return OkResponse(req.ID), c.srv.triggerShutdown
	}
	if c.srv.handler == nil {
		return ErrorResponse(req.ID, "no handler configured"), nil
	}
	resp, err := c.srv.handler.Handle(ctx, req)
	if err != nil {
		logger.Debug("request failed", logging.String("op", req.Op.String()), logging.Error(err))
		return ErrorResponse(req.ID, err.Error()), nil
	}
	if resp == nil {
		resp = OkResponse(req.ID)
	}
	resp.RequestID = req.ID
	return resp, nil
}

func (c *connection) writeLoop() {
	for {
		select {
		case out := <-c.outbox:
			if out.flushed != nil {
				close(out.flushed)
				continue
			}
			err := writeMessage(c.conn, out.msg)
			if out.after != nil {
				out.after()
			}
			if err != nil {
				select {
				case <-c.done:
				default:
					c.logger.Debug("connection write failed", logging.Error(err))
				}
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) forwardEvents() {
	sub := c.sub
	defer close(c.eventsDone)
	defer sub.Close()
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if dropped := sub.TakeDropped(); dropped > 0 {
				logging.WarnWithContext(c.logger, "client lagging behind event stream", "ipc_event_lag",
					logging.Uint64("dropped_events", dropped),
					logging.Impact("client missed intermediate events"),
					logging.ErrorHint("the client should refresh job lists"))
			}
			if !c.send(EventMessage(evt), nil) {
				return
			}
		case <-c.done:
			return
		}
	}
}
