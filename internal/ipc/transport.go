package ipc

import (
	"errors"
	"io"
	"time"
)

const dialTimeout = 2 * time.Second

// ErrPeerRejected reports a connection from a peer owned by another user.
// Accept returns it for a single connection; the listener stays usable.
var ErrPeerRejected = errors.New("ipc: peer rejected")

// Conn is one duplex client connection.
type Conn interface {
	io.ReadWriteCloser
}

// Listener accepts client connections on a platform endpoint.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}
