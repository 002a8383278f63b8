//go:build windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/windows"
)

const (
	pipeBufferSize  = 64 * 1024
	pipeBusyBackoff = 20 * time.Millisecond
)

type pipeListener struct {
	path string
	done chan struct{}

	mu     sync.Mutex
	closed bool
	next   windows.Handle
}

// Listen creates the first instance of the named pipe at path. Creation fails
// when another process already owns the pipe name.
func Listen(path string) (Listener, error) {
	h, err := createPipe(path, true)
	if err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", path, err)
	}
	return &pipeListener{path: path, done: make(chan struct{}), next: h}, nil
}

func createPipe(path string, first bool) (windows.Handle, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return windows.InvalidHandle, err
	}
	openMode := uint32(windows.PIPE_ACCESS_DUPLEX | windows.FILE_FLAG_OVERLAPPED)
	if first {
		openMode |= windows.FILE_FLAG_FIRST_PIPE_INSTANCE
	}
	pipeMode := uint32(windows.PIPE_TYPE_BYTE | windows.PIPE_READMODE_BYTE | windows.PIPE_WAIT | windows.PIPE_REJECT_REMOTE_CLIENTS)
	return windows.CreateNamedPipe(name, openMode, pipeMode, windows.PIPE_UNLIMITED_INSTANCES,
		pipeBufferSize, pipeBufferSize, 0, nil)
}

func (l *pipeListener) Accept() (Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, net.ErrClosed
	}
	h := l.next
	l.next = 0
	l.mu.Unlock()

	if h == 0 {
		var err error
		if h, err = createPipe(l.path, false); err != nil {
			return nil, fmt.Errorf("create named pipe instance: %w", err)
		}
	}
	if err := connectPipe(h, l.done); err != nil {
		_ = windows.CloseHandle(h)
		return nil, err
	}

	// Keep an idle instance available so dialers do not see the pipe vanish
	// between accepts.
	if next, err := createPipe(l.path, false); err == nil {
		l.mu.Lock()
		if l.closed || l.next != 0 {
			_ = windows.CloseHandle(next)
		} else {
			l.next = next
		}
		l.mu.Unlock()
	}
	return os.NewFile(uintptr(h), l.path), nil
}

func connectPipe(h windows.Handle, done <-chan struct{}) error {
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return fmt.Errorf("create connect event: %w", err)
	}
	defer windows.CloseHandle(event)

	ov := &windows.Overlapped{HEvent: event}
	err = windows.ConnectNamedPipe(h, ov)
	switch {
	case err == nil, errors.Is(err, windows.ERROR_PIPE_CONNECTED):
		return nil
	case !errors.Is(err, windows.ERROR_IO_PENDING):
		return fmt.Errorf("connect named pipe: %w", err)
	}

	result := make(chan error, 1)
	go func() {
		var n uint32
		result <- windows.GetOverlappedResult(h, ov, &n, true)
	}()
	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("connect named pipe: %w", err)
		}
		return nil
	case <-done:
		_ = windows.CancelIoEx(h, ov)
		<-result
		return net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	if l.next != 0 {
		_ = windows.CloseHandle(l.next)
		l.next = 0
	}
	return nil
}

func (l *pipeListener) Addr() string {
	return l.path
}

// DialConn opens the named pipe, waiting while every instance is busy.
func DialConn(ctx context.Context, path string) (Conn, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	for {
		h, err := windows.CreateFile(name,
			windows.GENERIC_READ|windows.GENERIC_WRITE,
			0, nil, windows.OPEN_EXISTING, windows.FILE_FLAG_OVERLAPPED, 0)
		if err == nil {
			return os.NewFile(uintptr(h), path), nil
		}
		if !errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, &os.PathError{Op: "dial", Path: path, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pipeBusyBackoff):
		}
	}
}

// Cleanup is a no-op; named pipes disappear with their last handle.
func Cleanup(string) error {
	return nil
}
