package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	frameHeaderSize = 4
	// MaxFrameSize bounds a single message body.
	MaxFrameSize = 8 << 20
)

var (
	// ErrFrameTooLarge reports a frame whose declared length exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("ipc: frame exceeds maximum size")
	// ErrMalformedFrame reports an empty or truncated frame.
	ErrMalformedFrame = errors.New("ipc: malformed frame")
)

// WriteFrame writes payload prefixed by its big-endian u32 length. Header and
// body go out in a single Write.
func WriteFrame(w io.Writer, payload []byte) error {
	switch {
	case len(payload) == 0:
		return fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	case len(payload) > MaxFrameSize:
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame body. A clean end of stream before the header
// returns io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedFrame)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	switch {
	case size == 0:
		return nil, fmt.Errorf("%w: zero length", ErrMalformedFrame)
	case size > MaxFrameSize:
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated body", ErrMalformedFrame)
		}
		return nil, err
	}
	return payload, nil
}
