package ipc

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
)

// EncodeMessage validates msg and serialises it as a standalone gob stream.
func EncodeMessage(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses one frame body and validates the result.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: decode: %v", ErrProtocol, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func writeMessage(w io.Writer, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

func readMessage(r io.Reader) (Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return DecodeMessage(payload)
}
