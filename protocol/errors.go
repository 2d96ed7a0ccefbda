package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrCodec           = errors.New("invalid file encoding")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrInvalidText     = errors.New("text must be a single line")
	ErrReservedPrefix  = errors.New("text starts with a reserved control prefix")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrInvalidEncoding = errors.New("invalid utf-8 in chunk")
	ErrLineTooLong     = errors.New("line too long")
)

// FrameError reports a control line that matched a known prefix but could
// not be parsed. The line is dropped, the connection continues.
type FrameError struct {
	Line   string
	Reason string
}

func (e *FrameError) Error() string {
	line := e.Line
	if len(line) > 64 {
		line = line[:64] + "..."
	}
	return fmt.Sprintf("malformed frame %q: %s", line, e.Reason)
}

func (e *FrameError) Unwrap() error { return ErrMalformedFrame }

// CodecError wraps a base64 failure on a file frame.
type CodecError struct {
	Filename string
	Err      error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("decode file %q: %v", e.Filename, e.Err)
}

func (e *CodecError) Is(target error) bool { return target == ErrCodec }

func (e *CodecError) Unwrap() error { return e.Err }

// PayloadTooLargeError is returned before anything is written to a socket.
type PayloadTooLargeError struct {
	What  string // "message" or "file"
	Size  int
	Limit int
}

func (e *PayloadTooLargeError) Error() string {
	unit := "bytes"
	if e.What == "message" {
		unit = "characters"
	}
	return fmt.Sprintf("%s too large: %d %s (maximum %d)", e.What, e.Size, unit, e.Limit)
}

func (e *PayloadTooLargeError) Unwrap() error { return ErrPayloadTooLarge }
