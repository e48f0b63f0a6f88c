package scorbot

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation needs an open channel
var ErrNotConnected = errors.New("not connected")

// WriteError reports a rejected or failed command dispatch
type WriteError struct {
	Endpoint string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to %s failed: %v", e.Endpoint, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ReadError reports a fatal channel read failure. The reader worker halts
// permanently when one occurs; only a fresh Connect recovers the channel.
type ReadError struct {
	Endpoint string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read from %s failed: %v", e.Endpoint, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
