package scorbot

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Transport is the capability contract shared by the physical and simulated
// serial channels. Higher layers depend only on this set.
type Transport interface {
	// ListEndpoints returns the channel identifiers available for Connect
	ListEndpoints() ([]string, error)
	// Connect opens the endpoint and starts receiving lines
	Connect(endpoint string, baud int) error
	// Disconnect stops receiving, closes the channel and clears the buffer
	Disconnect() error
	// Send frames and dispatches one command; callers serialize commands
	Send(command string) error
	// PollLine removes and returns the oldest received line, non-blocking
	PollLine() (string, bool)
	// Snapshot copies the received lines without consuming them
	Snapshot() []string
	// IsConnected reports whether the channel is open and healthy
	IsConnected() bool
}

// emitFunc receives observability events from a transport
type emitFunc func(Event)

// serviceAware transports accept the owning service's logger and event sink
type serviceAware interface {
	attach(logger *zap.SugaredLogger, emit emitFunc)
}

// commandKeyword returns the uppercase first token of a raw command. It
// selects early-termination rules and simulator scripts.
func commandKeyword(command string) string {
	fields := strings.Fields(strings.ToUpper(command))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// commandArg returns the uppercase remainder after the keyword
func commandArg(command string) string {
	fields := strings.Fields(strings.ToUpper(command))
	if len(fields) < 2 {
		return ""
	}
	return strings.Join(fields[1:], " ")
}

// frameCommand validates and frames an outbound command: ASCII only,
// terminated by a single carriage return
func frameCommand(command string) ([]byte, error) {
	for i := 0; i < len(command); i++ {
		if command[i] > 0x7F {
			return nil, fmt.Errorf("non-ASCII byte 0x%02X at offset %d", command[i], i)
		}
	}
	return []byte(command + "\r"), nil
}

// decodeASCII decodes inbound bytes leniently: anything outside the ASCII
// range becomes the replacement rune, never a rejection. Reports whether
// replacement happened.
func decodeASCII(raw []byte) (string, bool) {
	replaced := false
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c > 0x7F {
			b.WriteRune('�')
			replaced = true
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), replaced
}
