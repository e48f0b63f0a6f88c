package scorbot

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

const (
	// readPollTimeout bounds each blocking read in the reader worker. It is
	// also the worst-case latency before a received line becomes visible.
	readPollTimeout = 50 * time.Millisecond

	// settleDelay gives USB adapters that reset on open time to quiet down
	settleDelay = 2 * time.Second

	// workerJoinTimeout bounds how long Disconnect waits for the reader worker
	workerJoinTimeout = 2 * time.Second
)

// SerialTransport drives a real serial channel. A reader worker frames the
// incoming byte stream into lines and feeds the receive buffer.
type SerialTransport struct {
	mu        sync.RWMutex
	port      serial.Port
	endpoint  string
	connected bool
	readErr   error
	stopChan  chan struct{}
	doneChan  chan struct{}
	buf       lineBuffer
	logger    *zap.SugaredLogger
	emit      emitFunc
}

// NewSerialTransport creates an unconnected physical transport
func NewSerialTransport() *SerialTransport {
	// Default logger
	logger, _ := zap.NewDevelopment()

	return &SerialTransport{
		logger: logger.Sugar(),
		emit:   func(Event) {},
	}
}

// attach implements serviceAware
func (t *SerialTransport) attach(logger *zap.SugaredLogger, emit emitFunc) {
	t.logger = logger
	t.emit = emit
}

// ListEndpoints enumerates the serial ports present on the system
func (t *SerialTransport) ListEndpoints() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	return names, nil
}

// Connect opens the endpoint at the requested baud rate and starts the
// reader worker. An existing connection is closed first.
func (t *SerialTransport) Connect(endpoint string, baud int) error {
	if t.IsConnected() {
		t.logger.Warnf("Already connected to %s, disconnecting first", t.endpoint)
		if err := t.Disconnect(); err != nil {
			return err
		}
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(endpoint, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", endpoint, err)
	}

	// Let the adapter settle, then drop whatever arrived during the reset
	time.Sleep(settleDelay)

	if err := port.SetReadTimeout(readPollTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout on %s: %w", endpoint, err)
	}
	port.ResetInputBuffer()
	port.ResetOutputBuffer()

	t.mu.Lock()
	t.port = port
	t.endpoint = endpoint
	t.connected = true
	t.readErr = nil
	t.stopChan = make(chan struct{})
	t.doneChan = make(chan struct{})
	t.buf.Clear()
	stop, done := t.stopChan, t.doneChan
	t.mu.Unlock()

	go t.readLoop(port, endpoint, stop, done)

	t.logger.Infof("Connected to %s at %d baud", endpoint, baud)
	t.emit(Event{Type: "transport", Endpoint: endpoint, Action: "connect", Data: fmt.Sprintf("baud=%d", baud)})
	return nil
}

// Disconnect stops the reader worker, closes the port and clears the buffer
func (t *SerialTransport) Disconnect() error {
	t.mu.Lock()
	if !t.connected && t.port == nil {
		t.mu.Unlock()
		t.buf.Clear()
		return nil
	}
	endpoint := t.endpoint
	port := t.port
	stop, done := t.stopChan, t.doneChan
	t.connected = false
	t.port = nil
	t.stopChan = nil
	t.doneChan = nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-time.After(workerJoinTimeout):
			t.logger.Warnf("Reader worker for %s did not stop in time", endpoint)
		}
	}

	var err error
	if port != nil {
		err = port.Close()
	}
	t.buf.Clear()

	t.logger.Infof("Disconnected from %s", endpoint)
	t.emit(Event{Type: "transport", Endpoint: endpoint, Action: "disconnect"})
	return err
}

// Send frames and writes one command in a single write call
func (t *SerialTransport) Send(command string) error {
	t.mu.RLock()
	port := t.port
	endpoint := t.endpoint
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return ErrNotConnected
	}

	framed, err := frameCommand(command)
	if err != nil {
		return &WriteError{Endpoint: endpoint, Err: err}
	}

	if _, err := port.Write(framed); err != nil {
		t.logger.Errorf("Write to %s failed: %s", endpoint, err)
		return &WriteError{Endpoint: endpoint, Err: err}
	}

	t.emit(Event{Type: "serial", Endpoint: endpoint, Action: "tx", Data: command})
	return nil
}

// PollLine removes and returns the oldest received line
func (t *SerialTransport) PollLine() (string, bool) {
	return t.buf.Pop()
}

// Snapshot copies the receive buffer without consuming it
func (t *SerialTransport) Snapshot() []string {
	return t.buf.Snapshot()
}

// IsConnected reports whether the channel is open and the reader healthy
func (t *SerialTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// LastError returns the fatal read error that halted the reader, if any
func (t *SerialTransport) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readErr
}

// readLoop is the reader worker, one per open connection. It frames bytes
// into lines on LF, decodes leniently, trims and buffers. A read failure is
// fatal: the connection is flagged and the worker exits.
func (t *SerialTransport) readLoop(port serial.Port, endpoint string, stop chan struct{}, done chan struct{}) {
	defer close(done)
	t.logger.Debugf("Reader worker started for %s", endpoint)

	chunk := make([]byte, 256)
	var pending []byte

	for {
		select {
		case <-stop:
			t.logger.Debugf("Reader worker for %s stopped", endpoint)
			return
		default:
		}

		// Blocks for at most readPollTimeout; n == 0 means no traffic yet
		n, err := port.Read(chunk)
		if err != nil {
			select {
			case <-stop:
				// Port closed under us by Disconnect
				return
			default:
			}
			t.failRead(endpoint, err)
			return
		}
		if n == 0 {
			continue
		}

		pending = append(pending, chunk[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			raw := pending[:i]
			pending = pending[i+1:]
			t.deliver(endpoint, raw)
		}
	}
}

// deliver decodes one raw line and buffers it if non-empty
func (t *SerialTransport) deliver(endpoint string, raw []byte) {
	line, replaced := decodeASCII(raw)
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if t.buf.Append(line) {
		t.logger.Warnf("Receive buffer full on %s, dropped oldest line", endpoint)
	}
	if replaced {
		t.logger.Warnf("Replaced non-ASCII bytes in line from %s: %q", endpoint, line)
		t.emit(Event{Type: "serial", Endpoint: endpoint, Action: "decode-warning", Data: line, Raw: fmt.Sprintf("% X", raw)})
	}
	t.emit(Event{Type: "serial", Endpoint: endpoint, Action: "rx", Data: line})
}

// failRead marks the connection failed after a fatal read error. The buffer
// is left intact so already received lines stay consumable.
func (t *SerialTransport) failRead(endpoint string, err error) {
	readErr := &ReadError{Endpoint: endpoint, Err: err}
	t.logger.Errorf("Reader worker halted: %s", readErr)

	t.mu.Lock()
	t.connected = false
	t.readErr = readErr
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
	t.mu.Unlock()

	t.emit(Event{Type: "transport", Endpoint: endpoint, Action: "read-failed", Data: err.Error()})
}
