package scorbot

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// simEndpoints are the fixed dummy endpoints the simulator offers
var simEndpoints = []string{"SIM_PORT_A", "/dev/tty.mockusb"}

// Scripted pauses, in multiples of the configured delay unit. All stay well
// under the default inter-message timeout so scripted replies are collected
// as a single response.
const (
	simProcessingUnits = 1 // before the first line of any reply
	simHomingUnits     = 8 // HOME announcement to the axis reports
	simRunUnits        = 6 // RUN start to completion
	simMoveUnits       = 5 // MOVED/MOVELD start to completion
	simPromptUnits     = 1 // between SETPV axis prompts
)

// simInitialState pins the simulated joint positions at connect time;
// simMoveDelta is added by every move command, so repeated moves are
// observably additive.
var (
	simInitialState = [5]int{12345, -5678, 9012, 3456, -7890}
	simMoveDelta    = [5]int{100, -100, 50, 25, -10}
)

// Sim implements Transport against a scripted device instead of hardware.
// It reproduces the controller's multi-line reply shapes and pacing so the
// collector and callers can be exercised without a robot on the bench.
// Joint state persists across connections, like a powered robot would.
type Sim struct {
	mu        sync.RWMutex
	connected bool
	endpoint  string
	stopChan  chan struct{}
	buf       lineBuffer
	state     [5]int
	delayUnit time.Duration
	logger    *zap.SugaredLogger
	emit      emitFunc
}

// SimOption configures a Sim
type SimOption func(*Sim)

// WithSimDelayUnit sets the base unit for scripted pauses (default 100ms).
// Zero makes playback immediate, which tests rely on.
func WithSimDelayUnit(d time.Duration) SimOption {
	return func(s *Sim) {
		s.delayUnit = d
	}
}

// NewSim creates a simulated transport
func NewSim(opts ...SimOption) *Sim {
	// Default logger
	logger, _ := zap.NewDevelopment()

	s := &Sim{
		state:     simInitialState,
		delayUnit: 100 * time.Millisecond,
		logger:    logger.Sugar(),
		emit:      func(Event) {},
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// attach implements serviceAware
func (s *Sim) attach(logger *zap.SugaredLogger, emit emitFunc) {
	s.logger = logger
	s.emit = emit
}

// ListEndpoints returns the fixed dummy endpoints
func (s *Sim) ListEndpoints() ([]string, error) {
	out := make([]string, len(simEndpoints))
	copy(out, simEndpoints)
	return out, nil
}

// Connect opens the simulated channel and enqueues the onboarding banner.
// An existing connection is closed first.
func (s *Sim) Connect(endpoint string, baud int) error {
	if s.IsConnected() {
		s.logger.Warnf("Already connected to %s, disconnecting first", s.endpoint)
		if err := s.Disconnect(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.connected = true
	s.endpoint = endpoint
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.logger.Infof("Simulated connection to %s at %d baud", endpoint, baud)
	s.push("Scorbot Simulator Ready.")
	s.push("OK")
	s.emit(Event{Type: "transport", Endpoint: endpoint, Action: "connect", Data: fmt.Sprintf("baud=%d", baud)})
	return nil
}

// Disconnect halts script playback and clears the buffer
func (s *Sim) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		s.buf.Clear()
		return nil
	}
	endpoint := s.endpoint
	s.connected = false
	close(s.stopChan)
	s.stopChan = nil
	s.mu.Unlock()

	s.buf.Clear()
	s.logger.Infof("Simulated disconnection from %s", endpoint)
	s.emit(Event{Type: "transport", Endpoint: endpoint, Action: "disconnect"})
	return nil
}

// Send validates the command and plays its scripted reply asynchronously,
// the way a real controller answers after the write returns
func (s *Sim) Send(command string) error {
	s.mu.RLock()
	connected := s.connected
	endpoint := s.endpoint
	stop := s.stopChan
	s.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}
	if _, err := frameCommand(command); err != nil {
		return &WriteError{Endpoint: endpoint, Err: err}
	}

	s.emit(Event{Type: "serial", Endpoint: endpoint, Action: "tx", Data: command})

	go s.play(commandKeyword(command), commandArg(command), stop)
	return nil
}

// PollLine removes and returns the oldest scripted line
func (s *Sim) PollLine() (string, bool) {
	return s.buf.Pop()
}

// Snapshot copies the scripted lines without consuming them
func (s *Sim) Snapshot() []string {
	return s.buf.Snapshot()
}

// IsConnected reports whether the simulated channel is open
func (s *Sim) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// JointState returns the current simulated joint positions in counts
func (s *Sim) JointState() [5]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// play enqueues the scripted reply for one command. Every pause checks the
// stop channel so a disconnect mid-script never resurrects lines into a
// cleared buffer.
func (s *Sim) play(keyword, arg string, stop chan struct{}) {
	if !s.pause(simProcessingUnits, stop) {
		return
	}

	switch keyword {
	case "HOME":
		s.push("Executing HOME...")
		if !s.pause(simHomingUnits, stop) {
			return
		}
		for axis := 1; axis <= 5; axis++ {
			s.push(fmt.Sprintf("Axis %d homed.", axis))
		}
		s.push("Homing complete(robot)")
		s.push("OK")

	case "LISTPV":
		if arg == "POSITION" {
			s.push("Position POSITION :")
			for i, v := range s.JointState() {
				s.push(fmt.Sprintf("Axis %d = %d counts", i+1, v))
			}
		} else {
			s.push(fmt.Sprintf("Position %s :", arg))
			for axis := 1; axis <= 5; axis++ {
				s.push(fmt.Sprintf("Axis %d = %d counts", axis, axis*1000))
			}
		}
		s.push("OK")

	case "SETPV":
		for axis := 1; axis <= 5; axis++ {
			s.push(fmt.Sprintf("Enter Axis %d value:", axis))
			if !s.pause(simPromptUnits, stop) {
				return
			}
		}
		s.push("OK")

	case "DEFP", "SPEED", "OPEN", "CLOSE":
		s.push("OK")

	case "EDIT":
		s.push("Entering EDIT mode.")
		s.push("OK")

	case "EXIT":
		s.push("Exiting EDIT mode.")
		s.push("OK")

	case "RUN":
		s.push("Running program...")
		if !s.pause(simRunUnits, stop) {
			return
		}
		s.push("Program complete.")
		s.push("OK")

	case "MOVED", "MOVELD":
		s.push("Executing move...")
		if !s.pause(simMoveUnits, stop) {
			return
		}
		s.applyMoveDelta()
		s.push("Move complete.")
		s.push("OK")

	case "STATUS", "WHERE":
		s.push("STATUS: Ready, Speed=50, Pos=(Simulated)")
		s.push("OK")

	default:
		// Unknown commands get a bare error, no trailing OK
		s.push("ERROR: Unknown command")
	}
}

// pause sleeps n delay units, reporting false when playback should stop
func (s *Sim) pause(n int, stop chan struct{}) bool {
	d := time.Duration(n) * s.delayUnit
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}

	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

// push appends one scripted line if the channel is still open
func (s *Sim) push(line string) {
	s.mu.RLock()
	connected := s.connected
	endpoint := s.endpoint
	s.mu.RUnlock()

	if !connected {
		return
	}
	s.buf.Append(line)
	s.emit(Event{Type: "serial", Endpoint: endpoint, Action: "rx", Data: line})
}

// applyMoveDelta advances the joint state by the fixed per-move delta
func (s *Sim) applyMoveDelta() {
	s.mu.Lock()
	for i := range s.state {
		s.state[i] += simMoveDelta[i]
	}
	s.mu.Unlock()
}
