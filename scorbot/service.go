package scorbot

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service ties a transport to the collection engine and fans events out to
// handlers. One service drives one channel; callers issue one command at a
// time and wait out its collection before the next.
type Service struct {
	transport Transport
	collector *Collector
	handlers  []EventHandler
	logger    *zap.SugaredLogger
	mu        sync.RWMutex
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets a custom logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCollector sets a custom collection policy
func WithCollector(c *Collector) Option {
	return func(s *Service) {
		s.collector = c
	}
}

// NewService creates a service driving the given transport
func NewService(t Transport, opts ...Option) *Service {
	// Default logger
	logger, _ := zap.NewDevelopment()

	s := &Service{
		transport: t,
		handlers:  make([]EventHandler, 0),
		logger:    logger.Sugar(),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	if s.collector == nil {
		s.collector = NewCollector()
	}
	s.collector.logger = s.logger

	// Transports log and emit through their owning service
	if aware, ok := t.(serviceAware); ok {
		aware.attach(s.logger, s.dispatch)
	}

	return s
}

// AddHandler registers an event handler
func (s *Service) AddHandler(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// dispatch sends an event to all registered handlers
func (s *Service) dispatch(event Event) {
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()

	event.Timestamp = time.Now()

	s.logger.Debugf("Event: type=%s action=%s endpoint=%s data=%s",
		event.Type, event.Action, event.Endpoint, event.Data)

	for _, h := range handlers {
		go h.HandleEvent(event) // Non-blocking dispatch
	}
}

// ListEndpoints returns the endpoints the transport can connect to
func (s *Service) ListEndpoints() ([]string, error) {
	return s.transport.ListEndpoints()
}

// Connect opens the endpoint at the given baud rate
func (s *Service) Connect(endpoint string, baud int) error {
	return s.transport.Connect(endpoint, baud)
}

// Disconnect closes the channel and clears the receive buffer
func (s *Service) Disconnect() error {
	return s.transport.Disconnect()
}

// IsConnected reports whether the channel is open
func (s *Service) IsConnected() bool {
	return s.transport.IsConnected()
}

// Send dispatches a raw command without collecting its reply
func (s *Service) Send(command string) error {
	return s.transport.Send(command)
}

// Execute dispatches a command and collects its classified reply. Dispatch
// failures return an error and no collection session starts.
func (s *Service) Execute(command string) (Outcome, error) {
	if err := s.transport.Send(command); err != nil {
		return Outcome{}, err
	}

	outcome := s.collector.Collect(s.transport, command)

	s.dispatch(Event{
		Type:     "collection",
		Session:  outcome.Session,
		Action:   "complete",
		Data:     fmt.Sprintf("command=%q reason=%s lines=%d", command, outcome.Reason, len(outcome.Lines)),
		Duration: outcome.Duration,
	})
	return outcome, nil
}

// PollLine removes and returns the oldest received line
func (s *Service) PollLine() (string, bool) {
	return s.transport.PollLine()
}

// Snapshot copies the receive buffer without consuming it
func (s *Service) Snapshot() []string {
	return s.transport.Snapshot()
}
