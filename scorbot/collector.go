package scorbot

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Default collection policy. The controller protocol has no end-of-reply
// delimiter, so completion is inferred from silence under a hard ceiling.
// The values are tuned for the ACL console at 9600 baud.
const (
	DefaultOverallTimeout      = 90 * time.Second
	DefaultInterMessageTimeout = 1500 * time.Millisecond
	DefaultPollInterval        = 50 * time.Millisecond
	DefaultGracePeriod         = 200 * time.Millisecond
)

// homeCompleteMarker ends a HOME collection the moment it is seen. The
// homing routine runs minutes on real hardware with long silent stretches,
// so silence alone cannot end it.
const homeCompleteMarker = "Homing complete(robot)"

// MatchFunc reports whether a received line completes a command's reply early
type MatchFunc func(line string) bool

// TerminationReason classifies how a collection session ended
type TerminationReason int

const (
	// ReasonEarlyMatch means a command-specific completion marker was seen
	ReasonEarlyMatch TerminationReason = iota
	// ReasonInterMessageTimeout means silence followed at least one line,
	// the normal end of a reply
	ReasonInterMessageTimeout
	// ReasonOverallTimeout means lines were still arriving when the hard
	// ceiling hit; the reply is likely truncated
	ReasonOverallTimeout
	// ReasonEmpty means nothing arrived within the overall timeout
	ReasonEmpty
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonEarlyMatch:
		return "early-match"
	case ReasonInterMessageTimeout:
		return "inter-message-timeout"
	case ReasonOverallTimeout:
		return "overall-timeout"
	case ReasonEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one collection session
type Outcome struct {
	Command  string
	Session  string
	Lines    []string
	Reason   TerminationReason
	Duration time.Duration
}

// Empty reports whether no reply arrived at all
func (o Outcome) Empty() bool {
	return len(o.Lines) == 0
}

// Text renders the outcome as a single annotated blob for downstream
// consumers that want prose rather than structure
func (o Outcome) Text() string {
	if o.Empty() {
		return fmt.Sprintf("[System Note: Sent '%s', but received no response within timeout.]", o.Command)
	}

	text := fmt.Sprintf("[SERIAL_RX for '%s']: %s", o.Command, strings.Join(o.Lines, "\n"))
	switch o.Reason {
	case ReasonOverallTimeout:
		text += "\n[System Note: Overall response timeout reached during reception.]"
	case ReasonInterMessageTimeout:
		text += "\n[System Note: Stopped waiting for further lines due to inter-message timeout.]"
	}
	return text
}

// Collector assembles multi-line replies using a two-timer policy plus
// per-keyword early-termination rules
type Collector struct {
	overall      time.Duration
	interMessage time.Duration
	poll         time.Duration
	grace        time.Duration
	matchers     map[string]MatchFunc
	logger       *zap.SugaredLogger
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithOverallTimeout caps a whole collection session (default 90s)
func WithOverallTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.overall = d
	}
}

// WithInterMessageTimeout sets the silence gap that ends a reply (default 1.5s)
func WithInterMessageTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.interMessage = d
	}
}

// WithPollInterval sets the idle poll interval (default 50ms)
func WithPollInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.poll = d
	}
}

// WithGracePeriod sets the wait for one trailing line after an early match
// (default 200ms)
func WithGracePeriod(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.grace = d
	}
}

// WithMatcher registers an early-termination rule for a command keyword,
// replacing any built-in rule for that keyword
func WithMatcher(keyword string, fn MatchFunc) CollectorOption {
	return func(c *Collector) {
		c.matchers[strings.ToUpper(keyword)] = fn
	}
}

// NewCollector creates a Collector with the built-in HOME rule
func NewCollector(opts ...CollectorOption) *Collector {
	// Default logger
	logger, _ := zap.NewDevelopment()

	c := &Collector{
		overall:      DefaultOverallTimeout,
		interMessage: DefaultInterMessageTimeout,
		poll:         DefaultPollInterval,
		grace:        DefaultGracePeriod,
		matchers: map[string]MatchFunc{
			"HOME": func(line string) bool {
				return strings.Contains(line, homeCompleteMarker)
			},
		},
		logger: logger.Sugar(),
	}

	// Apply options
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect polls the transport until the reply to command is complete, then
// classifies how it ended. It never returns an error: every way a session
// can end is an Outcome the caller must distinguish.
func (c *Collector) Collect(t Transport, command string) Outcome {
	out := Outcome{
		Command: command,
		Session: uuid.NewString(),
	}
	matcher := c.matchers[commandKeyword(command)]

	start := time.Now()
	lastLine := start

	c.logger.Debugf("Collection %s started for %q (overall %s, inter-message %s)",
		out.Session, command, c.overall, c.interMessage)

	for {
		if time.Since(start) > c.overall {
			if out.Empty() {
				out.Reason = ReasonEmpty
			} else {
				out.Reason = ReasonOverallTimeout
			}
			break
		}

		line, ok := t.PollLine()
		if ok {
			out.Lines = append(out.Lines, line)
			lastLine = time.Now()

			if matcher != nil && matcher(line) {
				c.logger.Debugf("Completion marker seen for %q", command)
				// Give one trailing line (the controller's OK) a short
				// window, then stop regardless. At most one extra pop.
				time.Sleep(c.grace)
				if extra, popped := t.PollLine(); popped {
					out.Lines = append(out.Lines, extra)
				}
				out.Reason = ReasonEarlyMatch
				break
			}
			continue
		}

		if !out.Empty() && time.Since(lastLine) > c.interMessage {
			out.Reason = ReasonInterMessageTimeout
			break
		}
		time.Sleep(c.poll)
	}

	out.Duration = time.Since(start)
	c.logger.Debugf("Collection %s for %q ended: %s, %d line(s) in %s",
		out.Session, command, out.Reason, len(out.Lines), out.Duration)
	return out
}
