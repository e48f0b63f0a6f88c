package scorbot

import "time"

// Event mirrors raw traffic and lifecycle changes on a Scorbot channel.
// Types: "serial" (actions tx, rx, decode-warning), "transport" (actions
// connect, disconnect, read-failed), "collection" (action complete).
type Event struct {
	Type      string        `json:"type"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Session   string        `json:"session,omitempty"`
	Action    string        `json:"action"`
	Data      string        `json:"data,omitempty"`
	Raw       string        `json:"raw,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventHandler handles events from the command/response engine
type EventHandler interface {
	HandleEvent(event Event)
}

// EventHandlerFunc is a function adapter for EventHandler interface
type EventHandlerFunc func(Event)

// HandleEvent calls the function
func (f EventHandlerFunc) HandleEvent(e Event) {
	f(e)
}
