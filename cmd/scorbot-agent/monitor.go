package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sciencesam/gemini-scorbot-controller/scorbot"
	"go.uber.org/zap"
)

// Monitor implements scorbot.EventHandler and streams every engine event to
// SSE clients, so serial traffic can be watched from a browser while the
// console stays usable
type Monitor struct {
	clients map[chan monitorEvent]bool
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
}

type monitorEvent struct {
	Event   string
	Message string
}

// NewMonitor creates an SSE traffic monitor
func NewMonitor(logger *zap.SugaredLogger) *Monitor {
	return &Monitor{
		clients: make(map[chan monitorEvent]bool),
		logger:  logger,
	}
}

// Serve blocks on an HTTP server exposing the event stream on /events
func (m *Monitor) Serve(port string) {
	http.HandleFunc("/events", m.HandleHTTP)
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Scorbot traffic monitor\n\nConnect to /events for the SSE stream")
	})

	m.logger.Infof("Traffic monitor listening on port %s", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%s", port), nil); err != nil {
		m.logger.Errorf("Traffic monitor stopped: %s", err)
	}
}

// HandleEvent implements scorbot.EventHandler
func (m *Monitor) HandleEvent(event scorbot.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		m.logger.Errorf("Failed to marshal event: %s", err)
		return
	}

	sse := monitorEvent{
		Event:   event.Type,
		Message: string(data),
	}

	// Broadcast to all connected clients
	m.mu.RLock()
	defer m.mu.RUnlock()

	for client := range m.clients {
		select {
		case client <- sse:
		default:
			// Client buffer full, skip
			m.logger.Warnf("Monitor client buffer full, dropping event")
		}
	}
}

// HandleHTTP handles one SSE client connection
func (m *Monitor) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Connection does not support streaming", http.StatusBadRequest)
		return
	}

	clientChan := make(chan monitorEvent, 100)

	m.mu.Lock()
	m.clients[clientChan] = true
	clientCount := len(m.clients)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.clients, clientChan)
		m.mu.Unlock()
		close(clientChan)
	}()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	m.logger.Infof("Monitor client connected from %s (total: %d)", r.RemoteAddr, clientCount)

	for {
		select {
		case <-r.Context().Done():
			m.logger.Infof("Monitor client disconnected: %s", r.RemoteAddr)
			return

		case sse := <-clientChan:
			fmt.Fprintf(w, "event: %s\n", sse.Event)
			fmt.Fprintf(w, "data: %s\n\n", sse.Message)
			flusher.Flush()
		}
	}
}
