package scorbot

import "sync"

// maxBufferedLines bounds the receive buffer. When full the oldest line is
// dropped so the newest traffic is always retained.
const maxBufferedLines = 1024

// lineBuffer is the FIFO between the reader worker and consumers. Every
// operation holds the lock, so each line is observed by exactly one Pop and
// snapshots are never torn.
type lineBuffer struct {
	mu    sync.Mutex
	lines []string
}

// Append adds a line at the tail, evicting the oldest line when full.
// Reports whether an eviction happened.
func (b *lineBuffer) Append(line string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if len(b.lines) >= maxBufferedLines {
		b.lines = b.lines[1:]
		evicted = true
	}
	b.lines = append(b.lines, line)
	return evicted
}

// Pop removes and returns the oldest line
func (b *lineBuffer) Pop() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) == 0 {
		return "", false
	}
	line := b.lines[0]
	b.lines = b.lines[1:]
	return line, true
}

// Snapshot returns a copy of the buffered lines without consuming them
func (b *lineBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Clear discards all buffered lines
func (b *lineBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = nil
}

// Len returns the number of buffered lines
func (b *lineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.lines)
}
