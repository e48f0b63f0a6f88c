package scorbot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubTransport feeds the collector canned lines without any device
type stubTransport struct {
	buf lineBuffer
}

func (s *stubTransport) ListEndpoints() ([]string, error) { return []string{"stub"}, nil }
func (s *stubTransport) Connect(string, int) error        { return nil }
func (s *stubTransport) Disconnect() error                { s.buf.Clear(); return nil }
func (s *stubTransport) Send(string) error                { return nil }
func (s *stubTransport) PollLine() (string, bool)         { return s.buf.Pop() }
func (s *stubTransport) Snapshot() []string               { return s.buf.Snapshot() }
func (s *stubTransport) IsConnected() bool                { return true }

// newTestCollector keeps the two-timer policy but at test speed
func newTestCollector(opts ...CollectorOption) *Collector {
	base := []CollectorOption{
		WithOverallTimeout(300 * time.Millisecond),
		WithInterMessageTimeout(80 * time.Millisecond),
		WithPollInterval(5 * time.Millisecond),
		WithGracePeriod(20 * time.Millisecond),
	}
	c := NewCollector(append(base, opts...)...)
	c.logger = zap.NewNop().Sugar()
	return c
}

func TestCollectEarlyMatchTakesTrailingLine(t *testing.T) {
	st := &stubTransport{}
	st.buf.Append("Executing HOME...")
	st.buf.Append("Homing complete(robot)")
	st.buf.Append("OK")

	out := newTestCollector().Collect(st, "HOME")

	if out.Reason != ReasonEarlyMatch {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonEarlyMatch)
	}
	want := []string{"Executing HOME...", "Homing complete(robot)", "OK"}
	if len(out.Lines) != len(want) {
		t.Fatalf("collected %d lines %v, want %d", len(out.Lines), out.Lines, len(want))
	}
	for i, l := range want {
		if out.Lines[i] != l {
			t.Fatalf("line %d is %q, want %q", i, out.Lines[i], l)
		}
	}
	if out.Session == "" {
		t.Fatal("outcome has no session id")
	}
}

func TestCollectEarlyMatchTakesAtMostOneTrailingLine(t *testing.T) {
	st := &stubTransport{}
	st.buf.Append("Homing complete(robot)")
	st.buf.Append("OK")
	st.buf.Append("stray")

	out := newTestCollector().Collect(st, "HOME")

	if out.Reason != ReasonEarlyMatch {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonEarlyMatch)
	}
	if len(out.Lines) != 2 {
		t.Fatalf("collected %d lines %v, want 2", len(out.Lines), out.Lines)
	}
	if line, ok := st.PollLine(); !ok || line != "stray" {
		t.Fatalf("buffer should still hold the stray line, got %q, %v", line, ok)
	}
}

func TestCollectEarlyMatchWithoutTrailingLine(t *testing.T) {
	st := &stubTransport{}
	st.buf.Append("Homing complete(robot)")

	out := newTestCollector().Collect(st, "HOME")

	if out.Reason != ReasonEarlyMatch {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonEarlyMatch)
	}
	if len(out.Lines) != 1 {
		t.Fatalf("collected %d lines %v, want 1", len(out.Lines), out.Lines)
	}
}

func TestCollectEndsOnInterMessageSilence(t *testing.T) {
	st := &stubTransport{}
	st.buf.Append("OK")

	start := time.Now()
	out := newTestCollector().Collect(st, "SPEED 50")
	elapsed := time.Since(start)

	if out.Reason != ReasonInterMessageTimeout {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonInterMessageTimeout)
	}
	if len(out.Lines) != 1 || out.Lines[0] != "OK" {
		t.Fatalf("collected lines %v, want [OK]", out.Lines)
	}
	if elapsed < 80*time.Millisecond {
		t.Fatalf("ended after %s, before the inter-message window", elapsed)
	}
	if elapsed >= 300*time.Millisecond {
		t.Fatalf("ended after %s, the overall ceiling should not have been reached", elapsed)
	}
}

func TestCollectEmptyWaitsFullOverallTimeout(t *testing.T) {
	st := &stubTransport{}

	start := time.Now()
	out := newTestCollector().Collect(st, "HOME")
	elapsed := time.Since(start)

	if out.Reason != ReasonEmpty {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonEmpty)
	}
	if !out.Empty() {
		t.Fatalf("collected lines %v, want none", out.Lines)
	}
	// Silence alone must never end a session before the overall ceiling
	if elapsed < 300*time.Millisecond {
		t.Fatalf("gave up after %s, want the full overall timeout", elapsed)
	}
}

func TestCollectOverallCeilingDuringSteadyTraffic(t *testing.T) {
	st := &stubTransport{}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				st.buf.Append(fmt.Sprintf("chatter %d", i))
			}
		}
	}()

	// Wide inter-message window so only the overall ceiling can end this
	c := newTestCollector(WithInterMessageTimeout(150 * time.Millisecond))

	start := time.Now()
	out := c.Collect(st, "RUN PROG1")
	elapsed := time.Since(start)

	if out.Reason != ReasonOverallTimeout {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonOverallTimeout)
	}
	if out.Empty() {
		t.Fatal("collected no lines from steady traffic")
	}
	if elapsed < 300*time.Millisecond {
		t.Fatalf("ended after %s, before the overall ceiling", elapsed)
	}
}

func TestCollectCustomMatcher(t *testing.T) {
	st := &stubTransport{}
	st.buf.Append("Running program...")
	st.buf.Append("Program complete.")
	st.buf.Append("OK")

	c := newTestCollector(WithMatcher("RUN", func(line string) bool {
		return strings.Contains(line, "Program complete.")
	}))
	out := c.Collect(st, "run prog1")

	if out.Reason != ReasonEarlyMatch {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonEarlyMatch)
	}
	if len(out.Lines) != 3 {
		t.Fatalf("collected %d lines %v, want 3", len(out.Lines), out.Lines)
	}
}

func TestCollectMatcherKeywordIsCaseInsensitive(t *testing.T) {
	st := &stubTransport{}
	st.buf.Append("Homing complete(robot)")

	out := newTestCollector().Collect(st, "home")

	if out.Reason != ReasonEarlyMatch {
		t.Fatalf("reason is %s, want %s", out.Reason, ReasonEarlyMatch)
	}
}

func TestOutcomeText(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{
			name:    "empty",
			outcome: Outcome{Command: "HOME", Reason: ReasonEmpty},
			want:    "[System Note: Sent 'HOME', but received no response within timeout.]",
		},
		{
			name:    "early match",
			outcome: Outcome{Command: "HOME", Reason: ReasonEarlyMatch, Lines: []string{"Homing complete(robot)", "OK"}},
			want:    "[SERIAL_RX for 'HOME']: Homing complete(robot)\nOK",
		},
		{
			name:    "inter-message",
			outcome: Outcome{Command: "SPEED 50", Reason: ReasonInterMessageTimeout, Lines: []string{"OK"}},
			want:    "[SERIAL_RX for 'SPEED 50']: OK\n[System Note: Stopped waiting for further lines due to inter-message timeout.]",
		},
		{
			name:    "overall",
			outcome: Outcome{Command: "RUN P", Reason: ReasonOverallTimeout, Lines: []string{"a", "b"}},
			want:    "[SERIAL_RX for 'RUN P']: a\nb\n[System Note: Overall response timeout reached during reception.]",
		},
	}

	for _, tc := range tests {
		if got := tc.outcome.Text(); got != tc.want {
			t.Errorf("%s: Text() = %q, want %q", tc.name, got, tc.want)
		}
	}
}
