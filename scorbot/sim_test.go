package scorbot

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestSim returns a connected zero-delay simulator
func newTestSim(t *testing.T) *Sim {
	t.Helper()
	s := NewSim(WithSimDelayUnit(0))
	s.attach(zap.NewNop().Sugar(), func(Event) {})
	if err := s.Connect("SIM_PORT_A", 9600); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}
	return s
}

// takeLines polls until want lines arrived or the deadline passes
func takeLines(t *testing.T, tr Transport, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var lines []string
	for time.Now().Before(deadline) {
		line, ok := tr.PollLine()
		if ok {
			lines = append(lines, line)
			if len(lines) == want {
				return lines
			}
			continue
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("received %d line(s) %v, want %d", len(lines), lines, want)
	return nil
}

func TestSimListEndpoints(t *testing.T) {
	s := NewSim(WithSimDelayUnit(0))
	s.attach(zap.NewNop().Sugar(), func(Event) {})

	endpoints, err := s.ListEndpoints()
	if err != nil {
		t.Fatalf("ListEndpoints failed: %s", err)
	}
	want := []string{"SIM_PORT_A", "/dev/tty.mockusb"}
	if len(endpoints) != len(want) {
		t.Fatalf("got %d endpoints %v, want %d", len(endpoints), endpoints, len(want))
	}
	for i, e := range want {
		if endpoints[i] != e {
			t.Fatalf("endpoint %d is %q, want %q", i, endpoints[i], e)
		}
	}
}

func TestSimConnectBanner(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()

	lines := takeLines(t, s, 2)
	if lines[0] != "Scorbot Simulator Ready." || lines[1] != "OK" {
		t.Fatalf("banner is %v", lines)
	}
	if !s.IsConnected() {
		t.Fatal("IsConnected is false after Connect")
	}
}

func TestSimSendBeforeConnect(t *testing.T) {
	s := NewSim(WithSimDelayUnit(0))
	s.attach(zap.NewNop().Sugar(), func(Event) {})

	err := s.Send("HOME")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before Connect returned %v, want ErrNotConnected", err)
	}
}

func TestSimSendRejectsNonASCII(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()
	takeLines(t, s, 2)

	err := s.Send("MÖVED P1")
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Send returned %v, want a WriteError", err)
	}
}

func TestSimHomeScript(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()
	takeLines(t, s, 2) // banner

	if err := s.Send("HOME"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	want := []string{
		"Executing HOME...",
		"Axis 1 homed.",
		"Axis 2 homed.",
		"Axis 3 homed.",
		"Axis 4 homed.",
		"Axis 5 homed.",
		"Homing complete(robot)",
		"OK",
	}
	lines := takeLines(t, s, len(want))
	for i, l := range want {
		if lines[i] != l {
			t.Fatalf("line %d is %q, want %q", i, lines[i], l)
		}
	}
}

func TestSimListpvPositionReflectsState(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()
	takeLines(t, s, 2) // banner

	if err := s.Send("LISTPV POSITION"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	want := []string{
		"Position POSITION :",
		"Axis 1 = 12345 counts",
		"Axis 2 = -5678 counts",
		"Axis 3 = 9012 counts",
		"Axis 4 = 3456 counts",
		"Axis 5 = -7890 counts",
		"OK",
	}
	lines := takeLines(t, s, len(want))
	for i, l := range want {
		if lines[i] != l {
			t.Fatalf("line %d is %q, want %q", i, lines[i], l)
		}
	}
}

func TestSimListpvNamedPosition(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()
	takeLines(t, s, 2) // banner

	if err := s.Send("LISTPV P1"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	lines := takeLines(t, s, 7)
	if lines[0] != "Position P1 :" {
		t.Fatalf("header is %q", lines[0])
	}
	if lines[3] != "Axis 3 = 3000 counts" {
		t.Fatalf("line 3 is %q, want %q", lines[3], "Axis 3 = 3000 counts")
	}
	if lines[6] != "OK" {
		t.Fatalf("trailer is %q, want OK", lines[6])
	}
}

func TestSimMovesAreAdditive(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()
	takeLines(t, s, 2) // banner

	for i := 0; i < 2; i++ {
		if err := s.Send("MOVED P1"); err != nil {
			t.Fatalf("Send failed: %s", err)
		}
		lines := takeLines(t, s, 3)
		if lines[0] != "Executing move..." || lines[1] != "Move complete." || lines[2] != "OK" {
			t.Fatalf("move script is %v", lines)
		}
	}

	want := [5]int{12545, -5878, 9112, 3506, -7910}
	if got := s.JointState(); got != want {
		t.Fatalf("joint state is %v, want %v", got, want)
	}

	// The next position readback reports the moved state
	if err := s.Send("LISTPV POSITION"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}
	lines := takeLines(t, s, 7)
	if lines[1] != "Axis 1 = 12545 counts" {
		t.Fatalf("axis 1 line is %q, want %q", lines[1], "Axis 1 = 12545 counts")
	}
}

func TestSimSetpvPrompts(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()
	takeLines(t, s, 2) // banner

	if err := s.Send("SETPV P2"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	lines := takeLines(t, s, 6)
	for i := 0; i < 5; i++ {
		want := fmt.Sprintf("Enter Axis %d value:", i+1)
		if lines[i] != want {
			t.Fatalf("prompt %d is %q, want %q", i, lines[i], want)
		}
	}
	if lines[5] != "OK" {
		t.Fatalf("trailer is %q, want OK", lines[5])
	}
}

func TestSimUnknownCommand(t *testing.T) {
	s := newTestSim(t)
	defer s.Disconnect()
	takeLines(t, s, 2) // banner

	if err := s.Send("FROBNICATE"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	lines := takeLines(t, s, 1)
	if lines[0] != "ERROR: Unknown command" {
		t.Fatalf("reply is %q", lines[0])
	}

	// No trailing OK for unknown commands
	time.Sleep(20 * time.Millisecond)
	if line, ok := s.PollLine(); ok {
		t.Fatalf("unexpected extra line %q", line)
	}
}

func TestSimDisconnectClearsBuffer(t *testing.T) {
	s := newTestSim(t)
	takeLines(t, s, 2) // banner
	if err := s.Send("STATUS"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}
	takeLines(t, s, 1)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %s", err)
	}

	if s.IsConnected() {
		t.Fatal("IsConnected is true after Disconnect")
	}
	if lines := s.Snapshot(); len(lines) != 0 {
		t.Fatalf("buffer still holds %v after Disconnect", lines)
	}
}

func TestSimStatePersistsAcrossConnections(t *testing.T) {
	s := newTestSim(t)
	takeLines(t, s, 2) // banner

	if err := s.Send("MOVED P1"); err != nil {
		t.Fatalf("Send failed: %s", err)
	}
	takeLines(t, s, 3)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %s", err)
	}
	if err := s.Connect("SIM_PORT_A", 9600); err != nil {
		t.Fatalf("reconnect failed: %s", err)
	}
	defer s.Disconnect()

	want := [5]int{12445, -5778, 9062, 3481, -7900}
	if got := s.JointState(); got != want {
		t.Fatalf("joint state after reconnect is %v, want %v", got, want)
	}
}
