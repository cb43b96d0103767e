package supervisor

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestStart_SpawnsAndExposesPipes(t *testing.T) {
	s := New(Config{Command: "cat"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if s.Stdin() == nil || s.Stdout() == nil || s.Stderr() == nil {
		t.Fatal("expected all three pipes to be non-nil after Start")
	}
}

func TestStart_Twice_Errors(t *testing.T) {
	s := New(Config{Command: "cat"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("got %v, want ErrAlreadyStarted", err)
	}
}

func TestEchoRoundTrip(t *testing.T) {
	s := New(Config{Command: "cat"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	msg := "hello\n"
	if _, err := s.Stdin().Write([]byte(msg)); err != nil {
		t.Fatalf("write stdin: %v", err)
	}

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(s.Stdout(), buf); err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if string(buf) != msg {
		t.Errorf("got %q, want %q", buf, msg)
	}
}

func TestStop_ClosesStdinAndChildExits(t *testing.T) {
	s := New(Config{
		Command:           "cat",
		StdinCloseTimeout: 50 * time.Millisecond,
		SigintTimeout:     50 * time.Millisecond,
		SigkillTimeout:    50 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	code, err := s.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code: got %d, want 0", code)
	}
}

func TestStop_Idempotent(t *testing.T) {
	s := New(Config{
		Command:        "cat",
		SigkillTimeout: 50 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}

func TestStop_EscalatesToSigkillWhenChildIgnoresStdinClose(t *testing.T) {
	// A shell that traps and ignores SIGINT, and never reads stdin, forces
	// the full close->SIGINT->SIGKILL escalation.
	s := New(Config{
		Command:           "sh",
		Args:              []string{"-c", "trap '' INT; sleep 30"},
		StdinCloseTimeout: 30 * time.Millisecond,
		SigintTimeout:     30 * time.Millisecond,
		SigkillTimeout:    200 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Stop took far longer than the configured escalation timeouts")
	}
}

func TestStartStderrReader_DeliversChunks(t *testing.T) {
	s := New(Config{Command: "sh", Args: []string{"-c", "echo oops 1>&2"}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	received := make(chan string, 1)
	s.StartStderrReader(func(b []byte) {
		select {
		case received <- string(b):
		default:
		}
	})

	select {
	case got := <-received:
		if got != "oops\n" {
			t.Errorf("got %q, want %q", got, "oops\n")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stderr chunk")
	}
}

func TestWait_BeforeStart_Errors(t *testing.T) {
	s := New(Config{Command: "cat"})
	if _, err := s.Wait(); err != ErrNotStarted {
		t.Errorf("got %v, want ErrNotStarted", err)
	}
}
