package transport

import (
	"context"
	"io"
	"testing"
	"time"
)

// newStdioPair wires two io.Pipe halves into a pair of Stdio transports
// talking to each other, so tests can drive real NDJSON framing in-process.
func newStdioPair(cfg Config) (*Stdio, *Stdio) {
	aOutR, aOutW := io.Pipe() // a's stdout -> b reads
	bOutR, bOutW := io.Pipe() // b's stdout -> a reads

	a := NewStdio(aOutW, bOutR, cfg)
	b := NewStdio(bOutW, aOutR, cfg)
	return a, b
}

func TestStdioSendReceiveRoundTrip(t *testing.T) {
	a, b := newStdioPair(Config{})
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, err := b.Receive(context.Background())
		if err != nil {
			t.Errorf("receive: %v", err)
			return
		}
		if string(msg) != `{"hello":"world"}` {
			t.Errorf("unexpected message: %s", msg)
		}
	}()

	if err := a.Send(context.Background(), []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-done
}

// TestStdioEmptyLinesIgnored: blank NDJSON lines are skipped rather than
// surfaced as a message.
func TestStdioEmptyLinesIgnored(t *testing.T) {
	a, b := newStdioPair(Config{})
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, err := b.Receive(context.Background())
		if err != nil {
			t.Errorf("receive: %v", err)
			return
		}
		if string(msg) != `{"a":1}` {
			t.Errorf("expected the real message past the blank lines, got %s", msg)
		}
	}()

	_ = a.Send(context.Background(), []byte(""))
	if err := a.Send(context.Background(), []byte(`{"a":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-done
}

// TestStdioMaxMessageBytesRejectsOversizedSend: the size cap gates the
// write side too; a message exactly at the cap still goes through and one
// byte larger fails.
func TestStdioMaxMessageBytesRejectsOversizedSend(t *testing.T) {
	a, b := newStdioPair(Config{MaxMessageBytes: 8})
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, err := b.Receive(context.Background())
		if err != nil {
			t.Errorf("receive: %v", err)
			return
		}
		if len(msg) != 8 {
			t.Errorf("expected the 8-byte message, got %d bytes", len(msg))
		}
	}()

	if err := a.Send(context.Background(), []byte(`{"a":12}`)); err != nil {
		t.Fatalf("expected an exactly-at-cap message to succeed, got %v", err)
	}
	<-done

	if err := a.Send(context.Background(), []byte(`{"a":123}`)); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge one byte over the cap, got %v", err)
	}
}

func TestStdioCloseIsIdempotentAndUnblocksReceive(t *testing.T) {
	a, b := newStdioPair(Config{})
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
	if !a.IsClosed() {
		t.Fatal("expected IsClosed true after Close")
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a blocked Receive to unblock with an error after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Receive to unblock after Close")
	}
}
