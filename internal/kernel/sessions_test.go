package kernel

import (
	"testing"
	"time"

	"github.com/lattice-mcp/kernel/internal/kerneltest"
)

func TestSessionManagerReapsIdlePeers(t *testing.T) {
	m := NewSessionManager()
	clientSide, _ := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	p.setSession(NewSession(time.Now().Add(-time.Hour)))
	m.Add(p)

	if n := m.ReapIdle(time.Now(), 2*time.Hour); n != 0 {
		t.Fatalf("expected no reap within the idle window, got %d", n)
	}
	if n := m.ReapIdle(time.Now(), time.Minute); n != 1 {
		t.Fatalf("expected one reaped peer, got %d", n)
	}
	if m.Count() != 0 {
		t.Fatalf("expected the reaped peer removed, got %d tracked", m.Count())
	}
	if p.State() != StateClosed {
		t.Fatalf("expected the reaped peer closed, got %s", p.State())
	}
}

func TestSessionManagerLeavesUninitializedPeersAlone(t *testing.T) {
	m := NewSessionManager()
	clientSide, _ := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher()) // no session yet
	m.Add(p)

	if n := m.ReapIdle(time.Now(), time.Nanosecond); n != 0 {
		t.Fatalf("expected peers without a session to be spared, got %d", n)
	}
	if m.Count() != 1 {
		t.Fatalf("expected the peer still tracked, got %d", m.Count())
	}
}

func TestSessionManagerRemoveIsIdempotent(t *testing.T) {
	m := NewSessionManager()
	clientSide, _ := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	m.Add(p)
	m.Remove(p)
	m.Remove(p)
	if m.Count() != 0 {
		t.Fatalf("expected empty manager, got %d", m.Count())
	}
}
