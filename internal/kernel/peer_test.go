package kernel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lattice-mcp/kernel/internal/kerneltest"
	"github.com/lattice-mcp/kernel/internal/protocol"
)

func newClientPeer(t *testing.T) (*Peer, *kerneltest.ScriptedPeer) {
	t.Helper()
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	return p, kerneltest.NewScriptedPeer(serverSide, kerneltest.Script{})
}

// TestConcurrentOutOfOrderResponses: a slow
// call issued before a fast one resolves after it, and awaiters receive
// exactly their own response regardless of arrival order.
func TestConcurrentOutOfOrderResponses(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	go p.Run(context.Background())
	defer p.Close()

	script := kerneltest.Script{
		Delays: map[string]time.Duration{
			"slow": 80 * time.Millisecond,
			"fast": 5 * time.Millisecond,
		},
	}
	fake := kerneltest.NewScriptedPeer(serverSide, script)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fake.Run(ctx)

	type done struct {
		name string
		at   time.Time
	}
	order := make(chan done, 2)

	go func() {
		_, err := p.SendRequest(context.Background(), "slow", nil)
		if err != nil {
			t.Errorf("slow request: %v", err)
		}
		order <- done{"slow", time.Now()}
	}()
	go func() {
		time.Sleep(10 * time.Millisecond) // ensure slow is issued first
		_, err := p.SendRequest(context.Background(), "fast", nil)
		if err != nil {
			t.Errorf("fast request: %v", err)
		}
		order <- done{"fast", time.Now()}
	}()

	first := <-order
	second := <-order
	if first.name != "fast" || second.name != "slow" {
		t.Fatalf("expected fast to resolve before slow, got %s then %s", first.name, second.name)
	}
}

// TestUnknownResponseIDDiscarded: a response
// id matching no pending entry is discarded without mutating state.
func TestUnknownResponseIDDiscarded(t *testing.T) {
	p, _ := newClientPeer(t)
	// deliver directly bypasses the transport to simulate a stray response.
	delivered := p.corr.deliver(protocol.ID(`12345`), nil, nil)
	if delivered {
		t.Fatal("expected no pending entry for an unknown id")
	}
	if p.corr.len() != 0 {
		t.Fatalf("expected empty pending table, got %d", p.corr.len())
	}
}

// TestCloseDrainsAllPendingAwaiters: closing
// a peer resolves every in-flight request with ConnectionClosed.
func TestCloseDrainsAllPendingAwaiters(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	_ = serverSide // never answers; requests stay pending until close

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := p.SendRequest(context.Background(), "never-answered", nil)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond) // let all three register pending entries
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if err != protocol.ErrConnectionClosed {
				t.Fatalf("expected ErrConnectionClosed, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for drained awaiter")
		}
	}
}

// TestSendRequestTimeout: a per-call deadline removes the
// pending entry and surfaces ErrTimeout.
func TestSendRequestTimeout(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	_ = serverSide

	_, err := p.SendRequestTimeout(context.Background(), "slow", nil, 10*time.Millisecond)
	if err != protocol.ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if p.corr.len() != 0 {
		t.Fatalf("expected pending entry removed after timeout, got %d", p.corr.len())
	}
}

// TestRequestIDsMonotonic: outbound ids strictly increase for the life of
// the peer and are never reused.
func TestRequestIDsMonotonic(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	go p.Run(context.Background())
	defer p.Close()
	fake := kerneltest.NewScriptedPeer(serverSide, kerneltest.Script{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fake.Run(ctx)

	var last int64
	for i := 0; i < 5; i++ {
		_, err := p.SendRequest(context.Background(), "noop", nil)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		cur := p.nextID.Load()
		if cur <= last {
			t.Fatalf("expected strictly increasing id, got %d after %d", cur, last)
		}
		last = cur
	}
}

// TestStrayResponseIDDoesNotDisturbRealRequest: a response with an
// unknown id arriving ahead of the real one is discarded and the pending
// request still resolves.
func TestStrayResponseIDDoesNotDisturbRealRequest(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	go p.Run(context.Background())
	defer p.Close()
	fake := kerneltest.NewScriptedPeer(serverSide, kerneltest.Script{MismatchedIDFirst: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fake.Run(ctx)

	if _, err := p.SendRequestTimeout(context.Background(), "noop", nil, time.Second); err != nil {
		t.Fatalf("expected the real response to resolve, got %v", err)
	}
	if p.corr.len() != 0 {
		t.Fatalf("expected an empty pending table, got %d", p.corr.len())
	}
}

// TestNotificationInterleavingDoesNotBlockResponses: a notification sent
// between a request and its response is dispatched without delaying the
// awaiter.
func TestNotificationInterleavingDoesNotBlockResponses(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	d := NewDispatcher()
	notified := make(chan struct{}, 1)
	d.HandleNotification("notifications/message", func(ctx context.Context, p *Peer, params json.RawMessage) {
		notified <- struct{}{}
	})
	p := NewPeer(clientSide, d)
	go p.Run(context.Background())
	defer p.Close()

	fake := kerneltest.NewScriptedPeer(serverSide, kerneltest.Script{NotifyBeforeResponse: "notifications/message"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fake.Run(ctx)

	if _, err := p.SendRequestTimeout(context.Background(), "noop", nil, time.Second); err != nil {
		t.Fatalf("request: %v", err)
	}
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("interleaved notification never reached its handler")
	}
}

// TestForcedErrorResponseSurfacesAsProtocolError: a JSON-RPC error response
// resolves the awaiter with the typed error, not a result.
func TestForcedErrorResponseSurfacesAsProtocolError(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	go p.Run(context.Background())
	defer p.Close()
	fake := kerneltest.NewScriptedPeer(serverSide, kerneltest.Script{
		Errors: map[string]*protocol.Error{"boom": protocol.ErrInternalError("forced")},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fake.Run(ctx)

	_, err := p.SendRequestTimeout(context.Background(), "boom", nil, time.Second)
	rpcErr, ok := err.(*protocol.Error)
	if !ok || rpcErr.Code != protocol.CodeInternalError {
		t.Fatalf("expected InternalError, got %v", err)
	}
}

// TestMalformedFrameDoesNotKillPeer: a peer that receives garbage instead
// of a response keeps running; the abandoned request times out cleanly.
func TestMalformedFrameDoesNotKillPeer(t *testing.T) {
	clientSide, serverSide := kerneltest.Pipe()
	p := NewPeer(clientSide, NewDispatcher())
	go p.Run(context.Background())
	defer p.Close()

	fake := kerneltest.NewScriptedPeer(serverSide, kerneltest.Script{Malformed: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fake.Run(ctx)

	_, err := p.SendRequestTimeout(context.Background(), "noop", nil, 50*time.Millisecond)
	if err != protocol.ErrTimeout {
		t.Fatalf("expected the request to time out, got %v", err)
	}
	if p.State() == StateClosed {
		t.Fatal("a malformed frame must not close the peer")
	}
}

// TestDispatchRejectsRequestsBeforeReady: only initialize is accepted
// before Ready; even ping is rejected.
func TestDispatchRejectsRequestsBeforeReady(t *testing.T) {
	serverSide, clientSide := kerneltest.Pipe()
	d := NewDispatcher()
	d.HandleRequest(protocol.MethodPing, PingHandler())
	d.HandleRequest(protocol.MethodInitialize, ServerHandshakeHandler(
		protocol.Implementation{Name: "srv", Version: "1"},
		protocol.Capabilities{},
		"",
	))
	server := NewPeer(serverSide, d)
	go server.Run(context.Background())
	defer server.Close()

	client := NewPeer(clientSide, NewDispatcher())
	go client.Run(context.Background())
	defer client.Close()

	_, err := client.SendRequest(context.Background(), protocol.MethodPing, nil)
	if err == nil {
		t.Fatal("expected ping to be rejected before initialize completes")
	}
	rpcErr, ok := err.(*protocol.Error)
	if !ok || rpcErr.Code != protocol.CodeInvalidRequest {
		t.Fatalf("expected InvalidRequest error, got %v", err)
	}
}
