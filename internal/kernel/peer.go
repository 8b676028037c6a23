// Package kernel implements the session kernel: the inbound reader loop,
// the request/response correlator, peer lifecycle, and the initialization
// handshake shared by client and server roles. It is
// transport-agnostic and registry-agnostic; registries and the policy
// interceptor are wired in through the Dispatcher.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lattice-mcp/kernel/internal/obs"
	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/transport"
)

// State is the peer lifecycle state. No re-opening a peer: callers build a new one.
type State int32

const (
	StateNew State = iota
	StateInitializing
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RequestHandler processes one inbound request and returns either a result
// value (to be marshaled) or a *protocol.Error. It must not block on
// anything beyond the work the request itself requires; the inbound reader
// never waits on it.
type RequestHandler func(ctx context.Context, p *Peer, id protocol.ID, params json.RawMessage) (any, *protocol.Error)

// NotificationHandler processes one inbound notification.
type NotificationHandler func(ctx context.Context, p *Peer, params json.RawMessage)

// Dispatcher routes inbound requests and notifications by method name.
type Dispatcher struct {
	mu            sync.RWMutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
	}
}

// HandleRequest registers h for method.
func (d *Dispatcher) HandleRequest(method string, h RequestHandler) {
	d.mu.Lock()
	d.requests[method] = h
	d.mu.Unlock()
}

// HandleNotification registers h for method.
func (d *Dispatcher) HandleNotification(method string, h NotificationHandler) {
	d.mu.Lock()
	d.notifications[method] = h
	d.mu.Unlock()
}

func (d *Dispatcher) request(method string) (RequestHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.requests[method]
	return h, ok
}

func (d *Dispatcher) notification(method string) (NotificationHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.notifications[method]
	return h, ok
}

// Peer is one endpoint of a session. It owns a transport, a
// monotonic request counter, the pending-request table, and a single
// lifecycle state. Role-specific behavior (client vs. server) is supplied
// through the Dispatcher and the initialize handshake functions.
type Peer struct {
	transport  transport.Transport
	dispatcher *Dispatcher
	nextID     atomic.Int64

	state atomic.Int32

	corr *correlator

	sessionMu sync.RWMutex
	session   *Session

	workers chan struct{} // bounded semaphore gating concurrent request dispatch

	tracingEnabled bool

	closeOnce sync.Once
	doneOnce  sync.Once
	doneCh    chan struct{}
}

// Option configures a new Peer.
type Option func(*Peer)

// WithTracing starts one OpenTelemetry span per dispatched request
// (internal/obs.StartRequestSpan).
func WithTracing() Option {
	return func(p *Peer) { p.tracingEnabled = true }
}

// WithMaxConcurrentRequests bounds how many inbound requests are dispatched
// concurrently. Zero means unbounded.
func WithMaxConcurrentRequests(n int) Option {
	return func(p *Peer) {
		if n > 0 {
			p.workers = make(chan struct{}, n)
		}
	}
}

// NewPeer constructs a Peer in state New, owning t and dispatching inbound
// requests/notifications through d.
func NewPeer(t transport.Transport, d *Dispatcher, opts ...Option) *Peer {
	p := &Peer{
		transport:  t,
		dispatcher: d,
		corr:       newCorrelator(),
		doneCh:     make(chan struct{}),
	}
	p.state.Store(int32(StateNew))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the current lifecycle state.
func (p *Peer) State() State {
	return State(p.state.Load())
}

func (p *Peer) setState(s State) {
	p.state.Store(int32(s))
}

// Session returns the session record, or nil before initialize completes.
func (p *Peer) Session() *Session {
	p.sessionMu.RLock()
	defer p.sessionMu.RUnlock()
	return p.session
}

func (p *Peer) setSession(s *Session) {
	p.sessionMu.Lock()
	p.session = s
	p.sessionMu.Unlock()
}

// Done is closed once the peer's inbound loop has exited and the pending
// table has been drained.
func (p *Peer) Done() <-chan struct{} {
	return p.doneCh
}

// Run starts the inbound reader loop and blocks until the transport ends,
// ctx is cancelled, or Close is called elsewhere. It is the peer's single
// reader task; request dispatch runs on independent goroutines so the loop
// itself never blocks on provider work.
func (p *Peer) Run(ctx context.Context) error {
	p.setState(StateInitializing)
	defer p.shutdown()

	for {
		raw, err := p.transport.Receive(ctx)
		if err != nil {
			if err == transport.ErrEndOfStream {
				return nil
			}
			return fmt.Errorf("transport receive: %w", err)
		}
		p.handleInbound(ctx, raw)
	}
}

// handleInbound classifies one raw message and routes it.
// It never blocks on provider work: request dispatch and notification
// dispatch both run in their own goroutine (optionally gated by the worker
// semaphore), so the next Receive proceeds immediately.
func (p *Peer) handleInbound(ctx context.Context, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.replyParseError(ctx, err)
		return
	}

	switch env.Classify() {
	case protocol.KindResponse:
		if !p.corr.deliver(env.ID, env.Result, errorFromEnvelope(env.Error)) {
			log.Printf("kernel: response for unknown id %s discarded", env.ID.String())
		}
	case protocol.KindRequest:
		p.dispatchRequest(ctx, env)
	case protocol.KindNotification:
		p.dispatchNotification(ctx, env)
	default:
		p.replyInvalidRequest(ctx, env.ID, "malformed JSON-RPC envelope")
	}
}

func errorFromEnvelope(e *protocol.Error) error {
	if e == nil {
		return nil
	}
	return e
}

func (p *Peer) dispatchRequest(ctx context.Context, env protocol.Envelope) {
	run := func() {
		if p.workers != nil {
			p.workers <- struct{}{}
			defer func() { <-p.workers }()
		}

		if p.State() != StateReady && env.Method != protocol.MethodInitialize {
			p.sendError(ctx, env.ID, protocol.NewError(protocol.CodeInvalidRequest, "not initialized", nil))
			return
		}

		if sess := p.Session(); sess != nil {
			sess.Touch(time.Now())
		}

		handler, ok := p.dispatcher.request(env.Method)
		if !ok {
			p.sendError(ctx, env.ID, protocol.ErrMethodNotFound(env.Method))
			return
		}

		spanCtx := ctx
		var span trace.Span
		if p.tracingEnabled {
			spanCtx, span = obs.StartRequestSpan(ctx, env.Method)
		}

		result, rpcErr := handler(spanCtx, p, env.ID, env.Params)
		if span != nil {
			var spanErr error
			if rpcErr != nil {
				spanErr = rpcErr
			}
			obs.EndSpan(span, spanErr)
		}

		if rpcErr != nil {
			p.sendError(ctx, env.ID, rpcErr)
			if rpcErr.Code == protocol.CodeProtocolVersionMismatch {
				// No common protocol version leaves the session unusable:
				// respond error, then close.
				_ = p.Close()
			}
			return
		}
		p.sendResult(ctx, env.ID, result)
	}
	go run()
}

func (p *Peer) dispatchNotification(ctx context.Context, env protocol.Envelope) {
	handler, ok := p.dispatcher.notification(env.Method)
	if !ok {
		log.Printf("kernel: debug: unhandled notification %s", env.Method)
		return
	}
	go handler(ctx, p, env.Params)
}

func (p *Peer) sendResult(ctx context.Context, id protocol.ID, result any) {
	msg, err := protocol.EncodeResult(id, result)
	if err != nil {
		log.Printf("kernel: encode result for %s: %v", id.String(), err)
		return
	}
	if err := p.transport.Send(ctx, msg); err != nil {
		log.Printf("kernel: send result for %s: %v", id.String(), err)
	}
}

func (p *Peer) sendError(ctx context.Context, id protocol.ID, rpcErr *protocol.Error) {
	msg, err := protocol.EncodeError(id, rpcErr)
	if err != nil {
		log.Printf("kernel: encode error for %s: %v", id.String(), err)
		return
	}
	if err := p.transport.Send(ctx, msg); err != nil {
		log.Printf("kernel: send error for %s: %v", id.String(), err)
	}
}

func (p *Peer) replyParseError(ctx context.Context, cause error) {
	msg, err := protocol.EncodeError(protocol.ID(nil), protocol.ErrParseError(cause.Error()))
	if err != nil {
		return
	}
	_ = p.transport.Send(ctx, msg)
}

func (p *Peer) replyInvalidRequest(ctx context.Context, id protocol.ID, reason string) {
	if id.IsZero() {
		return
	}
	p.sendError(ctx, id, protocol.ErrInvalidRequest(reason))
}

// SendRequest allocates the next monotonic id, registers a pending awaiter,
// serializes and sends the request, and blocks until a matching response
// arrives, the peer closes, or ctx is done. On send failure the pending slot is removed and the
// transport error is returned wrapped as transport.ErrClosed.
func (p *Peer) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := protocol.ID(fmt.Appendf(nil, "%d", p.nextID.Add(1)))
	a := p.corr.register(id)

	msg, err := protocol.Request{ID: id, Method: method, Params: params}.Encode()
	if err != nil {
		p.corr.remove(id)
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if err := p.transport.Send(ctx, msg); err != nil {
		p.corr.remove(id)
		return nil, fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}

	select {
	case r := <-a.ch:
		return r.raw, r.err
	case <-ctx.Done():
		p.corr.remove(id)
		return nil, ctx.Err()
	case <-p.doneCh:
		// A response may have raced the close drain; give it one more
		// chance before reporting ConnectionClosed.
		select {
		case r := <-a.ch:
			return r.raw, r.err
		default:
			return nil, protocol.ErrConnectionClosed
		}
	}
}

// SendNotification fire-and-forgets a notification. Send failure is logged
// unless the transport is already closed, in which case ConnectionClosed is
// returned.
func (p *Peer) SendNotification(ctx context.Context, method string, params any) error {
	msg, err := protocol.Notification{Method: method, Params: params}.Encode()
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.transport.Send(ctx, msg); err != nil {
		if p.transport.IsClosed() {
			return protocol.ErrConnectionClosed
		}
		log.Printf("kernel: notification %s send failed: %v", method, err)
	}
	return nil
}

// Ping sends a liveness ping and waits for the (empty) result.
func (p *Peer) Ping(ctx context.Context) error {
	_, err := p.SendRequest(ctx, protocol.MethodPing, nil)
	return err
}

// Close transitions the peer to Closing then Closed, closes the transport,
// and drains the pending table with ConnectionClosed. Idempotent.
func (p *Peer) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.setState(StateClosing)
		closeErr = p.transport.Close()
		p.shutdown()
	})
	return closeErr
}

func (p *Peer) shutdown() {
	p.setState(StateClosed)
	p.corr.drain(protocol.ErrConnectionClosed)
	p.doneOnce.Do(func() { close(p.doneCh) })
}

// SendRequestTimeout is SendRequest racing a per-call deadline: on expiry it
// removes the pending entry and returns ErrTimeout. timeout <= 0 means no additional deadline beyond ctx's own.
func (p *Peer) SendRequestTimeout(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	raw, err := p.SendRequest(callCtx, method, params)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, protocol.ErrTimeout
	}
	return raw, err
}
