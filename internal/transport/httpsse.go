package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HTTPSSEClientConfig configures the client side of the HTTP+SSE
// transport: outbound messages are POSTed as application/json, inbound
// arrives over a long-lived GET serving text/event-stream.
type HTTPSSEClientConfig struct {
	BaseURL             string
	Headers             map[string]string
	BearerTokenProvider func(context.Context) (string, error)
	Client              *http.Client

	// ProtocolVersions, newest first, are advertised one at a time in the
	// MCP-Protocol-Version header. A 400 naming an unsupported version
	// makes Send fall back to the next entry and retry. Empty: no header.
	ProtocolVersions []string
}

// HTTPSSEClient is the client half of the HTTP+SSE transport.
type HTTPSSEClient struct {
	cfg       HTTPSSEClientConfig
	rpcClient *http.Client
	sseClient *http.Client
	tcfg      Config

	sessionID string

	msgCh  chan []byte
	errCh  chan error
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	verIdx int
}

// DialHTTPSSE connects to an MCP server exposing a Streamable HTTP+SSE
// endpoint: it opens the long-lived SSE GET immediately so inbound
// responses and notifications have somewhere to land before the first
// request is sent.
func DialHTTPSSE(ctx context.Context, cfg HTTPSSEClientConfig, tcfg Config) (*HTTPSSEClient, error) {
	rpcClient := cfg.Client
	if rpcClient == nil {
		rpcClient = http.DefaultClient
	}
	sseClient := &http.Client{Transport: rpcClient.Transport}

	sseCtx, cancel := context.WithCancel(context.Background())
	t := &HTTPSSEClient{
		cfg:       cfg,
		rpcClient: rpcClient,
		sseClient: sseClient,
		tcfg:      tcfg.WithDefaults(),
		sessionID: uuid.NewString(),
		msgCh:     make(chan []byte, 64),
		errCh:     make(chan error, 1),
		cancel:    cancel,
	}
	go t.readSSE(sseCtx)
	return t, nil
}

func (t *HTTPSSEClient) readSSE(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/sse", nil)
	if err != nil {
		t.errCh <- fmt.Errorf("build sse request: %w", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", t.sessionID)
	t.applyHeaders(ctx, req)

	resp, err := t.sseClient.Do(req)
	if err != nil {
		t.errCh <- fmt.Errorf("open sse stream: %w", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.errCh <- fmt.Errorf("sse stream status %s", resp.Status)
		return
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimSpace(line)
			if data, ok := bytes.CutPrefix(trimmed, []byte("data:")); ok {
				msg := bytes.TrimSpace(data)
				if len(msg) > 0 {
					select {
					case t.msgCh <- append([]byte(nil), msg...):
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case t.errCh <- fmt.Errorf("sse read: %w", err):
				default:
				}
			} else {
				select {
				case t.errCh <- ErrEndOfStream:
				default:
				}
			}
			return
		}
	}
}

func (t *HTTPSSEClient) applyHeaders(ctx context.Context, req *http.Request) {
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if t.cfg.BearerTokenProvider != nil {
		if tok, err := t.cfg.BearerTokenProvider(ctx); err == nil && tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
}

// Send POSTs msg as application/json to the server's base URL. A 400
// rejecting the advertised MCP-Protocol-Version retries with the next
// configured version before giving up.
func (t *HTTPSSEClient) Send(ctx context.Context, msg []byte) error {
	if t.IsClosed() {
		return ErrClosed
	}
	if len(msg) > t.tcfg.MaxMessageBytes {
		return ErrTooLarge
	}

	for {
		retry, err := t.post(ctx, msg)
		if !retry {
			return err
		}
	}
}

func (t *HTTPSSEClient) post(ctx context.Context, msg []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL, bytes.NewReader(msg))
	if err != nil {
		return false, fmt.Errorf("build post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Mcp-Session-Id", t.sessionID)
	if v := t.protocolVersion(); v != "" {
		req.Header.Set("MCP-Protocol-Version", v)
	}
	t.applyHeaders(ctx, req)

	resp, err := t.rpcClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		detail := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(detail), "protocol version") && t.fallbackVersion() {
			return true, nil
		}
		return false, fmt.Errorf("post message: status %s: %s", resp.Status, detail)
	}

	// Streamable HTTP allows an immediate JSON body in the POST response
	// instead of routing through SSE; forward it as a received message.
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.tcfg.MaxMessageBytes)+1))
		if err == nil && len(bytes.TrimSpace(body)) > 0 {
			select {
			case t.msgCh <- body:
			case <-ctx.Done():
			}
		}
	}
	return false, nil
}

// protocolVersion returns the currently advertised version, or "" when the
// config carries none.
func (t *HTTPSSEClient) protocolVersion() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.verIdx >= len(t.cfg.ProtocolVersions) {
		return ""
	}
	return t.cfg.ProtocolVersions[t.verIdx]
}

// fallbackVersion advances to the next configured protocol version,
// reporting false once the list is exhausted.
func (t *HTTPSSEClient) fallbackVersion() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.verIdx+1 >= len(t.cfg.ProtocolVersions) {
		return false
	}
	t.verIdx++
	return true
}

// Receive returns the next message delivered over the SSE stream (or an
// immediate POST response body).
func (t *HTTPSSEClient) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-t.msgCh:
		return msg, nil
	case err := <-t.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the SSE reader and marks the transport closed.
func (t *HTTPSSEClient) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}

// IsClosed reports whether Close has run.
func (t *HTTPSSEClient) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// HTTPSSEServer is the server-side half of one client's HTTP+SSE session:
// inbound POST bodies land on in, outbound messages are streamed to the
// client's long-lived SSE GET.
type HTTPSSEServer struct {
	sessionID string
	in        chan []byte
	out       chan []byte
	tcfg      Config

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newHTTPSSEServer(sessionID string, tcfg Config) *HTTPSSEServer {
	return &HTTPSSEServer{
		sessionID: sessionID,
		in:        make(chan []byte, 64),
		out:       make(chan []byte, 64),
		tcfg:      tcfg.WithDefaults(),
		done:      make(chan struct{}),
	}
}

// Send enqueues msg for delivery over the SSE stream.
func (t *HTTPSSEServer) Send(ctx context.Context, msg []byte) error {
	if t.IsClosed() {
		return ErrClosed
	}
	if len(msg) > t.tcfg.MaxMessageBytes {
		return ErrTooLarge
	}
	select {
	case t.out <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next POSTed message.
func (t *HTTPSSEServer) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-t.in:
		if !ok {
			return nil, ErrEndOfStream
		}
		return msg, nil
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the session.
func (t *HTTPSSEServer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// IsClosed reports whether Close has run.
func (t *HTTPSSEServer) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// HTTPSSEListener implements ServerTransport by exposing two HTTP routes: a
// GET for the SSE stream (session creation) and a POST for inbound
// messages, matched to a session via the Mcp-Session-Id header.
type HTTPSSEListener struct {
	tcfg Config

	mu       sync.Mutex
	sessions map[string]*HTTPSSEServer
	accepted chan *HTTPSSEServer
	closed   bool
}

// NewHTTPSSEListener creates a listener; register it on a mux with a
// single mux.Handle(prefix, listener). ServeHTTP dispatches on method and
// path suffix, so the /sse route needs no separate registration.
func NewHTTPSSEListener(tcfg Config) *HTTPSSEListener {
	return &HTTPSSEListener{
		tcfg:     tcfg,
		sessions: make(map[string]*HTTPSSEServer),
		accepted: make(chan *HTTPSSEServer, 16),
	}
}

// ServeHTTP routes GET (SSE stream open) and POST (inbound message).
func (l *HTTPSSEListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/sse"):
		l.handleSSE(w, r)
	case r.Method == http.MethodPost:
		l.handlePost(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (l *HTTPSSEListener) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session := newHTTPSSEServer(sessionID, l.tcfg)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	}
	l.sessions[sessionID] = session
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.sessions, sessionID)
		l.mu.Unlock()
		_ = session.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", sessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	select {
	case l.accepted <- session:
	case <-r.Context().Done():
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.done:
			return
		case msg := <-session.out:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (l *HTTPSSEListener) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	l.mu.Lock()
	session, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(l.tcfg.WithDefaults().MaxMessageBytes)+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) > l.tcfg.WithDefaults().MaxMessageBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	select {
	case session.in <- body:
		w.WriteHeader(http.StatusAccepted)
	case <-time.After(5 * time.Second):
		http.Error(w, "session busy", http.StatusServiceUnavailable)
	}
}

// Accept blocks until a client opens the SSE stream.
func (l *HTTPSSEListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case s := <-l.accepted:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the listener closed; in-flight sessions are left to their
// own request contexts to unwind.
func (l *HTTPSSEListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
