package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket implements Transport over a gorilla/websocket connection. Each
// JSON message is one text frame; binary frames are decoded as UTF-8 and
// treated identically. Ping frames are answered with pong
// automatically by the underlying library's default handler, which this
// type augments only to track ping/pong timeouts; pong frames are discarded
// content-wise but reset the read deadline.
type WebSocket struct {
	conn *websocket.Conn
	cfg  Config

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, cfg Config) *WebSocket {
	cfg = cfg.WithDefaults()
	t := &WebSocket{conn: conn, cfg: cfg}

	conn.SetReadLimit(int64(cfg.MaxMessageBytes))
	if cfg.PingTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PingTimeout))
	}
	conn.SetPongHandler(func(string) error {
		if cfg.PingTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.PingTimeout))
		}
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	if cfg.PingInterval > 0 {
		go t.pingLoop(cfg.PingInterval)
	}
	return t
}

func (t *WebSocket) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if t.IsClosed() {
			return
		}
		t.writeMu.Lock()
		err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		t.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// Send writes msg as a single text frame.
func (t *WebSocket) Send(ctx context.Context, msg []byte) error {
	if t.IsClosed() {
		return ErrClosed
	}
	if len(msg) > t.cfg.MaxMessageBytes {
		return ErrTooLarge
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	} else if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Receive reads the next text or binary frame and returns its bytes.
func (t *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	if t.IsClosed() {
		return nil, ErrClosed
	}

	if t.cfg.ReadTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	} else if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}

	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrEndOfStream
		}
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		if t.IsClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
		return t.Receive(ctx)
	}
	return data, nil
}

// Close sends a close frame and tears down the connection.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}

// IsClosed reports whether Close has run.
func (t *WebSocket) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Dial connects to a ws:// or wss:// URL as a client transport.
func Dial(ctx context.Context, url string, header http.Header, cfg Config) (*WebSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return NewWebSocket(conn, cfg), nil
}

// WebSocketListener implements ServerTransport by upgrading incoming HTTP
// connections to WebSocket, handing each one off as a Transport.
type WebSocketListener struct {
	upgrader websocket.Upgrader
	cfg      Config
	accepted chan *WebSocket
	done     chan struct{}
}

// NewWebSocketListener returns a listener whose ServeHTTP method should be
// registered on an *http.ServeMux; each accepted upgrade is delivered to
// Accept.
func NewWebSocketListener(cfg Config) *WebSocketListener {
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		cfg:      cfg,
		accepted: make(chan *WebSocket, 16),
		done:     make(chan struct{}),
	}
}

// ServeHTTP upgrades the connection and enqueues it for Accept.
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l.accepted <- NewWebSocket(conn, l.cfg)
}

// Accept blocks until a client connects or the context is cancelled.
func (l *WebSocketListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-l.accepted:
		return t, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections.
func (l *WebSocketListener) Close() error {
	close(l.done)
	return nil
}
