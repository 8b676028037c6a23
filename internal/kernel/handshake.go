package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// ClientHandshake drives the client side of the initialization protocol:
// send initialize, then notifications/initialized on success. It proposes
// a single version, the newest supported one (SupportedVersions[0]), and
// the server negotiates against that one proposal; a
// ProtocolVersionMismatch error surfaces directly and is not retried with
// an older version.
func ClientHandshake(ctx context.Context, p *Peer, clientInfo protocol.Implementation, caps protocol.Capabilities) (*protocol.InitializeResult, error) {
	// Run flips New to Initializing as it starts; callers typically launch
	// it concurrently, so either state is acceptable here.
	if s := p.State(); s != StateNew && s != StateInitializing {
		return nil, fmt.Errorf("kernel: handshake requires a fresh peer, got state %s", s)
	}

	params := protocol.InitializeParams{
		ProtocolVersion: protocol.SupportedVersions[0],
		Capabilities:    caps,
		ClientInfo:      clientInfo,
	}

	raw, err := p.SendRequest(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode initialize result: %w", err)
	}

	sess := NewSession(time.Now())
	sess.ClientInfo = clientInfo
	sess.ClientCaps = caps
	sess.ServerInfo = result.ServerInfo
	sess.ServerCaps = result.Capabilities
	sess.NegotiatedVer = result.ProtocolVersion
	p.setSession(sess)
	p.setState(StateReady)

	if err := p.SendNotification(ctx, protocol.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	return &result, nil
}

// ServerHandshakeHandler builds the RequestHandler for the server side of
// initialize: negotiate version, record the session, and respond with
// server info/capabilities. instructions is optional model-facing guidance
// echoed verbatim in the result. The handler moves the peer to Ready
// itself, before it returns; the dispatcher writes the response only after
// that, so the peer is Ready before the initialize response is sent.
func ServerHandshakeHandler(serverInfo protocol.Implementation, serverCaps protocol.Capabilities, instructions string) RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		var params protocol.InitializeParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, protocol.ErrInvalidRequest("malformed initialize params: " + err.Error())
		}

		negotiated, ok := protocol.Negotiate([]string{params.ProtocolVersion}, protocol.SupportedVersions)
		if !ok {
			return nil, protocol.ErrProtocolVersionMismatch(protocol.SupportedVersions)
		}

		sess := NewSession(time.Now())
		sess.ClientInfo = params.ClientInfo
		sess.ClientCaps = params.Capabilities
		sess.ServerInfo = serverInfo
		sess.ServerCaps = serverCaps
		sess.NegotiatedVer = negotiated
		p.setSession(sess)

		// Ready is entered here, before the dispatcher writes this
		// handler's result to the transport.
		p.setState(StateReady)

		return protocol.InitializeResult{
			ProtocolVersion: negotiated,
			Capabilities:    serverCaps,
			ServerInfo:      serverInfo,
			Instructions:    instructions,
		}, nil
	}
}

// InitializedNotificationHandler acknowledges notifications/initialized.
// Receipt is purely informational.
func InitializedNotificationHandler() NotificationHandler {
	return func(ctx context.Context, p *Peer, params json.RawMessage) {
		if sess := p.Session(); sess != nil {
			sess.Touch(time.Now())
		}
	}
}

// PingHandler answers ping with an empty result at any state from Ready
// onward.
func PingHandler() RequestHandler {
	return func(ctx context.Context, p *Peer, id protocol.ID, raw json.RawMessage) (any, *protocol.Error) {
		return struct{}{}, nil
	}
}
