package kerneltest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// Script configures ScriptedPeer's per-request behavior: delayed responses
// to exercise out-of-order concurrent replies, forced errors, malformed
// frames, and deliberately interleaved/mismatched messages.
type Script struct {
	// Delays holds a per-method artificial response delay.
	Delays map[string]time.Duration

	// Errors holds a per-method forced JSON-RPC error instead of the
	// normal handler result.
	Errors map[string]*protocol.Error

	// Results overrides the result value returned for a method; if absent,
	// an empty object is returned.
	Results map[string]any

	// Malformed, if true, answers every request with an invalid (non-JSON)
	// line instead of a proper envelope.
	Malformed bool

	// NotifyBeforeResponse, if set, sends this notification method (with
	// nil params) immediately before every response.
	NotifyBeforeResponse string

	// MismatchedIDFirst, if true, sends one response with a bogus id ahead
	// of every real response. The peer should log and discard the stray
	// response without touching any other pending entry.
	MismatchedIDFirst bool
}

// ScriptedPeer answers requests arriving on t according to Script, without
// running a real kernel.Dispatcher: it decodes just enough of the envelope
// to classify and respond.
type ScriptedPeer struct {
	t      transportReceiver
	script Script
}

// transportReceiver is the subset of transport.Transport ScriptedPeer uses;
// kept narrow so it composes with the Transport returned by Pipe.
type transportReceiver interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// NewScriptedPeer wraps t with the given script.
func NewScriptedPeer(t transportReceiver, script Script) *ScriptedPeer {
	return &ScriptedPeer{t: t, script: script}
}

// Run answers requests until ctx is cancelled or the transport ends.
func (s *ScriptedPeer) Run(ctx context.Context) error {
	for {
		raw, err := s.t.Receive(ctx)
		if err != nil {
			return err
		}
		go s.handle(ctx, raw)
	}
}

func (s *ScriptedPeer) handle(ctx context.Context, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Classify() != protocol.KindRequest {
		return
	}

	if d, ok := s.script.Delays[env.Method]; ok {
		time.Sleep(d)
	}

	if s.script.Malformed {
		_ = s.t.Send(ctx, []byte("not valid json"))
		return
	}

	if s.script.NotifyBeforeResponse != "" {
		note, _ := protocol.Notification{Method: s.script.NotifyBeforeResponse}.Encode()
		_ = s.t.Send(ctx, note)
	}

	if s.script.MismatchedIDFirst {
		bogus, _ := protocol.EncodeResult(protocol.ID(`999999`), struct{}{})
		_ = s.t.Send(ctx, bogus)
	}

	if rpcErr, ok := s.script.Errors[env.Method]; ok {
		msg, _ := protocol.EncodeError(env.ID, rpcErr)
		_ = s.t.Send(ctx, msg)
		return
	}

	result := s.script.Results[env.Method]
	if result == nil {
		result = struct{}{}
	}
	msg, _ := protocol.EncodeResult(env.ID, result)
	_ = s.t.Send(ctx, msg)
}
