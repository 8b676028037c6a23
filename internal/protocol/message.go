// Package protocol defines the JSON-RPC 2.0 wire model used by the MCP
// session kernel: request/response/notification envelopes, the error
// taxonomy, protocol-version negotiation, and the content variants carried
// in tool results, prompt messages, and resource reads.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the literal JSON-RPC version string every message must carry.
const Version = "2.0"

// ID is a JSON-RPC request/response identifier, either a number or a
// string; json.RawMessage preserves whichever the peer sent so it can be
// echoed back byte-for-byte.
type ID json.RawMessage

// IsZero reports whether the ID is absent (a notification has no ID).
func (id ID) IsZero() bool {
	return len(id) == 0 || string(id) == "null"
}

// String renders the ID for logging and map keys.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return string(id)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[:0], data...)
	return nil
}

// Equal reports whether two IDs represent the same value.
func (id ID) Equal(other ID) bool {
	return id.String() == other.String()
}

// Envelope is the superset of fields across requests, responses, and
// notifications. Decoding a raw message into an Envelope first, then
// classifying it, is how the dispatcher tells the three shapes apart.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind classifies a decoded Envelope.
type Kind int

const (
	// KindInvalid marks an envelope that fails JSON-RPC structural rules.
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

// Classify determines the Kind of a message and validates the minimal
// JSON-RPC 2.0 structural invariants: jsonrpc=="2.0", and exactly one of
// (result, error) on a response.
func (e *Envelope) Classify() Kind {
	if e.JSONRPC != Version {
		return KindInvalid
	}
	hasID := !e.ID.IsZero()
	hasMethod := e.Method != ""
	hasResultOrError := e.Result != nil || e.Error != nil

	switch {
	case hasMethod && hasID:
		return KindRequest
	case hasMethod && !hasID:
		return KindNotification
	case !hasMethod && hasID && hasResultOrError:
		if e.Result != nil && e.Error != nil {
			return KindInvalid
		}
		return KindResponse
	default:
		return KindInvalid
	}
}

// Request is a typed outbound/inbound JSON-RPC request.
type Request struct {
	ID     ID
	Method string
	Params any
}

// Encode marshals the request to a wire envelope.
func (r Request) Encode() ([]byte, error) {
	params, err := marshalParams(r.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return json.Marshal(Envelope{
		JSONRPC: Version,
		ID:      r.ID,
		Method:  r.Method,
		Params:  params,
	})
}

// Notification is a one-way, response-less JSON-RPC message.
type Notification struct {
	Method string
	Params any
}

// Encode marshals the notification to a wire envelope.
func (n Notification) Encode() ([]byte, error) {
	params, err := marshalParams(n.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return json.Marshal(Envelope{
		JSONRPC: Version,
		Method:  n.Method,
		Params:  params,
	})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// EncodeResult marshals a successful response.
func EncodeResult(id ID, result any) ([]byte, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	return json.Marshal(Envelope{JSONRPC: Version, ID: id, Result: raw})
}

// EncodeError marshals an error response.
func EncodeError(id ID, rpcErr *Error) ([]byte, error) {
	return json.Marshal(Envelope{JSONRPC: Version, ID: id, Error: rpcErr})
}
