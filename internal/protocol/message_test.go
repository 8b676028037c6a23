package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{"success response", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"x"}}`, KindResponse},
		{"both result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, KindInvalid},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, KindInvalid},
		{"neither method nor id", `{"jsonrpc":"2.0"}`, KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(tt.raw), &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := env.Classify(); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestEncodeDecodeRoundTrip(t *testing.T) {
	req := Request{ID: ID(`7`), Method: "tools/call", Params: map[string]string{"name": "echo"}}
	data, err := req.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Classify() != KindRequest {
		t.Fatalf("expected request, got %v", env.Classify())
	}
	if !env.ID.Equal(req.ID) {
		t.Fatalf("id mismatch: got %q want %q", env.ID, req.ID)
	}

	// decode(encode(m)) == m modulo key ordering.
	data2, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	var env2 Envelope
	if err := json.Unmarshal(data2, &env2); err != nil {
		t.Fatalf("unmarshal again: %v", err)
	}
	if env2.Classify() != KindRequest || !env2.ID.Equal(req.ID) || env2.Method != req.Method {
		t.Fatalf("round trip mismatch: %+v vs %+v", env, env2)
	}
}

func TestEncodeErrorExclusiveWithResult(t *testing.T) {
	data, err := EncodeError(ID(`5`), ErrToolNotFound("missing"))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Result != nil {
		t.Fatalf("expected no result field, got %s", env.Result)
	}
	if env.Error == nil || env.Error.Code != CodeToolNotFound {
		t.Fatalf("expected ToolNotFound error, got %+v", env.Error)
	}
}
