package registry

import (
	"encoding/json"
	"testing"
)

func TestValidateAgainstSchemaAccepts(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["message"],
		"properties": {"message": {"type": "string"}}
	}`)
	reasons := ValidateAgainstSchema(schema, json.RawMessage(`{"message":"hi"}`))
	if len(reasons) != 0 {
		t.Fatalf("expected no violations, got %v", reasons)
	}
}

func TestValidateAgainstSchemaRejectsMissingRequired(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["message"],
		"properties": {"message": {"type": "string"}}
	}`)
	reasons := ValidateAgainstSchema(schema, json.RawMessage(`{"wrong":"x"}`))
	if len(reasons) == 0 {
		t.Fatal("expected at least one violation reason")
	}
}

func TestValidateAgainstSchemaRejectsWrongType(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"count": {"type": "integer"}}
	}`)
	reasons := ValidateAgainstSchema(schema, json.RawMessage(`{"count":"not a number"}`))
	if len(reasons) == 0 {
		t.Fatal("expected a type-mismatch violation")
	}
}

func TestValidateAgainstSchemaEmptyArgsTreatedAsEmptyObject(t *testing.T) {
	schema := json.RawMessage(`{"type": "object"}`)
	reasons := ValidateAgainstSchema(schema, nil)
	if len(reasons) != 0 {
		t.Fatalf("expected empty args to validate against an object schema with no required fields, got %v", reasons)
	}
}

func TestValidateAgainstSchemaInvalidArgsJSON(t *testing.T) {
	schema := json.RawMessage(`{"type": "object"}`)
	reasons := ValidateAgainstSchema(schema, json.RawMessage(`not json`))
	if len(reasons) == 0 {
		t.Fatal("expected a violation for malformed argument JSON")
	}
}
