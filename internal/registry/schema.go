package registry

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidateAgainstSchema checks args against a tool's declared JSON
// Schema. An empty reasons slice means args is valid.
func ValidateAgainstSchema(schema json.RawMessage, args json.RawMessage) []string {
	var s jsonschema.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return []string{"invalid tool schema: " + err.Error()}
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return []string{"unresolvable tool schema: " + err.Error()}
	}

	var instance any
	if len(args) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(args, &instance); err != nil {
		return []string{"arguments are not valid JSON: " + err.Error()}
	}

	if err := resolved.Validate(instance); err != nil {
		return splitValidationReasons(err.Error())
	}
	return nil
}

// splitValidationReasons turns jsonschema-go's (possibly multi-line,
// joined) validation error into a flat reason list for InvalidParams' data.
func splitValidationReasons(msg string) []string {
	lines := strings.Split(msg, "\n")
	reasons := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			reasons = append(reasons, l)
		}
	}
	if len(reasons) == 0 {
		reasons = []string{msg}
	}
	return reasons
}
