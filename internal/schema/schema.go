// Package schema validates tool-call arguments against a tool's declared
// JSON Schema before the call goes out on the wire.
package schema

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
)

// Validator validates call-tool arguments against one tool's inputSchema.
type Validator struct {
	raw      json.RawMessage
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// Compile parses a tool's raw inputSchema (as advertised by tools/list)
// and resolves it once so repeated Validate calls don't re-resolve.
// A nil or empty rawSchema compiles to a no-op validator, matching tools
// that declare no input schema.
func Compile(rawSchema json.RawMessage) (*Validator, error) {
	if len(rawSchema) == 0 {
		return &Validator{}, nil
	}

	var s jsonschema.Schema
	if err := json.Unmarshal(rawSchema, &s); err != nil {
		return nil, mcperr.New(mcperr.InvalidParams, "parse input schema: %v", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, mcperr.New(mcperr.InvalidParams, "resolve input schema: %v", err)
	}
	return &Validator{raw: rawSchema, schema: &s, resolved: resolved}, nil
}

// Validate checks arguments (already-decoded into an `any` tree, typically
// via json.Unmarshal into map[string]interface{}) against the compiled
// schema. Returns an mcperr.InvalidParams error on mismatch.
func (v *Validator) Validate(arguments any) error {
	if v == nil || v.resolved == nil {
		return nil
	}
	if err := v.resolved.Validate(arguments); err != nil {
		return mcperr.New(mcperr.InvalidParams, "tool arguments failed schema validation: %v", err)
	}
	return nil
}

// ValidateRaw is a convenience for validating arguments still in
// encoding/json.RawMessage form.
func (v *Validator) ValidateRaw(raw json.RawMessage) error {
	if v == nil || v.resolved == nil {
		return nil
	}
	var instance any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &instance); err != nil {
			return mcperr.New(mcperr.InvalidParams, "invalid tool arguments JSON: %v", err)
		}
	}
	return v.Validate(instance)
}

func (v *Validator) String() string {
	if v == nil || v.raw == nil {
		return "<no schema>"
	}
	return fmt.Sprintf("schema(%d bytes)", len(v.raw))
}
