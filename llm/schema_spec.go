package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loopkit/loopkit/schema"
)

// SchemaSpec declares a structured output contract: the model must
// reply with a JSON object conforming to Schema.
type SchemaSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	Strict      bool           `json:"strict,omitempty"`

	compiled *jsonschema.Schema
}

// NewSchemaSpec creates a spec and compiles its schema.
func NewSchemaSpec(name string, schemaDef map[string]any) (*SchemaSpec, error) {
	s := &SchemaSpec{Name: name, Schema: schemaDef, Strict: true}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SchemaSpec) compile() error {
	raw, err := json.Marshal(s.Schema)
	if err != nil {
		return schema.NewConfigError("schema_spec", fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(s.Name+".json", bytes.NewReader(raw)); err != nil {
		return schema.NewConfigError("schema_spec", fmt.Sprintf("add schema resource: %v", err))
	}
	compiled, err := compiler.Compile(s.Name + ".json")
	if err != nil {
		return schema.NewConfigError("schema_spec", fmt.Sprintf("compile schema: %v", err))
	}
	s.compiled = compiled
	return nil
}

// ResponseFormat converts the spec into a request response format.
func (s *SchemaSpec) ResponseFormat() *ResponseFormat {
	return &ResponseFormat{
		Type:       "json_schema",
		Name:       s.Name,
		JSONSchema: s.Schema,
		Strict:     s.Strict,
	}
}

// Validate parses raw as JSON and checks it against the schema.
// Returns the parsed document on success.
func (s *SchemaSpec) Validate(raw []byte) (json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewValidationError(s.Name, truncate(string(raw), 200), "output is not valid JSON")
	}
	if s.compiled == nil {
		if err := s.compile(); err != nil {
			return nil, err
		}
	}
	if err := s.compiled.Validate(doc); err != nil {
		return nil, schema.NewValidationError(s.Name, truncate(string(raw), 200), err.Error())
	}
	return json.RawMessage(raw), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func marshalCompact(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
