package llm

import (
	"testing"
)

func personSpec(t *testing.T) *SchemaSpec {
	t.Helper()
	spec, err := NewSchemaSpec("person", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []any{"name"},
	})
	if err != nil {
		t.Fatalf("new spec: %v", err)
	}
	return spec
}

func TestSchemaSpecValidateAccepts(t *testing.T) {
	spec := personSpec(t)
	doc, err := spec.Validate([]byte(`{"name":"ada","age":36}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(doc) == 0 {
		t.Fatalf("expected parsed document back")
	}
}

func TestSchemaSpecValidateRejectsNonJSON(t *testing.T) {
	spec := personSpec(t)
	if _, err := spec.Validate([]byte("just text")); err == nil {
		t.Fatalf("expected error for non-JSON output")
	}
}

func TestSchemaSpecValidateRejectsViolations(t *testing.T) {
	spec := personSpec(t)
	if _, err := spec.Validate([]byte(`{"age":36}`)); err == nil {
		t.Fatalf("expected error for missing required property")
	}
	if _, err := spec.Validate([]byte(`{"name":"ada","age":-1}`)); err == nil {
		t.Fatalf("expected error for negative age")
	}
}

func TestSchemaSpecRejectsBadSchema(t *testing.T) {
	_, err := NewSchemaSpec("broken", map[string]any{
		"type": 42,
	})
	if err == nil {
		t.Fatalf("expected compile error for invalid schema")
	}
}

func TestSchemaSpecResponseFormat(t *testing.T) {
	spec := personSpec(t)
	rf := spec.ResponseFormat()
	if rf.Type != "json_schema" || rf.Name != "person" || !rf.Strict {
		t.Fatalf("unexpected response format: %+v", rf)
	}
}
