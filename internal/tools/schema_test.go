package tools

import (
	"encoding/json"
	"testing"
)

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"host":  {"type": "string"},
			"lines": {"type": "integer"}
		},
		"required": ["host"]
	}`)

	if err := v.Validate("log_tail", schema, map[string]any{"host": "web-1", "lines": float64(50)}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if err := v.Validate("log_tail", schema, map[string]any{"lines": float64(50)}); err == nil {
		t.Fatal("missing required key accepted")
	}
	if err := v.Validate("log_tail", schema, map[string]any{"host": float64(42)}); err == nil {
		t.Fatal("wrong type accepted")
	}
	// second use hits the compiled cache
	if err := v.Validate("log_tail", schema, map[string]any{"host": "db-1"}); err != nil {
		t.Fatalf("cached schema: %v", err)
	}
	if err := v.Validate("anything", nil, map[string]any{"x": float64(1)}); err != nil {
		t.Fatalf("empty schema must accept: %v", err)
	}
	if err := v.Validate("nilargs", schema, nil); err == nil {
		t.Fatal("nil args should fail the required check")
	}
}

func TestSchemaValidatorBadSchema(t *testing.T) {
	v := NewSchemaValidator()
	if err := v.Validate("broken", json.RawMessage(`{"type": 12}`), map[string]any{}); err == nil {
		t.Fatal("malformed schema accepted")
	}
}

func TestDecodeArgs(t *testing.T) {
	var out struct {
		Host  string `json:"host"`
		Lines int    `json:"lines"`
	}
	err := DecodeArgs(map[string]any{"host": "web-1", "lines": float64(200)}, &out)
	if err != nil {
		t.Fatalf("DecodeArgs: %v", err)
	}
	if out.Host != "web-1" || out.Lines != 200 {
		t.Errorf("out = %+v", out)
	}

	if err := DecodeArgs(map[string]any{"lines": "many"}, &out); err == nil {
		t.Error("type mismatch should error")
	}
}
