// Package toolconv converts the provider-neutral tool catalog and
// tool-call arguments to and from each vendor's wire format. All
// shape knowledge lives here so the providers stay thin.
package toolconv

import (
	"encoding/json"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// NormalizeArgs converts a raw tool-call argument payload into plain
// nested Go values. Providers hand it whatever their SDK produced: a
// native map, a JSON-encoded string, or a protobuf-shaped value tree.
func NormalizeArgs(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if normalized, ok := NormalizeValue(v).(map[string]any); ok {
			return normalized
		}
		return map[string]any{}
	case string:
		return ParseArgsJSON(v)
	case *structpb.Struct:
		if v == nil {
			return map[string]any{}
		}
		if normalized, ok := NormalizeValue(v.AsMap()).(map[string]any); ok {
			return normalized
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}
}

// ParseArgsJSON decodes a JSON-string argument payload. Anything that
// does not decode to an object is preserved under a "raw" key so the
// tool can still see what the model sent.
func ParseArgsJSON(s string) map[string]any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return map[string]any{"raw": s}
	}
	if normalized, ok := NormalizeValue(decoded).(map[string]any); ok {
		return normalized
	}
	return map[string]any{"raw": s}
}

// NormalizeValue recursively converts one value: maps and lists are
// rebuilt with normalized elements, protobuf Struct/Value/ListValue
// trees are unwrapped, tagged-union maps (string_value, number_value,
// bool_value, struct_value, list_value, null_value) collapse to the
// tagged value, primitives pass through. Already-normalized input is
// a fixed point.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case *structpb.Struct:
		if val == nil {
			return map[string]any{}
		}
		return NormalizeValue(val.AsMap())
	case *structpb.Value:
		if val == nil {
			return nil
		}
		return NormalizeValue(val.AsInterface())
	case *structpb.ListValue:
		if val == nil {
			return []any{}
		}
		return NormalizeValue(val.AsSlice())
	case map[string]any:
		if unwrapped, ok := unwrapTagged(val); ok {
			return unwrapped
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

// unwrapTagged collapses a single-key protobuf Value map to its
// payload. struct_value and list_value payloads may arrive either
// wrapped ({"fields": ...}, {"values": ...}) or bare.
func unwrapTagged(m map[string]any) (any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for key, payload := range m {
		switch key {
		case "null_value":
			return nil, true
		case "string_value", "number_value", "bool_value":
			return NormalizeValue(payload), true
		case "struct_value":
			if wrapper, ok := payload.(map[string]any); ok {
				if fields, ok := wrapper["fields"].(map[string]any); ok && len(wrapper) == 1 {
					return NormalizeValue(fields), true
				}
				return NormalizeValue(wrapper), true
			}
			return NormalizeValue(payload), true
		case "list_value":
			if wrapper, ok := payload.(map[string]any); ok {
				if values, ok := wrapper["values"].([]any); ok && len(wrapper) == 1 {
					return NormalizeValue(values), true
				}
			}
			return NormalizeValue(payload), true
		}
	}
	return nil, false
}
