package tools

import (
	"encoding/json"
	"fmt"
)

// DecodeArgs maps loosely-typed tool arguments onto a typed struct by
// round-tripping through JSON. Providers hand arguments over as
// map[string]any with float64 numbers; the round-trip restores the
// shapes the tool declared.
func DecodeArgs(args map[string]any, v any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
