package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// LoadRaw reads the file at path into a merged raw map, resolving
// $include directives with cycle detection. Included fragments are
// merged first so the including file wins on conflicts. Environment
// references in string values are expanded; keys are left alone so
// the $include directive itself survives expansion.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return loadRawFile(path, map[string]bool{})
}

func loadRawFile(path string, seen map[string]bool) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	seen[abs] = true
	defer delete(seen, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw, err := parseRawBytes(data, abs)
	if err != nil {
		return nil, err
	}

	includes, err := popIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	expandRawEnv(raw)

	merged := map[string]any{}
	for _, inc := range includes {
		inc = os.ExpandEnv(inc)
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		incRaw, err := loadRawFile(inc, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeRaw(merged, incRaw)
	}
	return mergeRaw(merged, raw), nil
}

// expandRawEnv expands $VAR and ${VAR} references in string values,
// recursing through maps and lists in place.
func expandRawEnv(v any) {
	switch typed := v.(type) {
	case map[string]any:
		for key, val := range typed {
			if s, ok := val.(string); ok {
				typed[key] = os.ExpandEnv(s)
				continue
			}
			expandRawEnv(val)
		}
	case []any:
		for i, val := range typed {
			if s, ok := val.(string); ok {
				typed[i] = os.ExpandEnv(s)
				continue
			}
			expandRawEnv(val)
		}
	}
}

// parseRawBytes picks the parser from the file extension: .json and
// .json5 go through the json5 decoder, everything else is YAML.
func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected a single document")
	}
	return raw, nil
}

// popIncludes removes the include entry from raw and returns its
// paths, accepting a single string or a list of strings. Both the
// $include and the bare include spellings are recognized.
func popIncludes(raw map[string]any) ([]string, error) {
	val, ok := raw[includeKey]
	key := includeKey
	if !ok {
		val, ok = raw["include"]
		key = "include"
	}
	if !ok {
		return nil, nil
	}
	delete(raw, key)

	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("$include must be a string or a list of strings")
	}
}

// mergeRaw deep-merges src into dst; maps merge recursively, anything
// else in src replaces the dst value.
func mergeRaw(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeRaw(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig decodes the merged raw map into Config with strict
// field checking so typos in the file surface as errors.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
