// Package redact masks secrets in strings destined for persistence or
// display: audit rows, session reports, and logged tool arguments.
package redact

import (
	"regexp"
	"strings"
)

// Masked is the replacement form for matched secret values.
const Masked = "***MASKED***"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Patterns are ordered: multi-line key blocks first so a private key
// is collapsed before the line-oriented rules see its header.
var rules = []rule{
	// SSH/TLS private key blocks
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), Masked},

	// key=value style credentials
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?key)[\s:=]+["']?[A-Za-z0-9_\-/+]{8,}["']?`), "${1}=" + Masked},
	{regexp.MustCompile(`(?i)(secret|password|passwd|pwd|token)[\s:=]+["']?[^\s"'*]{6,}["']?`), "${1}=" + Masked},

	// HTTP auth headers; the bearer rule runs first so the scheme
	// survives, then bare schemes like Basic are caught whole.
	{regexp.MustCompile(`(?i)(bearer)\s+[A-Za-z0-9_\-.=/+]{8,}`), "${1} " + Masked},
	{regexp.MustCompile(`(?i)(authorization)\s*:\s*(?:(?:basic|token)\s+)?[A-Za-z0-9+/=_\-.]{8,}`), "${1}: " + Masked},

	// Vendor API key literals
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`), Masked},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{16,}`), Masked},
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), Masked},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), Masked},

	// JWTs
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), Masked},
}

// sensitiveKeys are argument/metadata keys whose values are masked
// wholesale regardless of shape.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"secret":        {},
	"token":         {},
	"api_key":       {},
	"apikey":        {},
	"access_key":    {},
	"authorization": {},
	"private_key":   {},
}

// Mask replaces every recognized secret in s with the masked form.
func Mask(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// IsSensitive reports whether s contains any recognized secret.
func IsSensitive(s string) bool {
	for _, r := range rules {
		if r.re.MatchString(s) {
			return true
		}
	}
	return false
}

// MaskMap returns a deep copy of m with sensitive keys masked
// wholesale and every string value passed through Mask.
func MaskMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			out[k] = Masked
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v any) any {
	switch t := v.(type) {
	case string:
		return Mask(t)
	case map[string]any:
		return MaskMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = maskValue(e)
		}
		return out
	default:
		return v
	}
}
