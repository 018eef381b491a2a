package models

import "encoding/json"

// ToolDefinition is the provider-neutral catalog entry for one tool.
// Schema is a JSON Schema object describing the tool's arguments.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Reserved ToolResult.Metadata keys. Tools set these when a policy
// decision shaped the outcome; the executor lifts them out of the
// metadata blob and into dedicated audit columns.
const (
	MetaPolicyTriggered = "policy_triggered"
	MetaPolicyEffect    = "policy_effect"
	MetaUserConfirmed   = "user_confirmed"
)

// ConfirmTokenArg is the reserved argument key that carries a one-shot
// confirmation token when a tool call is re-invoked after a
// pending_confirm result. It never reaches the audit log.
const ConfirmTokenArg = "_confirm_token"

// ToolStatus discriminates the ToolResult union.
type ToolStatus string

const (
	ToolSuccess        ToolStatus = "success"
	ToolError          ToolStatus = "error"
	ToolPendingConfirm ToolStatus = "pending_confirm"
)

// ToolResult is the outcome of one tool execution. Status selects
// which fields are meaningful: success carries Output, error carries
// Error (and possibly partial Output), pending_confirm carries the
// confirmation token and a preview of what would run.
type ToolResult struct {
	Status       ToolStatus     `json:"status"`
	Output       string         `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	ExitCode     *int           `json:"exit_code,omitempty"`
	DurationSec  float64        `json:"duration_sec,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ConfirmToken string         `json:"confirm_token,omitempty"`
	Preview      map[string]any `json:"preview,omitempty"`
}

// SuccessResult builds a success outcome.
func SuccessResult(output string) *ToolResult {
	return &ToolResult{Status: ToolSuccess, Output: output}
}

// ErrorResult builds an error outcome.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{Status: ToolError, Error: msg}
}

// PendingResult builds a pending_confirm outcome carrying the minted
// token and the preview the caller should present.
func PendingResult(token string, preview map[string]any) *ToolResult {
	return &ToolResult{Status: ToolPendingConfirm, ConfirmToken: token, Preview: preview}
}

// IsError reports whether the result is an error outcome.
func (r *ToolResult) IsError() bool {
	return r != nil && r.Status == ToolError
}
