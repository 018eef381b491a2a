package models

import "time"

// SessionStatus is the lifecycle state of an audit session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// CallStatus is the lifecycle state of an audited tool call. Rows are
// inserted as pending and patched to a terminal state afterwards.
type CallStatus string

const (
	CallPending        CallStatus = "pending"
	CallSuccess        CallStatus = "success"
	CallError          CallStatus = "error"
	CallPendingConfirm CallStatus = "pending_confirm"
)

// AuditSession is the persisted record of one user request.
type AuditSession struct {
	SessionID    string          `json:"session_id"`
	Timestamp    time.Time       `json:"timestamp"`
	User         string          `json:"user,omitempty"`
	Hostname     string          `json:"hostname,omitempty"`
	Input        string          `json:"input"`
	InputMode    string          `json:"input_mode,omitempty"`
	FinalOutput  string          `json:"final_output,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	Status       SessionStatus   `json:"status"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
	TotalTokens  int             `json:"total_tokens,omitempty"`
	DurationSec  float64         `json:"duration_sec,omitempty"`
	ToolCalls    []AuditToolCall `json:"tool_calls,omitempty"`
}

// AuditToolCall is the persisted record of one tool invocation inside
// a session. StdoutSummary is always redacted before write.
type AuditToolCall struct {
	CallID          string     `json:"call_id"`
	SessionID       string     `json:"session_id"`
	ToolName        string     `json:"tool_name"`
	ToolArgs        string     `json:"tool_args,omitempty"`
	PolicyTriggered string     `json:"policy_triggered,omitempty"`
	PolicyEffect    string     `json:"policy_effect,omitempty"`
	UserConfirmed   bool       `json:"user_confirmed,omitempty"`
	ConfirmTime     *time.Time `json:"confirm_time,omitempty"`
	ExecutionStart  *time.Time `json:"execution_start,omitempty"`
	ExecutionEnd    *time.Time `json:"execution_end,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	StdoutSummary   string     `json:"stdout_summary,omitempty"`
	Stderr          string     `json:"stderr,omitempty"`
	DurationSec     float64    `json:"duration_sec,omitempty"`
	Status          CallStatus `json:"status"`
	Metadata        string     `json:"metadata,omitempty"`
}
