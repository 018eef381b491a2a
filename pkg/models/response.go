package models

// StopReason is the normalized terminal-state tag of a provider turn.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonSafety    StopReason = "safety"
	StopReasonError     StopReason = "error"
)

// Usage holds token counters for one turn or, cumulatively, one
// session. Zeros are acceptable; the fields are always present.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another turn's counters.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ProviderResponse is the normalized response shape every provider
// returns. When ToolCalls is non-empty StopReason is always
// StopReasonToolUse, regardless of what the vendor reported.
type ProviderResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      Usage      `json:"usage"`
	StopReason StopReason `json:"stop_reason"`
	Model      string     `json:"model"`

	// Capped is set by the agent loop when the iteration cap was hit;
	// the response then carries the cap notice in Content while
	// StopReason stays tool_use so callers can inspect the unexecuted
	// ToolCalls.
	Capped bool `json:"capped,omitempty"`
}

// ChunkType tags a streaming frame.
type ChunkType string

const (
	ChunkContent ChunkType = "chunk"
	ChunkEnd     ChunkType = "end"
)

// StreamChunk is one frame of a tool-less streaming reply.
type StreamChunk struct {
	Type    ChunkType `json:"type"`
	Content string    `json:"content,omitempty"`
	Err     error     `json:"-"`
}
