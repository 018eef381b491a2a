package models

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags a content block inside a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed fragment of a message body. Tool results
// travel as user-role messages carrying tool_result blocks; each
// provider rewrites them into its native convention at conversion time.
type ContentBlock struct {
	Type      BlockType `json:"type"`
	Text      string    `json:"text,omitempty"`
	ToolUseID string    `json:"tool_use_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
}

// ToolCall is a model-emitted request to invoke a tool. The ID is
// provider-minted and opaque; it must be echoed on the matching
// tool_result block.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one entry in conversation order.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
}

// NewSystemMessage builds the fixed instruction entry that sits at
// position 0 of every materialized log.
func NewSystemMessage(instruction string) Message {
	return Message{Role: RoleSystem, Content: instruction}
}

// NewUserMessage builds a plain-text user entry.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage builds an assistant entry. Content may be empty
// when the model emitted only tool calls.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolResultBlock pairs a tool_use_id with the replayable string form
// of its result.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// NewToolResultMessage batches one iteration's tool results into a
// single user-role message, one block per call, in input order.
func NewToolResultMessage(results []ToolResultBlock) Message {
	blocks := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ContentBlock{
			Type:      BlockToolResult,
			ToolUseID: r.ToolUseID,
			Content:   r.Content,
			IsError:   r.IsError,
		})
	}
	return Message{Role: RoleUser, Blocks: blocks}
}

// ToolResults extracts the tool_result blocks of a message, in order.
func (m Message) ToolResults() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}
