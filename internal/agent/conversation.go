package agent

import "github.com/mrtian2016/flowpilot/pkg/models"

// Conversation accumulates one session's message log. The system
// prompt is held apart from the log and materialized at position 0
// whenever Messages is called, so callers can never displace it.
// Not safe for concurrent use; each session owns its conversation.
type Conversation struct {
	system   string
	messages []models.Message
}

// NewConversation starts an empty log. An empty systemPrompt selects
// the built-in operations prompt.
func NewConversation(systemPrompt string) *Conversation {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Conversation{system: systemPrompt}
}

// SetSystem replaces the system prompt. An empty prompt keeps the
// current one.
func (c *Conversation) SetSystem(prompt string) {
	if prompt != "" {
		c.system = prompt
	}
}

// AddUser appends a plain-text user turn.
func (c *Conversation) AddUser(content string) {
	c.messages = append(c.messages, models.NewUserMessage(content))
}

// AddMessage appends a prepared turn as-is. Callers seeding a log from
// an external transcript use this instead of the typed helpers.
func (c *Conversation) AddMessage(m models.Message) {
	c.messages = append(c.messages, m)
}

// AddAssistant appends an assistant turn. Content may be empty when
// the model emitted only tool calls; the calls ride along so the
// providers can replay them in their native format.
func (c *Conversation) AddAssistant(content string, toolCalls []models.ToolCall) {
	c.messages = append(c.messages, models.NewAssistantMessage(content, toolCalls))
}

// AddToolResults appends one iteration's tool results as a single
// user-role message, one tool_result block per call, in input order.
func (c *Conversation) AddToolResults(results []models.ToolResultBlock) {
	c.messages = append(c.messages, models.NewToolResultMessage(results))
}

// Messages returns the full log with the system prompt at position 0.
// The returned slice is a snapshot; mutating it does not affect the
// conversation.
func (c *Conversation) Messages() []models.Message {
	out := make([]models.Message, 0, len(c.messages)+1)
	out = append(out, models.NewSystemMessage(c.system))
	out = append(out, c.messages...)
	return out
}

// Len reports the number of turns excluding the system prompt.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Clear drops every turn but keeps the system prompt.
func (c *Conversation) Clear() {
	c.messages = nil
}
