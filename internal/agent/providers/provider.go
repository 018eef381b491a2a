// Package providers implements the LLM vendor integrations behind the
// agent loop. Each vendor module is self-contained: it converts the
// neutral message log and tool catalog to its wire format, calls the
// SDK, and normalizes the reply back into models.ProviderResponse.
// Nothing vendor-shaped leaks out of this package.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

// LLMProvider is the full vendor surface. The agent loop only needs
// Name and Chat; StreamChat serves the CLI and the OpenAI-compatible
// server endpoint for tool-less conversations.
type LLMProvider interface {
	// Name returns the stable lowercase routing name.
	Name() string

	// Model returns the model id requests are sent with.
	Model() string

	// SupportsToolUse reports whether the vendor accepts a tool catalog.
	SupportsToolUse() bool

	// Chat sends the conversation and returns a normalized response.
	// When the returned ToolCalls is non-empty, StopReason is
	// models.StopReasonToolUse regardless of what the vendor reported.
	Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*models.ProviderResponse, error)

	// StreamChat streams content frames for a tool-less turn. When
	// tools are supplied it degrades to a buffered Chat call emitted
	// as one content frame plus an end frame.
	StreamChat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (<-chan models.StreamChunk, error)
}

// BaseProvider holds shared retry configuration for vendor modules.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Retry executes op, retrying with exponential backoff while
// isRetryable approves. The last error wins when attempts run out.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	backoff := b.retryDelay
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}

// splitSystem extracts the system instruction and returns the
// remaining conversation. Most vendors carry the system text out of
// band, so every converter starts here.
func splitSystem(messages []models.Message) (string, []models.Message) {
	var system string
	rest := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			if system == "" {
				system = m.Content
			}
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// mintCallID synthesizes a tool-call id for vendors that do not issue
// one. The shape keeps the originating function name visible in audit
// rows and previews.
func mintCallID(name string, index int) string {
	return fmt.Sprintf("call_%s_%d", name, index)
}

// toolNameForID walks the conversation backwards looking for the
// assistant tool call that produced the given result id. Vendors that
// key tool results by function name (gemini) need this at conversion
// time.
func toolNameForID(messages []models.Message, id string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, tc := range messages[i].ToolCalls {
			if tc.ID == id {
				return tc.Name
			}
		}
	}
	return ""
}

// fallbackStream degrades a streaming request to a buffered Chat call.
// Used whenever tools are in play: tool-call frames never stream, the
// loop consumes them whole.
func fallbackStream(ctx context.Context, p LLMProvider, messages []models.Message, tools []models.ToolDefinition) (<-chan models.StreamChunk, error) {
	ch := make(chan models.StreamChunk, 2)
	go func() {
		defer close(ch)
		resp, err := p.Chat(ctx, messages, tools)
		if err != nil {
			ch <- models.StreamChunk{Type: models.ChunkEnd, Err: err}
			return
		}
		if resp.Content != "" {
			ch <- models.StreamChunk{Type: models.ChunkContent, Content: resp.Content}
		}
		ch <- models.StreamChunk{Type: models.ChunkEnd}
	}()
	return ch, nil
}

// finalize applies the cross-vendor normalization rules: tool calls
// force StopReason to tool_use, and the total token count is derived
// when the vendor did not report one.
func finalize(resp *models.ProviderResponse) *models.ProviderResponse {
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = models.StopReasonToolUse
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
	return resp
}
