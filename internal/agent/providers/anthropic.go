package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mrtian2016/flowpilot/internal/agent/toolconv"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider drives the Anthropic Messages API. Claude is
// tool-use native, so the neutral catalog passes through with the
// input schema intact.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
	temp      *float64
	base      BaseProvider
}

// AnthropicConfig holds construction parameters. Only APIKey is
// required.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
	MaxRetries  int
	RetryDelay  time.Duration
}

// NewAnthropicProvider validates the config and builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(options...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
		base:      NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the configured model id.
func (p *AnthropicProvider) Model() string { return p.model }

// SupportsToolUse is always true for Claude models.
func (p *AnthropicProvider) SupportsToolUse() bool { return true }

// Chat sends one buffered turn and normalizes the reply.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*models.ProviderResponse, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	var resp *anthropic.Message
	err = p.base.Retry(ctx, IsRetryable, func() error {
		var callErr error
		resp, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.parseMessage(resp), nil
}

// StreamChat streams text frames. With tools present it degrades to a
// buffered Chat call; tool calls are never streamed.
func (p *AnthropicProvider) StreamChat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (<-chan models.StreamChunk, error) {
	if len(tools) > 0 {
		return fallbackStream(ctx, p, messages, tools)
	}

	params, err := p.buildParams(messages, nil)
	if err != nil {
		return nil, err
	}

	ch := make(chan models.StreamChunk)
	go func() {
		defer close(ch)
		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					ch <- models.StreamChunk{Type: models.ChunkContent, Content: delta.Text}
				}
			case "message_stop":
				ch <- models.StreamChunk{Type: models.ChunkEnd}
				return
			}
		}
		if err := stream.Err(); err != nil {
			ch <- models.StreamChunk{Type: models.ChunkEnd, Err: p.wrapError(err)}
			return
		}
		ch <- models.StreamChunk{Type: models.ChunkEnd}
	}()
	return ch, nil
}

func (p *AnthropicProvider) buildParams(messages []models.Message, tools []models.ToolDefinition) (anthropic.MessageNewParams, error) {
	system, rest := splitSystem(messages)

	converted, err := convertAnthropicMessages(rest)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  converted,
		MaxTokens: int64(p.maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if p.temp != nil {
		params.Temperature = anthropic.Float(*p.temp)
	}
	if len(tools) > 0 {
		converted, err := toolconv.ToAnthropicTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = converted
	}
	return params, nil
}

func (p *AnthropicProvider) parseMessage(msg *anthropic.Message) *models.ProviderResponse {
	var content strings.Builder
	var toolCalls []models.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{"raw": string(block.Input)}
				}
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: toolconv.NormalizeArgs(args),
			})
		}
	}

	var stop models.StopReason
	switch string(msg.StopReason) {
	case "end_turn", "stop_sequence":
		stop = models.StopReasonStop
	case "tool_use":
		stop = models.StopReasonToolUse
	case "max_tokens":
		stop = models.StopReasonMaxTokens
	case "refusal":
		stop = models.StopReasonSafety
	default:
		stop = models.StopReasonStop
	}

	return finalize(&models.ProviderResponse{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stop,
		Model:      string(msg.Model),
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	})
}

// convertAnthropicMessages rewrites the neutral log into Anthropic
// content blocks. Tool results stay under the user role; assistant
// tool calls become tool_use blocks.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, block := range msg.ToolResults() {
			content = append(content, anthropic.NewToolResultBlock(
				block.ToolUseID,
				block.Content,
				block.IsError,
			))
		}

		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    p.model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr = providerErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					providerErr = providerErr.WithRequestID(payload.RequestID)
				}
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if providerErr.RequestID == "" && apiErr.RequestID != "" {
			providerErr = providerErr.WithRequestID(apiErr.RequestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", p.model, err)
}
