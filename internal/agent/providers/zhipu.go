package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mrtian2016/flowpilot/internal/agent/toolconv"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// zhipuBaseURL is the GLM open-platform endpoint. The API is
// OpenAI-compatible, so the go-openai client does the wire work.
const zhipuBaseURL = "https://open.bigmodel.cn/api/paas/v4"

const defaultZhipuModel = "glm-4-plus"

// ZhipuProvider drives the Zhipu GLM API through its OpenAI-compatible
// surface. Tool-call arguments arrive as JSON strings and are parsed
// with a raw-preserving fallback.
type ZhipuProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
	temp      *float64
	base      BaseProvider
}

// ZhipuConfig holds construction parameters. Only APIKey is required.
// BaseURL overrides the GLM endpoint, mostly for tests.
type ZhipuConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
	MaxRetries  int
	RetryDelay  time.Duration
}

// NewZhipuProvider validates the config and builds the client.
func NewZhipuProvider(cfg ZhipuConfig) (*ZhipuProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("zhipu: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultZhipuModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = zhipuBaseURL
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	return &ZhipuProvider{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
		base:      NewBaseProvider("zhipu", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "zhipu".
func (p *ZhipuProvider) Name() string { return "zhipu" }

// Model returns the configured model id.
func (p *ZhipuProvider) Model() string { return p.model }

// SupportsToolUse is always true for GLM-4 models.
func (p *ZhipuProvider) SupportsToolUse() bool { return true }

// Chat sends one buffered turn and normalizes the reply.
func (p *ZhipuProvider) Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*models.ProviderResponse, error) {
	req := p.buildRequest(messages, tools, false)

	var resp openai.ChatCompletionResponse
	err := p.base.Retry(ctx, IsRetryable, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp), nil
}

// StreamChat streams text frames. With tools present it degrades to a
// buffered Chat call.
func (p *ZhipuProvider) StreamChat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (<-chan models.StreamChunk, error) {
	if len(tools) > 0 {
		return fallbackStream(ctx, p, messages, tools)
	}

	req := p.buildRequest(messages, nil, true)

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}

	ch := make(chan models.StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				ch <- models.StreamChunk{Type: models.ChunkEnd}
				return
			}
			if err != nil {
				ch <- models.StreamChunk{Type: models.ChunkEnd, Err: p.wrapError(err)}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				ch <- models.StreamChunk{Type: models.ChunkContent, Content: content}
			}
		}
	}()
	return ch, nil
}

func (p *ZhipuProvider) buildRequest(messages []models.Message, tools []models.ToolDefinition, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  convertZhipuMessages(messages),
		MaxTokens: p.maxTokens,
		Stream:    stream,
	}
	if p.temp != nil {
		req.Temperature = float32(*p.temp)
	}
	if len(tools) > 0 {
		req.Tools = toolconv.ToOpenAITools(tools)
		req.ToolChoice = "auto"
	}
	return req
}

func (p *ZhipuProvider) parseResponse(resp openai.ChatCompletionResponse) *models.ProviderResponse {
	out := &models.ProviderResponse{
		Model:      resp.Model,
		StopReason: models.StopReasonError,
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = p.model
	}
	if len(resp.Choices) == 0 {
		return finalize(out)
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content

	for i, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = mintCallID(tc.Function.Name, i)
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: toolconv.ParseArgsJSON(tc.Function.Arguments),
		})
	}

	switch string(choice.FinishReason) {
	case "stop", "":
		out.StopReason = models.StopReasonStop
	case "tool_calls":
		out.StopReason = models.StopReasonToolUse
	case "length":
		out.StopReason = models.StopReasonMaxTokens
	case "sensitive", "content_filter":
		out.StopReason = models.StopReasonSafety
	default:
		out.StopReason = models.StopReasonError
	}

	return finalize(out)
}

// convertZhipuMessages rewrites the neutral log into OpenAI-shaped
// chat messages. The system message rides in the message list; each
// tool_result block becomes its own tool-role message.
func convertZhipuMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			result = append(result, m)

		default:
			blocks := msg.ToolResults()
			if len(blocks) > 0 {
				for _, block := range blocks {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    block.Content,
						ToolCallID: block.ToolUseID,
					})
				}
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

func (p *ZhipuProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("zhipu", p.model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Code != nil {
			providerErr = providerErr.WithCode(fmt.Sprintf("%v", apiErr.Code))
		}
	}

	return providerErr
}
