package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/mrtian2016/flowpilot/internal/agent/toolconv"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider drives the Gemini API. Gemini speaks function
// declarations instead of tool-use blocks and does not mint call ids,
// so conversion synthesizes them and keys tool results by function
// name.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
	temp      *float64
	base      BaseProvider
}

// GeminiConfig holds construction parameters. Only APIKey is required.
type GeminiConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	MaxRetries  int
	RetryDelay  time.Duration
}

// NewGeminiProvider validates the config and builds the SDK client.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
		base:      NewBaseProvider("gemini", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "gemini".
func (p *GeminiProvider) Name() string { return "gemini" }

// Model returns the configured model id.
func (p *GeminiProvider) Model() string { return p.model }

// SupportsToolUse is always true for Gemini models.
func (p *GeminiProvider) SupportsToolUse() bool { return true }

// Chat sends one buffered turn and normalizes the reply.
func (p *GeminiProvider) Chat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (*models.ProviderResponse, error) {
	contents, config := p.buildRequest(messages, tools)

	var resp *genai.GenerateContentResponse
	err := p.base.Retry(ctx, IsRetryable, func() error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(ctx, p.model, contents, config)
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
func (p *GeminiProvider) StreamChat(ctx context.Context, messages []models.Message, tools []models.ToolDefinition) (<-chan models.StreamChunk, error) {
	if len(tools) > 0 {
		return fallbackStream(ctx, p, messages, tools)
	}

	contents, config := p.buildRequest(messages, nil)

	ch := make(chan models.StreamChunk)
	go func() {
		defer close(ch)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				ch <- models.StreamChunk{Type: models.ChunkEnd, Err: p.wrapError(err)}
				return
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part != nil && part.Text != "" {
						ch <- models.StreamChunk{Type: models.ChunkContent, Content: part.Text}
					}
				}
			}
		}
		ch <- models.StreamChunk{Type: models.ChunkEnd}
	}()
	return ch, nil
}

func (p *GeminiProvider) buildRequest(messages []models.Message, tools []models.ToolDefinition) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := splitSystem(messages)
	contents := convertGeminiMessages(rest)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if p.maxTokens > 0 {
		config.MaxOutputTokens = int32(p.maxTokens)
	}
	if p.temp != nil {
		t := float32(*p.temp)
		config.Temperature = &t
	}
	if len(tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(tools)
	}
	return contents, config
}

func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse) *models.ProviderResponse {
	out := &models.ProviderResponse{
		Model:      p.model,
		StopReason: models.StopReasonStop,
	}

	if resp.UsageMetadata != nil {
		out.Usage = models.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		return finalize(out)
	}
	candidate := resp.Candidates[0]

	switch candidate.FinishReason {
	case genai.FinishReasonStop, "":
		out.StopReason = models.StopReasonStop
	case genai.FinishReasonMaxTokens:
		out.StopReason = models.StopReasonMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		out.StopReason = models.StopReasonSafety
	default:
		out.StopReason = models.StopReasonStop
	}

	if candidate.Content == nil {
		return finalize(out)
	}

	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			content.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        mintCallID(part.FunctionCall.Name, len(out.ToolCalls)),
				Name:      part.FunctionCall.Name,
				Arguments: toolconv.NormalizeArgs(part.FunctionCall.Args),
			})
		}
	}
	out.Content = content.String()

	return finalize(out)
}

// convertGeminiMessages rewrites the neutral log into Gemini contents.
// Assistant turns become model-role contents carrying FunctionCall
// parts; tool results become user-role FunctionResponse parts keyed by
// the originating function name.
func convertGeminiMessages(messages []models.Message) []*genai.Content {
	var result []*genai.Content

	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				},
			})
		}

		for _, block := range msg.ToolResults() {
			var response map[string]any
			if err := json.Unmarshal([]byte(block.Content), &response); err != nil {
				response = map[string]any{"result": block.Content}
				if block.IsError {
					response["error"] = true
				}
			}
			name := toolNameForID(messages, block.ToolUseID)
			if name == "" {
				name = block.ToolUseID
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     name,
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result
}

// wrapError classifies Gemini failures. The SDK surfaces most API
// errors as formatted strings, so status extraction is by substring.
func (p *GeminiProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("gemini", p.model, err)

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(msg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}
