package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mrtian2016/flowpilot/internal/agent"
	"github.com/mrtian2016/flowpilot/internal/agent/providers"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// OpenAI-compatible chat surface. Completions run the full agent loop
// by default, so a plain OpenAI client pointed here gets tool use,
// policy checks, and audit for free. Model names are FlowPilot
// provider names.

type chatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`

	// Accepted for client compatibility; generation parameters are
	// owned by the provider configuration.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	N           int      `json:"n,omitempty"`
	Stop        any      `json:"stop,omitempty"`
	User        string   `json:"user,omitempty"`

	// Tools toggles the agent loop. Unset means enabled.
	Tools *bool `json:"tools,omitempty"`

	// MaxIterations caps agent loop turns for this request.
	MaxIterations int `json:"max_iterations,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type objectList struct {
	Object string `json:"object"`
	Data   any    `json:"data"`
}

// handleModels lists configured providers as OpenAI models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	cfg := s.snapshot()
	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	created := s.start.Unix()
	data := make([]modelInfo, 0, len(names))
	for _, name := range names {
		data = append(data, modelInfo{ID: name, Object: "model", Created: created, OwnedBy: "flowpilot"})
	}
	s.jsonResponse(w, objectList{Object: "list", Data: data})
}

// handleToolIndex lists the registered tools; a non-standard endpoint
// kept for clients that want to render the catalog.
func (s *Server) handleToolIndex(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, objectList{Object: "list", Data: s.registry.Definitions()})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBody))
	if err != nil {
		s.jsonError(w, "failed to read request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var req chatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		s.jsonError(w, "model is required", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		s.jsonError(w, "messages must not be empty", http.StatusBadRequest)
		return
	}

	provider, err := s.providers.Resolve(req.Model, "")
	if err != nil {
		s.jsonError(w, fmt.Sprintf("unknown model %q: %v", req.Model, err), http.StatusBadRequest)
		return
	}

	history, err := convertChatMessages(req.Messages)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, provider, req.Model, history)
		return
	}

	toolsEnabled := req.Tools == nil || *req.Tools
	if !toolsEnabled || !provider.SupportsToolUse() {
		s.directCompletion(w, r, provider, req.Model, history)
		return
	}

	loop, err := agent.NewLoop(agent.LoopOptions{
		Provider:      provider,
		Registry:      s.registry,
		Executor:      s.executor,
		Store:         s.audit,
		Logger:        s.logger,
		MaxIterations: req.MaxIterations,
		SystemPrompt:  s.systemPrompt,
		InputMode:     "api",
	})
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	result, err := loop.RunSeeded(r.Context(), "", history)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := result.Response
	if resp.StopReason == models.StopReasonError {
		s.jsonError(w, resp.Content, http.StatusBadGateway)
		return
	}

	s.jsonResponse(w, chatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Index: 0,
			Message: chatMessage{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: openaiToolCalls(resp.ToolCalls),
			},
			FinishReason: finishReason(resp.StopReason),
		}},
		Usage: chatUsage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	})
}

// directCompletion answers with a single provider turn, no tools.
func (s *Server) directCompletion(w http.ResponseWriter, r *http.Request, provider providers.LLMProvider, model string, history []models.Message) {
	resp, err := provider.Chat(r.Context(), s.withSystem(history), nil)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.jsonResponse(w, chatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: resp.Content},
			FinishReason: finishReason(resp.StopReason),
		}},
		Usage: chatUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

// streamCompletion relays provider frames as chat.completion.chunk
// events. Streaming skips the tool loop; clients that want tools use
// non-stream requests.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, provider providers.LLMProvider, model string, history []models.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, err := provider.StreamChat(r.Context(), s.withSystem(history), nil)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id := completionID()
	created := time.Now().Unix()
	emit := func(choice chunkChoice) {
		chunk := chatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chunkChoice{choice},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			s.logger.Error("json encode error", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	emit(chunkChoice{Delta: chunkDelta{Role: "assistant"}})
	for frame := range stream {
		if frame.Err != nil {
			payload, _ := json.Marshal(map[string]any{
				"error": map[string]string{"message": frame.Err.Error(), "type": "server_error"},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			return
		}
		if frame.Type == models.ChunkContent && frame.Content != "" {
			emit(chunkChoice{Delta: chunkDelta{Content: frame.Content}})
		}
	}
	reason := "stop"
	emit(chunkChoice{Delta: chunkDelta{}, FinishReason: &reason})
	io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// withSystem prepends the catalog system prompt unless the caller
// already supplied a system turn.
func (s *Server) withSystem(history []models.Message) []models.Message {
	for _, m := range history {
		if m.Role == models.RoleSystem {
			return history
		}
	}
	if s.systemPrompt == "" {
		return history
	}
	out := make([]models.Message, 0, len(history)+1)
	out = append(out, models.NewSystemMessage(s.systemPrompt))
	return append(out, history...)
}

// convertChatMessages rewrites OpenAI wire messages into the neutral
// log. Consecutive tool-role messages collapse into one tool_result
// turn so they sit directly after the assistant message that called
// them.
func convertChatMessages(in []chatMessage) ([]models.Message, error) {
	var out []models.Message
	var pending []models.ToolResultBlock
	flush := func() {
		if len(pending) > 0 {
			out = append(out, models.NewToolResultMessage(pending))
			pending = nil
		}
	}

	for i, m := range in {
		switch m.Role {
		case "system":
			flush()
			out = append(out, models.NewSystemMessage(m.Content))
		case "user":
			flush()
			out = append(out, models.NewUserMessage(m.Content))
		case "assistant":
			flush()
			calls, err := modelToolCalls(m.ToolCalls)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			out = append(out, models.NewAssistantMessage(m.Content, calls))
		case "tool":
			if m.ToolCallID == "" {
				return nil, fmt.Errorf("messages[%d]: tool message requires tool_call_id", i)
			}
			pending = append(pending, models.ToolResultBlock{ToolUseID: m.ToolCallID, Content: m.Content})
		default:
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
	}
	flush()
	return out, nil
}

func modelToolCalls(in []openaiToolCall) ([]models.ToolCall, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]models.ToolCall, 0, len(in))
	for _, tc := range in {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid arguments: %v", tc.ID, err)
			}
		}
		out = append(out, models.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func openaiToolCalls(in []models.ToolCall) []openaiToolCall {
	if len(in) == 0 {
		return nil
	}
	out := make([]openaiToolCall, 0, len(in))
	for _, tc := range in {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		out = append(out, openaiToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: openaiFunction{Name: tc.Name, Arguments: string(args)},
		})
	}
	return out
}

func finishReason(r models.StopReason) string {
	switch r {
	case models.StopReasonToolUse:
		return "tool_calls"
	case models.StopReasonMaxTokens:
		return "length"
	case models.StopReasonSafety:
		return "content_filter"
	default:
		return "stop"
	}
}

func completionID() string {
	u := uuid.New()
	return "chatcmpl-" + hex.EncodeToString(u[:6])
}
