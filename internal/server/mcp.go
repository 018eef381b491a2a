package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// maxRPCBody bounds a single JSON-RPC request body.
const maxRPCBody = 1 << 20

// JSON-RPC error codes, standard range plus the MCP-reserved block.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	codeResourceNotFound = -32001
	codeToolNotFound     = -32002
	codePromptNotFound   = -32003
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request carries no id and thus
// expects no response payload.
func (r *rpcRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func rpcResult(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func rpcFailure(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

// handleMessage is the JSON-RPC ingress. Responses are written back on
// the HTTP connection and, when the request names a live SSE session,
// pushed down its stream as well.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBody))
	if err != nil {
		s.writeRPC(w, http.StatusBadRequest, rpcFailure(nil, codeParseError, "failed to read request body: "+err.Error()))
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeRPC(w, http.StatusBadRequest, rpcFailure(nil, codeParseError, "parse error: "+err.Error()))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeRPC(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, "request is not a jsonrpc 2.0 call"))
		return
	}

	if req.isNotification() {
		s.logger.Debug("mcp notification", "method", req.Method)
		s.dispatch(r.Context(), &req)
		s.jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	var resp rpcResponse
	if rpcErr != nil {
		resp = rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	} else {
		resp = rpcResult(req.ID, result)
	}

	if sessionID != "" && s.sse.has(sessionID) {
		s.sse.send(sessionID, resp)
	}
	s.writeRPC(w, http.StatusOK, resp)
}

func (s *Server) writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req *rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return s.initializeResult(), nil

	case "initialized", "notifications/initialized":
		return struct{}{}, nil

	case "tools/list":
		return s.toolsList(), nil

	case "tools/call":
		var p toolCallParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		if p.Name == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "tool name is required"}
		}
		return s.toolsCall(ctx, p), nil

	case "resources/list":
		return s.resourcesList(), nil

	case "resources/read":
		var p resourceReadParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		if p.URI == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "resource uri is required"}
		}
		return s.resourcesRead(ctx, p.URI)

	case "prompts/list":
		return s.promptsList(), nil

	case "prompts/get":
		var p promptGetParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		if p.Name == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "prompt name is required"}
		}
		return s.promptsGet(p)

	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %q is not supported", req.Method)}
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %v", err)
	}
	return nil
}

// initialize handshake

type serverCapabilities struct {
	Tools     capToggle         `json:"tools"`
	Resources resourceCapToggle `json:"resources"`
	Prompts   capToggle         `json:"prompts"`
}

type capToggle struct {
	ListChanged bool `json:"listChanged"`
}

type resourceCapToggle struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

func (s *Server) initializeResult() initializeResult {
	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: serverCapabilities{
			Tools:     capToggle{ListChanged: true},
			Resources: resourceCapToggle{Subscribe: false, ListChanged: true},
			Prompts:   capToggle{ListChanged: true},
		},
		ServerInfo: serverInfo{Name: "flowpilot-mcp-server", Version: s.version},
	}
}

// tools

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolInfo `json:"tools"`
}

func (s *Server) toolsList() toolsListResult {
	defs := s.registry.Definitions()
	out := toolsListResult{Tools: make([]toolInfo, 0, len(defs))}
	for _, d := range defs {
		out.Tools = append(out.Tools, toolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError"`
}

func textResult(text string, isError bool) toolCallResult {
	return toolCallResult{
		Content: []toolContent{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// toolsCall executes one tool under the configured timeout. Tool-level
// failures come back as isError results, never as RPC errors, so the
// client model can read them and react.
func (s *Server) toolsCall(ctx context.Context, p toolCallParams) toolCallResult {
	s.logger.Info("mcp tool call", "tool", p.Name)

	tool, ok := s.registry.Get(p.Name)
	if !ok {
		return textResult(fmt.Sprintf("Tool `%s` not found", p.Name), true)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	type outcome struct {
		res *models.ToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := tool.Execute(callCtx, p.Arguments)
		select {
		case done <- outcome{res: res, err: err}:
		default:
		}
	}()

	var res *models.ToolResult
	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return textResult(fmt.Sprintf("Tool execution timed out after %v; the host may be unreachable", s.toolTimeout), true)
		}
		return textResult("cancelled", true)
	case out := <-done:
		if out.err != nil {
			return textResult("Tool execution failed: "+out.err.Error(), true)
		}
		res = out.res
	}
	if res == nil {
		return textResult("Tool execution failed: tool returned no result", true)
	}

	switch res.Status {
	case models.ToolSuccess:
		return textResult(res.Output, false)
	case models.ToolPendingConfirm:
		return textResult(confirmText(res), false)
	default:
		text := res.Error
		if text == "" {
			text = "execution failed"
		}
		return textResult(text, true)
	}
}

// confirmText renders a pending confirmation so the client model can
// relay it and re-invoke with the token once the user approves.
func confirmText(res *models.ToolResult) string {
	preview := func(key, fallback string) string {
		if v, ok := res.Preview[key]; ok {
			return fmt.Sprint(v)
		}
		return fallback
	}

	var b strings.Builder
	b.WriteString("⚠️  This operation requires user confirmation\n\n")
	fmt.Fprintf(&b, "Reason: %s\n", preview("message", "policy requires confirmation"))
	fmt.Fprintf(&b, "Environment: %s\n", preview("env", "unknown"))
	fmt.Fprintf(&b, "Risk level: %s\n", preview("risk_level", "unknown"))
	fmt.Fprintf(&b, "Host: %s\n", preview("host_info", "unknown"))
	fmt.Fprintf(&b, "Command: %s\n\n", preview("command", "unknown"))
	fmt.Fprintf(&b, "Confirm token: %s\n\n", res.ConfirmToken)
	fmt.Fprintf(&b, "Once the user approves, call the tool again with %s set to this token.", models.ConfirmTokenArg)
	return b.String()
}
