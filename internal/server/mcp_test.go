package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

func postMessage(t *testing.T, srv *Server, body string) (int, rpcResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid envelope: %v\n%s", err, rec.Body.String())
	}
	return rec.Code, resp
}

// callResult unpacks a tools/call result into its text and error flag.
func callResult(t *testing.T, resp rpcResponse) (string, bool) {
	t.Helper()
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want object (error: %+v)", resp.Result, resp.Error)
	}
	content, ok := result["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("content missing: %+v", result)
	}
	first, _ := content[0].(map[string]any)
	text, _ := first["text"].(string)
	isError, _ := result["isError"].(bool)
	return text, isError
}

func TestInitializeHandshake(t *testing.T) {
	srv := newTestServer(t, nil)
	code, resp := postMessage(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "flowpilot-mcp-server" {
		t.Errorf("server name = %v", info["name"])
	}
	if info["version"] != "test" {
		t.Errorf("server version = %v", info["version"])
	}
	caps := result["capabilities"].(map[string]any)
	if _, ok := caps["tools"]; !ok {
		t.Error("capabilities missing tools")
	}
	if string(resp.ID) != "1" {
		t.Errorf("id = %s", resp.ID)
	}
}

func TestMessageParseError(t *testing.T) {
	srv := newTestServer(t, nil)
	code, resp := postMessage(t, srv, `{not json`)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d", code)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("error = %+v, want %d", resp.Error, codeParseError)
	}
}

func TestMessageInvalidEnvelope(t *testing.T) {
	srv := newTestServer(t, nil)
	code, resp := postMessage(t, srv, `{"jsonrpc":"1.0","id":2,"method":"initialize"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("error = %+v, want %d", resp.Error, codeInvalidRequest)
	}
}

func TestMessageUnknownMethod(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv, `{"jsonrpc":"2.0","id":3,"method":"bogus/thing"}`)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want %d", resp.Error, codeMethodNotFound)
	}
}

func TestNotificationAcknowledged(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, body := doJSON(t, srv, http.MethodPost, "/message", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv, `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`)
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	tools := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(tools))
	}
	tool := tools[0].(map[string]any)
	if tool["name"] != "echo_tool" {
		t.Errorf("name = %v", tool["name"])
	}
	if _, ok := tool["inputSchema"]; !ok {
		t.Error("tool entry missing inputSchema")
	}
}

func TestToolsCallSuccess(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo_tool","arguments":{"text":"hello"}}}`)
	text, isError := callResult(t, resp)
	if isError {
		t.Fatalf("isError set: %s", text)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)
	if resp.Error != nil {
		t.Fatalf("unknown tool must be a result, not an rpc error: %+v", resp.Error)
	}
	text, isError := callResult(t, resp)
	if !isError {
		t.Error("isError not set")
	}
	if text != "Tool `nope` not found" {
		t.Errorf("text = %q", text)
	}
}

func TestToolsCallMissingName(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"arguments":{}}}`)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want %d", resp.Error, codeInvalidParams)
	}
}

func TestToolsCallErrorResult(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.registry.MustRegister(&stubTool{
		name: "failing_tool",
		execute: func(context.Context, map[string]any) (*models.ToolResult, error) {
			return models.ErrorResult("disk on fire"), nil
		},
	})
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"failing_tool","arguments":{}}}`)
	text, isError := callResult(t, resp)
	if !isError {
		t.Error("isError not set")
	}
	if text != "disk on fire" {
		t.Errorf("text = %q", text)
	}
}

func TestToolsCallPendingConfirm(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.registry.MustRegister(&stubTool{
		name: "guarded_tool",
		execute: func(context.Context, map[string]any) (*models.ToolResult, error) {
			return models.PendingResult("tok-123", map[string]any{
				"message":   "production requires confirmation",
				"env":       "prod",
				"command":   "systemctl restart nginx",
				"host_info": "web-1 (10.0.0.1)",
			}), nil
		},
	})
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"guarded_tool","arguments":{}}}`)
	text, isError := callResult(t, resp)
	if isError {
		t.Fatal("pending confirmation must not be an error result")
	}
	for _, want := range []string{
		"Confirm token: tok-123",
		"production requires confirmation",
		"Environment: prod",
		"Host: web-1 (10.0.0.1)",
		models.ConfirmTokenArg,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	if !strings.Contains(text, "Risk level: unknown") {
		t.Errorf("absent preview keys must fall back to unknown:\n%s", text)
	}
}

func TestToolsCallTimeout(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.registry.MustRegister(&stubTool{
		name: "slow_tool",
		execute: func(ctx context.Context, _ map[string]any) (*models.ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return models.SuccessResult("too late"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	start := time.Now()
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"slow_tool","arguments":{}}}`)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("call did not time out promptly: %v", elapsed)
	}
	text, isError := callResult(t, resp)
	if !isError {
		t.Error("isError not set")
	}
	if !strings.Contains(text, "timed out") {
		t.Errorf("text = %q", text)
	}
}

func TestResourcesList(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv, `{"jsonrpc":"2.0","id":11,"method":"resources/list"}`)
	result := resp.Result.(map[string]any)
	resources := result["resources"].([]any)
	if len(resources) != 4 {
		t.Fatalf("resources = %d, want 4", len(resources))
	}
	uris := map[string]bool{}
	for _, r := range resources {
		entry := r.(map[string]any)
		uris[entry["uri"].(string)] = true
		if entry["mimeType"] != resourceMime {
			t.Errorf("mimeType = %v", entry["mimeType"])
		}
	}
	for _, want := range []string{"flowpilot://hosts", "flowpilot://services", "flowpilot://policies", "flowpilot://jumps"} {
		if !uris[want] {
			t.Errorf("missing resource %s", want)
		}
	}
}

// readResource fetches one resource and returns its decoded text.
func readResource(t *testing.T, srv *Server, uri string) string {
	t.Helper()
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":12,"method":"resources/read","params":{"uri":"%s"}}`, uri)
	_, resp := postMessage(t, srv, body)
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	contents := result["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	entry := contents[0].(map[string]any)
	if entry["uri"] != uri {
		t.Errorf("uri = %v", entry["uri"])
	}
	if entry["mimeType"] != resourceMime {
		t.Errorf("mimeType = %v", entry["mimeType"])
	}
	return entry["text"].(string)
}

func TestResourcesReadHosts(t *testing.T) {
	srv := newTestServer(t, nil)
	text := readResource(t, srv, "flowpilot://hosts")

	var hosts map[string]map[string]any
	if err := json.Unmarshal([]byte(text), &hosts); err != nil {
		t.Fatalf("text is not a JSON object: %v", err)
	}
	web, ok := hosts["web-1"]
	if !ok {
		t.Fatalf("config host missing: %v", hosts)
	}
	if web["env"] != "prod" || web["addr"] != "10.0.0.1" {
		t.Errorf("host view = %v", web)
	}
	if _, leaked := web["ssh_key"]; leaked {
		t.Error("host view must not carry key paths")
	}
}

func TestResourcesReadPoliciesAndJumps(t *testing.T) {
	srv := newTestServer(t, nil)

	policiesText := readResource(t, srv, "flowpilot://policies")
	if !strings.Contains(policiesText, "prod-guard") {
		t.Errorf("policies text missing rule name:\n%s", policiesText)
	}

	jumpsText := readResource(t, srv, "flowpilot://jumps")
	var jumps map[string]map[string]any
	if err := json.Unmarshal([]byte(jumpsText), &jumps); err != nil {
		t.Fatalf("jumps text: %v", err)
	}
	if jumps["bastion"]["addr"] != "bastion.example.com" {
		t.Errorf("jumps = %v", jumps)
	}
}

func TestResourcesReadUnknown(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":13,"method":"resources/read","params":{"uri":"flowpilot://nope"}}`)
	if resp.Error == nil || resp.Error.Code != codeResourceNotFound {
		t.Fatalf("error = %+v, want %d", resp.Error, codeResourceNotFound)
	}
}

func TestPromptsList(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv, `{"jsonrpc":"2.0","id":14,"method":"prompts/list"}`)
	result := resp.Result.(map[string]any)
	prompts := result["prompts"].([]any)
	if len(prompts) != 4 {
		t.Fatalf("prompts = %d, want 4", len(prompts))
	}
	names := map[string]bool{}
	for _, p := range prompts {
		names[p.(map[string]any)["name"].(string)] = true
	}
	for _, want := range []string{"troubleshoot_service", "batch_operation", "analyze_logs", "health_check"} {
		if !names[want] {
			t.Errorf("missing prompt %s", want)
		}
	}
}

func TestPromptsGetRendersArguments(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":15,"method":"prompts/get","params":{"name":"analyze_logs","arguments":{"host":"web-1","log_path":"/var/log/app.log"}}}`)
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	messages := result["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("messages = %d", len(messages))
	}
	msg := messages[0].(map[string]any)
	if msg["role"] != "user" {
		t.Errorf("role = %v", msg["role"])
	}
	text := msg["content"].(map[string]any)["text"].(string)
	if !strings.Contains(text, "web-1") || !strings.Contains(text, "/var/log/app.log") {
		t.Errorf("arguments not substituted:\n%s", text)
	}
	if !strings.Contains(text, "{time_range}") {
		t.Errorf("unprovided placeholder must stay literal:\n%s", text)
	}
}

func TestPromptsGetUnknown(t *testing.T) {
	srv := newTestServer(t, nil)
	_, resp := postMessage(t, srv,
		`{"jsonrpc":"2.0","id":16,"method":"prompts/get","params":{"name":"nope"}}`)
	if resp.Error == nil || resp.Error.Code != codePromptNotFound {
		t.Fatalf("error = %+v, want %d", resp.Error, codePromptNotFound)
	}
}

func TestSSEStreamDeliversEndpointPushAndHeartbeat(t *testing.T) {
	srv := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	var sessionID string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.sse.mu.Lock()
		for id := range srv.sse.sessions {
			sessionID = id
		}
		srv.sse.mu.Unlock()
		if sessionID != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sessionID == "" {
		t.Fatal("sse session never registered")
	}

	// Bind a call to the session so its response is mirrored.
	req2 := httptest.NewRequest(http.MethodPost, "/message?session_id="+sessionID,
		strings.NewReader(`{"jsonrpc":"2.0","id":21,"method":"initialize","params":{}}`))
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("bound message status = %d", rec2.Code)
	}

	// Heartbeat interval in the test config is 20ms.
	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	out := rec.Body.String()
	if !strings.Contains(out, "event: endpoint\ndata: /message?session_id="+sessionID) {
		t.Errorf("endpoint frame missing:\n%s", out)
	}
	if !strings.Contains(out, `"protocolVersion"`) {
		t.Errorf("pushed response missing:\n%s", out)
	}
	if !strings.Contains(out, ": heartbeat") {
		t.Errorf("heartbeat missing:\n%s", out)
	}
	if srv.sse.len() != 0 {
		t.Errorf("session not cleaned up, len = %d", srv.sse.len())
	}
}
