package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mrtian2016/flowpilot/internal/audit"
	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// getJSON fetches target and decodes the body into out when the status
// is 200. List endpoints return bare arrays, so out is caller-typed.
func getJSON(t *testing.T, srv *Server, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v\n%s", target, err, rec.Body.String())
		}
	}
	return rec
}

func TestHostLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	var hosts []inventory.Host
	getJSON(t, srv, "/api/hosts", &hosts)
	if len(hosts) != 1 || hosts[0].Name != "web-1" {
		t.Fatalf("seed hosts = %+v", hosts)
	}

	rec, body := doJSON(t, srv, http.MethodPost, "/api/hosts",
		`{"name":"db-1","addr":"10.0.0.9","user":"deploy","env":"staging","tags":["postgres"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %v", rec.Code, body)
	}
	if body["port"] != float64(22) || body["group"] != "default" {
		t.Errorf("defaults not applied: %v", body)
	}
	if id, _ := body["id"].(string); id == "" {
		t.Error("created host has no id")
	}

	hosts = nil
	getJSON(t, srv, "/api/hosts", &hosts)
	if len(hosts) != 2 {
		t.Fatalf("hosts after create = %d", len(hosts))
	}

	var got inventory.Host
	if rec := getJSON(t, srv, "/api/hosts/db-1", &got); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got.Addr != "10.0.0.9" || got.Env != "staging" {
		t.Errorf("get = %+v", got)
	}

	rec, body = doJSON(t, srv, http.MethodPut, "/api/hosts/db-1",
		`{"port":2222,"description":"primary database"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %v", rec.Code, body)
	}
	if body["port"] != float64(2222) || body["description"] != "primary database" {
		t.Errorf("patch not applied: %v", body)
	}
	if body["addr"] != "10.0.0.9" {
		t.Errorf("unpatched field changed: %v", body["addr"])
	}

	rec, body = doJSON(t, srv, http.MethodDelete, "/api/hosts/db-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if body["message"] != `deleted host "db-1"` {
		t.Errorf("message = %v", body["message"])
	}

	if rec := getJSON(t, srv, "/api/hosts/db-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
}

func TestHostCreateValidation(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "missing fields",
			body:     `{"name":"lonely"}`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "name, addr, user, and env are required",
		},
		{
			name:     "config owned",
			body:     `{"name":"web-1","addr":"10.0.0.1","user":"deploy","env":"prod"}`,
			wantCode: http.StatusConflict,
			wantMsg:  "declared in the config file",
		},
		{
			name:     "malformed body",
			body:     `{`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "invalid request body",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			rec, body := doJSON(t, srv, http.MethodPost, "/api/hosts", tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tc.wantMsg) {
				t.Errorf("error = %q, want substring %q", msg, tc.wantMsg)
			}
		})
	}
}

func TestHostCreateDuplicate(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := `{"name":"db-1","addr":"10.0.0.9","user":"deploy","env":"staging"}`

	if rec, _ := doJSON(t, srv, http.MethodPost, "/api/hosts", payload); rec.Code != http.StatusCreated {
		t.Fatalf("first create = %d", rec.Code)
	}
	rec, body := doJSON(t, srv, http.MethodPost, "/api/hosts", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second create = %d", rec.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "already exists") {
		t.Errorf("error = %q", msg)
	}
}

func TestConfigHostsAreImmutable(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, body := doJSON(t, srv, http.MethodPut, "/api/hosts/web-1", `{"port":2222}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("update status = %d", rec.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "edit the config") {
		t.Errorf("error = %q", msg)
	}

	rec, _ = doJSON(t, srv, http.MethodDelete, "/api/hosts/web-1", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestHostListFilters(t *testing.T) {
	srv := newTestServer(t, nil)
	seed := []string{
		`{"name":"db-staging","addr":"10.0.1.1","user":"deploy","env":"staging","group":"infra"}`,
		`{"name":"cache-prod","addr":"10.0.1.2","user":"deploy","env":"prod","group":"infra"}`,
	}
	for _, payload := range seed {
		if rec, body := doJSON(t, srv, http.MethodPost, "/api/hosts", payload); rec.Code != http.StatusCreated {
			t.Fatalf("seed = %d: %v", rec.Code, body)
		}
	}

	cases := []struct {
		query string
		want  []string
	}{
		{query: "?env=prod", want: []string{"web-1", "cache-prod"}},
		{query: "?group=infra", want: []string{"db-staging", "cache-prod"}},
		{query: "?env=prod&group=infra", want: []string{"cache-prod"}},
		{query: "?env=nowhere", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			var hosts []inventory.Host
			getJSON(t, srv, "/api/hosts"+tc.query, &hosts)
			if len(hosts) != len(tc.want) {
				t.Fatalf("hosts = %+v, want %v", hosts, tc.want)
			}
			names := map[string]bool{}
			for _, h := range hosts {
				names[h.Name] = true
			}
			for _, w := range tc.want {
				if !names[w] {
					t.Errorf("missing %q in %v", w, names)
				}
			}
		})
	}
}

func TestServiceLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	var services []inventory.Service
	rec := getJSON(t, srv, "/api/services", &services)
	if rec.Code != http.StatusOK || len(services) != 0 {
		t.Fatalf("seed services = %d %+v", rec.Code, services)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty list must render as [], got %q", rec.Body.String())
	}

	rec2, body := doJSON(t, srv, http.MethodPost, "/api/services",
		`{"name":"nginx","host":"web-1"}`)
	if rec2.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %v", rec2.Code, body)
	}
	if body["kind"] != "systemd" {
		t.Errorf("kind default = %v", body["kind"])
	}
	if body["env"] != "prod" {
		t.Errorf("env not inherited from host: %v", body["env"])
	}
	if body["unit"] != "nginx" {
		t.Errorf("unit default = %v", body["unit"])
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("created service has no id")
	}

	services = nil
	getJSON(t, srv, "/api/services", &services)
	if len(services) != 1 || services[0].Name != "nginx" {
		t.Fatalf("services = %+v", services)
	}

	rec2, body = doJSON(t, srv, http.MethodDelete, "/api/services/"+id, "")
	if rec2.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec2.Code)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "deleted service") {
		t.Errorf("message = %v", body["message"])
	}

	rec2, _ = doJSON(t, srv, http.MethodDelete, "/api/services/"+id, "")
	if rec2.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", rec2.Code)
	}
}

func TestServiceCreateValidation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "missing host", body: `{"name":"nginx"}`, wantMsg: "name and host are required"},
		{name: "bad kind", body: `{"name":"nginx","host":"web-1","kind":"k8s"}`, wantMsg: `kind must be systemd, docker, or pm2, got "k8s"`},
		{name: "unknown host", body: `{"name":"nginx","host":"ghost"}`, wantMsg: `host "ghost" does not exist`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			rec, body := doJSON(t, srv, http.MethodPost, "/api/services", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tc.wantMsg) {
				t.Errorf("error = %q, want substring %q", msg, tc.wantMsg)
			}
		})
	}
}

func TestJumpAndPolicyLists(t *testing.T) {
	srv := newTestServer(t, nil)

	var jumps []inventory.Jump
	getJSON(t, srv, "/api/jumps", &jumps)
	if len(jumps) != 1 || jumps[0].Name != "bastion" || jumps[0].Addr != "bastion.example.com" {
		t.Errorf("jumps = %+v", jumps)
	}

	var policies []map[string]any
	getJSON(t, srv, "/api/policies", &policies)
	if len(policies) != 1 {
		t.Fatalf("policies = %+v", policies)
	}
	if policies[0]["name"] != "prod-guard" || policies[0]["effect"] != "require_confirm" {
		t.Errorf("policy rendering = %v", policies[0])
	}
}

func seedSessions(t *testing.T, store *audit.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateSession(ctx, "sess_a", "check disk on web-1", "cli"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	done := models.SessionCompleted
	if err := store.UpdateSession(ctx, "sess_a", audit.SessionPatch{Status: &done}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := store.CreateSession(ctx, "sess_b", "tail nginx logs", "api"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestAuditSessionEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	var sessions []models.AuditSession
	rec := getJSON(t, srv, "/api/audit/sessions", &sessions)
	if rec.Code != http.StatusOK || len(sessions) != 0 {
		t.Fatalf("empty list = %d %+v", rec.Code, sessions)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty list must render as [], got %q", rec.Body.String())
	}

	seedSessions(t, srv.audit)

	sessions = nil
	getJSON(t, srv, "/api/audit/sessions", &sessions)
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d", len(sessions))
	}

	sessions = nil
	getJSON(t, srv, "/api/audit/sessions?status=completed", &sessions)
	if len(sessions) != 1 || sessions[0].SessionID != "sess_a" {
		t.Errorf("status filter = %+v", sessions)
	}

	sessions = nil
	getJSON(t, srv, "/api/audit/sessions?limit=1", &sessions)
	if len(sessions) != 1 {
		t.Errorf("limit = %d sessions", len(sessions))
	}

	for _, bad := range []string{"abc", "0", "-3"} {
		rec, body := doJSON(t, srv, http.MethodGet, "/api/audit/sessions?limit="+bad, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d", bad, rec.Code)
		}
		if msg, _ := body["error"].(string); !strings.Contains(msg, "positive integer") {
			t.Errorf("limit=%s error = %q", bad, msg)
		}
	}
}

func TestAuditSessionDetail(t *testing.T) {
	srv := newTestServer(t, nil)
	seedSessions(t, srv.audit)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/audit/sessions/sess_a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["session_id"] != "sess_a" || body["input"] != "check disk on web-1" {
		t.Errorf("detail = %v", body)
	}
	if body["status"] != "completed" {
		t.Errorf("status = %v", body["status"])
	}

	rec, body = doJSON(t, srv, http.MethodGet, "/api/audit/sessions/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", rec.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, `session "nope" does not exist`) {
		t.Errorf("error = %q", msg)
	}
}

func TestAuditSessionCount(t *testing.T) {
	srv := newTestServer(t, nil)
	seedSessions(t, srv.audit)

	_, body := doJSON(t, srv, http.MethodGet, "/api/audit/sessions/count", "")
	if body["sessions_count"] != float64(2) {
		t.Errorf("count = %v", body)
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, nil)
	seedSessions(t, srv.audit)
	if rec, body := doJSON(t, srv, http.MethodPost, "/api/hosts",
		`{"name":"db-1","addr":"10.0.0.9","user":"deploy","env":"staging"}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed host = %d: %v", rec.Code, body)
	}
	if rec, body := doJSON(t, srv, http.MethodPost, "/api/services",
		`{"name":"nginx","host":"web-1"}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed service = %d: %v", rec.Code, body)
	}

	_, body := doJSON(t, srv, http.MethodGet, "/api/stats", "")
	want := map[string]float64{
		"hosts_count":    2,
		"jumps_count":    1,
		"services_count": 1,
		"policies_count": 1,
		"sessions_count": 2,
	}
	for key, n := range want {
		if body[key] != n {
			t.Errorf("%s = %v, want %v", key, body[key], n)
		}
	}
}
