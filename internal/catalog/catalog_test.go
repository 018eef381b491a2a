package catalog

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/policy"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	engine, err := policy.NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	store, err := inventory.Open(":memory:")
	if err != nil {
		t.Fatalf("inventory.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return Deps{
		Engine:   engine,
		Resolver: inventory.NewResolver(&config.Config{}, store),
	}
}

func TestBuildOps(t *testing.T) {
	cat, err := Build("", testDeps(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer cat.Close()

	if cat.Name != Ops {
		t.Errorf("name = %q", cat.Name)
	}
	want := []string{
		"ssh_exec", "ssh_exec_batch",
		"log_tail", "log_search", "docker_logs",
		"git_status", "git_log", "git_diff",
		"service_list", "service_control",
	}
	got := cat.Registry.Names()
	if len(got) != len(want) {
		t.Fatalf("tools = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tools[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if !strings.Contains(cat.SystemPrompt, "operations") {
		t.Errorf("unexpected system prompt: %.60s", cat.SystemPrompt)
	}
}

func TestBuildOpsRequiresDeps(t *testing.T) {
	deps := testDeps(t)

	missingEngine := deps
	missingEngine.Engine = nil
	if _, err := Build(Ops, missingEngine); err == nil || !strings.Contains(err.Error(), "policy engine") {
		t.Errorf("missing engine err = %v", err)
	}

	missingResolver := deps
	missingResolver.Resolver = nil
	if _, err := Build(Ops, missingResolver); err == nil || !strings.Contains(err.Error(), "inventory resolver") {
		t.Errorf("missing resolver err = %v", err)
	}
}

func TestBuildProxy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	cat, err := Build(Proxy, Deps{RulesDBPath: path})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []string{"list_rules", "get_rule", "create_rule", "update_rule", "delete_rule", "toggle_rule"}
	got := cat.Registry.Names()
	if len(got) != len(want) {
		t.Fatalf("tools = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tools[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if !strings.Contains(cat.SystemPrompt, "proxy") {
		t.Errorf("unexpected system prompt: %.60s", cat.SystemPrompt)
	}
	if err := cat.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBuildUnknownCatalog(t *testing.T) {
	_, err := Build("desktop", Deps{})
	if err == nil || !strings.Contains(err.Error(), `unknown catalog "desktop"`) {
		t.Errorf("err = %v", err)
	}
}

func TestCloseNilCatalog(t *testing.T) {
	var cat *Catalog
	if err := cat.Close(); err != nil {
		t.Errorf("Close on nil = %v", err)
	}
}
