// Package catalog assembles the tool registries FlowPilot runs with.
// Two catalogs ship: "ops" carries the SSH, log, git, and service
// tools gated by the policy engine; "proxy" carries the proxy-rule
// CRUD tools over their SQLite store. Each pairs the registry with the
// system prompt that teaches the model how to drive it.
package catalog

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/mrtian2016/flowpilot/internal/agent"
	"github.com/mrtian2016/flowpilot/internal/config"
	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/observability"
	"github.com/mrtian2016/flowpilot/internal/policy"
	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/internal/tools/git"
	"github.com/mrtian2016/flowpilot/internal/tools/logs"
	"github.com/mrtian2016/flowpilot/internal/tools/proxyrules"
	"github.com/mrtian2016/flowpilot/internal/tools/service"
	"github.com/mrtian2016/flowpilot/internal/tools/ssh"
)

// Built-in catalog names.
const (
	Ops   = "ops"
	Proxy = "proxy"
)

// Deps carries the shared runtime pieces a catalog may draw on.
// Catalogs ignore the fields they do not need.
type Deps struct {
	Engine   *policy.Engine
	Resolver *inventory.Resolver
	Metrics  *observability.Metrics

	// RulesDBPath locates the proxy-rule store. Empty selects
	// proxy_rules.db under the FlowPilot config directory.
	RulesDBPath string
}

// Catalog is an assembled registry plus its system prompt. Close
// releases any stores the catalog opened.
type Catalog struct {
	Name         string
	Registry     *agent.Registry
	SystemPrompt string

	closers []io.Closer
}

// Close closes the catalog's private stores. Safe on a nil receiver.
func (c *Catalog) Close() error {
	if c == nil {
		return nil
	}
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build assembles the named catalog. An empty name selects ops.
func Build(name string, deps Deps) (*Catalog, error) {
	switch name {
	case "", Ops:
		return buildOps(deps)
	case Proxy:
		return buildProxy(deps)
	default:
		return nil, fmt.Errorf("unknown catalog %q (available: %s, %s)", name, Ops, Proxy)
	}
}

func buildOps(deps Deps) (*Catalog, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("ops catalog requires a policy engine")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("ops catalog requires an inventory resolver")
	}

	gate := tools.NewGatekeeper(deps.Engine, deps.Metrics)
	runner := ssh.NewRunner(deps.Resolver, deps.Metrics)
	exec := ssh.NewExecTool(gate, deps.Resolver, runner)

	reg := agent.NewRegistry()
	reg.MustRegister(exec)
	reg.MustRegister(ssh.NewBatchTool(gate, deps.Resolver, runner))
	reg.MustRegister(logs.NewTailTool(exec))
	reg.MustRegister(logs.NewSearchTool(exec))
	reg.MustRegister(logs.NewDockerLogsTool(exec))
	reg.MustRegister(git.NewStatusTool(exec))
	reg.MustRegister(git.NewLogTool(exec))
	reg.MustRegister(git.NewDiffTool(exec))
	reg.MustRegister(service.NewListTool(deps.Resolver))
	reg.MustRegister(service.NewControlTool(deps.Resolver, exec))

	return &Catalog{Name: Ops, Registry: reg, SystemPrompt: agent.DefaultSystemPrompt}, nil
}

func buildProxy(deps Deps) (*Catalog, error) {
	path := deps.RulesDBPath
	if path == "" {
		path = filepath.Join(config.DefaultDir(), "proxy_rules.db")
	}
	store, err := proxyrules.Open(path)
	if err != nil {
		return nil, err
	}

	reg := agent.NewRegistry()
	reg.MustRegister(proxyrules.NewListTool(store))
	reg.MustRegister(proxyrules.NewGetTool(store))
	reg.MustRegister(proxyrules.NewCreateTool(store))
	reg.MustRegister(proxyrules.NewUpdateTool(store))
	reg.MustRegister(proxyrules.NewDeleteTool(store))
	reg.MustRegister(proxyrules.NewToggleTool(store))

	return &Catalog{
		Name:         Proxy,
		Registry:     reg,
		SystemPrompt: proxyrules.SystemPrompt,
		closers:      []io.Closer{store},
	}, nil
}
