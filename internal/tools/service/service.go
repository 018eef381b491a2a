// Package service implements service_list and service_control over
// the fleet inventory. service_control resolves a fuzzy host/service
// query to exactly one configured service before it builds the
// manager command, so the model can say "restart the api on web" and
// still only ever touch a unit the operator wrote down.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// CommandRunner is the policy-checked remote executor used by
// service_control.
type CommandRunner interface {
	Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

// ListTool renders the configured service catalog, optionally
// filtered by host or service keyword.
type ListTool struct {
	resolver *inventory.Resolver
}

func NewListTool(resolver *inventory.Resolver) *ListTool {
	return &ListTool{resolver: resolver}
}

func (t *ListTool) Name() string { return "service_list" }

func (t *ListTool) Description() string {
	return "List services configured across the fleet. Filter by host or service keyword."
}

func (t *ListTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Only show services on hosts matching this keyword",
			},
			"service": map[string]interface{}{
				"type":        "string",
				"description": "Only show services matching this keyword",
			},
		},
	})
}

func (t *ListTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Host    string `json:"host"`
		Service string `json:"service"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}

	matches, hosts, err := t.match(ctx, input.Host, input.Service)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("list services: %v", err)), nil
	}
	if len(matches) == 0 {
		return models.SuccessResult("No services matched. Try service_list without filters to see everything configured."), nil
	}

	var b strings.Builder
	b.WriteString("## Services\n")
	current := ""
	for _, svc := range matches {
		if svc.Host != current {
			current = svc.Host
			fmt.Fprintf(&b, "\n### %s\n", hostTitle(hosts, current))
		}
		fmt.Fprintf(&b, "- **%s**: `%s` (%s)\n", svc.Name, svc.Unit, svc.Kind)
		if svc.Description != "" {
			fmt.Fprintf(&b, "  - %s\n", svc.Description)
		}
	}

	res := models.SuccessResult(b.String())
	res.Metadata = map[string]any{"count": len(matches)}
	return res, nil
}

func (t *ListTool) match(ctx context.Context, hostQuery, serviceQuery string) ([]inventory.Service, map[string]inventory.Host, error) {
	return matchServices(ctx, t.resolver, hostQuery, serviceQuery)
}

// ControlTool starts, stops, restarts, or shows one configured
// service. The command it builds depends on the service kind, and it
// runs through the ssh_exec tool so the policy engine sees it.
type ControlTool struct {
	resolver *inventory.Resolver
	exec     CommandRunner
}

func NewControlTool(resolver *inventory.Resolver, exec CommandRunner) *ControlTool {
	return &ControlTool{resolver: resolver, exec: exec}
}

func (t *ControlTool) Name() string { return "service_control" }

func (t *ControlTool) Description() string {
	return "Start, stop, restart, or check the status of a configured service. Host and service accept keywords but must identify exactly one service."
}

func (t *ControlTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"host": map[string]interface{}{
				"type":        "string",
				"description": "Host keyword",
			},
			"service": map[string]interface{}{
				"type":        "string",
				"description": "Service keyword",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"start", "stop", "restart", "status"},
				"description": "What to do with the service",
			},
			models.ConfirmTokenArg: map[string]interface{}{
				"type":        "string",
				"description": "Confirmation token from a previous pending_confirm result",
			},
		},
		"required": []string{"host", "service", "action"},
	})
}

func (t *ControlTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Host         string `json:"host"`
		Service      string `json:"service"`
		Action       string `json:"action"`
		ConfirmToken string `json:"_confirm_token"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.Host == "" || input.Service == "" || input.Action == "" {
		return models.ErrorResult("host, service, and action are required"), nil
	}
	switch input.Action {
	case "start", "stop", "restart", "status":
	default:
		return models.ErrorResult(fmt.Sprintf("unknown action %q: use start, stop, restart, or status", input.Action)), nil
	}

	matches, hosts, err := matchServices(ctx, t.resolver, input.Host, input.Service)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("resolve service: %v", err)), nil
	}
	switch {
	case len(matches) == 0:
		return models.ErrorResult(fmt.Sprintf("No service matching %q on a host matching %q. Use service_list to see what is configured.",
			input.Service, input.Host)), nil
	case len(matches) > 1:
		lines := make([]string, 0, len(matches))
		for _, svc := range matches {
			lines = append(lines, fmt.Sprintf("- %s: %s (`%s`)", hostTitle(hosts, svc.Host), svc.Name, svc.Unit))
		}
		return models.ErrorResult(fmt.Sprintf("%d services match; narrow the host or service keyword:\n%s",
			len(matches), strings.Join(lines, "\n"))), nil
	}

	svc := matches[0]
	command := controlCommand(svc.Kind, svc.Unit, input.Action)
	if command == "" {
		return models.ErrorResult(fmt.Sprintf("service %s has unsupported kind %q", svc.Name, svc.Kind)), nil
	}

	execArgs := map[string]any{"host": svc.Host, "command": command}
	if input.ConfirmToken != "" {
		execArgs[models.ConfirmTokenArg] = input.ConfirmToken
	}
	res, err := t.exec.Execute(ctx, execArgs)
	if err != nil || res == nil {
		return res, err
	}
	if res.Status == models.ToolSuccess {
		res.Output = fmt.Sprintf("✅ %s %s on %s\n\n%s", input.Action, svc.Name, svc.Host, res.Output)
		if res.Metadata == nil {
			res.Metadata = make(map[string]any, 3)
		}
		res.Metadata["service"] = svc.Name
		res.Metadata["unit"] = svc.Unit
		res.Metadata["action"] = input.Action
	}
	return res, nil
}

// controlCommand maps a service kind and action onto the manager
// command for it. Status is special-cased for docker and pm2 because
// neither has a direct status verb.
func controlCommand(kind, unit, action string) string {
	switch kind {
	case "systemd":
		return fmt.Sprintf("sudo systemctl %s %s", action, unit)
	case "docker":
		if action == "status" {
			return fmt.Sprintf("docker ps -f name=%s", unit)
		}
		return fmt.Sprintf("docker %s %s", action, unit)
	case "pm2":
		if action == "status" {
			return fmt.Sprintf("pm2 show %s", unit)
		}
		return fmt.Sprintf("pm2 %s %s", action, unit)
	default:
		return ""
	}
}

// matchServices filters the catalog with case-insensitive substring
// queries. A host query matches the host name or its description; a
// service query matches the service name, unit, or description.
func matchServices(ctx context.Context, resolver *inventory.Resolver, hostQuery, serviceQuery string) ([]inventory.Service, map[string]inventory.Host, error) {
	services, err := resolver.Services(ctx)
	if err != nil {
		return nil, nil, err
	}
	hostList, err := resolver.Hosts(ctx)
	if err != nil {
		return nil, nil, err
	}
	hosts := make(map[string]inventory.Host, len(hostList))
	for _, h := range hostList {
		hosts[h.Name] = h
	}

	matches := make([]inventory.Service, 0, len(services))
	for _, svc := range services {
		if hostQuery != "" && !hostMatches(svc.Host, hosts, hostQuery) {
			continue
		}
		if serviceQuery != "" && !serviceMatches(svc, serviceQuery) {
			continue
		}
		matches = append(matches, svc)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Host != matches[j].Host {
			return matches[i].Host < matches[j].Host
		}
		return matches[i].Name < matches[j].Name
	})
	return matches, hosts, nil
}

func hostMatches(name string, hosts map[string]inventory.Host, query string) bool {
	if containsFold(name, query) {
		return true
	}
	h, ok := hosts[name]
	return ok && containsFold(h.Description, query)
}

func serviceMatches(svc inventory.Service, query string) bool {
	return containsFold(svc.Name, query) ||
		containsFold(svc.Unit, query) ||
		containsFold(svc.Description, query)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func hostTitle(hosts map[string]inventory.Host, name string) string {
	if h, ok := hosts[name]; ok && h.Description != "" {
		return fmt.Sprintf("%s (`%s`)", h.Description, name)
	}
	return fmt.Sprintf("`%s`", name)
}

func marshalSchema(schema map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
