package server

import (
	"fmt"
	"strings"
)

// Prompt is a reusable task template exposed over prompts/list. The
// template is rendered with the caller's arguments; placeholders use
// {name} syntax and unprovided ones are left as-is.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments"`
	Template    string           `json:"-"`
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

func (p Prompt) render(args map[string]any) string {
	text := p.Template
	for key, value := range args {
		text = strings.ReplaceAll(text, "{"+key+"}", fmt.Sprint(value))
	}
	return text
}

func defaultPrompts() []Prompt {
	return []Prompt{
		{
			Name:        "troubleshoot_service",
			Description: "Diagnose a misbehaving service step by step",
			Arguments: []PromptArgument{
				{Name: "service", Description: "Service name", Required: true},
				{Name: "symptom", Description: "Observed symptom", Required: true},
			},
			Template: `The service {service} is misbehaving: {symptom}

Troubleshoot it step by step:
1. Check the hosts the service runs on with ssh_exec (uptime, df -h, free -m)
2. Pull its most recent log lines with log_tail (or docker_logs for containers)
3. Search the logs for errors with log_search (pattern ERROR)
4. Analyze what you found and recommend a concrete fix`,
		},
		{
			Name:        "batch_operation",
			Description: "Run an operation across multiple hosts with safeguards",
			Arguments: []PromptArgument{
				{Name: "operation", Description: "Command or action to run", Required: true},
				{Name: "targets", Description: "Hosts or group to target", Required: true},
			},
			Template: `Run this operation on {targets}: {operation}

Work through it carefully:
1. Resolve every target and note its environment (the flowpilot://hosts resource lists them)
2. If any target is production, say so explicitly and wait for the user to approve
3. Execute on a single host first with ssh_exec and verify the result
4. Only then fan out to the rest with ssh_exec_batch`,
		},
		{
			Name:        "analyze_logs",
			Description: "Analyze a log file on a host and summarize findings",
			Arguments: []PromptArgument{
				{Name: "host", Description: "Host alias", Required: true},
				{Name: "log_path", Description: "Absolute path of the log file", Required: true},
				{Name: "time_range", Description: "Time range of interest", Required: false},
			},
			Template: `Analyze the log file {log_path} on host {host} (time range: {time_range}).

1. Read the tail of the file with log_tail
2. Search it for ERROR and WARN entries with log_search
3. Summarize what the file shows over the period
4. Recommend next steps for anything abnormal`,
		},
		{
			Name:        "health_check",
			Description: "Run a basic health check against a host",
			Arguments: []PromptArgument{
				{Name: "host", Description: "Host alias", Required: true},
			},
			Template: `Run a health check on host {host} using ssh_exec:

1. Load and uptime: uptime
2. Disk usage: df -h
3. Memory: free -m
4. Network reachability: ping -c 3 to a well-known address
5. Failed units: systemctl --failed

Summarize the results and flag anything that needs attention.`,
		},
	}
}

type promptsListResult struct {
	Prompts []Prompt `json:"prompts"`
}

func (s *Server) promptsList() promptsListResult {
	return promptsListResult{Prompts: s.prompts}
}

type promptGetParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type promptContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type promptMessage struct {
	Role    string        `json:"role"`
	Content promptContent `json:"content"`
}

type promptGetResult struct {
	Description string          `json:"description"`
	Messages    []promptMessage `json:"messages"`
}

func (s *Server) promptsGet(p promptGetParams) (any, *rpcError) {
	for _, prompt := range s.prompts {
		if prompt.Name != p.Name {
			continue
		}
		return promptGetResult{
			Description: prompt.Description,
			Messages: []promptMessage{
				{Role: "user", Content: promptContent{Type: "text", Text: prompt.render(p.Arguments)}},
			},
		}, nil
	}
	return nil, &rpcError{Code: codePromptNotFound, Message: fmt.Sprintf("prompt %q is not registered", p.Name)}
}
