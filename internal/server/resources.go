package server

import (
	"context"
	"encoding/json"
	"fmt"
)

// resourceInfo describes one readable resource in the MCP sense.
type resourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

const resourceMime = "application/json"

var resourceIndex = []resourceInfo{
	{
		URI:         "flowpilot://hosts",
		Name:        "Managed hosts",
		Description: "All hosts FlowPilot can reach, keyed by alias, with environment and connection details",
		MimeType:    resourceMime,
	},
	{
		URI:         "flowpilot://services",
		Name:        "Registered services",
		Description: "Services under management and the hosts they run on per environment",
		MimeType:    resourceMime,
	},
	{
		URI:         "flowpilot://policies",
		Name:        "Policy rules",
		Description: "Active policy rules in evaluation order",
		MimeType:    resourceMime,
	},
	{
		URI:         "flowpilot://jumps",
		Name:        "Jump hosts",
		Description: "Bastion hosts used to reach hosts without a direct route",
		MimeType:    resourceMime,
	},
}

type resourcesListResult struct {
	Resources []resourceInfo `json:"resources"`
}

func (s *Server) resourcesList() resourcesListResult {
	return resourcesListResult{Resources: resourceIndex}
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

type resourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type resourceReadResult struct {
	Contents []resourceContents `json:"contents"`
}

func (s *Server) resourcesRead(ctx context.Context, uri string) (any, *rpcError) {
	var (
		view any
		err  error
	)
	switch uri {
	case "flowpilot://hosts":
		view, err = s.hostsView(ctx)
	case "flowpilot://services":
		view, err = s.resolver.Services(ctx)
	case "flowpilot://policies":
		view = s.snapshot().Policies
	case "flowpilot://jumps":
		view = s.jumpsView()
	default:
		return nil, &rpcError{Code: codeResourceNotFound, Message: fmt.Sprintf("resource %q is not registered", uri)}
	}
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}

	text, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}
	return resourceReadResult{
		Contents: []resourceContents{{URI: uri, MimeType: resourceMime, Text: string(text)}},
	}, nil
}

// hostView is the resource rendering of a host; connection secrets like
// the key path stay out of it.
type hostView struct {
	Env         string   `json:"env"`
	User        string   `json:"user"`
	Addr        string   `json:"addr"`
	Port        int      `json:"port"`
	Group       string   `json:"group,omitempty"`
	Jump        string   `json:"jump,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (s *Server) hostsView(ctx context.Context) (map[string]hostView, error) {
	hosts, err := s.resolver.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]hostView, len(hosts))
	for _, h := range hosts {
		out[h.Name] = hostView{
			Env:         h.Env,
			User:        h.User,
			Addr:        h.Addr,
			Port:        h.Port,
			Group:       h.Group,
			Jump:        h.Jump,
			Description: h.Description,
			Tags:        h.Tags,
		}
	}
	return out, nil
}

type jumpView struct {
	Addr string `json:"addr"`
	User string `json:"user"`
	Port int    `json:"port"`
}

func (s *Server) jumpsView() map[string]jumpView {
	cfg := s.snapshot()
	out := make(map[string]jumpView, len(cfg.Jumps))
	for name, j := range cfg.Jumps {
		out[name] = jumpView{Addr: j.Addr, User: j.User, Port: j.Port}
	}
	return out
}
