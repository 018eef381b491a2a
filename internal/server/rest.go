package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/policy"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// REST API over the inventory and the audit trail. Reads go through
// the resolver so config-declared and runtime-added entries show up
// together; writes hit the SQLite store only. Hosts declared in the
// config file are owned by it and cannot be changed here.

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRPCBody)).Decode(v); err != nil {
		s.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// requireInventory rejects mutation requests when no store is wired.
func (s *Server) requireInventory(w http.ResponseWriter) bool {
	if s.inventory == nil {
		s.jsonError(w, "inventory store not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// configOwnsHost reports whether the host alias comes from the config
// file rather than the runtime store.
func (s *Server) configOwnsHost(name string) bool {
	_, ok := s.snapshot().Hosts[name]
	return ok
}

// hosts

func (s *Server) handleHostList(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.resolver.Hosts(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	env := r.URL.Query().Get("env")
	group := r.URL.Query().Get("group")

	out := make([]inventory.Host, 0, len(hosts))
	for _, h := range hosts {
		if env != "" && h.Env != env {
			continue
		}
		if group != "" && h.Group != group {
			continue
		}
		out = append(out, h)
	}
	s.jsonResponse(w, out)
}

func (s *Server) handleHostGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	host, err := s.resolver.ResolveHost(r.Context(), name)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			s.jsonError(w, fmt.Sprintf("host %q does not exist", name), http.StatusNotFound)
			return
		}
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, host)
}

func (s *Server) handleHostCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireInventory(w) {
		return
	}
	var host inventory.Host
	if !s.decodeBody(w, r, &host) {
		return
	}
	if host.Name == "" || host.Addr == "" || host.User == "" || host.Env == "" {
		s.jsonError(w, "name, addr, user, and env are required", http.StatusBadRequest)
		return
	}
	if s.configOwnsHost(host.Name) {
		s.jsonError(w, fmt.Sprintf("host %q is declared in the config file", host.Name), http.StatusConflict)
		return
	}
	if _, err := s.inventory.GetHost(r.Context(), host.Name); err == nil {
		s.jsonError(w, fmt.Sprintf("host %q already exists", host.Name), http.StatusConflict)
		return
	}
	if err := s.inventory.CreateHost(r.Context(), &host); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("host created", "host", host.Name, "env", host.Env)
	s.jsonStatus(w, http.StatusCreated, host)
}

// hostPatch carries the optional fields of a host update; nil means
// keep the stored value.
type hostPatch struct {
	Addr        *string   `json:"addr"`
	User        *string   `json:"user"`
	Port        *int      `json:"port"`
	Env         *string   `json:"env"`
	Jump        *string   `json:"jump"`
	SSHKey      *string   `json:"ssh_key"`
	Description *string   `json:"description"`
	Group       *string   `json:"group"`
	Tags        *[]string `json:"tags"`
}

func (s *Server) handleHostUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.requireInventory(w) {
		return
	}
	name := r.PathValue("name")
	if s.configOwnsHost(name) {
		s.jsonError(w, fmt.Sprintf("host %q is declared in the config file; edit the config to change it", name), http.StatusConflict)
		return
	}
	host, err := s.inventory.GetHost(r.Context(), name)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			s.jsonError(w, fmt.Sprintf("host %q does not exist", name), http.StatusNotFound)
			return
		}
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var patch hostPatch
	if !s.decodeBody(w, r, &patch) {
		return
	}
	if patch.Addr != nil {
		host.Addr = *patch.Addr
	}
	if patch.User != nil {
		host.User = *patch.User
	}
	if patch.Port != nil {
		host.Port = *patch.Port
	}
	if patch.Env != nil {
		host.Env = *patch.Env
	}
	if patch.Jump != nil {
		host.Jump = *patch.Jump
	}
	if patch.SSHKey != nil {
		host.SSHKey = *patch.SSHKey
	}
	if patch.Description != nil {
		host.Description = *patch.Description
	}
	if patch.Group != nil {
		host.Group = *patch.Group
	}
	if patch.Tags != nil {
		host.Tags = *patch.Tags
	}

	if err := s.inventory.UpdateHost(r.Context(), host); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("host updated", "host", name)
	s.jsonResponse(w, host)
}

func (s *Server) handleHostDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireInventory(w) {
		return
	}
	name := r.PathValue("name")
	if s.configOwnsHost(name) {
		s.jsonError(w, fmt.Sprintf("host %q is declared in the config file; edit the config to remove it", name), http.StatusConflict)
		return
	}
	if err := s.inventory.DeleteHost(r.Context(), name); err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			s.jsonError(w, fmt.Sprintf("host %q does not exist", name), http.StatusNotFound)
			return
		}
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("host deleted", "host", name)
	s.jsonResponse(w, map[string]string{"message": fmt.Sprintf("deleted host %q", name)})
}

// services

// serviceKinds are the supervisor flavors the control tool can drive.
var serviceKinds = map[string]bool{"systemd": true, "docker": true, "pm2": true}

func (s *Server) handleServiceList(w http.ResponseWriter, r *http.Request) {
	services, err := s.resolver.Services(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if services == nil {
		services = []inventory.Service{}
	}
	s.jsonResponse(w, services)
}

func (s *Server) handleServiceCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireInventory(w) {
		return
	}
	var svc inventory.Service
	if !s.decodeBody(w, r, &svc) {
		return
	}
	if svc.Name == "" || svc.Host == "" {
		s.jsonError(w, "name and host are required", http.StatusBadRequest)
		return
	}
	if svc.Kind == "" {
		svc.Kind = "systemd"
	}
	if !serviceKinds[svc.Kind] {
		s.jsonError(w, fmt.Sprintf("kind must be systemd, docker, or pm2, got %q", svc.Kind), http.StatusBadRequest)
		return
	}
	host, err := s.resolver.ResolveHost(r.Context(), svc.Host)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			s.jsonError(w, fmt.Sprintf("host %q does not exist", svc.Host), http.StatusBadRequest)
			return
		}
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if svc.Env == "" {
		svc.Env = host.Env
	}
	if err := s.inventory.CreateService(r.Context(), &svc); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("service created", "service", svc.Name, "host", svc.Host)
	s.jsonStatus(w, http.StatusCreated, svc)
}

func (s *Server) handleServiceDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireInventory(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.inventory.DeleteService(r.Context(), id); err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			s.jsonError(w, fmt.Sprintf("service %s does not exist", id), http.StatusNotFound)
			return
		}
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("service deleted", "service_id", id)
	s.jsonResponse(w, map[string]string{"message": fmt.Sprintf("deleted service %s", id)})
}

// jumps and policies are config-owned; the API exposes them read-only
// and hot reload picks up file edits.

func (s *Server) handleJumpList(w http.ResponseWriter, r *http.Request) {
	cfg := s.snapshot()
	out := make([]inventory.Jump, 0, len(cfg.Jumps))
	for name, j := range cfg.Jumps {
		out = append(out, inventory.Jump{Name: name, Addr: j.Addr, User: j.User, Port: j.Port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	s.jsonResponse(w, out)
}

func (s *Server) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	policies := s.snapshot().Policies
	if policies == nil {
		policies = []policy.Rule{}
	}
	s.jsonResponse(w, policies)
}

// audit

func (s *Server) requireAudit(w http.ResponseWriter) bool {
	if s.audit == nil {
		s.jsonError(w, "audit store not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleAuditSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireAudit(w) {
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	status := models.SessionStatus(r.URL.Query().Get("status"))

	sessions, err := s.audit.RecentSessions(r.Context(), limit, status)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []models.AuditSession{}
	}
	s.jsonResponse(w, sessions)
}

func (s *Server) handleAuditSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireAudit(w) {
		return
	}
	id := r.PathValue("id")
	session, err := s.audit.SessionDetail(r.Context(), id)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if session == nil {
		s.jsonError(w, fmt.Sprintf("session %q does not exist", id), http.StatusNotFound)
		return
	}
	s.jsonResponse(w, session)
}

func (s *Server) handleAuditCount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAudit(w) {
		return
	}
	n, err := s.audit.CountSessions(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]int{"sessions_count": n})
}

// handleStats reports the dashboard counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.resolver.Hosts(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	services, err := s.resolver.Services(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sessions := 0
	if s.audit != nil {
		sessions, err = s.audit.CountSessions(r.Context())
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	cfg := s.snapshot()
	s.jsonResponse(w, map[string]int{
		"hosts_count":    len(hosts),
		"jumps_count":    len(cfg.Jumps),
		"services_count": len(services),
		"policies_count": len(cfg.Policies),
		"sessions_count": sessions,
	})
}
