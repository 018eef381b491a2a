package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mrtian2016/flowpilot/internal/config"
)

// Resolver answers host and service lookups. Config-declared entries
// win over store rows with the same name so the operator-authored file
// stays the source of truth; the store supplies entries added through
// the REST API.
type Resolver struct {
	mu    sync.RWMutex
	cfg   *config.Config
	store *Store
}

// NewResolver builds a resolver over cfg and an optional store (nil
// disables store lookups).
func NewResolver(cfg *config.Config, store *Store) *Resolver {
	return &Resolver{cfg: cfg, store: store}
}

// SetConfig swaps the configuration, used by hot reload.
func (r *Resolver) SetConfig(cfg *config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Resolver) config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// ResolveHost returns the host for alias, config first then store.
func (r *Resolver) ResolveHost(ctx context.Context, alias string) (*Host, error) {
	cfg := r.config()
	if hc, ok := cfg.Hosts[alias]; ok {
		return hostFromConfig(alias, hc), nil
	}
	if r.store != nil {
		h, err := r.store.GetHost(ctx, alias)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("host %q: %w", alias, ErrNotFound)
}

// ResolveJump returns the named bastion. Jumps live in configuration
// only.
func (r *Resolver) ResolveJump(name string) (*Jump, error) {
	cfg := r.config()
	jc, ok := cfg.Jumps[name]
	if !ok {
		return nil, fmt.Errorf("jump %q: %w", name, ErrNotFound)
	}
	return &Jump{Name: name, Addr: jc.Addr, User: jc.User, Port: jc.Port, SSHKey: jc.SSHKey}, nil
}

// Hosts returns the merged host list ordered by name.
func (r *Resolver) Hosts(ctx context.Context) ([]Host, error) {
	cfg := r.config()
	merged := map[string]Host{}

	if r.store != nil {
		stored, err := r.store.ListHosts(ctx)
		if err != nil {
			return nil, err
		}
		for _, h := range stored {
			merged[h.Name] = h
		}
	}
	for name, hc := range cfg.Hosts {
		merged[name] = *hostFromConfig(name, hc)
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	hosts := make([]Host, 0, len(merged))
	for _, name := range names {
		hosts = append(hosts, merged[name])
	}
	return hosts, nil
}

// Services returns the merged service catalog: config services
// expanded per environment and host, plus store bindings that do not
// collide on (name, host).
func (r *Resolver) Services(ctx context.Context) ([]Service, error) {
	cfg := r.config()
	var services []Service
	seen := map[string]bool{}

	svcNames := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		svcNames = append(svcNames, name)
	}
	sort.Strings(svcNames)

	for _, name := range svcNames {
		sc := cfg.Services[name]
		envs := make([]string, 0, len(sc.Hosts))
		for env := range sc.Hosts {
			envs = append(envs, env)
		}
		sort.Strings(envs)

		for _, env := range envs {
			for _, host := range sc.Hosts[env] {
				svc := Service{
					Name:        name,
					Host:        host,
					Env:         env,
					Kind:        sc.Kind,
					Unit:        sc.Unit,
					Description: sc.Description,
				}
				if sc.Logs != nil {
					svc.LogPath = sc.Logs.Path
				}
				services = append(services, svc)
				seen[name+"\x00"+host] = true
			}
		}
	}

	if r.store != nil {
		stored, err := r.store.ListServices(ctx)
		if err != nil {
			return nil, err
		}
		for _, svc := range stored {
			if !seen[svc.Name+"\x00"+svc.Host] {
				services = append(services, svc)
			}
		}
	}
	return services, nil
}

// FindService returns the catalog entry for a service on a host. An
// empty host matches the first binding for the service name.
func (r *Resolver) FindService(ctx context.Context, name, host string) (*Service, error) {
	services, err := r.Services(ctx)
	if err != nil {
		return nil, err
	}
	for _, svc := range services {
		if svc.Name != name {
			continue
		}
		if host == "" || svc.Host == host {
			return &svc, nil
		}
	}
	return nil, fmt.Errorf("service %q: %w", name, ErrNotFound)
}

func hostFromConfig(name string, hc config.HostConfig) *Host {
	return &Host{
		Name:        name,
		Env:         hc.Env,
		User:        hc.User,
		Addr:        hc.Addr,
		Port:        hc.Port,
		Jump:        hc.Jump,
		SSHKey:      hc.SSHKey,
		Description: hc.Description,
		Group:       hc.Group,
		Tags:        hc.Tags,
	}
}
