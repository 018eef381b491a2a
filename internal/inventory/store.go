// Package inventory resolves host aliases and service bindings from
// configuration, backed by an optional SQLite store that the REST API
// manages at runtime.
package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNotFound is returned for lookups and mutations that name a row
// the store does not have.
var ErrNotFound = errors.New("not found")

// Host is one managed machine.
type Host struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Env         string   `json:"env"`
	User        string   `json:"user"`
	Addr        string   `json:"addr"`
	Port        int      `json:"port"`
	Jump        string   `json:"jump,omitempty"`
	SSHKey      string   `json:"ssh_key,omitempty"`
	Description string   `json:"description,omitempty"`
	Group       string   `json:"group,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Jump is a bastion host entry.
type Jump struct {
	Name   string `json:"name"`
	Addr   string `json:"addr"`
	User   string `json:"user"`
	Port   int    `json:"port"`
	SSHKey string `json:"ssh_key,omitempty"`
}

// Service is one service bound to a host.
type Service struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Env         string `json:"env,omitempty"`
	Kind        string `json:"kind"`
	Unit        string `json:"unit"`
	Description string `json:"description,omitempty"`
	LogPath     string `json:"log_path,omitempty"`
}

// Store persists hosts and services added at runtime.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the inventory database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create inventory directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory database: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS inventory_hosts (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			env         TEXT NOT NULL,
			user        TEXT NOT NULL,
			addr        TEXT NOT NULL,
			port        INTEGER NOT NULL DEFAULT 22,
			jump        TEXT NOT NULL DEFAULT '',
			ssh_key     TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			host_group  TEXT NOT NULL DEFAULT 'default',
			tags        TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_services (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			host        TEXT NOT NULL,
			env         TEXT NOT NULL DEFAULT '',
			kind        TEXT NOT NULL,
			unit        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			log_path    TEXT NOT NULL DEFAULT '',
			UNIQUE(name, host)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_hosts_env ON inventory_hosts(env)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize inventory schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateHost inserts a host, assigning an id when absent and filling
// port/group defaults.
func (s *Store) CreateHost(ctx context.Context, h *Host) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Port == 0 {
		h.Port = 22
	}
	if h.Group == "" {
		h.Group = "default"
	}
	tags, err := json.Marshal(h.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inventory_hosts
			(id, name, env, user, addr, port, jump, ssh_key, description, host_group, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, h.Env, h.User, h.Addr, h.Port, h.Jump, h.SSHKey, h.Description, h.Group, string(tags))
	if err != nil {
		return fmt.Errorf("failed to create host %q: %w", h.Name, err)
	}
	return nil
}

// UpdateHost replaces the stored host with the given name.
func (s *Store) UpdateHost(ctx context.Context, h *Host) error {
	if h.Port == 0 {
		h.Port = 22
	}
	tags, err := json.Marshal(h.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_hosts
		SET env = ?, user = ?, addr = ?, port = ?, jump = ?, ssh_key = ?, description = ?, host_group = ?, tags = ?
		WHERE name = ?`,
		h.Env, h.User, h.Addr, h.Port, h.Jump, h.SSHKey, h.Description, h.Group, string(tags), h.Name)
	if err != nil {
		return fmt.Errorf("failed to update host %q: %w", h.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("host %q: %w", h.Name, ErrNotFound)
	}
	return nil
}

// DeleteHost removes the host with the given name.
func (s *Store) DeleteHost(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_hosts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete host %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("host %q: %w", name, ErrNotFound)
	}
	return nil
}

// GetHost returns the host with the given name.
func (s *Store) GetHost(ctx context.Context, name string) (*Host, error) {
	row := s.db.QueryRowContext(ctx, hostColumns+` WHERE name = ?`, name)
	h, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("host %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query host %q: %w", name, err)
	}
	return h, nil
}

// ListHosts returns all stored hosts ordered by name.
func (s *Store) ListHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.db.QueryContext(ctx, hostColumns+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, *h)
	}
	return hosts, rows.Err()
}

// CreateService inserts a service binding, assigning an id when absent.
func (s *Store) CreateService(ctx context.Context, svc *Service) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.Unit == "" {
		svc.Unit = svc.Name
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_services (id, name, host, env, kind, unit, description, log_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.Name, svc.Host, svc.Env, svc.Kind, svc.Unit, svc.Description, svc.LogPath)
	if err != nil {
		return fmt.Errorf("failed to create service %q: %w", svc.Name, err)
	}
	return nil
}

// DeleteService removes the service with the given id.
func (s *Store) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListServices returns all stored service bindings ordered by name
// then host.
func (s *Store) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, host, env, kind, unit, description, log_path
		FROM inventory_services ORDER BY name, host`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Host, &svc.Env, &svc.Kind, &svc.Unit, &svc.Description, &svc.LogPath); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

const hostColumns = `SELECT id, name, env, user, addr, port, jump, ssh_key, description, host_group, tags FROM inventory_hosts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*Host, error) {
	var h Host
	var tags string
	if err := row.Scan(&h.ID, &h.Name, &h.Env, &h.User, &h.Addr, &h.Port, &h.Jump, &h.SSHKey, &h.Description, &h.Group, &tags); err != nil {
		return nil, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &h.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for host %q: %w", h.Name, err)
		}
	}
	return &h, nil
}
