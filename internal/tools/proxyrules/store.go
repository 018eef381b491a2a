// Package proxyrules implements the proxy-rule assistant catalog: a
// SQLite-backed table of Surge-style routing rules plus the tools the
// model uses to manage it. It is the second tool catalog the runtime
// can serve, selected with --catalog proxy.
package proxyrules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNotFound is returned for lookups and mutations that name a rule
// the store does not have.
var ErrNotFound = errors.New("not found")

// DefaultListLimit bounds list_rules when the model does not ask for a
// specific page size.
const DefaultListLimit = 20

// Rule is one routing rule. Type, Value, and Policy form the Surge
// rule line "TYPE,value,POLICY"; SortOrder is the match position.
type Rule struct {
	ID        int64     `json:"id"`
	Type      string    `json:"rule_type"`
	Value     string    `json:"value"`
	Policy    string    `json:"policy"`
	Comment   string    `json:"comment,omitempty"`
	Enabled   bool      `json:"enabled"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line renders the rule in config-file form.
func (r *Rule) Line() string {
	return fmt.Sprintf("%s,%s,%s", r.Type, r.Value, r.Policy)
}

// RulePatch is a partial update. Nil fields are left untouched; an
// empty Policy is ignored so the model cannot blank a rule's target,
// while an empty Comment clears the comment.
type RulePatch struct {
	Policy    *string
	Comment   *string
	SortOrder *int
}

func (p RulePatch) empty() bool {
	return (p.Policy == nil || *p.Policy == "") && p.Comment == nil && p.SortOrder == nil
}

// Store persists proxy rules.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the rule database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create rules directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules database: %w", err)
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
		`CREATE TABLE IF NOT EXISTS proxy_rules (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_type  TEXT NOT NULL,
			value      TEXT NOT NULL,
			policy     TEXT NOT NULL,
			comment    TEXT NOT NULL DEFAULT '',
			enabled    INTEGER NOT NULL DEFAULT 1,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proxy_rules_order ON proxy_rules(sort_order)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize rules schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a rule at the end of the match order and fills in the
// assigned id and timestamps.
func (s *Store) Create(ctx context.Context, r *Rule) error {
	now := time.Now().UTC()
	r.Enabled = true
	r.CreatedAt = now
	r.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO proxy_rules (rule_type, value, policy, comment, enabled, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1,
			(SELECT COALESCE(MAX(sort_order) + 1, 0) FROM proxy_rules),
			?, ?)`,
		r.Type, r.Value, r.Policy, r.Comment, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read rule id: %w", err)
	}
	r.ID = id

	row := s.db.QueryRowContext(ctx, `SELECT sort_order FROM proxy_rules WHERE id = ?`, id)
	if err := row.Scan(&r.SortOrder); err != nil {
		return fmt.Errorf("failed to read rule order: %w", err)
	}
	return nil
}

// Get returns the rule with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, ruleColumns+` WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule %d: %w", id, err)
	}
	return r, nil
}

// List returns up to limit rules in match order. A keyword filters on
// value, policy, and comment with a case-insensitive substring match.
func (s *Store) List(ctx context.Context, keyword string, limit int) ([]Rule, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := ruleColumns
	args := []any{}
	if keyword != "" {
		pattern := "%" + strings.ToLower(keyword) + "%"
		query += ` WHERE lower(value) LIKE ? OR lower(policy) LIKE ? OR lower(comment) LIKE ?`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY sort_order, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// Update applies the patch to the rule with the given id and returns
// the updated row.
func (s *Store) Update(ctx context.Context, id int64, patch RulePatch) (*Rule, error) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if patch.Policy != nil && *patch.Policy != "" {
		sets = append(sets, "policy = ?")
		args = append(args, *patch.Policy)
	}
	if patch.Comment != nil {
		sets = append(sets, "comment = ?")
		args = append(args, *patch.Comment)
	}
	if patch.SortOrder != nil {
		sets = append(sets, "sort_order = ?")
		args = append(args, *patch.SortOrder)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE proxy_rules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return s.Get(ctx, id)
}

// Delete removes the rule with the given id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxy_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

// Toggle flips the enabled flag and returns the updated rule.
func (s *Store) Toggle(ctx context.Context, id int64) (*Rule, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proxy_rules SET enabled = 1 - enabled, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle rule %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return s.Get(ctx, id)
}

const ruleColumns = `SELECT id, rule_type, value, policy, comment, enabled, sort_order, created_at, updated_at FROM proxy_rules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var enabled int
	var created, updated string
	if err := row.Scan(&r.ID, &r.Type, &r.Value, &r.Policy, &r.Comment, &enabled, &r.SortOrder, &created, &updated); err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
