// Package audit persists session lifecycle and per-tool-call records.
// Writes are best-effort by contract: callers log and swallow errors,
// so a broken audit database never fails the user operation.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/mrtian2016/flowpilot/internal/redact"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// Store is the SQLite-backed audit log. One store is shared by all
// concurrent sessions; row writes are atomic.
type Store struct {
	db *sql.DB
}

// Open creates or opens the audit database at path. ":memory:" gives
// an ephemeral store for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_sessions (
			session_id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			user TEXT,
			hostname TEXT,
			input TEXT,
			input_mode TEXT,
			final_output TEXT,
			provider TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			duration_sec REAL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_sessions table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_tool_calls (
			call_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_args TEXT,
			policy_triggered TEXT,
			policy_effect TEXT,
			user_confirmed INTEGER NOT NULL DEFAULT 0,
			confirm_time TEXT,
			execution_start TEXT,
			execution_end TEXT,
			exit_code INTEGER,
			stdout_summary TEXT,
			stderr TEXT,
			duration_sec REAL,
			status TEXT NOT NULL DEFAULT 'pending',
			metadata TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_tool_calls table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_sessions_ts ON audit_sessions(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_sessions_status ON audit_sessions(status)",
		"CREATE INDEX IF NOT EXISTS idx_audit_calls_session ON audit_tool_calls(session_id)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session row with status running. User and
// hostname are captured from the process environment.
func (s *Store) CreateSession(ctx context.Context, sessionID, input, inputMode string) error {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	hostname, _ := os.Hostname()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_sessions (session_id, timestamp, user, hostname, input, input_mode, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, isoNow(), user, hostname, input, inputMode, string(models.SessionRunning))
	if err != nil {
		return fmt.Errorf("failed to create audit session: %w", err)
	}
	return nil
}

// SessionPatch is a partial update; nil fields are left untouched.
type SessionPatch struct {
	Status       *models.SessionStatus
	FinalOutput  *string
	Provider     *string
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
	DurationSec  *float64
}

// UpdateSession patches a session row. Updating a row that does not
// exist yet is a no-op, not an error: audit writes may arrive out of
// order.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) error {
	sets, args := buildSets(map[string]any{
		"status":        strPtrValue((*string)(patch.Status)),
		"final_output":  strPtrValue(patch.FinalOutput),
		"provider":      strPtrValue(patch.Provider),
		"input_tokens":  intPtrValue(patch.InputTokens),
		"output_tokens": intPtrValue(patch.OutputTokens),
		"total_tokens":  intPtrValue(patch.TotalTokens),
		"duration_sec":  floatPtrValue(patch.DurationSec),
	})
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sessionID)
	query := "UPDATE audit_sessions SET " + joinSets(sets) + " WHERE session_id = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update audit session: %w", err)
	}
	return nil
}

// AddToolCall inserts a tool-call row with status pending. Args are
// stored JSON-encoded as given; the executor strips the reserved
// confirm-token key before calling.
func (s *Store) AddToolCall(ctx context.Context, callID, sessionID, toolName string, args map[string]any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_tool_calls (call_id, session_id, tool_name, tool_args, status)
		VALUES (?, ?, ?, ?, ?)
	`, callID, sessionID, toolName, string(encoded), string(models.CallPending))
	if err != nil {
		return fmt.Errorf("failed to add audit tool call: %w", err)
	}
	return nil
}

// CallPatch is a partial update; nil fields are left untouched.
type CallPatch struct {
	Status          *models.CallStatus
	PolicyTriggered *string
	PolicyEffect    *string
	UserConfirmed   *bool
	ConfirmTime     *time.Time
	ExecutionStart  *time.Time
	ExecutionEnd    *time.Time
	ExitCode        *int
	StdoutSummary   *string
	Stderr          *string
	DurationSec     *float64
	Metadata        map[string]any
}

// UpdateToolCall patches a tool-call row. StdoutSummary passes
// through the masking utility before it is written; missing rows are
// a no-op.
func (s *Store) UpdateToolCall(ctx context.Context, callID string, patch CallPatch) error {
	var stdout *string
	if patch.StdoutSummary != nil {
		masked := redact.Mask(*patch.StdoutSummary)
		stdout = &masked
	}
	var metadata *string
	if patch.Metadata != nil {
		if encoded, err := json.Marshal(patch.Metadata); err == nil {
			v := string(encoded)
			metadata = &v
		}
	}
	var confirmed *int
	if patch.UserConfirmed != nil {
		v := 0
		if *patch.UserConfirmed {
			v = 1
		}
		confirmed = &v
	}

	sets, args := buildSets(map[string]any{
		"status":           strPtrValue((*string)(patch.Status)),
		"policy_triggered": strPtrValue(patch.PolicyTriggered),
		"policy_effect":    strPtrValue(patch.PolicyEffect),
		"user_confirmed":   intPtrValue(confirmed),
		"confirm_time":     timePtrValue(patch.ConfirmTime),
		"execution_start":  timePtrValue(patch.ExecutionStart),
		"execution_end":    timePtrValue(patch.ExecutionEnd),
		"exit_code":        intPtrValue(patch.ExitCode),
		"stdout_summary":   strPtrValue(stdout),
		"stderr":           strPtrValue(patch.Stderr),
		"duration_sec":     floatPtrValue(patch.DurationSec),
		"metadata":         strPtrValue(metadata),
	})
	if len(sets) == 0 {
		return nil
	}
	args = append(args, callID)
	query := "UPDATE audit_tool_calls SET " + joinSets(sets) + " WHERE call_id = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update audit tool call: %w", err)
	}
	return nil
}

// RecentSessions lists sessions newest-first. status filters when
// non-empty; limit caps the result (default 10 when zero).
func (s *Store) RecentSessions(ctx context.Context, limit int, status models.SessionStatus) ([]models.AuditSession, error) {
	if limit <= 0 {
		limit = 10
	}

	query := sessionColumns + " FROM audit_sessions"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.AuditSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionDetail fetches one session with its tool calls in insertion
// order. Returns nil when the session does not exist.
func (s *Store) SessionDetail(ctx context.Context, sessionID string) (*models.AuditSession, error) {
	row := s.db.QueryRowContext(ctx, sessionColumns+" FROM audit_sessions WHERE session_id = ?", sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, session_id, tool_name, tool_args, policy_triggered, policy_effect,
		       user_confirmed, confirm_time, execution_start, execution_end,
		       exit_code, stdout_summary, stderr, duration_sec, status, metadata
		FROM audit_tool_calls WHERE session_id = ? ORDER BY rowid
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tc                                 models.AuditToolCall
			policyTriggered, policyEffect      sql.NullString
			confirmTime, execStart, execEnd    sql.NullString
			exitCode                           sql.NullInt64
			stdout, stderr, toolArgs, metadata sql.NullString
			confirmed                          int
			duration                           sql.NullFloat64
		)
		if err := rows.Scan(&tc.CallID, &tc.SessionID, &tc.ToolName, &toolArgs,
			&policyTriggered, &policyEffect, &confirmed, &confirmTime,
			&execStart, &execEnd, &exitCode, &stdout, &stderr, &duration,
			&tc.Status, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		tc.ToolArgs = toolArgs.String
		tc.PolicyTriggered = policyTriggered.String
		tc.PolicyEffect = policyEffect.String
		tc.UserConfirmed = confirmed != 0
		tc.ConfirmTime = parseISOPtr(confirmTime)
		tc.ExecutionStart = parseISOPtr(execStart)
		tc.ExecutionEnd = parseISOPtr(execEnd)
		if exitCode.Valid {
			v := int(exitCode.Int64)
			tc.ExitCode = &v
		}
		tc.StdoutSummary = stdout.String
		tc.Stderr = stderr.String
		tc.DurationSec = duration.Float64
		tc.Metadata = metadata.String
		sess.ToolCalls = append(sess.ToolCalls, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// CountSessions returns the total number of audited sessions.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

const sessionColumns = `SELECT session_id, timestamp, user, hostname, input, input_mode,
	final_output, provider, status, input_tokens, output_tokens, total_tokens, duration_sec`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (models.AuditSession, error) {
	var (
		sess                                models.AuditSession
		ts                                  string
		user, hostname, inputMode           sql.NullString
		input, finalOutput, provider, state sql.NullString
		duration                            sql.NullFloat64
	)
	err := row.Scan(&sess.SessionID, &ts, &user, &hostname, &input, &inputMode,
		&finalOutput, &provider, &state, &sess.InputTokens, &sess.OutputTokens,
		&sess.TotalTokens, &duration)
	if err == sql.ErrNoRows {
		return sess, err
	}
	if err != nil {
		return sess, fmt.Errorf("failed to scan session: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
		sess.Timestamp = t
	}
	sess.User = user.String
	sess.Hostname = hostname.String
	sess.Input = input.String
	sess.InputMode = inputMode.String
	sess.FinalOutput = finalOutput.String
	sess.Provider = provider.String
	sess.Status = models.SessionStatus(state.String)
	sess.DurationSec = duration.Float64
	return sess, nil
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseISOPtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// buildSets turns non-nil patch values into SET clauses. Iteration
// uses a fixed column order so generated SQL is deterministic.
var sessionSetOrder = []string{
	"status", "final_output", "provider", "input_tokens", "output_tokens",
	"total_tokens", "duration_sec", "policy_triggered", "policy_effect",
	"user_confirmed", "confirm_time", "execution_start", "execution_end",
	"exit_code", "stdout_summary", "stderr", "metadata",
}

func buildSets(values map[string]any) ([]string, []any) {
	var sets []string
	var args []any
	for _, col := range sessionSetOrder {
		v, ok := values[col]
		if !ok || v == nil {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	return sets, args
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func strPtrValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtrValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtrValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func timePtrValue(p *time.Time) any {
	if p == nil {
		return nil
	}
	return isoTime(*p)
}
