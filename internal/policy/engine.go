package policy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Effect is the outcome class of a policy decision.
type Effect string

const (
	EffectAllow          Effect = "allow"
	EffectRequireConfirm Effect = "require_confirm"
	EffectDeny           Effect = "deny"
)

// Condition narrows when a rule fires. Absent fields are wildcards;
// all present fields must match.
type Condition struct {
	Env         string `yaml:"env,omitempty" json:"env,omitempty"`
	ActionType  string `yaml:"action_type,omitempty" json:"action_type,omitempty"`
	TargetCount string `yaml:"target_count,omitempty" json:"target_count,omitempty"`
}

// Rule is one ordered policy entry. Rules are data, never code; new
// kinds of checks extend Condition rather than adding callbacks.
type Rule struct {
	Name      string    `yaml:"name" json:"name"`
	Condition Condition `yaml:"condition" json:"condition"`
	Effect    Effect    `yaml:"effect" json:"effect"`
	Message   string    `yaml:"message,omitempty" json:"message,omitempty"`
}

// Decision is the engine's answer for one tool invocation.
type Decision struct {
	Effect        Effect         `json:"effect"`
	Message       string         `json:"message"`
	TriggeredRule string         `json:"triggered_rule,omitempty"`
	ConfirmToken  string         `json:"confirm_token,omitempty"`
	RiskLevel     Risk           `json:"risk_level"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// comparator is a parsed target_count condition.
type comparator struct {
	op string
	n  int
}

// parseComparator accepts "> N", ">= N", "< N", "<= N", "== N" and
// bare "N" (meaning equality), with optional spaces.
func parseComparator(s string) (*comparator, error) {
	trimmed := strings.TrimSpace(s)
	op := "=="
	rest := trimmed
	for _, candidate := range []string{">=", "<=", "==", ">", "<"} {
		if strings.HasPrefix(trimmed, candidate) {
			op = candidate
			rest = trimmed[len(candidate):]
			break
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return nil, fmt.Errorf("invalid target_count comparator %q", s)
	}
	return &comparator{op: op, n: n}, nil
}

func (c *comparator) matches(count int) bool {
	switch c.op {
	case ">":
		return count > c.n
	case ">=":
		return count >= c.n
	case "<":
		return count < c.n
	case "<=":
		return count <= c.n
	default:
		return count == c.n
	}
}

type compiledRule struct {
	Rule
	targetCount *comparator
}

// Engine evaluates ordered policy rules and owns the confirmation
// token table. One engine instance serves all concurrent sessions.
type Engine struct {
	mu     sync.RWMutex
	rules  []compiledRule
	tokens *tokenTable
}

// NewEngine compiles the rule list. A malformed target_count
// comparator is a configuration error and fails startup here rather
// than surfacing during evaluation.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{tokens: newTokenTable()}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	e.rules = compiled
	return e, nil
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		if r.Condition.TargetCount != "" {
			cmp, err := parseComparator(r.Condition.TargetCount)
			if err != nil {
				return nil, fmt.Errorf("policy rule %q: %w", r.Name, err)
			}
			cr.targetCount = cmp
		}
		switch r.Effect {
		case EffectAllow, EffectRequireConfirm, EffectDeny:
		default:
			return nil, fmt.Errorf("policy rule %q: unknown effect %q", r.Name, r.Effect)
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}

// Reload swaps the rule list in place, keeping outstanding
// confirmation tokens valid across a configuration reload.
func (e *Engine) Reload(rules []Rule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Check evaluates one prospective tool invocation. It never returns
// an error: an unmatched invocation is allowed at low risk.
//
// env defaults to args["env"], then "dev". For ssh_exec the action
// type is inferred from args["command"] when not supplied. The target
// count is 1 for ssh_exec, len(args["hosts"]) for ssh_exec_batch, 0
// otherwise. Rules fire first-match in configured order.
func (e *Engine) Check(toolName string, args map[string]any, env string, action ActionClass) Decision {
	if env == "" {
		if v, ok := args["env"].(string); ok && v != "" {
			env = v
		} else {
			env = "dev"
		}
	}

	if action == "" && toolName == "ssh_exec" {
		if cmd, ok := args["command"].(string); ok {
			action = Classify(cmd)
		}
	}

	count := targetCount(toolName, args)

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		if matchRule(rule, env, action, count) {
			return e.decide(rule, env, action, args)
		}
	}

	return Decision{
		Effect:    EffectAllow,
		Message:   "operation allowed",
		RiskLevel: RiskLow,
	}
}

func targetCount(toolName string, args map[string]any) int {
	switch toolName {
	case "ssh_exec":
		return 1
	case "ssh_exec_batch":
		switch hosts := args["hosts"].(type) {
		case []string:
			return len(hosts)
		case []any:
			return len(hosts)
		}
		return 0
	default:
		return 0
	}
}

func matchRule(rule compiledRule, env string, action ActionClass, count int) bool {
	cond := rule.Condition
	if cond.Env != "" && cond.Env != env {
		return false
	}
	if cond.ActionType != "" {
		if action == "" || cond.ActionType != string(action) {
			return false
		}
	}
	if rule.targetCount != nil && !rule.targetCount.matches(count) {
		return false
	}
	return true
}

func (e *Engine) decide(rule compiledRule, env string, action ActionClass, args map[string]any) Decision {
	d := Decision{
		Effect:        rule.Effect,
		Message:       rule.Message,
		TriggeredRule: rule.Name,
		RiskLevel:     RiskFor(action, env),
		Metadata: map[string]any{
			"env":         env,
			"action_type": string(action),
		},
	}
	if rule.Effect == EffectRequireConfirm {
		d.ConfirmToken = e.tokens.mint(rule.Name, args)
	}
	return d
}

// ValidateConfirmToken reports whether the token exists and is within
// its TTL. Expired tokens are reaped on inspection.
func (e *Engine) ValidateConfirmToken(token string) bool {
	return e.tokens.validate(token)
}

// ConsumeConfirmToken atomically removes and returns the stored
// record. It succeeds at most once per token.
func (e *Engine) ConsumeConfirmToken(token string) (*TokenRecord, bool) {
	return e.tokens.consume(token)
}
