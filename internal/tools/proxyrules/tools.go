package proxyrules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mrtian2016/flowpilot/internal/tools"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// RuleTypes are the accepted rule kinds, simple matchers plus the
// composite AND/OR/NOT forms.
var RuleTypes = []string{
	"DOMAIN", "DOMAIN-SUFFIX", "DOMAIN-KEYWORD", "DOMAIN-SET",
	"IP-CIDR", "IP-CIDR6", "GEOIP", "IP-ASN", "RULE-SET",
	"USER-AGENT", "URL-REGEX", "PROCESS-NAME",
	"DEST-PORT", "SRC-PORT", "PROTOCOL", "FINAL",
	"AND", "OR", "NOT", "SUBNET",
}

func validRuleType(t string) bool {
	for _, rt := range RuleTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// ListTool implements list_rules.
type ListTool struct {
	store *Store
}

func NewListTool(store *Store) *ListTool { return &ListTool{store: store} }

func (t *ListTool) Name() string { return "list_rules" }

func (t *ListTool) Description() string {
	return "List proxy rules in match order, optionally filtered by a keyword over value, policy, and comment."
}

func (t *ListTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"keyword": map[string]interface{}{
				"type":        "string",
				"description": "Substring to search for in rule values, policies, and comments",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"default":     DefaultListLimit,
				"description": "Maximum number of rules to return",
			},
		},
	})
}

func (t *ListTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		Keyword string `json:"keyword"`
		Limit   int    `json:"limit"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}

	rules, err := t.store.List(ctx, input.Keyword, input.Limit)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("list rules: %v", err)), nil
	}
	if len(rules) == 0 {
		msg := "No rules configured yet."
		if input.Keyword != "" {
			msg = fmt.Sprintf("No rules matching %q.", input.Keyword)
		}
		res := models.SuccessResult(msg)
		res.Metadata = map[string]any{"count": 0}
		return res, nil
	}

	var b strings.Builder
	if input.Keyword != "" {
		fmt.Fprintf(&b, "📋 %d rule(s) matching %q:\n\n", len(rules), input.Keyword)
	} else {
		fmt.Fprintf(&b, "📋 %d rule(s):\n\n", len(rules))
	}
	data := make([]map[string]any, 0, len(rules))
	for _, r := range rules {
		header := fmt.Sprintf("#%d  %s  →  %s", r.ID, r.Type, r.Policy)
		if !r.Enabled {
			header += "  (disabled)"
		}
		b.WriteString(header + "\n")
		fmt.Fprintf(&b, "    value: %s\n", r.Value)
		if r.Comment != "" {
			fmt.Fprintf(&b, "    💬 %s\n", r.Comment)
		}
		b.WriteString("\n")
		data = append(data, ruleData(&r))
	}

	res := models.SuccessResult(strings.TrimRight(b.String(), "\n"))
	res.Metadata = map[string]any{"count": len(rules), "rules": data}
	return res, nil
}

// GetTool implements get_rule.
type GetTool struct {
	store *Store
}

func NewGetTool(store *Store) *GetTool { return &GetTool{store: store} }

func (t *GetTool) Name() string { return "get_rule" }

func (t *GetTool) Description() string {
	return "Show one proxy rule in full, including its enabled state and match position."
}

func (t *GetTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule_id": map[string]interface{}{
				"type":        "integer",
				"description": "Rule id as shown by list_rules",
			},
		},
		"required": []string{"rule_id"},
	})
}

func (t *GetTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	id, res := ruleID(args)
	if res != nil {
		return res, nil
	}
	r, err := t.store.Get(ctx, id)
	if err != nil {
		return ruleError(id, err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rule #%d\n", r.ID)
	fmt.Fprintf(&b, "  type:     %s\n", r.Type)
	fmt.Fprintf(&b, "  value:    %s\n", r.Value)
	fmt.Fprintf(&b, "  policy:   %s\n", r.Policy)
	if r.Comment != "" {
		fmt.Fprintf(&b, "  comment:  %s\n", r.Comment)
	}
	fmt.Fprintf(&b, "  enabled:  %t\n", r.Enabled)
	fmt.Fprintf(&b, "  position: %d", r.SortOrder)

	out := models.SuccessResult(b.String())
	out.Metadata = map[string]any{"rule": ruleData(r)}
	return out, nil
}

// CreateTool implements create_rule.
type CreateTool struct {
	store *Store
}

func NewCreateTool(store *Store) *CreateTool { return &CreateTool{store: store} }

func (t *CreateTool) Name() string { return "create_rule" }

func (t *CreateTool) Description() string {
	return "Create a proxy rule appended at the end of the match order. Composite AND rules take a value like ((NOT,((SUBNET,ROUTER:10.0.0.1))), (IP-CIDR,10.0.0.0/24))."
}

func (t *CreateTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule_type": map[string]interface{}{
				"type":        "string",
				"enum":        RuleTypes,
				"description": "Rule kind",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Match value: domain, CIDR, or a composite condition list",
			},
			"policy": map[string]interface{}{
				"type":        "string",
				"description": "Target policy: DIRECT, REJECT, or a proxy group name",
			},
			"comment": map[string]interface{}{
				"type":        "string",
				"description": "Optional note",
			},
		},
		"required": []string{"rule_type", "value", "policy"},
	})
}

func (t *CreateTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		RuleType string `json:"rule_type"`
		Value    string `json:"value"`
		Policy   string `json:"policy"`
		Comment  string `json:"comment"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.RuleType == "" || input.Value == "" || input.Policy == "" {
		return models.ErrorResult("rule_type, value, and policy are required"), nil
	}
	if !validRuleType(input.RuleType) {
		return models.ErrorResult(fmt.Sprintf("unknown rule type %q", input.RuleType)), nil
	}

	r := &Rule{Type: input.RuleType, Value: input.Value, Policy: input.Policy, Comment: input.Comment}
	if err := t.store.Create(ctx, r); err != nil {
		return models.ErrorResult(fmt.Sprintf("create rule: %v", err)), nil
	}

	res := models.SuccessResult(fmt.Sprintf("Created rule #%d: %s", r.ID, r.Line()))
	res.Metadata = map[string]any{"rule": ruleData(r)}
	return res, nil
}

// UpdateTool implements update_rule.
type UpdateTool struct {
	store *Store
}

func NewUpdateTool(store *Store) *UpdateTool { return &UpdateTool{store: store} }

func (t *UpdateTool) Name() string { return "update_rule" }

func (t *UpdateTool) Description() string {
	return "Update a rule's policy, comment, or match position. Only the fields provided change; an empty comment clears it."
}

func (t *UpdateTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule_id": map[string]interface{}{
				"type":        "integer",
				"description": "Rule id as shown by list_rules",
			},
			"policy": map[string]interface{}{
				"type":        "string",
				"description": "New target policy",
			},
			"comment": map[string]interface{}{
				"type":        "string",
				"description": "New note; empty string clears it",
			},
			"sort_order": map[string]interface{}{
				"type":        "integer",
				"description": "New match position",
			},
		},
		"required": []string{"rule_id"},
	})
}

func (t *UpdateTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	var input struct {
		RuleID    int64   `json:"rule_id"`
		Policy    *string `json:"policy"`
		Comment   *string `json:"comment"`
		SortOrder *int    `json:"sort_order"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return models.ErrorResult(err.Error()), nil
	}
	if input.RuleID == 0 {
		return models.ErrorResult("rule_id is required"), nil
	}

	patch := RulePatch{Policy: input.Policy, Comment: input.Comment, SortOrder: input.SortOrder}
	if patch.empty() {
		return models.ErrorResult("nothing to update: provide policy, comment, or sort_order"), nil
	}

	var changed []string
	if patch.Policy != nil && *patch.Policy != "" {
		changed = append(changed, "policy")
	}
	if patch.Comment != nil {
		changed = append(changed, "comment")
	}
	if patch.SortOrder != nil {
		changed = append(changed, "sort_order")
	}

	r, err := t.store.Update(ctx, input.RuleID, patch)
	if err != nil {
		return ruleError(input.RuleID, err), nil
	}

	res := models.SuccessResult(fmt.Sprintf("Updated rule #%d (%s): %s",
		r.ID, strings.Join(changed, ", "), r.Line()))
	res.Metadata = map[string]any{"rule": ruleData(r)}
	return res, nil
}

// DeleteTool implements delete_rule.
type DeleteTool struct {
	store *Store
}

func NewDeleteTool(store *Store) *DeleteTool { return &DeleteTool{store: store} }

func (t *DeleteTool) Name() string { return "delete_rule" }

func (t *DeleteTool) Description() string {
	return "Delete a proxy rule permanently. Prefer toggle_rule when the user might want it back."
}

func (t *DeleteTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule_id": map[string]interface{}{
				"type":        "integer",
				"description": "Rule id as shown by list_rules",
			},
		},
		"required": []string{"rule_id"},
	})
}

func (t *DeleteTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	id, res := ruleID(args)
	if res != nil {
		return res, nil
	}
	r, err := t.store.Get(ctx, id)
	if err != nil {
		return ruleError(id, err), nil
	}
	if err := t.store.Delete(ctx, id); err != nil {
		return ruleError(id, err), nil
	}
	return models.SuccessResult(fmt.Sprintf("Deleted rule #%d (%s)", id, r.Line())), nil
}

// ToggleTool implements toggle_rule.
type ToggleTool struct {
	store *Store
}

func NewToggleTool(store *Store) *ToggleTool { return &ToggleTool{store: store} }

func (t *ToggleTool) Name() string { return "toggle_rule" }

func (t *ToggleTool) Description() string {
	return "Enable or disable a proxy rule without deleting it."
}

func (t *ToggleTool) Schema() json.RawMessage {
	return marshalSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule_id": map[string]interface{}{
				"type":        "integer",
				"description": "Rule id as shown by list_rules",
			},
		},
		"required": []string{"rule_id"},
	})
}

func (t *ToggleTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	id, res := ruleID(args)
	if res != nil {
		return res, nil
	}
	r, err := t.store.Toggle(ctx, id)
	if err != nil {
		return ruleError(id, err), nil
	}

	state := "enabled"
	if !r.Enabled {
		state = "disabled"
	}
	out := models.SuccessResult(fmt.Sprintf("Rule #%d (%s) is now %s", r.ID, r.Line(), state))
	out.Metadata = map[string]any{"rule": ruleData(r)}
	return out, nil
}

// ruleID decodes the common single rule_id argument. The second
// return is a ready error result when the argument is bad.
func ruleID(args map[string]any) (int64, *models.ToolResult) {
	var input struct {
		RuleID int64 `json:"rule_id"`
	}
	if err := tools.DecodeArgs(args, &input); err != nil {
		return 0, models.ErrorResult(err.Error())
	}
	if input.RuleID == 0 {
		return 0, models.ErrorResult("rule_id is required")
	}
	return input.RuleID, nil
}

func ruleError(id int64, err error) *models.ToolResult {
	if errors.Is(err, ErrNotFound) {
		return models.ErrorResult(fmt.Sprintf("Rule %d does not exist. Use list_rules to see current ids.", id))
	}
	return models.ErrorResult(err.Error())
}

func ruleData(r *Rule) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"rule_type":  r.Type,
		"value":      r.Value,
		"policy":     r.Policy,
		"comment":    r.Comment,
		"enabled":    r.Enabled,
		"sort_order": r.SortOrder,
	}
}

func marshalSchema(schema map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
