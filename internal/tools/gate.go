// Package tools carries the shared plumbing for FlowPilot's tool
// catalogs: the policy gatekeeper every guarded tool runs through and
// the argument decoding helpers.
package tools

import (
	"github.com/mrtian2016/flowpilot/internal/observability"
	"github.com/mrtian2016/flowpilot/internal/policy"
	"github.com/mrtian2016/flowpilot/pkg/models"
)

// Gatekeeper wraps the policy engine with metrics recording. Tools
// that run shell commands on remote hosts check every invocation
// through it before touching the wire.
type Gatekeeper struct {
	Engine  *policy.Engine
	Metrics *observability.Metrics
}

// NewGatekeeper builds a gatekeeper. metrics may be nil.
func NewGatekeeper(engine *policy.Engine, metrics *observability.Metrics) *Gatekeeper {
	return &Gatekeeper{Engine: engine, Metrics: metrics}
}

// Check evaluates the policy rules for one tool invocation and records
// the decision.
func (g *Gatekeeper) Check(toolName string, args map[string]any, env string, action policy.ActionClass) policy.Decision {
	decision := g.Engine.Check(toolName, args, env, action)
	if g.Metrics != nil {
		g.Metrics.RecordPolicyDecision(toolName, decisionLabel(decision.Effect))
	}
	return decision
}

func decisionLabel(effect policy.Effect) string {
	switch effect {
	case policy.EffectDeny:
		return "deny"
	case policy.EffectRequireConfirm:
		return "confirm"
	default:
		return "allow"
	}
}

// Outcome is the gate's verdict on one invocation. A non-nil Blocked
// result must be returned to the caller as-is; otherwise execution may
// proceed, with Confirmed set when a one-shot token was spent.
type Outcome struct {
	Blocked   *models.ToolResult
	Confirmed bool
}

// Gate turns a policy decision into an execution verdict. preview is
// only called when a confirmation prompt has to be rendered.
func (g *Gatekeeper) Gate(decision policy.Decision, confirmToken string, preview func() map[string]any) Outcome {
	switch decision.Effect {
	case policy.EffectDeny:
		res := models.ErrorResult("Operation denied by policy: " + decision.Message)
		res.Metadata = PolicyMeta(decision, false)
		return Outcome{Blocked: res}
	case policy.EffectRequireConfirm:
		if confirmToken != "" {
			if _, ok := g.Engine.ConsumeConfirmToken(confirmToken); ok {
				return Outcome{Confirmed: true}
			}
			res := models.ErrorResult("Confirmation token is invalid or expired. Re-run the operation to obtain a fresh one.")
			res.Metadata = PolicyMeta(decision, false)
			return Outcome{Blocked: res}
		}
		res := models.PendingResult(decision.ConfirmToken, preview())
		res.Metadata = PolicyMeta(decision, false)
		return Outcome{Blocked: res}
	default:
		return Outcome{}
	}
}

// PolicyMeta renders a decision as the reserved metadata keys the
// executor lifts into audit columns.
func PolicyMeta(decision policy.Decision, confirmed bool) map[string]any {
	meta := map[string]any{models.MetaPolicyEffect: string(decision.Effect)}
	if decision.TriggeredRule != "" {
		meta[models.MetaPolicyTriggered] = decision.TriggeredRule
	}
	if confirmed {
		meta[models.MetaUserConfirmed] = true
	}
	return meta
}
