// Package policy decides whether tool invocations may proceed: it
// classifies shell commands by risk, evaluates ordered rules loaded
// from configuration, and manages one-shot confirmation tokens.
package policy

import (
	"regexp"
	"strings"
)

// ActionClass is the coarse effect of a shell command.
type ActionClass string

const (
	ActionRead        ActionClass = "read"
	ActionWrite       ActionClass = "write"
	ActionDestructive ActionClass = "destructive"
)

// Risk grades a decision for display and auditing.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// The classifier is a heuristic keyword filter, not a shell parser.
// Patterns are matched against the lowercased command in table order;
// destructive wins over write, anything unmatched reads as read.
var destructivePatterns = compilePatterns([]string{
	`rm\s+-rf\s+/`,        // delete from root
	`mkfs`,                // format filesystem
	`dd\s+if=`,            // raw disk clone/overwrite
	`shutdown`,
	`reboot`,
	`halt`,
	`init\s+0`,
	`init\s+6`,
	`systemctl\s+poweroff`,
	`systemctl\s+reboot`,
	`>\s*/dev/sd[a-z]`, // raw write to block device
	`wipefs`,
	`fdisk.*-w`, // write partition table
})

var writePatterns = compilePatterns([]string{
	`rm\s+`,
	`mv\s+`,
	`cp\s+.*\s+/`, // copy into system paths
	`>([^&]|$)`,   // redirect to file; 2>&1 fd duplication stays read
	`systemctl\s+stop`,
	`systemctl\s+disable`,
	`kill\s+-9`,
	`pkill`,
	`chmod`,
	`chown`,
	`service\s+\w+\s+stop`,
	`docker\s+rm`,
	`docker\s+stop`,
	`kubectl\s+delete`,
	`sed\s+-i`,
	`truncate`,
})

func compilePatterns(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Classify derives the action class of a shell command. Matching is
// case-insensitive; unmatched commands default to read.
func Classify(command string) ActionClass {
	cmd := strings.ToLower(strings.TrimSpace(command))

	for _, p := range destructivePatterns {
		if p.MatchString(cmd) {
			return ActionDestructive
		}
	}
	for _, p := range writePatterns {
		if p.MatchString(cmd) {
			return ActionWrite
		}
	}
	return ActionRead
}

// RiskFor grades an action class against an environment. Destructive
// actions are critical in prod, writes are high in prod; everything
// softens one step outside prod.
func RiskFor(action ActionClass, env string) Risk {
	switch action {
	case ActionDestructive:
		if env == "prod" {
			return RiskCritical
		}
		return RiskHigh
	case ActionWrite:
		if env == "prod" {
			return RiskHigh
		}
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskLevel grades a raw command against an environment.
func RiskLevel(command, env string) Risk {
	return RiskFor(Classify(command), env)
}
