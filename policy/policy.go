// Package policy implements the rule gate consulted before sensitive
// fleet operations such as dispatching tasks or pushing secrets.
package policy

import "fmt"

// Effect is what a matching rule does to the gated action.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule gates actions by name. Action uses dotted namespaces and supports a
// trailing "*" wildcard ("secrets.*" matches "secrets.push"); a bare "*"
// matches everything. An empty Subject matches any subject.
type Rule struct {
	Action  string `json:"action" yaml:"action"`
	Effect  Effect `json:"effect" yaml:"effect"`
	Subject string `json:"subject,omitempty" yaml:"subject"`
	Confirm bool   `json:"confirm,omitempty" yaml:"confirm"`
}

// Decision is the outcome of evaluating an action against the rule set.
type Decision struct {
	Allowed             bool   `json:"allowed"`
	RequireConfirmation bool   `json:"require_confirmation"`
	Reason              string `json:"reason"`
}

// Engine evaluates actions against an ordered rule set.
type Engine struct {
	rules []Rule
}

// NewEngine creates an Engine over the given rules.
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate gates an action for an optional subject.
//
// Resolution: collect every rule whose action pattern and subject match.
// If any matching rule denies, the action is denied (deny-wins). If no
// rule matches, the action is allowed by default. Confirmation is required
// when any matching allow rule carries the confirm flag.
func (e *Engine) Evaluate(action, subject string) Decision {
	var matching []Rule
	for _, r := range e.rules {
		if !matchAction(r.Action, action) {
			continue
		}
		if r.Subject != "" && r.Subject != subject {
			continue
		}
		matching = append(matching, r)
	}

	if len(matching) == 0 {
		return Decision{Allowed: true, Reason: "no matching rule; default allow"}
	}

	for _, r := range matching {
		if r.Effect == EffectDeny {
			reason := fmt.Sprintf("denied by rule %q", r.Action)
			if r.Subject != "" {
				reason = fmt.Sprintf("denied by rule %q (subject=%s)", r.Action, r.Subject)
			}
			return Decision{Allowed: false, Reason: reason}
		}
	}

	d := Decision{Allowed: true, Reason: "allowed by policy"}
	for _, r := range matching {
		if r.Confirm {
			d.RequireConfirmation = true
			d.Reason = fmt.Sprintf("allowed by rule %q, confirmation required", r.Action)
			break
		}
	}
	return d
}

// matchAction reports whether pattern matches the action name. Patterns
// are exact names, "*", or a prefix with a trailing "*".
func matchAction(pattern, action string) bool {
	if pattern == action || pattern == "*" {
		return true
	}
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(action) >= len(prefix) && action[:len(prefix)] == prefix
	}
	return false
}
