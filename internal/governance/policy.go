package governance

import (
	"fmt"
	"regexp"
)

// PolicyRule is one constitutional constraint. Rules are a data table, not
// a conditional cascade, so they can be added and tested independently.
type PolicyRule struct {
	// ID is the unique rule identifier.
	ID string `koanf:"id"`

	// Description states the constraint in plain language.
	Description string `koanf:"description"`

	// Pattern matches task descriptions that violate the constraint.
	Pattern string `koanf:"pattern"`

	// Severity is high, medium, or low; every violation blocks regardless,
	// severity is carried for reporting.
	Severity string `koanf:"severity"`
}

// Violation records one task breaking one rule.
type Violation struct {
	// TaskID is the offending task.
	TaskID string `json:"task_id"`

	// RuleID is the violated rule.
	RuleID string `json:"rule_id"`

	// Description is the rule's constraint statement.
	Description string `json:"description"`

	// Severity is the rule's severity.
	Severity string `json:"severity"`
}

// DefaultPolicyRules returns the constitutional constraint table. Any match
// is a blocker: the constitutional stage has veto authority and one failing
// task terminates the whole pipeline.
func DefaultPolicyRules() []PolicyRule {
	return []PolicyRule{
		{
			ID:          "no-audit-tampering",
			Description: "Plans may not disable, truncate, or rewrite the audit trail",
			Pattern:     `(?i)(disable|bypass|truncate|rewrite|delete|purge)\b.{0,40}\baudit`,
			Severity:    "high",
		},
		{
			ID:          "no-governance-bypass",
			Description: "Plans may not skip or bypass governance review",
			Pattern:     `(?i)(skip|bypass|disable|circumvent)\b.{0,40}\b(review|governance|approval|oversight)`,
			Severity:    "high",
		},
		{
			ID:          "no-policy-self-modification",
			Description: "Plans may not modify the constitutional policy itself",
			Pattern:     `(?i)(modify|rewrite|weaken|remove|amend)\b.{0,40}\b(constitution|policy\s+rules?|safety\s+rules?)`,
			Severity:    "high",
		},
		{
			ID:          "no-credential-exfiltration",
			Description: "Plans may not transmit credentials or secrets outside the platform",
			Pattern:     `(?i)(exfiltrate|export|upload|transmit|leak)\b.{0,40}\b(credentials?|secrets?|keys?|tokens?|passwords?)`,
			Severity:    "high",
		},
		{
			ID:          "no-destructive-production-ops",
			Description: "Plans may not destroy production data or infrastructure",
			Pattern:     `(?i)(drop|delete|destroy|wipe|purge)\b.{0,40}\b(production|prod\b|live)\b.{0,20}(data(base)?|cluster|storage|volume)?`,
			Severity:    "high",
		},
		{
			ID:          "no-unrestricted-shell",
			Description: "Plans may not grant unrestricted shell or root access to agents",
			Pattern:     `(?i)(unrestricted|unlimited|full)\b.{0,20}\b(shell|root|sudo|system)\s+access`,
			Severity:    "high",
		},
		{
			ID:          "no-monitoring-blackout",
			Description: "Plans may not disable health monitoring or alerting",
			Pattern:     `(?i)(disable|silence|suppress|stop)\b.{0,40}\b(monitor(ing)?|heartbeat|alert(ing|s)?)`,
			Severity:    "medium",
		},
		{
			ID:          "no-quarantine-release",
			Description: "Plans may not release quarantined memory without verification",
			Pattern:     `(?i)(release|unquarantine|restore)\b.{0,40}\bquarantin`,
			Severity:    "medium",
		},
	}
}

// PolicyEvaluator checks plan tasks against the compiled constraint table.
type PolicyEvaluator struct {
	rules []compiledPolicyRule
}

type compiledPolicyRule struct {
	PolicyRule
	pattern *regexp.Regexp
}

// NewPolicyEvaluator compiles a rule table. A nil table uses the defaults.
func NewPolicyEvaluator(rules []PolicyRule) (*PolicyEvaluator, error) {
	if rules == nil {
		rules = DefaultPolicyRules()
	}

	compiled := make([]compiledPolicyRule, 0, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("policy rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("policy rule %q: pattern is required", rule.ID)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("policy rule %q: invalid pattern: %w", rule.ID, err)
		}
		compiled = append(compiled, compiledPolicyRule{PolicyRule: rule, pattern: re})
	}
	return &PolicyEvaluator{rules: compiled}, nil
}

// Evaluate returns every violation across the plan's tasks, in task order
// then rule order. Deterministic for audit reproducibility.
func (p *PolicyEvaluator) Evaluate(plan *Plan) []Violation {
	var out []Violation
	for _, task := range plan.Tasks {
		for _, rule := range p.rules {
			if rule.pattern.MatchString(task.Description) {
				out = append(out, Violation{
					TaskID:      task.ID,
					RuleID:      rule.ID,
					Description: rule.Description,
					Severity:    rule.Severity,
				})
			}
		}
	}
	return out
}
