// Package sanitize scores inbound content against a fixed table of threat
// patterns and produces a trust-weighted risk assessment.
//
// The assessment is pure and deterministic: the same content and trust level
// always yield the same result, which the audit trail relies on for
// reproducibility. Patterns are compiled once at construction.
package sanitize

import (
	"math"

	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// Threat records one matched rule in an assessment.
type Threat struct {
	// RuleID identifies which rule matched.
	RuleID string `json:"rule_id"`

	// Description explains what was detected.
	Description string `json:"description"`

	// Category is the attack family of the rule.
	Category Category `json:"category"`

	// Severity is the rule's severity.
	Severity Severity `json:"severity"`

	// Matches is how many times the pattern matched.
	Matches int `json:"matches"`
}

// Assessment is the result of scanning one piece of content. It is derived,
// never persisted; callers recompute it per call.
type Assessment struct {
	// Safe is true iff no rule matched.
	Safe bool `json:"safe"`

	// Threats lists the matched rules in table order.
	Threats []Threat `json:"threats,omitempty"`

	// RiskScore is the severity-weighted, trust-amplified score in [0,100].
	RiskScore int `json:"risk_score"`

	// SanitizedContent is the input with strip-rule matches redacted. It
	// equals the input when no strip rule matched.
	SanitizedContent string `json:"sanitized_content"`
}

// HighestSeverity returns the most severe matched category, or "" when safe.
func (a *Assessment) HighestSeverity() Severity {
	var out Severity
	for _, t := range a.Threats {
		if out == "" || t.Severity.Weight() > out.Weight() {
			out = t.Severity
		}
	}
	return out
}

// Categories returns the distinct categories that matched, in table order.
func (a *Assessment) Categories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, t := range a.Threats {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	return out
}

// Sanitizer assesses inbound content for injection threats.
type Sanitizer interface {
	// Sanitize scans content and returns a trust-weighted assessment.
	Sanitize(content string, level trust.Level) *Assessment

	// IsSafe reports whether content matches no rule. The trust level
	// defaults to the least trusted, though Safe itself is trust-independent.
	IsSafe(content string) bool
}

// sanitizer is the default implementation using the compiled rule table.
type sanitizer struct {
	config *Config
}

// New creates a Sanitizer with the given configuration.
// If config is nil, DefaultConfig() is used.
func New(cfg *Config) (Sanitizer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &sanitizer{config: cfg}, nil
}

// MustNew creates a Sanitizer, panicking on error.
func MustNew(cfg *Config) Sanitizer {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Sanitize scans content against every rule, accumulates severity-weighted
// scores per match, amplifies by the trust-level multiplier, and clamps to
// [0,100].
func (s *sanitizer) Sanitize(content string, level trust.Level) *Assessment {
	out := &Assessment{
		Safe:             true,
		RiskScore:        0,
		SanitizedContent: content,
	}

	if !s.config.Enabled {
		return out
	}

	raw := 0
	sanitized := content
	for _, rule := range s.config.compiledRules {
		matches := rule.pattern.FindAllStringIndex(content, -1)
		if len(matches) == 0 {
			continue
		}

		out.Safe = false
		out.Threats = append(out.Threats, Threat{
			RuleID:      rule.ID,
			Description: rule.Description,
			Category:    rule.Category,
			Severity:    rule.Severity,
			Matches:     len(matches),
		})
		raw += rule.Severity.Weight() * len(matches)

		if rule.Strip {
			sanitized = rule.pattern.ReplaceAllString(sanitized, s.config.RedactionString)
		}
	}

	score := int(math.Round(float64(raw) * level.Multiplier()))
	if score > 100 {
		score = 100
	}
	out.RiskScore = score
	out.SanitizedContent = sanitized
	return out
}

// IsSafe scans at the least trusted level and reports pattern absence.
func (s *sanitizer) IsSafe(content string) bool {
	return s.Sanitize(content, trust.LevelHostile).Safe
}

// Noop is a sanitizer that finds nothing, for tests and disabled mode.
type Noop struct{}

// Sanitize returns a safe assessment with the content unchanged.
func (Noop) Sanitize(content string, _ trust.Level) *Assessment {
	return &Assessment{Safe: true, SanitizedContent: content}
}

// IsSafe always returns true.
func (Noop) IsSafe(string) bool { return true }

// Compile-time checks.
var _ Sanitizer = (*sanitizer)(nil)
var _ Sanitizer = Noop{}
