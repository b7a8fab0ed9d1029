package sanitize

import (
	"fmt"
	"regexp"
)

// Config configures the sanitizer.
type Config struct {
	// Enabled controls whether scanning is active (default: true).
	Enabled bool `koanf:"enabled"`

	// Rules defines the detection rules.
	Rules []Rule `koanf:"rules"`

	// RedactionString replaces stripped matches (default: "[STRIPPED]").
	RedactionString string `koanf:"redaction_string"`

	// compiled patterns (populated by Validate)
	compiledRules []*compiledRule
}

// Rule defines a threat detection rule.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string `koanf:"id"`

	// Description explains what this rule detects.
	Description string `koanf:"description"`

	// Pattern is the regex matched against inbound content.
	Pattern string `koanf:"pattern"`

	// Category groups the rule by attack family.
	Category Category `koanf:"category"`

	// Severity weights the rule's score contribution.
	Severity Severity `koanf:"severity"`

	// Strip removes matches from the sanitized output.
	Strip bool `koanf:"strip"`
}

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// DefaultConfig returns a configuration with the standard rule table.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[STRIPPED]",
		Rules:           DefaultRules(),
	}
}

// Validate validates and compiles the configuration. Patterns are compiled
// once here, never per call.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RedactionString == "" {
		c.RedactionString = "[STRIPPED]"
	}

	seen := make(map[string]bool, len(c.Rules))
	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("rule %q: duplicate ID", rule.ID)
		}
		seen[rule.ID] = true

		if rule.Pattern == "" {
			return fmt.Errorf("rule %q: pattern is required", rule.ID)
		}
		if rule.Severity.Weight() == 0 {
			return fmt.Errorf("rule %q: invalid severity %q", rule.ID, rule.Severity)
		}

		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %q: invalid pattern: %w", rule.ID, err)
		}

		c.compiledRules = append(c.compiledRules, &compiledRule{
			Rule:    rule,
			pattern: re,
		})
	}

	return nil
}
