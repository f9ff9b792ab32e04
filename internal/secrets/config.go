// Package secrets redacts credentials from user text before it reaches the
// language model or the session store.
package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber. Gitleaks turns on the gitleaks default
// rule set; Rules run alongside it.
type Config struct {
	Enabled         bool
	Gitleaks        bool
	Rules           []Rule
	RedactionString string
	AllowList       []string
}

// Rule defines a secret detection rule. When Keywords is set, the rule only
// runs on content containing one of them (case-insensitive).
type Rule struct {
	ID          string
	Description string
	Pattern     string
	Keywords    []string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns a configuration with the standard rule set.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Gitleaks:        true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

func (c *Config) compile() ([]*compiledRule, []*regexp.Regexp, error) {
	rules := make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: ID is required", i)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil || rule.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %v", rule.ID, err)
		}
		cr := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
