package secrets

import (
	"regexp"
	"sort"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

// Result is the outcome of scrubbing one piece of content.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Finding records where a secret was found. The matched value is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the sorted IDs of the rules that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type scrubber struct {
	enabled     bool
	replacement string
	gitleaks    *gitleaksDetector
	rules       []*compiledRule
	allow       []*regexp.Regexp
}

type span struct{ start, end int }

// New creates a Scrubber. A nil config uses DefaultConfig.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return NoopScrubber{}, nil
	}

	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	replacement := cfg.RedactionString
	if replacement == "" {
		replacement = "[REDACTED]"
	}
	s := &scrubber{enabled: true, replacement: replacement, rules: rules, allow: allow}
	if cfg.Gitleaks {
		if s.gitleaks, err = newGitleaksDetector(allow); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: map[string]int{}}

	var spans []span
	if s.gitleaks != nil {
		for _, f := range s.gitleaks.findings(content) {
			if s.allowed(content[f.Start:f.End]) {
				continue
			}
			result.Findings = append(result.Findings, f)
			result.ByRule[f.RuleID]++
			spans = append(spans, span{f.Start, f.End})
		}
	}
	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Start:       m[0],
				End:         m[1],
			})
			result.ByRule[rule.ID]++
			spans = append(spans, span{m[0], m[1]})
		}
	}

	if len(spans) > 0 {
		result.Scrubbed = redact(content, spans, s.replacement)
	}
	return result
}

func (s *scrubber) IsEnabled() bool { return s.enabled }

func (s *scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// redact merges overlapping spans and replaces each with replacement.
func redact(content string, spans []span, replacement string) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	out := make([]byte, 0, len(content))
	prev := 0
	for _, sp := range merged {
		out = append(out, content[prev:sp.start]...)
		out = append(out, replacement...)
		prev = sp.end
	}
	out = append(out, content[prev:]...)
	return string(out)
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content}
}

func (NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
