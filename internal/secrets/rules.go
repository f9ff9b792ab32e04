package secrets

// chatRules are credentials people tend to paste into a coaching chat while
// describing their business. Keyword-gated rules only run when the message
// mentions the keyword.
var chatRules = []struct {
	id, desc, pattern string
	keywords          []string
}{
	{"anthropic-api-key", "Anthropic API Key", `sk-ant-[A-Za-z0-9_\-]{32,}`, nil},
	{"openai-api-key", "OpenAI API Key", `sk-(?:proj-)?[A-Za-z0-9_\-]{32,}`, nil},
	{"aws-access-key-id", "AWS Access Key ID", `(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`, nil},
	{"google-api-key", "Google API Key", `AIza[A-Za-z0-9_\-]{35}`, nil},
	{"github-token", "GitHub Token", `(?:gh[pousr]_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,})`, nil},
	{"slack-token", "Slack Token", `xox[baprs]-[A-Za-z0-9\-]{10,}`, nil},
	{"stripe-key", "Stripe Key", `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`, nil},
	{"jwt", "JSON Web Token", `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`, nil},
	{"private-key", "Private Key", `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`, nil},
	{"database-url", "Database URL with credentials", `(?i)(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s]+:[^@\s]+@\S+`, nil},
	{"iban", "Bank account number (IBAN)", `\b[A-Z]{2}[0-9]{2}(?: ?[A-Z0-9]{4}){3,7}(?: ?[A-Z0-9]{1,3})?\b`, []string{"iban", "account", "bank"}},
	{"generic-api-key", "Generic API Key", `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`, []string{"api"}},
	{"generic-password", "Password assignment", `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`, []string{"secret", "passw", "pwd"}},
}

// DefaultRules returns a fresh copy of the built-in rule set.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(chatRules))
	for _, r := range chatRules {
		rules = append(rules, Rule{
			ID:          r.id,
			Description: r.desc,
			Pattern:     r.pattern,
			Keywords:    append([]string(nil), r.keywords...),
		})
	}
	return rules
}
