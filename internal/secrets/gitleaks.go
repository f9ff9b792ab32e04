package secrets

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// gitleaksDetector runs the gitleaks default rule set over chat text.
type gitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func newGitleaksDetector(allow []*regexp.Regexp) (*gitleaksDetector, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if len(allow) > 0 {
		applyAllowList(&detector.Config, allow)
	}
	return &gitleaksDetector{detector: detector}, nil
}

// findings returns one Finding per occurrence of each secret gitleaks
// reports. The secret is located in content by value, so repeated copies of
// it are all covered.
func (g *gitleaksDetector) findings(content string) []Finding {
	g.mu.Lock()
	reported := g.detector.DetectString(content)
	g.mu.Unlock()

	seen := map[span]bool{}
	var out []Finding
	for _, f := range reported {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(content[from:], secret)
			if i < 0 {
				break
			}
			sp := span{from + i, from + i + len(secret)}
			from = sp.end
			if seen[sp] {
				continue
			}
			seen[sp] = true
			out = append(out, Finding{
				RuleID:      f.RuleID,
				Description: f.Description,
				Start:       sp.start,
				End:         sp.end,
			})
		}
	}
	return out
}

// applyAllowList adds the configured allow patterns to the gitleaks config as
// one global allowlist.
func applyAllowList(cfg *gitleaksConfig.Config, allow []*regexp.Regexp) {
	global := &gitleaksConfig.Allowlist{
		Description: "coachd allow list",
	}
	for _, re := range allow {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
