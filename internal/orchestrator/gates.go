package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/session"
)

// Evaluator is the completion gate for a phase. It merges extracted signals
// into a phase output and decides whether the phase is ready to close.
type Evaluator struct{}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns a merged copy of output, whether the phase is ready, and
// the sorted names of fields whose value changed. output is not modified.
//
// A field takes a signal's value only when the trimmed value is non-empty,
// so fields are never cleared. Signals for fields the definition does not
// name are ignored. A nil output starts a fresh one at now.
func (e *Evaluator) Evaluate(def *Definition, output *session.PhaseOutput, signals map[string]string, now time.Time) (*session.PhaseOutput, bool, []string) {
	updated := output.Clone()
	if updated == nil {
		updated = session.NewPhaseOutput(def.Phase, now)
	}
	if updated.Fields == nil {
		updated.Fields = map[string]string{}
	}

	var changed []string
	for _, f := range def.Fields {
		v, ok := signals[f.Name]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" || updated.Fields[f.Name] == v {
			continue
		}
		updated.Fields[f.Name] = v
		changed = append(changed, f.Name)
	}
	sort.Strings(changed)

	updated.Score = Score(def, updated)
	return updated, Ready(def, updated), changed
}

// Score returns filled required fields over total required fields. A phase
// with no required fields scores 1.
func Score(def *Definition, output *session.PhaseOutput) float64 {
	total, filled := 0, 0
	for _, f := range def.Fields {
		if !f.Required {
			continue
		}
		total++
		if strings.TrimSpace(output.Fields[f.Name]) != "" {
			filled++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(filled) / float64(total)
}

// Ready reports whether output meets the definition's threshold. With the
// default threshold of 1 a phase is never ready while a required field is
// empty; a lower threshold opts the phase into partial advancement.
func Ready(def *Definition, output *session.PhaseOutput) bool {
	threshold := def.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Score(def, output) >= threshold
}

// Missing returns the required fields that are still empty, in definition order.
func Missing(def *Definition, output *session.PhaseOutput) []Field {
	var missing []Field
	for _, f := range def.Fields {
		if f.Required && strings.TrimSpace(output.Fields[f.Name]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
