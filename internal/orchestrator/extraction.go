package orchestrator

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	maxFieldValueLen = 2000
	maxListItems     = 20
	maxFields        = 32
)

// extractionReport describes what validateExtraction kept and dropped.
type extractionReport struct {
	Signals map[string]string
	Unknown []string
	Invalid []string
}

// validateExtraction turns the model's raw extraction into field signals.
// Only fields the definition names are kept, and only when the value is a
// string or a list of strings within the size limits. List values are
// joined with "; ".
func validateExtraction(def *Definition, raw map[string]json.RawMessage) extractionReport {
	report := extractionReport{Signals: map[string]string{}}
	if len(raw) > maxFields {
		for name := range raw {
			report.Invalid = append(report.Invalid, name)
		}
		return report
	}

	for name, value := range raw {
		if _, ok := def.Field(name); !ok {
			report.Unknown = append(report.Unknown, name)
			continue
		}
		v, ok := decodeFieldValue(value)
		if !ok {
			report.Invalid = append(report.Invalid, name)
			continue
		}
		report.Signals[name] = v
	}
	return report
}

func decodeFieldValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return checkValue(s)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil || len(list) > maxListItems {
		return "", false
	}
	items := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return checkValue(strings.Join(items, "; "))
}

func checkValue(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !utf8.ValidString(s) || len(s) > maxFieldValueLen {
		return "", false
	}
	return s, true
}
