package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func raw(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestValidateExtraction(t *testing.T) {
	def := whyDef(t)

	report := validateExtraction(def, map[string]json.RawMessage{
		"belief":            raw("  Local businesses are the heart of a town  "),
		"values":            raw([]string{"honesty", " ", "craft"}),
		"revenue":           raw("10M"),
		"purpose_statement": raw(map[string]string{"nested": "object"}),
	})

	assert.Equal(t, map[string]string{
		"belief": "Local businesses are the heart of a town",
		"values": "honesty; craft",
	}, report.Signals)
	assert.Equal(t, []string{"revenue"}, report.Unknown)
	assert.Equal(t, []string{"purpose_statement"}, report.Invalid)
}

func TestValidateExtraction_Limits(t *testing.T) {
	def := whyDef(t)

	tests := []struct {
		name  string
		value json.RawMessage
	}{
		{"too long", raw(strings.Repeat("x", maxFieldValueLen+1))},
		{"too many items", raw(make([]string, maxListItems+1))},
		{"number", raw(42)},
		{"mixed list", json.RawMessage(`["a", 1]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validateExtraction(def, map[string]json.RawMessage{"belief": tt.value})
			assert.Empty(t, report.Signals)
			assert.Equal(t, []string{"belief"}, report.Invalid)
		})
	}
}

func TestValidateExtraction_TooManyFields(t *testing.T) {
	def := whyDef(t)
	in := map[string]json.RawMessage{"belief": raw("ok")}
	for i := 0; i < maxFields; i++ {
		in[fmt.Sprintf("extra_%d", i)] = raw("x")
	}

	report := validateExtraction(def, in)

	assert.Empty(t, report.Signals)
	sort.Strings(report.Invalid)
	assert.Len(t, report.Invalid, maxFields+1)
}
