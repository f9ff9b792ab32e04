// Package orchestrator runs coaching turns: it asks the language model for a
// reply, folds the structured answers it extracts into the current phase's
// output, and moves the session through WHY, HOW and WHAT when each phase's
// completion gate is met.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/session"
)

// Field is one structured answer a phase collects.
type Field struct {
	Name        string `json:"name" yaml:"name" toml:"name" koanf:"name"`
	Description string `json:"description" yaml:"description" toml:"description" koanf:"description"`
	Required    bool   `json:"required" yaml:"required" toml:"required" koanf:"required"`
}

// Definition is the static configuration of a phase: what it collects, how
// complete it must be before moving on, and how the coach should behave.
type Definition struct {
	Phase        session.Phase `json:"phase" yaml:"phase" toml:"phase" koanf:"phase"`
	Title        string        `json:"title" yaml:"title" toml:"title" koanf:"title"`
	Fields       []Field       `json:"fields" yaml:"fields" toml:"fields" koanf:"fields"`
	Threshold    float64       `json:"threshold" yaml:"threshold" toml:"threshold" koanf:"threshold"`
	Instructions string        `json:"instructions" yaml:"instructions" toml:"instructions" koanf:"instructions"`
}

// Field returns the named field.
func (d *Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredCount returns the number of required fields.
func (d *Definition) RequiredCount() int {
	n := 0
	for _, f := range d.Fields {
		if f.Required {
			n++
		}
	}
	return n
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if d.Phase == session.PhaseDone || d.Phase.Order() < 0 {
		return fmt.Errorf("definition has invalid phase %q", d.Phase)
	}
	if d.Threshold < 0 || d.Threshold > 1 {
		return fmt.Errorf("%s: threshold must be between 0 and 1, got %v", d.Phase, d.Threshold)
	}
	if d.Instructions == "" {
		return fmt.Errorf("%s: instructions are required", d.Phase)
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("%s: field name is required", d.Phase)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s: duplicate field %q", d.Phase, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// DefinitionSource supplies the definition for a phase.
type DefinitionSource interface {
	Definition(phase session.Phase) (*Definition, bool)
}

// Collaborator produces the coach's reply for a turn.
type Collaborator interface {
	Respond(ctx context.Context, req *CoachRequest) (*CoachResponse, error)
}

// CoachRequest is everything the model sees for one turn.
type CoachRequest struct {
	SessionID  string
	Phase      session.Phase
	Definition *Definition
	Output     *session.PhaseOutput
	History    []session.Turn
	Message    string
}

// CoachResponse is the model's reply plus any structured extraction. The
// extraction is untrusted and validated field by field before use.
type CoachResponse struct {
	Reply      string
	Extraction map[string]json.RawMessage
	// Malformed is set when the model emitted an extraction block that
	// could not be parsed.
	Malformed bool
}

// Result is the outcome of HandleMessage.
type Result struct {
	Reply               string           `json:"reply"`
	Session             *session.Session `json:"session"`
	Turn                session.Turn     `json:"turn"`
	Advanced            bool             `json:"advanced"`
	From                session.Phase    `json:"from"`
	To                  session.Phase    `json:"to"`
	ExtractionMalformed bool             `json:"extraction_malformed"`
}
