// Package session holds the coaching session record: its phase, the turn
// history and the structured output gathered for each phase, plus the
// stores that persist it.
package session

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase identifies a coaching stage.
type Phase string

const (
	PhaseWhy  Phase = "why"
	PhaseHow  Phase = "how"
	PhaseWhat Phase = "what"
	PhaseDone Phase = "done"
)

// Phases lists the working phases in the order they must complete.
var Phases = []Phase{PhaseWhy, PhaseHow, PhaseWhat}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseWhy, PhaseHow, PhaseWhat, PhaseDone:
		return true
	}
	return false
}

// Label returns the upper-case display name.
func (p Phase) Label() string {
	return strings.ToUpper(string(p))
}

// Order returns the position of p in the phase sequence; DONE sorts last.
func (p Phase) Order() int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	if p == PhaseDone {
		return len(Phases)
	}
	return -1
}

// PhaseOutput is the structured content collected for one phase.
type PhaseOutput struct {
	Phase       Phase             `json:"phase"`
	Fields      map[string]string `json:"fields"`
	Score       float64           `json:"score"`
	Finalized   bool              `json:"finalized"`
	StartedAt   time.Time         `json:"started_at"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty"`
}

// NewPhaseOutput returns an empty output for a phase entered at now.
func NewPhaseOutput(p Phase, now time.Time) *PhaseOutput {
	return &PhaseOutput{
		Phase:     p,
		Fields:    map[string]string{},
		StartedAt: now,
	}
}

// Clone returns a deep copy.
func (o *PhaseOutput) Clone() *PhaseOutput {
	if o == nil {
		return nil
	}
	c := *o
	c.Fields = make(map[string]string, len(o.Fields))
	for k, v := range o.Fields {
		c.Fields[k] = v
	}
	if o.FinalizedAt != nil {
		t := *o.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

// Finalize freezes the output.
func (o *PhaseOutput) Finalize(now time.Time) {
	o.Finalized = true
	o.FinalizedAt = &now
}

// Turn is one user message and the coach's reply. Turns are immutable once
// appended.
type Turn struct {
	Seq                 int       `json:"seq"`
	Phase               Phase     `json:"phase"`
	UserMessage         string    `json:"user_message"`
	AssistantReply      string    `json:"assistant_reply"`
	Timestamp           time.Time `json:"timestamp"`
	Score               float64   `json:"score"`
	Changed             []string  `json:"changed,omitempty"`
	ExtractionMalformed bool      `json:"extraction_malformed,omitempty"`
	Failed              bool      `json:"failed,omitempty"`
	Error               string    `json:"error,omitempty"`
}

// Session is the persisted state of one coaching conversation.
type Session struct {
	ID           string                 `json:"id"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CurrentPhase Phase                  `json:"current_phase"`
	Turns        []Turn                 `json:"turns"`
	Outputs      map[Phase]*PhaseOutput `json:"outputs"`

	// Version is the store revision this copy was read at; zero means the
	// session has never been saved.
	Version uint64 `json:"version"`
}

// New creates a session in the WHY phase with an empty WHY output.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		UpdatedAt:    now,
		CurrentPhase: PhaseWhy,
		Turns:        []Turn{},
		Outputs: map[Phase]*PhaseOutput{
			PhaseWhy: NewPhaseOutput(PhaseWhy, now),
		},
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.Changed = append([]string(nil), t.Changed...)
		c.Turns[i] = t
	}
	c.Outputs = make(map[Phase]*PhaseOutput, len(s.Outputs))
	for p, o := range s.Outputs {
		c.Outputs[p] = o.Clone()
	}
	return &c
}

// Done reports whether all phases have completed.
func (s *Session) Done() bool {
	return s.CurrentPhase == PhaseDone
}

// ActiveOutput returns the output of the current phase, or nil when done.
func (s *Session) ActiveOutput() *PhaseOutput {
	return s.Outputs[s.CurrentPhase]
}

// NextSeq returns the sequence number the next turn will receive.
func (s *Session) NextSeq() int {
	if n := len(s.Turns); n > 0 {
		return s.Turns[n-1].Seq + 1
	}
	return 1
}

// AppendTurn adds t to the history, assigning its sequence number. It is the
// only way turns are added.
func (s *Session) AppendTurn(t Turn) error {
	if s.Done() {
		return fmt.Errorf("%w: session %s is complete", ErrPhaseMismatch, s.ID)
	}
	if t.Phase != s.CurrentPhase {
		return fmt.Errorf("%w: turn phase %s, session phase %s", ErrPhaseMismatch, t.Phase, s.CurrentPhase)
	}
	t.Seq = s.NextSeq()
	s.Turns = append(s.Turns, t)
	if t.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = t.Timestamp
	}
	return nil
}

// Transition moves the session to next. Moving forward must be exactly one
// step: the current output is finalized and next gets an empty output
// (none for DONE). Moving back to an earlier phase reopens that phase's
// output with its fields intact.
func (s *Session) Transition(next Phase, now time.Time) error {
	cur, to := s.CurrentPhase.Order(), next.Order()
	switch {
	case s.Done() || to < 0:
		return fmt.Errorf("%w: cannot move from %s to %s", ErrPhaseMismatch, s.CurrentPhase, next)
	case to == cur+1:
		if out := s.Outputs[s.CurrentPhase]; out != nil {
			out.Finalize(now)
		}
		if next != PhaseDone {
			s.Outputs[next] = s.enter(next, now)
		}
	case to < cur:
		s.Outputs[next] = s.enter(next, now)
	default:
		return fmt.Errorf("%w: cannot move from %s to %s", ErrPhaseMismatch, s.CurrentPhase, next)
	}
	s.CurrentPhase = next
	s.UpdatedAt = now
	return nil
}

// enter returns the output for a phase being (re)entered.
func (s *Session) enter(p Phase, now time.Time) *PhaseOutput {
	out, ok := s.Outputs[p]
	if !ok {
		return NewPhaseOutput(p, now)
	}
	out.Finalized = false
	out.FinalizedAt = nil
	return out
}

// Transcript renders the session as markdown: the collected outputs per
// phase followed by the conversation.
func (s *Session) Transcript() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Coaching session %s\n\n", s.ID)
	fmt.Fprintf(&b, "- Started: %s\n", s.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Current phase: %s\n", s.CurrentPhase.Label())
	fmt.Fprintf(&b, "- Turns: %d\n\n", len(s.Turns))

	for _, p := range Phases {
		out := s.Outputs[p]
		if out == nil {
			continue
		}
		status := "in progress"
		if out.Finalized {
			status = "complete"
		}
		fmt.Fprintf(&b, "## %s (%s, %.0f%%)\n\n", p.Label(), status, out.Score*100)

		names := make([]string, 0, len(out.Fields))
		for name := range out.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- **%s**: %s\n", name, out.Fields[name])
		}
		if len(names) == 0 {
			b.WriteString("_nothing captured yet_\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Conversation\n\n")
	for _, t := range s.Turns {
		fmt.Fprintf(&b, "### Turn %d (%s)\n\n", t.Seq, t.Phase.Label())
		fmt.Fprintf(&b, "**User:** %s\n\n", t.UserMessage)
		if t.Failed {
			fmt.Fprintf(&b, "_coach unavailable: %s_\n\n", t.Error)
			continue
		}
		fmt.Fprintf(&b, "**Coach:** %s\n\n", t.AssistantReply)
	}

	return b.String()
}
