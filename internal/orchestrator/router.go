package orchestrator

import (
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/session"
)

// Decision is what the router knows about the phase that just ran.
type Decision struct {
	Ready bool
	Score float64
}

// Guard decides whether a transition may be taken.
type Guard func(Decision) bool

// WhenReady is the default guard: the phase's completion gate is met.
func WhenReady(d Decision) bool { return d.Ready }

// Transition is a guarded edge in the phase graph.
type Transition struct {
	From  session.Phase
	To    session.Phase
	Guard Guard
}

// Router walks a directed graph of guarded phase transitions. Edges out of a
// phase are tried in registration order and the first whose guard passes
// wins; with none, the session stays where it is.
type Router struct {
	edges map[session.Phase][]Transition
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithTransition registers an extra edge, such as a revision loop back to an
// earlier phase. Extra edges are tried after the default ones. An edge the
// session could never take (skipping a phase forward, looping on itself, or
// naming an unknown phase) panics when the router is built.
func WithTransition(from, to session.Phase, guard Guard) RouterOption {
	return func(r *Router) {
		r.add(Transition{From: from, To: to, Guard: guard})
	}
}

// NewRouter creates the default WHY → HOW → WHAT → DONE graph, each edge
// guarded by readiness.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{edges: make(map[session.Phase][]Transition)}
	r.add(Transition{From: session.PhaseWhy, To: session.PhaseHow, Guard: WhenReady})
	r.add(Transition{From: session.PhaseHow, To: session.PhaseWhat, Guard: WhenReady})
	r.add(Transition{From: session.PhaseWhat, To: session.PhaseDone, Guard: WhenReady})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) add(t Transition) {
	if t.From == session.PhaseDone {
		return
	}
	if err := checkEdge(t.From, t.To); err != nil {
		panic(fmt.Sprintf("orchestrator: %v", err))
	}
	if t.Guard == nil {
		t.Guard = WhenReady
	}
	r.edges[t.From] = append(r.edges[t.From], t)
}

// checkEdge mirrors session.Transition: forward moves are exactly one step,
// backward moves may go to any earlier phase.
func checkEdge(from, to session.Phase) error {
	f, t := from.Order(), to.Order()
	switch {
	case f < 0 || t < 0:
		return fmt.Errorf("transition %q -> %q names an unknown phase", from, to)
	case t == f:
		return fmt.Errorf("transition %s -> %s does not move", from, to)
	case t > f+1:
		return fmt.Errorf("transition %s -> %s skips a phase", from, to)
	}
	return nil
}

// Route returns the phase to move to, or current when no edge applies.
func (r *Router) Route(current session.Phase, d Decision) session.Phase {
	for _, t := range r.edges[current] {
		if t.Guard(d) {
			return t.To
		}
	}
	return current
}

// Edges returns the transitions out of a phase.
func (r *Router) Edges(from session.Phase) []Transition {
	return append([]Transition(nil), r.edges[from]...)
}
