package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/coachd/internal/session"
)

func TestRouter_NotReadyStays(t *testing.T) {
	r := NewRouter()
	for _, p := range []session.Phase{session.PhaseWhy, session.PhaseHow, session.PhaseWhat, session.PhaseDone} {
		assert.Equal(t, p, r.Route(p, Decision{Ready: false, Score: 0.5}), "phase %s", p)
	}
}

func TestRouter_DefaultChain(t *testing.T) {
	r := NewRouter()
	ready := Decision{Ready: true, Score: 1}

	assert.Equal(t, session.PhaseHow, r.Route(session.PhaseWhy, ready))
	assert.Equal(t, session.PhaseWhat, r.Route(session.PhaseHow, ready))
	assert.Equal(t, session.PhaseDone, r.Route(session.PhaseWhat, ready))
	assert.Equal(t, session.PhaseDone, r.Route(session.PhaseDone, ready))
}

func TestRouter_NeverSkips(t *testing.T) {
	r := NewRouter()
	for _, p := range session.Phases {
		for _, d := range []Decision{{Ready: true, Score: 1}, {Ready: false, Score: 0}} {
			next := r.Route(p, d)
			step := next.Order() - p.Order()
			assert.True(t, step == 0 || step == 1, "%s -> %s", p, next)
		}
	}
}

func TestRouter_ExtraEdgesRunAfterDefaults(t *testing.T) {
	backToWhy := func(d Decision) bool { return d.Score == 0 }
	r := NewRouter(
		WithTransition(session.PhaseHow, session.PhaseWhy, backToWhy),
		WithTransition(session.PhaseDone, session.PhaseWhy, nil),
	)

	assert.Equal(t, session.PhaseWhy, r.Route(session.PhaseHow, Decision{Score: 0}))
	assert.Equal(t, session.PhaseHow, r.Route(session.PhaseHow, Decision{Score: 0.5}))
	assert.Equal(t, session.PhaseWhat, r.Route(session.PhaseHow, Decision{Ready: true, Score: 0}),
		"the default edge is registered first")
	assert.Empty(t, r.Edges(session.PhaseDone), "edges out of DONE are ignored")
	assert.Len(t, r.Edges(session.PhaseHow), 2)
}

func TestRouter_NilGuardMeansReady(t *testing.T) {
	r := &Router{edges: map[session.Phase][]Transition{}}
	WithTransition(session.PhaseWhy, session.PhaseHow, nil)(r)

	assert.Equal(t, session.PhaseWhy, r.Route(session.PhaseWhy, Decision{}))
	assert.Equal(t, session.PhaseHow, r.Route(session.PhaseWhy, Decision{Ready: true}))
}

func TestRouter_RejectsEdgesSessionsCannotTake(t *testing.T) {
	always := func(Decision) bool { return true }

	tests := []struct {
		name     string
		from, to session.Phase
		errMsg   string
	}{
		{"skip forward", session.PhaseWhy, session.PhaseWhat, "skips a phase"},
		{"skip to done", session.PhaseHow, session.PhaseDone, "skips a phase"},
		{"self loop", session.PhaseHow, session.PhaseHow, "does not move"},
		{"unknown target", session.PhaseWhy, session.Phase("later"), "unknown phase"},
		{"unknown source", session.Phase("later"), session.PhaseWhy, "unknown phase"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PanicsWithValue(t, "orchestrator: "+checkEdge(tt.from, tt.to).Error(), func() {
				NewRouter(WithTransition(tt.from, tt.to, always))
			})
			assert.Contains(t, checkEdge(tt.from, tt.to).Error(), tt.errMsg)
		})
	}

	assert.NotPanics(t, func() {
		NewRouter(
			WithTransition(session.PhaseWhat, session.PhaseWhy, always),
			WithTransition(session.PhaseHow, session.PhaseWhy, always),
		)
	})
}
