package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	s := New("acme", t0)

	assert.Equal(t, PhaseWhy, s.CurrentPhase)
	assert.Empty(t, s.Turns)
	require.Contains(t, s.Outputs, PhaseWhy)
	assert.NotContains(t, s.Outputs, PhaseHow)
	assert.Equal(t, PhaseWhy, s.ActiveOutput().Phase)
	assert.Zero(t, s.Version)
}

func TestAppendTurn_SequenceIncrements(t *testing.T) {
	s := New("acme", t0)

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.AppendTurn(Turn{Phase: PhaseWhy, UserMessage: "hi", Timestamp: t0.Add(time.Duration(i) * time.Minute)}))
	}

	for i, turn := range s.Turns {
		assert.Equal(t, i+1, turn.Seq)
	}
	assert.Equal(t, 5, s.NextSeq())
	assert.Equal(t, t0.Add(4*time.Minute), s.UpdatedAt)
}

func TestAppendTurn_IgnoresCallerSeq(t *testing.T) {
	s := New("acme", t0)

	require.NoError(t, s.AppendTurn(Turn{Seq: 42, Phase: PhaseWhy}))
	assert.Equal(t, 1, s.Turns[0].Seq)
}

func TestAppendTurn_RejectsPhaseMismatch(t *testing.T) {
	s := New("acme", t0)

	err := s.AppendTurn(Turn{Phase: PhaseHow})
	assert.ErrorIs(t, err, ErrPhaseMismatch)
	assert.Empty(t, s.Turns)
}

func TestTransition(t *testing.T) {
	s := New("acme", t0)
	s.Outputs[PhaseWhy].Fields["belief"] = "people deserve honest advice"

	require.NoError(t, s.Transition(PhaseHow, t0.Add(time.Hour)))

	why := s.Outputs[PhaseWhy]
	assert.True(t, why.Finalized)
	require.NotNil(t, why.FinalizedAt)
	assert.Equal(t, t0.Add(time.Hour), *why.FinalizedAt)
	assert.Equal(t, PhaseHow, s.CurrentPhase)
	assert.Equal(t, PhaseHow, s.ActiveOutput().Phase)
	assert.Empty(t, s.ActiveOutput().Fields)
}

func TestTransition_NoSkipping(t *testing.T) {
	s := New("acme", t0)

	assert.ErrorIs(t, s.Transition(PhaseWhat, t0), ErrPhaseMismatch)
	assert.ErrorIs(t, s.Transition(PhaseDone, t0), ErrPhaseMismatch)
	assert.ErrorIs(t, s.Transition(PhaseWhy, t0), ErrPhaseMismatch)
	assert.Equal(t, PhaseWhy, s.CurrentPhase)
}

func TestTransition_ToDoneCreatesNoOutput(t *testing.T) {
	s := New("acme", t0)
	require.NoError(t, s.Transition(PhaseHow, t0))
	require.NoError(t, s.Transition(PhaseWhat, t0))
	require.NoError(t, s.Transition(PhaseDone, t0))

	assert.True(t, s.Done())
	assert.Nil(t, s.ActiveOutput())
	assert.Len(t, s.Outputs, 3)
	assert.ErrorIs(t, s.AppendTurn(Turn{Phase: PhaseDone}), ErrPhaseMismatch)
}

func TestClone_IsDeep(t *testing.T) {
	s := New("acme", t0)
	s.Outputs[PhaseWhy].Fields["belief"] = "original"
	require.NoError(t, s.AppendTurn(Turn{Phase: PhaseWhy, Changed: []string{"belief"}}))

	c := s.Clone()
	c.Outputs[PhaseWhy].Fields["belief"] = "changed"
	c.Turns[0].Changed[0] = "values"
	c.Turns = append(c.Turns, Turn{})

	assert.Equal(t, "original", s.Outputs[PhaseWhy].Fields["belief"])
	assert.Equal(t, "belief", s.Turns[0].Changed[0])
	assert.Len(t, s.Turns, 1)
}

func TestPhase(t *testing.T) {
	assert.True(t, PhaseWhat.Valid())
	assert.False(t, Phase("later").Valid())
	assert.Equal(t, "HOW", PhaseHow.Label())
	assert.Equal(t, 0, PhaseWhy.Order())
	assert.Equal(t, 3, PhaseDone.Order())
	assert.Equal(t, -1, Phase("x").Order())
}

func TestTranscript(t *testing.T) {
	s := New("acme", t0)
	s.Outputs[PhaseWhy].Fields["belief"] = "small firms deserve great tools"
	s.Outputs[PhaseWhy].Score = 0.5
	require.NoError(t, s.AppendTurn(Turn{Phase: PhaseWhy, UserMessage: "We build tools", AssistantReply: "Why does that matter?"}))
	require.NoError(t, s.AppendTurn(Turn{Phase: PhaseWhy, UserMessage: "Because", Failed: true, Error: "model timeout"}))

	md := s.Transcript()

	assert.Contains(t, md, "# Coaching session acme")
	assert.Contains(t, md, "## WHY (in progress, 50%)")
	assert.Contains(t, md, "- **belief**: small firms deserve great tools")
	assert.Contains(t, md, "### Turn 1 (WHY)")
	assert.Contains(t, md, "**Coach:** Why does that matter?")
	assert.Contains(t, md, "_coach unavailable: model timeout_")
	assert.NotContains(t, md, "## HOW")
}

func TestTransition_RevisionReopensEarlierPhase(t *testing.T) {
	s := New("acme", t0)
	s.Outputs[PhaseWhy].Fields["belief"] = "kept"
	require.NoError(t, s.Transition(PhaseHow, t0))
	s.Outputs[PhaseHow].Fields["approach"] = "also kept"

	require.NoError(t, s.Transition(PhaseWhy, t0.Add(time.Minute)))
	assert.Equal(t, PhaseWhy, s.CurrentPhase)
	assert.False(t, s.Outputs[PhaseWhy].Finalized)
	assert.Nil(t, s.Outputs[PhaseWhy].FinalizedAt)
	assert.Equal(t, "kept", s.Outputs[PhaseWhy].Fields["belief"])

	require.NoError(t, s.Transition(PhaseHow, t0.Add(2*time.Minute)))
	assert.Equal(t, "also kept", s.Outputs[PhaseHow].Fields["approach"])
}
