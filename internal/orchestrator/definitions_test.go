package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

func TestDefaultDefinitions(t *testing.T) {
	defs := DefaultDefinitions()
	require.NoError(t, defs.Validate())

	tests := []struct {
		phase    session.Phase
		required []string
	}{
		{session.PhaseWhy, []string{"belief", "values"}},
		{session.PhaseHow, []string{"approach", "differentiators"}},
		{session.PhaseWhat, []string{"financial", "customer", "internal_process", "learning_growth"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			def, ok := defs.Definition(tt.phase)
			require.True(t, ok)
			assert.Equal(t, DefaultThreshold, def.Threshold)
			assert.NotEmpty(t, def.Instructions)

			var required []string
			for _, f := range def.Fields {
				if f.Required {
					required = append(required, f.Name)
				}
			}
			assert.Equal(t, tt.required, required)
		})
	}

	_, ok := defs.Definition(session.PhaseDone)
	assert.False(t, ok)
}

const yamlDefinitions = `
phases:
  - phase: how
    title: How do you deliver?
    threshold: 0.5
    fields:
      - name: approach
        description: The delivery approach
        required: true
      - name: channels
        description: Where customers meet the business
        required: true
`

const tomlDefinitions = `
[[phases]]
phase = "what"
title = "Measures"
instructions = "Ask about measures."

[[phases.fields]]
name = "financial"
description = "Money"
required = true
`

func TestParseDefinitions_YAML(t *testing.T) {
	defs, err := ParseDefinitions([]byte(yamlDefinitions), "yaml")
	require.NoError(t, err)

	how, ok := defs.Definition(session.PhaseHow)
	require.True(t, ok)
	assert.Equal(t, "How do you deliver?", how.Title)
	assert.Equal(t, 0.5, how.Threshold)
	assert.Equal(t, 2, how.RequiredCount())
	assert.Equal(t, DefaultDefinitions()[session.PhaseHow].Instructions, how.Instructions,
		"omitted instructions fall back to the built-in prompt")

	why, _ := defs.Definition(session.PhaseWhy)
	assert.Equal(t, DefaultDefinitions()[session.PhaseWhy].Fields, why.Fields)
}

func TestParseDefinitions_TOML(t *testing.T) {
	defs, err := ParseDefinitions([]byte(tomlDefinitions), "toml")
	require.NoError(t, err)

	what, ok := defs.Definition(session.PhaseWhat)
	require.True(t, ok)
	assert.Equal(t, "Ask about measures.", what.Instructions)
	assert.Equal(t, DefaultThreshold, what.Threshold)
	require.Len(t, what.Fields, 1)
	assert.Equal(t, "financial", what.Fields[0].Name)
}

func TestParseDefinitions_PartialPhaseInheritsBuiltin(t *testing.T) {
	builtin := DefaultDefinitions()[session.PhaseWhy]

	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"yaml", "phases:\n  - phase: why\n    title: Our why\n", "yaml"},
		{"toml", "[[phases]]\nphase = \"why\"\ntitle = \"Our why\"\n", "toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := ParseDefinitions([]byte(tt.data), tt.format)
			require.NoError(t, err)

			why := defs[session.PhaseWhy]
			assert.Equal(t, "Our why", why.Title)
			assert.Equal(t, builtin.Fields, why.Fields)
			assert.Equal(t, builtin.RequiredCount(), why.RequiredCount())
			assert.Equal(t, builtin.Instructions, why.Instructions)
			assert.Equal(t, DefaultThreshold, why.Threshold)
		})
	}

	t.Run("inherited fields are a copy", func(t *testing.T) {
		defs, err := ParseDefinitions([]byte("phases:\n  - phase: why\n"), "yaml")
		require.NoError(t, err)
		defs[session.PhaseWhy].Fields[0].Required = false
		assert.True(t, DefaultDefinitions()[session.PhaseWhy].Fields[0].Required)
	})
}

func TestParseDefinitions_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
		errMsg string
	}{
		{"unsupported format", "{}", "json", "unsupported"},
		{"no phases", "phases: []", "yaml", "no phases"},
		{"done phase", "phases:\n  - phase: done\n    instructions: x", "yaml", "invalid phase"},
		{"unknown phase", "phases:\n  - phase: later\n    instructions: x", "yaml", "invalid phase"},
		{"threshold above one", "phases:\n  - phase: why\n    threshold: 2", "yaml", "threshold"},
		{"duplicate phase", "phases:\n  - phase: why\n  - phase: why", "yaml", "twice"},
		{"duplicate field", "phases:\n  - phase: why\n    fields:\n      - name: a\n      - name: a", "yaml", "duplicate field"},
		{"unknown toml key", "[[phases]]\nphase = \"why\"\ncolour = \"red\"", "toml", "unknown keys"},
		{"unknown yaml key", "phases:\n  - phase: why\n    colour: red", "yaml", "colour"},
		{"misspelled yaml field key", "phases:\n  - phase: why\n    fields:\n      - name: belief\n        requried: true", "yaml", "requried"},
		{"bad yaml", "phases: [", "yaml", "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadDefinitions_ByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "phases.yml")
	tomlPath := filepath.Join(dir, "phases.toml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDefinitions), 0600))
	require.NoError(t, os.WriteFile(tomlPath, []byte(tomlDefinitions), 0600))

	defs, err := LoadDefinitions(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 0.5, defs[session.PhaseHow].Threshold)

	defs, err = LoadDefinitions(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "Measures", defs[session.PhaseWhat].Title)

	_, err = LoadDefinitions(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefinitionWatcher_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDefinitions), 0600))

	tl := logging.NewTestLogger()
	w, err := NewDefinitionWatcher(path, tl.Logger)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	how, _ := w.Definition(session.PhaseHow)
	require.Equal(t, 0.5, how.Threshold)

	updated := `
phases:
  - phase: how
    threshold: 0.75
    fields:
      - name: approach
        required: true
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))

	select {
	case defs := <-w.Reloads():
		assert.Equal(t, 0.75, defs[session.PhaseHow].Threshold)
	case <-time.After(5 * time.Second):
		t.Fatal("definitions were not reloaded")
	}
	how, _ = w.Definition(session.PhaseHow)
	assert.Equal(t, 0.75, how.Threshold)
	tl.AssertLogged(t, zapcore.InfoLevel, "definitions reloaded")
}

func TestDefinitionWatcher_KeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDefinitions), 0600))

	w, err := NewDefinitionWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	w.reload(context.Background())
	require.NoError(t, os.WriteFile(path, []byte("phases: ["), 0600))
	w.reload(context.Background())

	how, _ := w.Definition(session.PhaseHow)
	assert.Equal(t, 0.5, how.Threshold)
}

func TestDefinitionWatcher_InitialLoadMustSucceed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phases: []"), 0600))

	_, err := NewDefinitionWatcher(path, nil)
	assert.Error(t, err)
}

func TestDefinitionWatcher_CloseStopsLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDefinitions), 0600))

	w, err := NewDefinitionWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second start")
	require.NoError(t, w.Close())

	select {
	case <-w.Done():
	default:
		t.Fatal("Close returned before the watcher loop exited")
	}
	require.NoError(t, w.Close())
	assert.Error(t, w.Start(context.Background()), "start after close")
}

func TestDefinitionWatcher_CloseWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDefinitions), 0600))

	w, err := NewDefinitionWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case <-w.Done():
	default:
		t.Fatal("Done not closed")
	}
}
