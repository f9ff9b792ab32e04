package logging

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedactingEncoder_SensitiveKeys(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.Info(context.Background(), "provider configured",
		zap.String("api_key", "plain-value"),
		zap.String("Authorization", "Basic abc"),
		zap.String("model", "llama3.1"),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED]", lines[0]["Authorization"])
	assert.Equal(t, "llama3.1", lines[0]["model"])
}

func TestRedactingEncoder_ValuePatterns(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.Info(context.Background(), "request",
		zap.String("header", "Bearer eyJhbGciOi"),
		zap.String("note", "key is sk-abcdefghijklmnopqrstuvwxyz"),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["note"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Redaction.Enabled = false })

	logger.Info(context.Background(), "raw", zap.String("token", "visible"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "visible", lines[0]["token"])
}

func TestRedactingEncoder_ByteStringPattern(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.Info(context.Background(), "raw", zap.ByteString("body", []byte("Bearer abc.def")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["body"])
}

func TestNewRedactingEncoder_RejectsBadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"(unclosed"},
	})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("llm_key", config.Secret("abcd"))
	assert.Equal(t, "[REDACTED:4]", f.String)

	f = Redacted("message", "our values")
	assert.Equal(t, "[REDACTED:10]", f.String)
}
