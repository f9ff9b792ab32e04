package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Store.Backend = "memory"
	applyDefaults(cfg)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "bad log format", mutate: func(c *Config) { c.Observability.LogFormat = "xml" }, wantErr: "invalid log format"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "bard" }, wantErr: "unknown llm provider"},
		{name: "openai without key", mutate: func(c *Config) { c.LLM.Provider = "openai" }, wantErr: "api_key"},
		{name: "openai with key", mutate: func(c *Config) {
			c.LLM.Provider = "openai"
			c.LLM.APIKey = "sk-abc"
		}},
		{name: "temperature too high", mutate: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "temperature"},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: "unknown store backend"},
		{name: "file backend without path", mutate: func(c *Config) {
			c.Store.Backend = "file"
			c.Store.Path = ""
		}, wantErr: "store.path"},
		{name: "nats backend without url", mutate: func(c *Config) { c.Store.Backend = "nats" }, wantErr: "nats.url"},
		{name: "events without url", mutate: func(c *Config) { c.NATS.PublishEvents = true }, wantErr: "publish_events"},
		{name: "zero turn timeout", mutate: func(c *Config) { c.Coaching.TurnTimeout = -time.Second }, wantErr: "turn_timeout"},
		{name: "watch without path", mutate: func(c *Config) { c.Coaching.WatchDefinitions = true }, wantErr: "definitions_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyDefaults_ProviderModels(t *testing.T) {
	for provider, model := range map[string]string{
		"openai":    "gpt-4o-mini",
		"anthropic": "claude-3-5-sonnet-20241022",
		"ollama":    "llama3.1",
	} {
		cfg := &Config{LLM: LLMConfig{Provider: provider}}
		applyDefaults(cfg)
		assert.Equal(t, model, cfg.LLM.Model, provider)
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())
}

func TestSecret_UnmarshalText(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte("token")))
	assert.Equal(t, "token", s.Value())
}
