// Package config provides configuration loading for coachd.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables. See LoadWithFile for precedence and mapping rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete coachd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	LLM           LLMConfig           `koanf:"llm"`
	Store         StoreConfig         `koanf:"store"`
	NATS          NATSConfig          `koanf:"nats"`
	Coaching      CoachingConfig      `koanf:"coaching"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"` // "grpc" or "http/protobuf"
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"` // "json" or "console"
}

// LLMConfig selects and tunes the language-model collaborator.
type LLMConfig struct {
	Provider    string        `koanf:"provider"` // "openai", "anthropic", "ollama"
	Model       string        `koanf:"model"`
	APIKey      Secret        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	MaxRetries  int           `koanf:"max_retries"`
	RateLimit   float64       `koanf:"rate_limit"` // requests per second
	Burst       int           `koanf:"burst"`
	Backoff     time.Duration `koanf:"backoff"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Backend string `koanf:"backend"` // "memory", "file", "nats"
	Path    string `koanf:"path"`    // directory for the file backend
	Bucket  string `koanf:"bucket"`  // key-value bucket for the nats backend
}

// NATSConfig holds NATS connection settings used by the KV store and turn events.
type NATSConfig struct {
	URL           string `koanf:"url"`
	PublishEvents bool   `koanf:"publish_events"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// CoachingConfig holds turn orchestration settings.
type CoachingConfig struct {
	DefinitionsPath  string        `koanf:"definitions_path"`
	WatchDefinitions bool          `koanf:"watch_definitions"`
	TurnTimeout      time.Duration `koanf:"turn_timeout"`
	HistoryTurns     int           `koanf:"history_turns"`
	MaxMessageLength int           `koanf:"max_message_length"`
	DisableScrubbing bool          `koanf:"disable_scrubbing"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (must be json or console)", c.Observability.LogFormat)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
		if !c.LLM.APIKey.IsSet() {
			return fmt.Errorf("llm.api_key required for provider %q", c.LLM.Provider)
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	if c.LLM.RateLimit <= 0 {
		return errors.New("llm.rate_limit must be positive")
	}

	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.Path == "" {
			return errors.New("store.path required for file backend")
		}
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats.url required for nats backend")
		}
		if c.Store.Bucket == "" {
			return errors.New("store.bucket required for nats backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.NATS.PublishEvents && c.NATS.URL == "" {
		return errors.New("nats.url required when nats.publish_events is set")
	}

	if c.Coaching.TurnTimeout <= 0 {
		return errors.New("coaching.turn_timeout must be positive")
	}
	if c.Coaching.HistoryTurns < 0 {
		return errors.New("coaching.history_turns cannot be negative")
	}
	if c.Coaching.WatchDefinitions && c.Coaching.DefinitionsPath == "" {
		return errors.New("coaching.definitions_path required when watching definitions")
	}

	return nil
}
