// Package llm adapts langchaingo chat models to the coaching orchestrator.
// It renders each turn as a chat with the phase's instructions as the
// system prompt and splits the model's answer into the visible reply and the
// structured extraction block.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
	defaultMaxRetries  = 2
	defaultBackoff     = time.Second
	defaultRateLimit   = 50.0 / 60.0 // 50 requests per minute
	defaultBurst       = 5
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("empty response from model")

// Client implements orchestrator.Collaborator over a langchaingo model.
type Client struct {
	model       llms.Model
	limiter     *rate.Limiter
	temperature float64
	maxTokens   int
	maxRetries  int
	backoff     time.Duration
	logger      *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter replaces the request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetries sets the retry count and base backoff for failed calls.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithGeneration sets sampling temperature and the reply token budget.
func WithGeneration(temperature float64, maxTokens int) Option {
	return func(c *Client) {
		if temperature > 0 {
			c.temperature = temperature
		}
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps model.
func NewClient(model llms.Model, opts ...Option) *Client {
	c := &Client{
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		maxRetries:  defaultMaxRetries,
		backoff:     defaultBackoff,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("llm")
	return c
}

// New creates a Client for the configured provider.
func New(cfg config.LLMConfig, logger *logging.Logger) (*Client, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", cfg.Provider, err)
	}

	opts := []Option{
		WithGeneration(cfg.Temperature, cfg.MaxTokens),
		WithRetries(cfg.MaxRetries, cfg.Backoff),
		WithLogger(logger),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = defaultBurst
		}
		opts = append(opts, WithLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}
	return NewClient(model, opts...), nil
}

// Respond implements orchestrator.Collaborator.
//
// The call is rate limited and retried with exponential backoff. Context
// errors are never retried.
func (c *Client) Respond(ctx context.Context, req *orchestrator.CoachRequest) (*orchestrator.CoachResponse, error) {
	if req == nil || req.Definition == nil {
		return nil, errors.New("coach request requires a definition")
	}
	msgs := buildMessages(req)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		text, err := c.generate(ctx, msgs)
		if err == nil {
			reply, fields, malformed := parseReply(text)
			if malformed {
				c.logger.Debug(ctx, "extraction block did not parse")
			}
			return &orchestrator.CoachResponse{
				Reply:      reply,
				Extraction: fields,
				Malformed:  malformed,
			}, nil
		}

		lastErr = err
		if !isRetryable(ctx, err) {
			return nil, err
		}
		c.logger.Warn(ctx, "model call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) generate(ctx context.Context, msgs []llms.MessageContent) (string, error) {
	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
