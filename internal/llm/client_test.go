package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

// stubModel returns scripted responses in order.
type stubModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	messages  [][]llms.MessageContent
	options   llms.CallOptions
}

func (s *stubModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	s.messages = append(s.messages, msgs)
	for _, opt := range opts {
		opt(&s.options)
	}

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.responses[i]}}}, nil
}

func (s *stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, opts...)
}

func whyRequest(t *testing.T) *orchestrator.CoachRequest {
	t.Helper()
	def, ok := orchestrator.DefaultDefinitions().Definition(session.PhaseWhy)
	require.True(t, ok)
	out := session.NewPhaseOutput(session.PhaseWhy, time.Now())
	out.Fields["belief"] = "Real bread for everyone"
	return &orchestrator.CoachRequest{
		SessionID:  "bakery",
		Phase:      session.PhaseWhy,
		Definition: def,
		Output:     out,
		History: []session.Turn{
			{Seq: 1, Phase: session.PhaseWhy, UserMessage: "We bake bread", AssistantReply: "Why bread?"},
		},
		Message: "Because it brings people together",
	}
}

func fastClient(model llms.Model, opts ...Option) *Client {
	opts = append([]Option{
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithRetries(2, time.Millisecond),
	}, opts...)
	return NewClient(model, opts...)
}

func textOf(m llms.MessageContent) string {
	var s string
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			s += tc.Text
		}
	}
	return s
}

func TestRespond_SplitsReplyAndExtraction(t *testing.T) {
	model := &stubModel{responses: []string{
		"That's a powerful belief. What values guide you?\n\n```json\n{\"fields\": {\"belief\": \"Bread brings people together\", \"values\": [\"warmth\", \"honesty\"]}}\n```",
	}}
	c := fastClient(model, WithGeneration(0.2, 256))

	resp, err := c.Respond(context.Background(), whyRequest(t))
	require.NoError(t, err)

	assert.Equal(t, "That's a powerful belief. What values guide you?", resp.Reply)
	assert.False(t, resp.Malformed)
	require.Contains(t, resp.Extraction, "belief")
	assert.JSONEq(t, `"Bread brings people together"`, string(resp.Extraction["belief"]))
	assert.JSONEq(t, `["warmth","honesty"]`, string(resp.Extraction["values"]))
	assert.Equal(t, 0.2, model.options.Temperature)
	assert.Equal(t, 256, model.options.MaxTokens)
}

func TestRespond_BuildsChat(t *testing.T) {
	model := &stubModel{responses: []string{"ok"}}
	c := fastClient(model)

	_, err := c.Respond(context.Background(), whyRequest(t))
	require.NoError(t, err)

	require.Len(t, model.messages, 1)
	msgs := model.messages[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[3].Role)
	assert.Equal(t, "Because it brings people together", textOf(msgs[3]))

	system := textOf(msgs[0])
	assert.Contains(t, system, "Current phase: WHY")
	assert.Contains(t, system, `Captured so far: "Real bread for everyone"`)
	assert.Contains(t, system, "Still needed before moving on: values.")
	assert.Contains(t, system, `{"fields":`)
}

func TestRespond_MalformedBlock(t *testing.T) {
	model := &stubModel{responses: []string{"Tell me more.\n```json\n{\"fields\": {\"belief\": \n```"}}
	c := fastClient(model)

	resp, err := c.Respond(context.Background(), whyRequest(t))
	require.NoError(t, err)
	assert.True(t, resp.Malformed)
	assert.Nil(t, resp.Extraction)
	assert.Equal(t, "Tell me more.", resp.Reply)
}

func TestRespond_RetriesThenSucceeds(t *testing.T) {
	model := &stubModel{
		errs:      []error{errors.New("503"), errors.New("503")},
		responses: []string{"", "", "third time lucky"},
	}
	c := fastClient(model)

	resp, err := c.Respond(context.Background(), whyRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", resp.Reply)
	assert.Equal(t, 3, model.calls)
}

func TestRespond_GivesUpAfterRetries(t *testing.T) {
	boom := errors.New("503")
	model := &stubModel{errs: []error{boom, boom, boom, boom}}
	c := fastClient(model, WithRetries(1, time.Millisecond))

	_, err := c.Respond(context.Background(), whyRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 2, model.calls)
}

func TestRespond_EmptyResponseIsRetried(t *testing.T) {
	model := &stubModel{}
	c := fastClient(model, WithRetries(1, time.Millisecond))

	_, err := c.Respond(context.Background(), whyRequest(t))
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, 2, model.calls)
}

func TestRespond_ContextErrorsAreNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &stubModel{errs: []error{context.Canceled}}
	c := fastClient(model)

	_, err := c.Respond(ctx, whyRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, model.calls, 1)
}

func TestRespond_RequiresDefinition(t *testing.T) {
	c := fastClient(&stubModel{})
	_, err := c.Respond(context.Background(), &orchestrator.CoachRequest{Message: "hi"})
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		reply     string
		fields    map[string]string
		malformed bool
	}{
		{
			name:  "no block",
			text:  "  Just a question?  ",
			reply: "Just a question?",
		},
		{
			name:   "block in the middle",
			text:   "Before.\n```json\n{\"fields\":{\"approach\":\"a\"}}\n```\nAfter.",
			reply:  "Before.\n\nAfter.",
			fields: map[string]string{"approach": `"a"`},
		},
		{
			name:   "last block wins",
			text:   "Hi\n```json\n{\"fields\":{\"a\":\"1\"}}\n```\n```json\n{\"fields\":{\"b\":\"2\"}}\n```",
			reply:  "Hi",
			fields: map[string]string{"b": `"2"`},
		},
		{
			name:  "empty object",
			text:  "Hi\n```json\n{}\n```",
			reply: "Hi",
		},
		{
			name:      "not an object",
			text:      "Hi\n```json\n[1,2]\n```",
			reply:     "Hi",
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, fields, malformed := parseReply(tt.text)
			assert.Equal(t, tt.reply, reply)
			assert.Equal(t, tt.malformed, malformed)
			require.Len(t, fields, len(tt.fields))
			for k, v := range tt.fields {
				assert.Equal(t, json.RawMessage(v), fields[k])
			}
		})
	}
}

func TestNew_Providers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr string
	}{
		{"ollama", config.LLMConfig{Provider: "ollama", Model: "llama3.1", BaseURL: "http://localhost:11434"}, ""},
		{"openai", config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"}, ""},
		{"anthropic", config.LLMConfig{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", APIKey: "sk-ant-test"}, ""},
		{"openai without key", config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}, "API key required"},
		{"anthropic without key", config.LLMConfig{Provider: "anthropic"}, "API key required"},
		{"unknown", config.LLMConfig{Provider: "bard"}, "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}
