package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coachhttp "github.com/fyrsmithlabs/coachd/internal/http"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

type collaboratorFunc func(context.Context, *orchestrator.CoachRequest) (*orchestrator.CoachResponse, error)

func (f collaboratorFunc) Respond(ctx context.Context, req *orchestrator.CoachRequest) (*orchestrator.CoachResponse, error) {
	return f(ctx, req)
}

func newTestClient(t *testing.T, collab orchestrator.Collaborator, opts ...coachhttp.Option) *Client {
	t.Helper()

	exec, err := orchestrator.NewExecutor(session.NewMemoryStore(), collab)
	require.NoError(t, err)
	srv, err := coachhttp.NewServer(exec, logging.NewNop(), &coachhttp.Config{Version: "test"}, opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)

	c, err := New(ts.URL + "/")
	require.NoError(t, err)
	return c
}

func echoCollaborator() orchestrator.Collaborator {
	return collaboratorFunc(func(_ context.Context, req *orchestrator.CoachRequest) (*orchestrator.CoachResponse, error) {
		belief, _ := json.Marshal(req.Message)
		return &orchestrator.CoachResponse{
			Reply:      "You said: " + req.Message,
			Extraction: map[string]json.RawMessage{"belief": belief},
		}, nil
	})
}

func TestNew_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:9191", "://nope"} {
		_, err := New(u)
		assert.Error(t, err, u)
	}
}

func TestClient_SessionLifecycle(t *testing.T) {
	c := newTestClient(t, echoCollaborator())
	ctx := context.Background()

	created, err := c.CreateSession(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", created.Session.ID)
	assert.Equal(t, session.PhaseWhy, created.Status.Phase)

	turn, err := c.Send(ctx, "acme", "Craft matters")
	require.NoError(t, err)
	assert.Equal(t, "You said: Craft matters", turn.Reply)
	assert.Equal(t, 1, turn.Seq)
	assert.Equal(t, []string{"values"}, turn.Status.Missing)

	got, err := c.Session(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, got.Session.Turns, 1)
	assert.Equal(t, "Craft matters", got.Session.Outputs[session.PhaseWhy].Fields["belief"])

	md, err := c.Transcript(ctx, "acme")
	require.NoError(t, err)
	assert.Contains(t, md, "**belief**: Craft matters")
}

func TestClient_APIErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		c := newTestClient(t, echoCollaborator())

		_, err := c.Session(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, IsStatus(err, http.StatusNotFound))

		_, err = c.Transcript(context.Background(), "missing")
		assert.True(t, IsStatus(err, http.StatusNotFound))
	})

	t.Run("model failure is retryable", func(t *testing.T) {
		c := newTestClient(t, collaboratorFunc(func(context.Context, *orchestrator.CoachRequest) (*orchestrator.CoachResponse, error) {
			return nil, errors.New("overloaded")
		}))

		_, err := c.Send(context.Background(), "acme", "hello")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.True(t, apiErr.Retryable)
		assert.Contains(t, apiErr.Message, "overloaded")
	})

	t.Run("duplicate session", func(t *testing.T) {
		c := newTestClient(t, echoCollaborator())

		_, err := c.CreateSession(context.Background(), "dup")
		require.NoError(t, err)
		_, err = c.CreateSession(context.Background(), "dup")
		assert.True(t, IsStatus(err, http.StatusConflict))
	})
}

func TestClient_Health(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c := newTestClient(t, echoCollaborator())

		h, err := c.Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ok", h.Status)
		assert.Equal(t, "test", h.Version)
	})

	t.Run("degraded still returns body", func(t *testing.T) {
		c := newTestClient(t, echoCollaborator(), coachhttp.WithHealthCheck("store", func(context.Context) error {
			return errors.New("bucket missing")
		}))

		h, err := c.Health(context.Background())
		require.Error(t, err)
		assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
		require.NotNil(t, h)
		assert.Equal(t, "degraded", h.Status)
		assert.Equal(t, "bucket missing", h.Checks["store"])
	})
}
