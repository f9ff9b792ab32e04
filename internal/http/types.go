package http

import (
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// CreateSessionRequest is the request body for POST /api/v1/sessions.
// An empty ID gets a generated one.
type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// SessionResponse is the response body for session reads and creation.
type SessionResponse struct {
	Session *session.Session    `json:"session"`
	Status  orchestrator.Status `json:"status"`
}

// MessageRequest is the request body for POST /api/v1/sessions/:id/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// MessageResponse is the response body for a handled turn.
type MessageResponse struct {
	Reply               string              `json:"reply"`
	Seq                 int                 `json:"seq"`
	Phase               session.Phase       `json:"phase"`
	NextPhase           session.Phase       `json:"next_phase"`
	Advanced            bool                `json:"advanced"`
	Score               float64             `json:"score"`
	Changed             []string            `json:"changed,omitempty"`
	ExtractionMalformed bool                `json:"extraction_malformed,omitempty"`
	Status              orchestrator.Status `json:"status"`
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}
