// Package reporting publishes coaching turn events for downstream report
// builders.
//
// Events are published to NATS subjects:
//
//	<prefix>.<session_id>.turn   every persisted turn
//	<prefix>.<session_id>.phase  turns that moved the session to a new phase
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// TurnEvent describes one persisted turn.
type TurnEvent struct {
	SessionID           string    `json:"session_id"`
	Seq                 int       `json:"seq"`
	Phase               string    `json:"phase"`
	Reply               string    `json:"reply,omitempty"`
	Score               float64   `json:"score"`
	Changed             []string  `json:"changed,omitempty"`
	Advanced            bool      `json:"advanced"`
	NextPhase           string    `json:"next_phase"`
	Failed              bool      `json:"failed,omitempty"`
	ExtractionMalformed bool      `json:"extraction_malformed,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// Publisher receives turn events after they are persisted.
type Publisher interface {
	PublishTurn(ctx context.Context, event TurnEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishTurn(context.Context, TurnEvent) error { return nil }

// NATSPublisher publishes events as JSON on core NATS.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher; prefix defaults to "coaching".
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "coaching"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// TurnSubject returns the subject turn events for a session go to.
func (p *NATSPublisher) TurnSubject(sessionID string) string {
	return fmt.Sprintf("%s.%s.turn", p.prefix, sessionID)
}

// PhaseSubject returns the subject phase changes for a session go to.
func (p *NATSPublisher) PhaseSubject(sessionID string) string {
	return fmt.Sprintf("%s.%s.phase", p.prefix, sessionID)
}

func (p *NATSPublisher) PublishTurn(ctx context.Context, event TurnEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	if err := p.nc.Publish(p.TurnSubject(event.SessionID), data); err != nil {
		return fmt.Errorf("failed to publish turn event: %w", err)
	}
	if event.Advanced {
		if err := p.nc.Publish(p.PhaseSubject(event.SessionID), data); err != nil {
			return fmt.Errorf("failed to publish phase event: %w", err)
		}
	}
	return nil
}
