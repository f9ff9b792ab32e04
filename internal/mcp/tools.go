package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

const (
	toolMessage = "coach_message"
	toolSession = "coach_session"
	toolPhase   = "coach_phase"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolMessage,
		Description: "Send the user's next message to a coaching session and get the coach's reply. " +
			"The session is created on first use and moves through WHY, HOW and WHAT as each phase's answers are captured.",
	}, s.handleMessage)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolSession,
		Description: "Show a coaching session's progress and markdown transcript, or create a new session.",
	}, s.handleSession)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolPhase,
		Description: "Describe what a coaching phase (why, how, what) collects before it is complete.",
	}, s.handlePhase)
}

// instrument wraps a tool call with the active gauge, duration and error
// metrics.
func (s *Server) instrument(ctx context.Context, tool string) func(error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
		if err != nil {
			s.logger.Warn(ctx, "tool call failed",
				zap.String("tool", tool),
				zap.String("reason", categorizeError(err)),
				zap.Error(err))
		}
	}
}

// toolError adds a retry hint the calling agent can act on.
func toolError(err error) error {
	if orchestrator.IsRetryable(err) {
		return fmt.Errorf("%w (retryable)", err)
	}
	return err
}

// ===== COACH MESSAGE =====

type messageInput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier (letters, digits, hyphen, underscore)"`
	Message   string `json:"message" jsonschema:"The user's message to the coach"`
}

type messageOutput struct {
	Reply               string              `json:"reply"`
	Seq                 int                 `json:"seq"`
	Phase               session.Phase       `json:"phase"`
	NextPhase           session.Phase       `json:"next_phase"`
	Advanced            bool                `json:"advanced"`
	Changed             []string            `json:"changed,omitempty"`
	ExtractionMalformed bool                `json:"extraction_malformed,omitempty"`
	Status              orchestrator.Status `json:"status"`
}

func (s *Server) handleMessage(ctx context.Context, req *mcp.CallToolRequest, args messageInput) (_ *mcp.CallToolResult, out messageOutput, err error) {
	done := s.instrument(ctx, toolMessage)
	defer func() { done(err) }()

	if logging.ValidateID(args.SessionID) == nil {
		ctx = logging.WithSessionID(ctx, args.SessionID)
	}

	res, err := s.coach.HandleMessage(ctx, args.SessionID, args.Message)
	if err != nil {
		return nil, messageOutput{}, toolError(err)
	}

	out = messageOutput{
		Reply:               res.Reply,
		Seq:                 res.Turn.Seq,
		Phase:               res.From,
		NextPhase:           res.To,
		Advanced:            res.Advanced,
		Changed:             res.Turn.Changed,
		ExtractionMalformed: res.ExtractionMalformed,
		Status:              s.coach.StatusOf(res.Session),
	}

	text := res.Reply
	if res.Advanced {
		text += fmt.Sprintf("\n\n[%s complete, now in %s]", res.From.Label(), res.To.Label())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

// ===== COACH SESSION =====

type sessionInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session identifier; optional when create is true"`
	Create    bool   `json:"create,omitempty" jsonschema:"Create a new session instead of reading one"`
}

type sessionOutput struct {
	Status     orchestrator.Status `json:"status"`
	Transcript string              `json:"transcript"`
}

func (s *Server) handleSession(ctx context.Context, req *mcp.CallToolRequest, args sessionInput) (_ *mcp.CallToolResult, out sessionOutput, err error) {
	done := s.instrument(ctx, toolSession)
	defer func() { done(err) }()

	var sess *session.Session
	if args.Create {
		sess, err = s.coach.CreateSession(ctx, args.SessionID)
	} else {
		sess, err = s.coach.Session(ctx, args.SessionID)
	}
	if err != nil {
		return nil, sessionOutput{}, toolError(err)
	}

	out = sessionOutput{
		Status:     s.coach.StatusOf(sess),
		Transcript: sess.Transcript(),
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out.Transcript}},
	}, out, nil
}

// ===== COACH PHASE =====

type phaseInput struct {
	Phase string `json:"phase" jsonschema:"One of why, how, what"`
}

type phaseOutput struct {
	Phase     session.Phase        `json:"phase"`
	Title     string               `json:"title"`
	Threshold float64              `json:"threshold"`
	Fields    []orchestrator.Field `json:"fields"`
}

func (s *Server) handlePhase(ctx context.Context, req *mcp.CallToolRequest, args phaseInput) (_ *mcp.CallToolResult, out phaseOutput, err error) {
	done := s.instrument(ctx, toolPhase)
	defer func() { done(err) }()

	phase := session.Phase(strings.ToLower(strings.TrimSpace(args.Phase)))
	def, ok := s.coach.Definition(phase)
	if !ok {
		return nil, phaseOutput{}, fmt.Errorf("%w: unknown phase %q", orchestrator.ErrInvalidMessage, args.Phase)
	}

	out = phaseOutput{
		Phase:     def.Phase,
		Title:     def.Title,
		Threshold: def.Threshold,
		Fields:    def.Fields,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", def.Phase.Label(), def.Title)
	for _, f := range def.Fields {
		kind := "optional"
		if f.Required {
			kind = "required"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, kind, f.Description)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, out, nil
}
