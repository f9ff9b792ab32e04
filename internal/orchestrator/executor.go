package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/reporting"
	"github.com/fyrsmithlabs/coachd/internal/secrets"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

const (
	DefaultTurnTimeout      = 90 * time.Second
	DefaultHistoryTurns     = 20
	DefaultMaxMessageLength = 8000
)

// Executor runs coaching turns. It is safe for concurrent use; turns for the
// same session are serialized and turns for different sessions run in
// parallel.
type Executor struct {
	store     session.Store
	collab    Collaborator
	defs      DefinitionSource
	router    *Router
	evaluator *Evaluator
	locker    *session.Locker
	publisher reporting.Publisher
	scrubber  secrets.Scrubber
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time

	turnTimeout   time.Duration
	historyTurns  int
	maxMessageLen int
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefinitions sets where phase definitions come from.
func WithDefinitions(defs DefinitionSource) Option {
	return func(e *Executor) { e.defs = defs }
}

// WithRouter replaces the default phase graph.
func WithRouter(r *Router) Option {
	return func(e *Executor) { e.router = r }
}

// WithPublisher sets where turn events are sent after each save.
func WithPublisher(p reporting.Publisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithScrubber sets the secret scrubber applied to user messages.
func WithScrubber(s secrets.Scrubber) Option {
	return func(e *Executor) { e.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLocker shares a session locker between executors.
func WithLocker(l *session.Locker) Option {
	return func(e *Executor) { e.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithTurnTimeout bounds each model call.
func WithTurnTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.turnTimeout = d
		}
	}
}

// WithHistoryTurns limits how many prior turns the model sees.
func WithHistoryTurns(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.historyTurns = n
		}
	}
}

// WithMaxMessageLength limits user message size in bytes.
func WithMaxMessageLength(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxMessageLen = n
		}
	}
}

// NewExecutor creates an Executor over store and collab.
func NewExecutor(store session.Store, collab Collaborator, opts ...Option) (*Executor, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if collab == nil {
		return nil, errors.New("collaborator is required")
	}

	e := &Executor{
		store:         store,
		collab:        collab,
		defs:          DefaultDefinitions(),
		router:        NewRouter(),
		evaluator:     NewEvaluator(),
		locker:        session.NewLocker(),
		publisher:     reporting.NopPublisher{},
		scrubber:      secrets.NoopScrubber{},
		logger:        logging.NewNop(),
		metrics:       NewMetrics(),
		tracer:        otel.Tracer("coachd.orchestrator"),
		now:           time.Now,
		turnTimeout:   DefaultTurnTimeout,
		historyTurns:  DefaultHistoryTurns,
		maxMessageLen: DefaultMaxMessageLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("orchestrator")
	return e, nil
}

// Definition returns the active definition for a phase.
func (e *Executor) Definition(phase session.Phase) (*Definition, bool) {
	return e.defs.Definition(phase)
}

// HandleMessage runs one coaching turn for sessionID, creating the session on
// first contact.
//
// A model failure is recorded as a failed turn and returns ErrModelFailure.
// If ctx itself ends during the model call nothing is saved. A failed save
// returns ErrPersistence and no session.
func (e *Executor) HandleMessage(ctx context.Context, sessionID, text string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "coach.handle_message",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	res, phase, outcome, err := e.handle(ctx, sessionID, text)
	e.metrics.recordTurn(phaseLabel(phase), outcome)
	if res != nil {
		span.SetAttributes(
			attribute.String("coach.phase", string(res.From)),
			attribute.Bool("coach.advanced", res.Advanced),
			attribute.Float64("coach.score", res.Turn.Score),
		)
	}
	span.SetAttributes(attribute.String("coach.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Executor) validateMessage(sessionID, text string) error {
	if err := logging.ValidateID(sessionID); err != nil {
		return fmt.Errorf("%w: session id: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	}
	if len(text) > e.maxMessageLen {
		return fmt.Errorf("%w: message is %d bytes (max %d)", ErrInvalidMessage, len(text), e.maxMessageLen)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: message is not valid UTF-8", ErrInvalidMessage)
	}
	return nil
}

// handle runs the turn and reports the phase it ran in, empty when the
// session was never loaded, along with the outcome to record.
func (e *Executor) handle(ctx context.Context, sessionID, text string) (*Result, session.Phase, string, error) {
	if err := e.validateMessage(sessionID, text); err != nil {
		return nil, "", outcomeInvalid, err
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	unlock, err := e.lock(ctx, sessionID)
	if err != nil {
		return nil, "", outcomeCancelled, fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}
	defer unlock()

	sess, err := e.loadOrCreate(ctx, sessionID)
	if err != nil {
		e.logger.Error(ctx, "loading session failed", zap.Error(err))
		return nil, "", outcomePersistence, err
	}
	phase := sess.CurrentPhase
	ctx = logging.WithPhase(ctx, string(phase))

	if sess.Done() {
		return nil, phase, outcomeComplete, fmt.Errorf("%w: %s", ErrSessionComplete, sessionID)
	}

	def, ok := e.defs.Definition(phase)
	if !ok {
		return nil, phase, outcomeConfig, fmt.Errorf("no definition for phase %s", phase)
	}

	message := text
	if scrubbed := e.scrubber.Scrub(text); scrubbed.HasFindings() {
		message = scrubbed.Scrubbed
		e.logger.Warn(ctx, "redacted secrets from user message",
			zap.Strings("rules", scrubbed.RuleIDs()))
	}

	output := sess.ActiveOutput()
	req := &CoachRequest{
		SessionID:  sessionID,
		Phase:      phase,
		Definition: def,
		Output:     output.Clone(),
		History:    e.history(sess),
		Message:    message,
	}

	resp, err := e.respond(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.logger.Info(ctx, "turn abandoned", zap.Error(ctxErr))
			return nil, phase, outcomeCancelled, fmt.Errorf("%w: %w", ErrModelFailure, ctxErr)
		}
		res, outcome, err := e.recordFailure(ctx, sess, message, output, err)
		return res, phase, outcome, err
	}

	signals, malformed := e.signals(ctx, def, resp)
	now := e.now()
	updated, ready, changed := e.evaluator.Evaluate(def, output, signals, now)
	sess.Outputs[phase] = updated
	next := e.router.Route(phase, Decision{Ready: ready, Score: updated.Score})

	turn := session.Turn{
		Phase:               phase,
		UserMessage:         message,
		AssistantReply:      resp.Reply,
		Timestamp:           now,
		Score:               updated.Score,
		Changed:             changed,
		ExtractionMalformed: malformed,
	}
	if err := sess.AppendTurn(turn); err != nil {
		return nil, phase, outcomeInternal, err
	}
	if next != phase {
		if err := sess.Transition(next, now); err != nil {
			return nil, phase, outcomeInternal, fmt.Errorf("routing %s: %w", sessionID, err)
		}
	}

	if err := e.store.Save(ctx, sess); err != nil {
		e.logger.Error(ctx, "saving session failed", zap.Error(err))
		return nil, phase, outcomePersistence, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	saved := sess.Turns[len(sess.Turns)-1]
	result := &Result{
		Reply:               resp.Reply,
		Session:             sess.Clone(),
		Turn:                saved,
		Advanced:            next != phase,
		From:                phase,
		To:                  next,
		ExtractionMalformed: malformed,
	}

	e.metrics.PhaseScore.WithLabelValues(string(phase)).Observe(updated.Score)
	if result.Advanced {
		e.metrics.recordTransition(string(phase), string(next))
		e.logger.Info(ctx, "phase advanced",
			zap.String("from", string(phase)),
			zap.String("to", string(next)))
	}
	e.logger.Debug(ctx, "turn handled",
		zap.Int("seq", saved.Seq),
		zap.Float64("score", saved.Score),
		zap.Strings("changed", changed))

	e.publish(ctx, sess.ID, saved, result.Advanced, next)
	return result, phase, outcomeOK, nil
}

func (e *Executor) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := e.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	e.metrics.ActiveSessionLocks.Inc()
	return func() {
		unlock()
		e.metrics.ActiveSessionLocks.Dec()
	}, nil
}

func (e *Executor) loadOrCreate(ctx context.Context, id string) (*session.Session, error) {
	sess, err := e.store.Load(ctx, id)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, session.ErrNotFound):
		e.logger.Info(ctx, "starting session")
		return session.New(id, e.now()), nil
	default:
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

// history returns the most recent successful turns, oldest first.
func (e *Executor) history(sess *session.Session) []session.Turn {
	var turns []session.Turn
	for _, t := range sess.Turns {
		if !t.Failed {
			turns = append(turns, t)
		}
	}
	if len(turns) > e.historyTurns {
		turns = turns[len(turns)-e.historyTurns:]
	}
	return turns
}

func (e *Executor) respond(ctx context.Context, req *CoachRequest) (*CoachResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.collab.Respond(callCtx, req)
	e.metrics.ModelLatency.WithLabelValues(string(req.Phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty response")
	}
	return resp, nil
}

// recordFailure saves a failed turn that leaves the phase and its output as
// they were.
func (e *Executor) recordFailure(ctx context.Context, sess *session.Session, message string, output *session.PhaseOutput, cause error) (*Result, string, error) {
	phase := sess.CurrentPhase
	e.logger.Warn(ctx, "model call failed", zap.Error(cause), logging.Redacted("message", message))

	var score float64
	if output != nil {
		score = output.Score
	}
	if err := sess.AppendTurn(session.Turn{
		Phase:       phase,
		UserMessage: message,
		Timestamp:   e.now(),
		Score:       score,
		Failed:      true,
		Error:       cause.Error(),
	}); err != nil {
		return nil, outcomeInternal, err
	}
	if err := e.store.Save(ctx, sess); err != nil {
		e.logger.Error(ctx, "saving failed turn", zap.Error(err))
		return nil, outcomePersistence, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	saved := sess.Turns[len(sess.Turns)-1]
	e.publish(ctx, sess.ID, saved, false, phase)
	return nil, outcomeModelFailure, fmt.Errorf("%w: %w", ErrModelFailure, cause)
}

// signals validates the model's extraction. A malformed block counts as an
// empty extraction.
func (e *Executor) signals(ctx context.Context, def *Definition, resp *CoachResponse) (map[string]string, bool) {
	if resp.Malformed {
		e.metrics.MalformedTotal.WithLabelValues(string(def.Phase)).Inc()
		e.logger.Warn(ctx, "discarding malformed extraction")
		return nil, true
	}
	if len(resp.Extraction) == 0 {
		return nil, false
	}

	report := validateExtraction(def, resp.Extraction)
	if len(report.Unknown) > 0 || len(report.Invalid) > 0 {
		e.logger.Debug(ctx, "dropped extraction fields",
			zap.Strings("unknown", report.Unknown),
			zap.Strings("invalid", report.Invalid))
	}
	return report.Signals, false
}

func (e *Executor) publish(ctx context.Context, id string, t session.Turn, advanced bool, next session.Phase) {
	event := reporting.TurnEvent{
		SessionID:           id,
		Seq:                 t.Seq,
		Phase:               string(t.Phase),
		Reply:               t.AssistantReply,
		Score:               t.Score,
		Changed:             t.Changed,
		Advanced:            advanced,
		NextPhase:           string(next),
		Failed:              t.Failed,
		ExtractionMalformed: t.ExtractionMalformed,
		Timestamp:           t.Timestamp,
	}
	if err := e.publisher.PublishTurn(ctx, event); err != nil {
		e.logger.Warn(ctx, "publishing turn event failed", zap.Error(err))
	}
}

// CreateSession starts an empty session. An empty id gets a generated one.
// Creating a session that already exists fails with ErrSessionExists.
func (e *Executor) CreateSession(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := logging.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: session id: %v", ErrInvalidMessage, err)
	}
	ctx = logging.WithSessionID(ctx, id)

	unlock, err := e.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, err = e.store.Load(ctx, id)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	case !errors.Is(err, session.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	sess := session.New(id, e.now())
	if err := e.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.logger.Info(ctx, "session created")
	return sess, nil
}

// Session loads a session. A missing session returns session.ErrNotFound.
func (e *Executor) Session(ctx context.Context, id string) (*session.Session, error) {
	if err := logging.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: session id: %v", ErrInvalidMessage, err)
	}
	sess, err := e.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return sess, nil
}

// Status summarizes where a session stands.
type Status struct {
	SessionID string        `json:"session_id"`
	Phase     session.Phase `json:"phase"`
	Score     float64       `json:"score"`
	Missing   []string      `json:"missing,omitempty"`
	Turns     int           `json:"turns"`
	Done      bool          `json:"done"`
}

// StatusOf summarizes sess against the active definitions.
func (e *Executor) StatusOf(sess *session.Session) Status {
	st := Status{
		SessionID: sess.ID,
		Phase:     sess.CurrentPhase,
		Turns:     len(sess.Turns),
		Done:      sess.Done(),
	}
	if st.Done {
		st.Score = 1
		return st
	}
	out := sess.ActiveOutput()
	def, ok := e.defs.Definition(sess.CurrentPhase)
	if !ok || out == nil {
		return st
	}
	st.Score = Score(def, out)
	for _, f := range Missing(def, out) {
		st.Missing = append(st.Missing, f.Name)
	}
	return st
}
