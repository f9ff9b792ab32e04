// Package http serves the coaching API over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

const maxBodySize = "64K"

// Coach is the orchestrator surface the server exposes.
type Coach interface {
	HandleMessage(ctx context.Context, sessionID, text string) (*orchestrator.Result, error)
	CreateSession(ctx context.Context, id string) (*session.Session, error)
	Session(ctx context.Context, id string) (*session.Session, error)
	StatusOf(sess *session.Session) orchestrator.Status
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server provides HTTP endpoints for coachd.
type Server struct {
	echo    *echo.Echo
	coach   Coach
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
	checks  map[string]HealthCheck
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency check to GET /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithMetrics records request metrics with m.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(coach Coach, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if coach == nil {
		return nil, fmt.Errorf("coach cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		coach:  coach,
		logger: logger.Named("http"),
		config: cfg,
		checks: map[string]HealthCheck{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(s.logger)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(s.requestLogger)
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// requestLogger attaches the request ID to the context and logs each request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := req.Context()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		if logging.ValidateID(requestID) == nil {
			ctx = logging.WithRequestID(ctx, requestID)
			c.SetRequest(req.WithContext(ctx))
		}

		if err := next(c); err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/messages", s.handleMessage)
	v1.GET("/sessions/:id/transcript", s.handleTranscript)
}

// Echo exposes the router for extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	sess, err := s.coach.CreateSession(c.Request().Context(), req.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, SessionResponse{
		Session: sess,
		Status:  s.coach.StatusOf(sess),
	})
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.coach.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session: sess,
		Status:  s.coach.StatusOf(sess),
	})
}

func (s *Server) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.coach.HandleMessage(c.Request().Context(), c.Param("id"), req.Message)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Reply:               res.Reply,
		Seq:                 res.Turn.Seq,
		Phase:               res.From,
		NextPhase:           res.To,
		Advanced:            res.Advanced,
		Score:               res.Turn.Score,
		Changed:             res.Turn.Changed,
		ExtractionMalformed: res.ExtractionMalformed,
		Status:              s.coach.StatusOf(res.Session),
	})
}

func (s *Server) handleTranscript(c echo.Context) error {
	sess, err := s.coach.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(sess.Transcript()))
}

// errorResponse maps orchestrator and store errors to HTTP status codes.
func (s *Server) errorResponse(c echo.Context, err error) error {
	code := statusFor(err)
	ctx := c.Request().Context()
	if code >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected", zap.Error(err))
	}
	return c.JSON(code, ErrorResponse{
		Error:     err.Error(),
		Retryable: orchestrator.IsRetryable(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrSessionComplete),
		errors.Is(err, orchestrator.ErrSessionExists),
		errors.Is(err, session.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrModelFailure):
		return http.StatusBadGateway
	case errors.Is(err, orchestrator.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
