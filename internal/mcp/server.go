package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

// Coach is the orchestrator surface the tools call.
type Coach interface {
	HandleMessage(ctx context.Context, sessionID, text string) (*orchestrator.Result, error)
	CreateSession(ctx context.Context, id string) (*session.Session, error)
	Session(ctx context.Context, id string) (*session.Session, error)
	StatusOf(sess *session.Session) orchestrator.Status
	Definition(phase session.Phase) (*orchestrator.Definition, bool)
}

// Server is an MCP server backed by a Coach.
type Server struct {
	mcp     *mcp.Server
	coach   Coach
	logger  *logging.Logger
	metrics *Metrics
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "coachd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger must not write to stdout, which carries the protocol.
	Logger *logging.Logger

	// Metrics defaults to instruments on the global meter provider.
	Metrics *Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "coachd",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates an MCP server and registers the coaching tools.
func NewServer(cfg *Config, coach Coach) (*Server, error) {
	if coach == nil {
		return nil, fmt.Errorf("coach is required")
	}
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	name, version, logger := cfg.Name, cfg.Version, cfg.Logger
	if name == "" {
		name = defaults.Name
	}
	if version == "" {
		version = defaults.Version
	}
	if logger == nil {
		logger = defaults.Logger
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(logger)
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		coach:   coach,
		logger:  logger.Named("mcp"),
		metrics: metrics,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over t. The caller closes or waits on the
// returned session.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
