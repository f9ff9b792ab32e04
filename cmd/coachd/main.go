// Coachd is the WHY, HOW, WHAT strategy coaching service.
//
// It serves the coaching API over HTTP by default, or the same operations as
// MCP tools over stdio.
//
// Configuration is loaded from ~/.config/coachd/config.yaml and environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Serve the HTTP API
//	coachd
//
//	# Serve MCP tools on stdin/stdout
//	coachd mcp
//
//	# Configure via environment
//	LLM_PROVIDER=anthropic LLM_API_KEY=... STORE_BACKEND=nats NATS_URL=nats://localhost:4222 coachd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/config"
	coachhttp "github.com/fyrsmithlabs/coachd/internal/http"
	coachmcp "github.com/fyrsmithlabs/coachd/internal/mcp"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/coachd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	mode := "serve"
	if len(args) > 0 {
		mode = args[0]
	}
	switch mode {
	case "version":
		printVersion()
		return
	case "serve", "mcp":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", mode)
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		fmt.Fprintf(os.Stderr, "  coachd [serve]    Serve the HTTP API\n")
		fmt.Fprintf(os.Stderr, "  coachd mcp        Serve MCP tools on stdio\n")
		fmt.Fprintf(os.Stderr, "  coachd version    Show version information\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coachd: %v\n", err)
		os.Exit(1)
	}

	if mode == "mcp" {
		err = runMCP(ctx, cfg)
	} else {
		err = run(ctx, cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "coachd: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("coachd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run serves the HTTP API until ctx is cancelled, then shuts down within
// the configured timeout.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []coachhttp.Option{
		coachhttp.WithMetrics(coachhttp.NewHTTPMetricsWithMeter(a.telemetry.Meter("coachd.http"), a.logger)),
	}
	for name, check := range a.checks {
		opts = append(opts, coachhttp.WithHealthCheck(name, check))
	}
	srv, err := coachhttp.NewServer(a.executor, a.logger, &coachhttp.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	a.logger.Info(ctx, "coachd started",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("store", cfg.Store.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info(shutdownCtx, "coachd shutdown complete")
	return nil
}

// runMCP serves MCP tools on stdio. Logs go to stderr because stdout
// carries the protocol.
func runMCP(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := coachmcp.NewServer(&coachmcp.Config{
		Name:    "coachd",
		Version: version,
		Logger:  a.logger,
		Metrics: coachmcp.NewMetricsWithMeter(a.telemetry.Meter("coachd.mcp"), a.logger),
	}, a.executor)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	return srv.Run(ctx)
}
