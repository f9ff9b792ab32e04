package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/config"
	coachhttp "github.com/fyrsmithlabs/coachd/internal/http"
	"github.com/fyrsmithlabs/coachd/internal/llm"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/reporting"
	"github.com/fyrsmithlabs/coachd/internal/secrets"
	"github.com/fyrsmithlabs/coachd/internal/session"
	"github.com/fyrsmithlabs/coachd/internal/telemetry"
)

// healthCheckID is loaded by the store health check; it never exists.
const healthCheckID = "coachd-health-check"

// app holds the process-wide dependencies shared by both serving modes.
type app struct {
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	natsConn  *nats.Conn
	watcher   *orchestrator.DefinitionWatcher
	executor  *orchestrator.Executor
	checks    map[string]coachhttp.HealthCheck
}

// newApp initializes dependencies in order:
//  1. Telemetry and logger
//  2. NATS, when the store or turn events need it
//  3. Session store and turn event publisher
//  4. Language model client, secret scrubber and phase definitions
//  5. The turn executor
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *app, err error) {
	a := &app{checks: map[string]coachhttp.HealthCheck{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.logger, err = initLogger(cfg, logOut, a.telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if h := a.telemetry.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}
	if cfg.Observability.EnableTelemetry {
		a.checks["telemetry"] = a.telemetry.Check
	}
	if cfg.LLM.APIKey.IsSet() {
		a.logger.Debug(ctx, "llm credentials configured", logging.Secret("llm_api_key", cfg.LLM.APIKey))
	}

	if cfg.Store.Backend == "nats" || cfg.NATS.PublishEvents {
		a.natsConn, err = connectNATS(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		a.logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
		nc := a.natsConn
		a.checks["nats"] = func(context.Context) error {
			if s := nc.Status(); s != nats.CONNECTED {
				return fmt.Errorf("nats %s", strings.ToLower(s.String()))
			}
			return nil
		}
	}

	store, err := newStore(cfg, a.natsConn)
	if err != nil {
		return nil, err
	}
	a.checks["store"] = storeCheck(store)

	var publisher reporting.Publisher = reporting.NopPublisher{}
	if cfg.NATS.PublishEvents {
		publisher = reporting.NewNATSPublisher(a.natsConn, cfg.NATS.SubjectPrefix)
	}

	collab, err := llm.New(cfg.LLM, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	var scrubber secrets.Scrubber = secrets.NoopScrubber{}
	if !cfg.Coaching.DisableScrubbing {
		scrubber, err = secrets.New(secrets.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
		}
	}

	defs, err := a.definitions(ctx, cfg.Coaching)
	if err != nil {
		return nil, err
	}

	a.executor, err = orchestrator.NewExecutor(store, collab,
		orchestrator.WithDefinitions(defs),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithScrubber(scrubber),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithTracer(a.telemetry.Tracer("coachd.orchestrator")),
		orchestrator.WithTurnTimeout(cfg.Coaching.TurnTimeout),
		orchestrator.WithHistoryTurns(cfg.Coaching.HistoryTurns),
		orchestrator.WithMaxMessageLength(cfg.Coaching.MaxMessageLength),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	return a, nil
}

func initLogger(cfg *config.Config, out io.Writer, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, err
	}
	logCfg.Writer = out
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

func connectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("coachd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

func newStore(cfg *config.Config, nc *nats.Conn) (session.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return session.NewMemoryStore(), nil
	case "file":
		store, err := session.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return store, nil
	case "nats":
		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		store, err := session.NewKVStore(js, cfg.Store.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open session bucket %s: %w", cfg.Store.Bucket, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// storeCheck reports the store healthy when a lookup of a missing session
// answers not found.
func storeCheck(store session.Store) coachhttp.HealthCheck {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := store.Load(ctx, healthCheckID); err != nil && !errors.Is(err, session.ErrNotFound) {
			return err
		}
		return nil
	}
}

// definitions returns the built-in phases, a definitions file, or a watcher
// that reloads the file when it changes.
func (a *app) definitions(ctx context.Context, cfg config.CoachingConfig) (orchestrator.DefinitionSource, error) {
	switch {
	case cfg.DefinitionsPath == "":
		return orchestrator.DefaultDefinitions(), nil
	case cfg.WatchDefinitions:
		w, err := orchestrator.NewDefinitionWatcher(cfg.DefinitionsPath, a.logger)
		if err != nil {
			return nil, err
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Close()
			return nil, err
		}
		a.watcher = w
		a.logger.Info(ctx, "watching phase definitions", zap.String("path", cfg.DefinitionsPath))
		return w, nil
	default:
		defs, err := orchestrator.LoadDefinitions(cfg.DefinitionsPath)
		if err != nil {
			return nil, err
		}
		a.logger.Info(ctx, "loaded phase definitions", zap.String("path", cfg.DefinitionsPath))
		return defs, nil
	}
}

// Close releases dependencies in reverse order of creation.
func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync
	}
}
