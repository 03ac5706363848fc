// Package app wires the voicegate subsystems into a running server: config,
// persistence, event log, session manager, providers, orchestrator, and the
// WebSocket gateway behind one HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/clinsim/voicegate/internal/config"
	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/health"
	"github.com/clinsim/voicegate/internal/observe"
	"github.com/clinsim/voicegate/internal/orchestrator"
	"github.com/clinsim/voicegate/internal/persist"
	"github.com/clinsim/voicegate/internal/session"
)

// shutdownTimeout bounds the graceful HTTP drain.
const shutdownTimeout = 10 * time.Second

// App owns the full server lifecycle: New wires everything, Run serves until
// the context is cancelled, then tears down in order.
type App struct {
	cfg  *config.Config
	http *http.Server

	store        persist.Store
	shutdownOTel func(context.Context) error
}

// Option is a functional option for New. Use these to inject test doubles or
// deployment-specific pieces.
type Option func(*options)

type options struct {
	verifier gateway.TokenVerifier
	store    persist.Store
	deps     *orchestrator.Deps
}

// WithTokenVerifier installs the ID-token verifier backing secure-mode auth.
func WithTokenVerifier(v gateway.TokenVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithStore injects a persistence store instead of creating one from config.
func WithStore(s persist.Store) Option {
	return func(o *options) { o.store = s }
}

// WithProviders injects the voice adapters instead of building them from
// config.
func WithProviders(deps orchestrator.Deps) Option {
	return func(o *options) { o.deps = &deps }
}

// New wires the application. It validates the config, initialises telemetry,
// opens the store, and assembles the orchestrator behind the gateway.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	if cfg.Production() && cfg.Auth.Mode != gateway.AuthModeSecure {
		return nil, fmt.Errorf("app: insecure auth is not permitted in production")
	}

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicegate"})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	store := o.store
	if store == nil {
		if dsn := cfg.Persistence.PostgresDSN; dsn != "" {
			store, err = persist.NewPostgresStore(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("app: open postgres store: %w", err)
			}
		} else {
			store = persist.NewMemoryStore()
		}
	}

	deps := orchestrator.Deps{}
	if o.deps != nil {
		deps = *o.deps
	} else if err := buildProviders(cfg, &deps); err != nil {
		return nil, err
	}
	deps.Store = store
	deps.Events = eventlog.New(eventlog.WithForwarder(store))
	deps.Locks = session.NewLocks()

	// The manager's empty callback points at the orchestrator, which needs
	// the manager; declare first, assign after.
	var orch *orchestrator.Orchestrator
	deps.Sessions = session.NewManager(func(sessionID string) {
		orch.HandleSessionEmpty(sessionID)
	})
	orch = orchestrator.New(cfg, deps)

	auth := gateway.NewAuthenticator(cfg.Auth.Mode, o.verifier)
	var gwOpts []gateway.Option
	if !cfg.Production() && (cfg.Chaos.DropProbability > 0 || cfg.Chaos.LatencyMs > 0) {
		gwOpts = append(gwOpts, gateway.WithChaos(gateway.Chaos{
			DropProbability: cfg.Chaos.DropProbability,
			Latency:         time.Duration(cfg.Chaos.LatencyMs) * time.Millisecond,
		}))
		slog.Warn("chaos injection enabled",
			"drop_probability", cfg.Chaos.DropProbability, "latency_ms", cfg.Chaos.LatencyMs)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/voice", gateway.NewServer(orch, auth, gwOpts...))
	mux.Handle("/metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := store.LoadSnapshot(ctx, "readyz-probe")
			return err
		},
	}).WithSessions(orch.SessionCount).Register(mux)

	return &App{
		cfg: cfg,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: mux,
		},
		store:        store,
		shutdownOTel: shutdownOTel,
	}, nil
}

// Run serves until ctx is cancelled, then drains connections and closes the
// store.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", a.http.Addr, "environment", a.cfg.Server.Environment)
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.http.Shutdown(sctx)
	})

	err := g.Wait()

	a.store.Close()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if oerr := a.shutdownOTel(sctx); oerr != nil {
		slog.Warn("telemetry shutdown failed", "err", oerr)
	}
	return err
}
