// Package edon is the public API for embedding the EDON policy gateway.
//
// Consumers import this package to construct and run the gateway without
// forking it:
//
//	app, err := edon.New(
//	    edon.WithVersion(version),
//	    edon.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: edon (root) imports
// internal/*, but internal/* never imports edon (root).
package edon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/edon-ai/edon/internal/antibypass"
	"github.com/edon-ai/edon/internal/auth"
	"github.com/edon-ai/edon/internal/bench"
	"github.com/edon-ai/edon/internal/config"
	"github.com/edon-ai/edon/internal/connector"
	"github.com/edon-ai/edon/internal/governor"
	"github.com/edon-ai/edon/internal/metrics"
	"github.com/edon-ai/edon/internal/ratelimit"
	"github.com/edon-ai/edon/internal/server"
	"github.com/edon-ai/edon/internal/storage"
	"github.com/edon-ai/edon/internal/telemetry"
	"github.com/edon-ai/edon/internal/validate"
	"github.com/edon-ai/edon/internal/vault"
	"github.com/edon-ai/edon/migrations"
)

// counterRetention bounds how long spent rate-limit buckets stay in the
// store before the prune loop removes them.
const counterRetention = 48 * time.Hour

// App is the EDON gateway lifecycle. Construct with New(), run with Run().
// App has no public fields, use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the gateway. It opens the store, runs migrations, checks
// the deployment posture, wires all subsystems, and returns a ready-to-run
// App. It does NOT start any goroutines or accept HTTP connections, call
// Run() for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databasePath != "" {
		cfg.DatabasePath = o.databasePath
	}
	if o.sandboxDir != "" {
		cfg.SandboxDir = o.sandboxDir
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("edon starting", "version", version, "port", cfg.Port)
	for _, warning := range cfg.Warnings() {
		logger.Warn("config", "warning", warning)
	}

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the embedded store and apply migrations.
	db, err := storage.New(context.Background(), cfg.DatabasePath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Deployment posture. With network gating on, a downstream that resolves
	// to a public or unknown address is a startup failure, not a warning.
	bypass := antibypass.Config{
		NetworkGating:     cfg.NetworkGating,
		TokenHardening:    cfg.TokenHardening,
		CredentialsStrict: cfg.CredentialsStrict,
	}
	if err := bypass.CheckStartup(context.Background(), net.DefaultResolver, cfg.ClawdbotURL); err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("network gating: %w", err)
	}

	vlt := vault.New(db, cfg.VaultKey, cfg.CredentialsStrict, logger)
	gov := governor.New(cfg.SandboxDir).WithLoopThreshold(cfg.LoopThreshold)
	authn := auth.New(db, cfg.APIToken, cfg.TokenBindingEnabled, cfg.DemoMode, logger)
	approvals := auth.NewApprovalSigner(cfg.APIToken)
	validator := validate.New(cfg.ValidateStrict)
	collector := bench.NewCollector()
	mets := metrics.New()

	// Sandboxed connectors share one root so the filesystem tools, the mail
	// outbox, and local search all stay inside it.
	registry := connector.NewRegistry(
		connector.NewClawdbotProxy(logger),
		connector.NewFilesystem(filepath.Join(cfg.SandboxDir, "files")),
		connector.NewEmail(filepath.Join(cfg.SandboxDir, "outbox")),
		connector.NewCalendar(filepath.Join(cfg.SandboxDir, "calendar")),
		connector.NewNotes(filepath.Join(cfg.SandboxDir, "notes")),
		connector.NewSearch(cfg.SandboxDir),
	)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		store := ratelimit.NewStoreLimiter(db)
		if cfg.RateLimitPerMinute > 0 || cfg.RateLimitPerHour > 0 {
			store = store.WithOverrides(ratelimit.Limits{
				Minute: int64(cfg.RateLimitPerMinute),
				Hour:   int64(cfg.RateLimitPerHour),
			})
		}
		limiter = store
		logger.Info("rate limiting: store-backed sliding windows")
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:                          db,
		Vault:                       vlt,
		Governor:                    gov,
		Registry:                    registry,
		Authn:                       authn,
		Approvals:                   approvals,
		Validator:                   validator,
		Bench:                       collector,
		Logger:                      logger,
		Limiter:                     limiter,
		Metrics:                     mets,
		Bypass:                      bypass,
		ClawdbotURL:                 cfg.ClawdbotURL,
		ClawdbotToken:               cfg.ClawdbotToken,
		DefaultClawdbotCredentialID: cfg.DefaultClawdbotCredentialID,
		Port:                        cfg.Port,
		ReadTimeout:                 cfg.ReadTimeout,
		WriteTimeout:                cfg.WriteTimeout,
		Version:                     version,
		AuthEnabled:                 cfg.AuthEnabled,
		CORSOrigins:                 cfg.CORSOrigins,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and the background maintenance loops, then
// blocks until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown is called automatically; callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.counterPruneLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// counterPruneLoop removes expired rate-limit buckets so the counters table
// does not grow without bound.
func (a *App) counterPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			pruned, err := a.db.PruneCounters(opCtx, time.Now().Add(-counterRetention))
			cancel()
			if err != nil {
				a.logger.Warn("counter prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				a.logger.Info("counter prune deleted rows", "deleted", pruned)
			}
		}
	}
}

// close releases the store and the OTEL provider.
func (a *App) close() error {
	a.logger.Info("edon shutting down")
	_ = a.otelShutdown(context.Background())
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	a.logger.Info("edon stopped")
	return nil
}
