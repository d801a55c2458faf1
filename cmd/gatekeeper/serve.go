// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/auth"
	authpg "github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/auth/sqlite"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/httpapi"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/notify"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/store"
	"github.com/holomush/gatekeeper/internal/xdg"
)

const (
	serviceName     = "gatekeeper"
	shutdownTimeout = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the credential API server",
		Long: `Start the HTTP API for registration, login and password reset.
Configuration is read from --config, then flags, then GATEKEEPER_* variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), resolveConfigPath(configFile), cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps starts the API with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, configPath string, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	applyServeDefaults(deps)

	cfg, err := deps.ConfigLoader(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level)

	shutdownTracing, err := deps.TracingSetup(ctx, serviceName, version, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer tcancel()
		if err := shutdownTracing(tctx); err != nil {
			slog.Warn("error flushing traces", "error", err)
		}
	}()

	if cfg.Storage.Driver == config.DriverPostgres && cfg.Storage.AutoMigrate {
		if err := runAutoMigrate(deps.MigratorFactory, cfg.Storage.DatabaseURL); err != nil {
			return err
		}
	}

	users, closeStore, err := deps.StoreFactory(ctx, cfg.Storage)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Storage.Driver).Wrap(err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("error closing user store", "error", err)
		}
	}()
	slog.Info("user store ready", "driver", cfg.Storage.Driver)

	signer, err := auth.NewJWTSigner(auth.SignerConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Lifetime: cfg.JWT.ExpiresIn,
		Issuer:   cfg.JWT.Issuer,
	})
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := deps.NotifierFactory(cfg, logger)
	if err != nil {
		return err
	}
	// Runs before the store closes so queued deliveries finish first.
	var drainOnce sync.Once
	closeNotifierOnce := func() {
		drainOnce.Do(func() {
			nctx, ncancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer ncancel()
			if err := closeNotifier(nctx); err != nil {
				slog.Warn("error draining notifier", "error", err)
			}
		})
	}
	defer closeNotifierOnce()

	svc, err := auth.NewCredentialService(users, auth.NewArgon2idHasher(), signer, notifier,
		auth.WithResetTokenTTL(cfg.Reset.TTL),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(svc, httpapi.RouterConfig{
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiServer := deps.APIServerFactory(cfg.HTTP.Addr, router)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return oops.Code("SERVER_START_FAILED").With("server", "api").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load,
			auth.RegisterMetrics,
			notify.RegisterMetrics,
		)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := apiServer.Stop(stopCtx); stopErr != nil {
				slog.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return oops.Code("SERVER_START_FAILED").With("server", "observability").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("Gatekeeper started")
	slog.Info("gatekeeper ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping api server", "error", err)
	}
	closeNotifierOnce()
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

func applyServeDefaults(deps *ServeDeps) {
	if deps.ConfigLoader == nil {
		deps.ConfigLoader = config.Load
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = openUserStore
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if deps.NotifierFactory == nil {
		deps.NotifierFactory = buildNotifier
	}
	if deps.APIServerFactory == nil {
		deps.APIServerFactory = func(addr string, handler http.Handler) APIServer {
			return httpapi.NewServer(addr, handler)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, registrars ...observability.MetricsRegistrar) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, registrars...)
		}
	}
	if deps.TracingSetup == nil {
		deps.TracingSetup = observability.SetupTracing
	}
}

func runAutoMigrate(factory func(string) (AutoMigrator, error), databaseURL string) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// openUserStore opens the configured user store.
func openUserStore(ctx context.Context, cfg config.StorageConfig) (auth.UserRepository, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := store.OpenPool(ctx, cfg.DatabaseURL, cfg.ConnectAttempts)
		if err != nil {
			return nil, nil, err
		}
		return authpg.NewUserRepository(pool), func() error {
			pool.Close()
			return nil
		}, nil
	case config.DriverSQLite:
		if err := xdg.EnsureDir(filepath.Dir(cfg.SQLitePath)); err != nil {
			return nil, nil, err
		}
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// buildNotifier selects the delivery provider and, when configured, moves
// delivery off the request path.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (auth.Notifier, func(context.Context) error, error) {
	var next auth.Notifier
	switch cfg.Mail.Provider {
	case config.MailProviderSendGrid:
		sg, err := notify.NewSendGridNotifier(notify.SendGridConfig{
			APIKey:    cfg.Mail.SendGridAPIKey,
			FromName:  cfg.Mail.FromName,
			FromEmail: cfg.Mail.FromEmail,
			ClientURL: cfg.Reset.ClientURL,
		})
		if err != nil {
			return nil, nil, err
		}
		next = sg
	case config.MailProviderLog:
		next = notify.NewLogNotifier(logger, cfg.Reset.ClientURL)
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("provider", cfg.Mail.Provider).Errorf("unknown mail provider %q", cfg.Mail.Provider)
	}

	if !cfg.Mail.Async {
		return next, func(context.Context) error { return nil }, nil
	}

	async, err := notify.NewAsyncNotifier(next,
		notify.WithWorkers(cfg.Mail.Workers),
		notify.WithQueueSize(cfg.Mail.QueueSize),
		notify.WithAsyncLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return async, async.Close, nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
