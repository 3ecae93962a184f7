// @title           Tenant CRM API
// @version         1.0.0
// @description     Multi-tenant CRM member management with per-category permissions and an append-only audit trail
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session JWT: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side port (default: 9090), separate from the API listener. Configure it with CRM_TELEMETRY_METRICS_PROMETHEUS_PORT.

// Package main is the entry point for the CRM server binary. It dispatches four
// subcommands (serve, migrate, token and version) via a switch on os.Args.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenantcrm/crm/internal/api"
	"github.com/tenantcrm/crm/internal/audit"
	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/config"
	"github.com/tenantcrm/crm/internal/db"
	"github.com/tenantcrm/crm/internal/db/repositories"
	"github.com/tenantcrm/crm/internal/middleware"
	"github.com/tenantcrm/crm/internal/team"
	"github.com/tenantcrm/crm/internal/telemetry"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Tenant CRM v%s\n", version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down|force VERSION>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2:])
	case "token":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: %s token <identity-id> <email>", os.Args[0])
		}
		return issueToken(cfg, os.Args[2], os.Args[3])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, token, version", command)
	}
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	sessions, err := newSessions(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(ctx, database.DB)

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(database.DB, "up"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
			slog.Warn("failed to read migration version", "error", err)
		} else {
			slog.Info("database schema ready", "version", v, "dirty", dirty)
		}
	}

	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return fmt.Errorf("failed to configure audit shippers: %w", err)
	}
	recorder := audit.NewRecorder(shipper)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := recorder.Drain(drainCtx); err != nil {
			slog.Warn("audit shipping did not finish before shutdown", "error", err)
		}
		if err := shipper.Close(); err != nil {
			slog.Warn("audit shipper close failed", "error", err)
		}
	}()
	slog.Info("audit shipping configured", "destinations", shipper.Len())

	svc := team.NewService(
		repositories.NewPostgresStore(database),
		recorder,
		team.WithCrossTenantEmailLinking(cfg.Identity.CrossTenantEmailLinking),
	)

	limiter, linkLimiter, closeLimiters, err := buildLimiters(cfg)
	if err != nil {
		return err
	}
	defer closeLimiters()

	if cfg.Telemetry.Metrics.Enabled {
		metricsServer := startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
		defer metricsServer.Close()
	}

	router := api.NewRouter(cfg, api.Dependencies{
		Team:        svc,
		Tokens:      sessions,
		Limiter:     limiter,
		LinkLimiter: linkLimiter,
		Logger:      slog.Default(),
		Ready:       database.PingContext,
	})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// buildLimiters returns the API-wide and identity-linking limiters. Both are nil when
// rate limiting is disabled. Redis backs them when a URL is configured so limits hold
// across replicas.
func buildLimiters(cfg *config.Config) (middleware.Limiter, middleware.Limiter, func(), error) {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return nil, nil, func() {}, nil
	}

	general := middleware.DefaultRateLimitConfig()
	general.RequestsPerMinute = rl.RequestsPerMinute
	if rl.Burst > 0 {
		general.BurstSize = rl.Burst
	}
	link := middleware.LinkRateLimitConfig()

	if rl.RedisURL != "" {
		client, err := middleware.NewRedisClient(rl.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to configure redis rate limiter: %w", err)
		}
		slog.Info("rate limiting backed by redis", "requests_per_minute", general.RequestsPerMinute)
		return middleware.NewRedisRateLimiter(client, general),
			middleware.NewRedisRateLimiter(client, link),
			func() { _ = client.Close() },
			nil
	}

	slog.Info("rate limiting in memory", "requests_per_minute", general.RequestsPerMinute)
	generalLimiter := middleware.NewRateLimiter(general)
	linkLimiter := middleware.NewRateLimiter(link)
	return generalLimiter, linkLimiter, func() {
		generalLimiter.Stop()
		linkLimiter.Stop()
	}, nil
}

// startMetricsServer serves /metrics on its own port so the scrape path stays off
// the public listener.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

// runMigrations applies, rolls back or forces the schema version. "force" repairs a
// dirty state left by an interrupted run so the next "up" can retry.
func runMigrations(cfg *config.Config, args []string) error {
	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch args[0] {
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s migrate force VERSION", os.Args[0])
		}
		target, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", args[1], err)
		}
		log.Printf("Forcing migration version %d", target)
		if err := db.ForceMigrationVersion(database.DB, target); err != nil {
			return err
		}
	default:
		log.Printf("Running migrations: %s", args[0])
		if err := db.RunMigrations(database.DB, args[0]); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}

// issueToken prints a session token for an identity. The identity provider normally
// issues these; the command exists for local development and smoke tests.
func issueToken(cfg *config.Config, identityID, email string) error {
	sessions, err := newSessions(cfg)
	if err != nil {
		return err
	}
	tok, err := sessions.Issue(identityID, email)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(tok)
	return nil
}

func newSessions(cfg *config.Config) (*auth.Sessions, error) {
	sessions, err := auth.NewSessions(auth.SessionConfig{
		Secret:   cfg.Identity.JWTSecret,
		Issuer:   cfg.Identity.Issuer,
		Audience: cfg.Identity.Audience,
		TTL:      cfg.Identity.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("security configuration error: %w", err)
	}
	return sessions, nil
}
