package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/airlock/internal/archive"
	"github.com/splax/airlock/internal/check"
	"github.com/splax/airlock/internal/docker"
	httpx "github.com/splax/airlock/internal/http"
	"github.com/splax/airlock/internal/metrics"
	"github.com/splax/airlock/internal/plugin"
	"github.com/splax/airlock/internal/provision"
	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/repository/migrations"
	"github.com/splax/airlock/internal/repository/postgres"
	"github.com/splax/airlock/internal/repository/sqlite"
	"github.com/splax/airlock/internal/service/deploy"
	"github.com/splax/airlock/internal/service/events"
	"github.com/splax/airlock/internal/service/lifecycle"
	"github.com/splax/airlock/internal/workspace"
	"github.com/splax/airlock/internal/ws"
	"github.com/splax/airlock/pkg/config"
	"github.com/splax/airlock/pkg/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("airlockd", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	dirs, err := workspace.New(cfg.DeploymentsDir)
	if err != nil {
		log.Error("failed to prepare deployments dir", "error", err)
		os.Exit(1)
	}
	pluginDirs, err := workspace.New(cfg.PluginWorkdir)
	if err != nil {
		log.Error("failed to prepare plugin workdir", "error", err)
		os.Exit(1)
	}
	uploadDir, err := os.MkdirTemp("", "airlock-uploads-")
	if err != nil {
		log.Error("failed to prepare upload dir", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(uploadDir)

	pipeline := metrics.NewProm("airlock", prometheus.DefaultRegisterer)

	hub := ws.NewHub()
	defer hub.Close()
	var publisher events.Publisher
	if url := strings.TrimSpace(cfg.NATSURL); url != "" {
		nc, err := events.DialNATS(url, cfg.NATSSubject, log)
		if err != nil {
			log.Warn("nats publisher unavailable", "error", err)
		} else {
			defer nc.Close()
			publisher = nc
		}
	}
	eventSvc := events.New(store, hub, publisher, log)

	gateway, closeGateway, err := newGateway(cfg, log)
	if err != nil {
		log.Error("failed to configure provisioning gateway", "error", err)
		os.Exit(1)
	}
	defer closeGateway()

	orchestrator, err := newOrchestrator(cfg, pluginDirs, eventSvc, pipeline, log)
	if err != nil {
		log.Error("failed to configure checks", "error", err)
		os.Exit(1)
	}
	log.Info("check domains configured", "domains", orchestrator.Domains())

	validator := archive.NewValidator(cfg.MaxUploadBytes, cfg.MaxExtractedBytes)
	deploySvc := deploy.New(store, eventSvc, validator, orchestrator, gateway, dirs, pipeline, deploy.Config{DemoTTL: cfg.DemoTTL, CheckTimeout: cfg.CheckTimeout}, log)

	var lease lifecycle.Lease
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		redisLease, err := lifecycle.NewRedisLease(url, log)
		if err != nil {
			log.Warn("redis lease unavailable, sweeping without coordination", "error", err)
		} else {
			defer redisLease.Close()
			lease = redisLease
		}
	}
	scheduler := lifecycle.New(store, gateway, dirs, log, lifecycle.Options{
		Interval: cfg.CleanupInterval,
		Events:   eventSvc,
		Lease:    lease,
		Metrics:  pipeline,
	})

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedis); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPw, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, deploySvc, hub, httpx.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		UploadDir:       uploadDir,
		Limiter:         limiter,
		Health: map[string]httpx.HealthCheck{
			"database": store.Ping,
			"gateway":  gateway.Ping,
		},
	})
	defer router.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("airlock server starting", "addr", cfg.Addr, "env", cfg.Environment, "deploy_enabled", cfg.EnableDeploy)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
			wg.Wait()
			os.Exit(1)
		}
	}
	stop()
	wg.Wait()
	log.Info("airlock server stopped")
}

func openStore(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (repository.Store, error) {
	switch cfg.DatabaseDriver {
	case migrations.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, log)
	case migrations.DriverSQLite, "":
		if err := ensureParentDir(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		return sqlite.Open(ctx, cfg.DatabaseURL, log)
	}
	return nil, errors.New("DATABASE_DRIVER must be sqlite or postgres")
}

func ensureParentDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(dsn), 0o755)
}

// newGateway returns the Docker gateway when deploys are enabled and a
// placeholder gateway that only reports addresses otherwise.
func newGateway(cfg config.ServerConfig, log *slog.Logger) (provision.Gateway, func(), error) {
	if !cfg.EnableDeploy {
		return provision.NewDisabled(cfg.PublicBaseURL), func() {}, nil
	}
	client, err := docker.New(cfg.DockerHost)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		log.Warn("docker daemon not reachable yet", "error", err)
	}
	gateway := provision.NewDocker(client, provision.DockerConfig{
		Registry:   cfg.Registry,
		PublicHost: cfg.PublicHost,
	}, log)
	return gateway, func() { _ = client.Close() }, nil
}

func newOrchestrator(cfg config.ServerConfig, pluginDirs *workspace.Manager, eventSvc *events.Service, pipeline metrics.Pipeline, log *slog.Logger) (*check.Orchestrator, error) {
	model := check.NewModelClient(check.ModelConfig{
		URL:     cfg.ModelAPIURL,
		APIKey:  cfg.ModelAPIKey,
		Model:   cfg.ModelName,
		Timeout: cfg.ModelTimeout,
	})
	if cfg.ModelAPIKey == "" {
		log.Warn("no model API key configured, model-backed checks will warn")
	}

	evaluators := []check.Evaluator{
		check.NewSecurityEvaluator(model, log),
		check.NewCostEvaluator(model, log),
		check.NewBrandEvaluator(model, check.NewHTTPPartnerFetcher(15*time.Second), cfg.BrandPartnerURL, log),
	}

	descriptors, err := plugin.LoadConfig(cfg.PluginsConfig, cfg.PluginBaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("no plugins config found", "path", cfg.PluginsConfig)
	case err != nil:
		return nil, err
	}
	runner := plugin.NewRunner(pluginDirs, log)
	for _, d := range descriptors {
		evaluators = append(evaluators, check.NewPluginEvaluator(runner, d, cfg.PluginTimeout, eventSvc.PluginLog, pipeline, log))
		log.Info("plugin registered", "plugin", d.Name, "cmd", d.Cmd)
	}
	return check.NewOrchestrator(log, pipeline, evaluators...), nil
}
