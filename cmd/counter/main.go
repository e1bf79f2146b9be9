package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/actioncounter/internal/app/migrate"
	"github.com/splax/actioncounter/internal/dashboard"
	httpx "github.com/splax/actioncounter/internal/http"
	"github.com/splax/actioncounter/internal/repository/postgres"
	"github.com/splax/actioncounter/internal/service/counter"
	"github.com/splax/actioncounter/internal/service/deliverylog"
	"github.com/splax/actioncounter/internal/service/reload"
	"github.com/splax/actioncounter/internal/service/report"
	"github.com/splax/actioncounter/internal/service/webhook"
	"github.com/splax/actioncounter/internal/timebucket"
	"github.com/splax/actioncounter/internal/ws"
	"github.com/splax/actioncounter/pkg/config"
	"github.com/splax/actioncounter/pkg/logger"
)

func main() {
	cfg := config.LoadCounterConfig()
	log := logger.New("actioncounter", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rateCapacity := cfg.RateCacheSize
	if rateCapacity < cfg.ReportWindow {
		log.Warn("rate cache smaller than report window, raising capacity", "configured", rateCapacity, "window", cfg.ReportWindow)
		rateCapacity = cfg.ReportWindow
	}
	store, err := counter.NewStore(cfg.Sources, counter.Options{
		RepoCapacity: cfg.RepoCacheSize,
		RateCapacity: rateCapacity,
	})
	if err != nil {
		log.Error("invalid source configuration", "error", err)
		os.Exit(1)
	}
	if err := prometheus.Register(counter.NewCollector(store)); err != nil {
		log.Warn("cache metrics unavailable", "error", err)
	}

	loc, err := timebucket.LoadZone(cfg.DisplayTimezone)
	if err != nil {
		log.Warn("unknown display timezone, using UTC", "zone", cfg.DisplayTimezone, "error", err)
	}
	bucketer := timebucket.Default()

	var reloadSvc *reload.Service
	if cfg.ReloadEnabled {
		fetcher, err := reload.NewHTTPFetcher(cfg.ReloadURL, &http.Client{Timeout: cfg.ReloadTimeout})
		if err != nil {
			log.Error("invalid reload configuration", "error", err)
			os.Exit(1)
		}
		log.Info("reload source configured", "url", fetcher.URL(), "legacy_source", cfg.LegacySource)
		reloadSvc = reload.New(store, fetcher, bucketer, cfg.LegacySource, cfg.ReloadTimeout, log)
		reloadSvc.Warm(ctx)
	}

	var (
		deliveries *deliverylog.Service
		dbHealth   func(context.Context) error
	)
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		runner, err := migrate.New(dsn, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		deliveries = deliverylog.New(postgres.New(pool), cfg.DeliveryLogBuffer, cfg.DeliveryLogFlush, log)
		dbHealth = deliveries.Ping
	} else {
		log.Info("DATABASE_URL not set, delivery log disabled")
	}

	hub := ws.NewHub(cfg.StreamBuffer)
	defer hub.Close()

	var recorder webhook.Recorder
	if deliveries != nil {
		recorder = deliveries
	}
	ingestor := webhook.New(store, bucketer, hub, recorder, log)

	renderer, err := dashboard.New(loc)
	if err != nil {
		log.Error("failed to load dashboard templates", "error", err)
		os.Exit(1)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	reporter := report.NewBuilder(store, bucketer, loc, cfg.ReportWindow)
	opts := httpx.Options{
		Ingestor:         ingestor,
		Reporter:         reporter,
		Hub:              hub,
		Dashboard:        renderer,
		Limiter:          limiter,
		Sources:          store.Names(),
		AdminToken:       cfg.AdminToken,
		AdminTokenHash:   cfg.AdminTokenHash,
		WebhookRateLimit: cfg.WebhookRateLimit,
		DBHealth:         dbHealth,
	}
	if reloadSvc != nil {
		opts.Reloader = reloadSvc
	}
	if deliveries != nil {
		opts.Deliveries = deliveries
	}
	router := httpx.NewRouter(log, opts)
	defer router.Close()

	flushed := make(chan struct{})
	if deliveries != nil {
		go func() {
			deliveries.Run(ctx)
			close(flushed)
		}()
	} else {
		close(flushed)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("counter server starting",
			"addr", cfg.Addr,
			"sources", cfg.SourceNames(),
			"report_window", reporter.Window(),
			"env", cfg.Environment,
		)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		select {
		case <-flushed:
		case <-shutdownCtx.Done():
			log.Warn("delivery log did not flush before shutdown deadline")
		}
		log.Info("counter server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
