package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"dispatch/internal/config"
	"dispatch/internal/gateway"
	"dispatch/internal/httpapi"
	"dispatch/internal/humanize"
	"dispatch/internal/logging"
	"dispatch/internal/observability"
	"dispatch/internal/scheduler"
	"dispatch/internal/store/pg"
	"dispatch/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadEngine()
	logging.Init("engine", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPool.MaxConns,
		MinConns:          cfg.DBPool.MinConns,
		MaxConnLifetime:   cfg.DBPool.MaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPool.MaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPool.HealthCheckPeriod,
	})
	if err != nil {
		slog.Error("engine db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)
	st := pg.New(db)

	gw := &gateway.Client{
		APIKey:  cfg.GatewayAPIKey,
		BaseURL: cfg.GatewayBaseURL,
		HTTP:    &http.Client{Timeout: cfg.GatewayTimeout + 2*time.Second},
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.GatewayRPS), cfg.GatewayBurst)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	// One pacing source shared by all runners; the lock is held only for
	// the draw, not the sleep.
	var delayMu sync.Mutex
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	delay := func(minSecs, maxSecs int) time.Duration {
		delayMu.Lock()
		defer delayMu.Unlock()
		return humanize.Delay(minSecs, maxSecs, rnd)
	}

	runner := &worker.Runner{
		Store:          st,
		Sender:         gw,
		Limiter:        limiter,
		Breaker:        cb,
		Delay:          delay,
		HeartbeatEvery: cfg.ClaimStale / 3,
		SendTimeout:    cfg.GatewayTimeout,
	}
	sched := scheduler.New(st, runner.Run, cfg.PollInterval, cfg.ClaimStale)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", httpapi.Healthz())
	healthMux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
	))
	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.Logging(healthMux),
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("engine health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: httpapi.New().Mux,
	}
	go func() {
		slog.Info("engine metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("engine metrics server failed", "err", err)
		}
	}()

	schedErrCh := make(chan error, 1)
	go func() {
		slog.Info("engine scheduler starting", "poll_interval", cfg.PollInterval.String())
		schedErrCh <- sched.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-schedErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("engine scheduler failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("engine health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("engine shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	// Runners get the grace period to finish their in-flight recipient;
	// anything unfinished keeps a stale claim and is picked up again.
	select {
	case <-schedErrCh:
	case <-time.After(cfg.ShutdownGrace):
		slog.Info("engine shutdown timeout waiting for runners")
	}
}
