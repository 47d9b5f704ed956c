package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kasirinaja/ledger/internal/auth"
	"kasirinaja/ledger/internal/cache"
	"kasirinaja/ledger/internal/catalog"
	"kasirinaja/ledger/internal/config"
	"kasirinaja/ledger/internal/httpapi"
	"kasirinaja/ledger/internal/ledger"
	"kasirinaja/ledger/internal/lock"
	"kasirinaja/ledger/internal/logging"
	"kasirinaja/ledger/internal/metrics"
	"kasirinaja/ledger/internal/store"
	"kasirinaja/ledger/internal/store/memory"
	pgstore "kasirinaja/ledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel)
	log.Logger = logger

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	app, err := buildApp(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("POS ledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	app.close(logger)
	logger.Info().Msg("server stopped")
}

type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) close(logger zerolog.Logger) {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}
}

// buildApp selects the repository, session cache and sale locker from cfg
// and wires the HTTP API on top.
func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			logger.Info().Msg("migrations applied")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		a.closers = append(a.closers, pg.Close)
		logger.Info().Str("repository", "postgres").Msg("store selected")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Str("repository", "memory").Msg("store selected")
	}

	sessions := cache.SessionCache(cache.NoopSessionCache{})
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSessionCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop session cache and in-process locks")
			_ = client.Close()
		} else {
			sessions = redisCache
			locker = lock.Redis{R: client, TTL: cfg.LockTTL, Prefix: "pos:lock:"}
			a.closers = append(a.closers, client.Close)
			logger.Info().Str("cache", "redis").Msg("session cache selected")
		}
	} else {
		logger.Info().Str("cache", "noop").Msg("session cache selected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	authSvc := auth.NewService(repo, sessions, cfg.AuthSecret, cfg.SessionTTL(), logger)
	catalogSvc := catalog.NewService(repo, logger)
	ledgerSvc := ledger.New(repo, ledger.Options{
		Timeout: cfg.OperationTimeout,
		Locker:  locker,
		Metrics: metrics.NewLedger(reg),
		Logger:  logger,
	})

	api := httpapi.New(authSvc, catalogSvc, ledgerSvc, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Metrics:       metrics.NewHTTP(reg),
		Gatherer:      reg,
	})
	a.handler = api.Handler()
	return a, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("OPERATION_TIMEOUT must be positive")
	}
	if cfg.RedisAddr != "" && cfg.LockTTL < cfg.OperationTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must not be shorter than OPERATION_TIMEOUT (%s)", cfg.LockTTL, cfg.OperationTimeout)
	}
	return nil
}
