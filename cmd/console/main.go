package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/voiceai-analytics/internal/access"
	"github.com/xela07ax/voiceai-analytics/internal/audit"
	"github.com/xela07ax/voiceai-analytics/internal/console/handler"
	"github.com/xela07ax/voiceai-analytics/internal/console/server"
	"github.com/xela07ax/voiceai-analytics/internal/dashboard"
	"github.com/xela07ax/voiceai-analytics/internal/infra"
	"github.com/xela07ax/voiceai-analytics/internal/infra/auth"
	"github.com/xela07ax/voiceai-analytics/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("console stopped with error", zap.Error(err))
	}
	logger.Info("console exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура и ресурсы
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return err
	}
	loc, err := cfg.Analytics.Location()
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(appCtx, 5*time.Second)
	pool, err := postgres.NewPool(connectCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := postgres.NewRepo(pool, logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(appCtx).Err(); err != nil {
		// L2 кэш не обязателен: без Redis работаем на L1 и бэкенде
		logger.Warn("redis unreachable, grant cache is instance-local", zap.Error(err))
	}

	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := dashboard.NewMetrics(reg)

	// 3. Бэкенд метрик под rate limiter, Circuit Breaker и retry
	rel := dashboard.DefaultReliabilityConfig()
	rel.MaxRequests = cfg.Backend.CBMaxRequests
	rel.Interval = cfg.Backend.CBInterval
	rel.Timeout = cfg.Backend.CBTimeout
	rel.RetryAttempts = cfg.Backend.RetryAttempts
	rel.RateLimit = cfg.Backend.RateLimit
	rel.RateBurst = cfg.Backend.RateBurst
	backend := dashboard.NewReliabilityWrapper(repo, rel, metrics, logger)

	// 4. Accessibility Provider: L1 otter -> L2 Redis -> Postgres
	provider, err := access.NewProvider(repo, cfg.Analytics.GrantCacheSize, cfg.Analytics.GrantCacheTTL, logger,
		access.WithSnapshotStore(access.NewRedisStore(rdb)),
		access.WithObserver(metrics),
	)
	if err != nil {
		return err
	}
	defer provider.Close()
	bus := access.NewRedisBus(rdb)
	go provider.ListenInvalidations(appCtx, bus)

	// 5. Журнал имперсонаций пишется в Postgres пачками
	trail := audit.NewTrail(repo, cfg.Audit.BufferSize, cfg.Audit.FlushInterval, logger)
	trail.Start()
	defer trail.Stop()

	views, err := dashboard.NewViews(cfg.Analytics.ViewCapacity, cfg.Analytics.ViewIdleTTL)
	if err != nil {
		return err
	}
	defer views.Close()

	// 6. Сервис и HTTP
	svc := dashboard.NewService(backend, metrics, cfg.Analytics.QueryTimeout, logger)
	dashH := handler.NewDashboardHandler(provider, svc, views,
		handler.NewImpersonationAuditor(trail, metrics),
		handler.Options{
			DefaultRangeDays: cfg.Analytics.DefaultRangeDays,
			Location:         loc,
			InvalidateGrants: func(ctx context.Context, userID string) error {
				return provider.PublishInvalidation(ctx, bus, userID)
			},
		},
		logger,
	)
	api := server.NewConsoleServer(logger, auth.NewRSAValidator(pubKey), reg, repo, dashH)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-appCtx.Done():
		logger.Info("console stopping...")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
