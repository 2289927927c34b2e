package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityConfig параметры защиты бэкенда метрик.
type ReliabilityConfig struct {
	MaxRequests      uint32        // пробные запросы в half-open
	Interval         time.Duration // окно сброса счетчиков в closed
	Timeout          time.Duration // через сколько CB попробует "закрыться"
	FailureThreshold uint32        // подряд идущих отказов до открытия
	RetryAttempts    uint
	RateLimit        float64 // запросов в секунду
	RateBurst        int
	CallTimeout      time.Duration // таймаут одной попытки
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		MaxRequests:      3,
		Interval:         5 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		RetryAttempts:    3,
		RateLimit:        100,
		RateBurst:        20,
		CallTimeout:      10 * time.Second,
	}
}

// ReliabilityWrapper Backend под rate limiter, Circuit Breaker и retry.
// Повторяются и учитываются предохранителем только Transient-ошибки:
// AccessDenied, EmptyResult и InvalidState считаются ответами, а не сбоями.
type ReliabilityWrapper struct {
	next        Backend
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	attempts    uint
	callTimeout time.Duration
	logger      *zap.Logger
}

func NewReliabilityWrapper(next Backend, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	def := DefaultReliabilityConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	logger = logger.Named("backend-reliability")

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metrics-backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				metrics.CircuitBreakerState.Set(float64(to))
			}
		},
	})

	return &ReliabilityWrapper{
		next:        next,
		cb:          cb,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		attempts:    cfg.RetryAttempts,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
	}
}

// State текущее состояние предохранителя (для /health).
func (w *ReliabilityWrapper) State() gobreaker.State {
	return w.cb.State()
}

func (w *ReliabilityWrapper) KPIMetrics(ctx context.Context, p domain.Principal, s domain.EffectiveScope, previous domain.DateRange) (domain.KPIResult, error) {
	return protect(ctx, w, func(ctx context.Context) (domain.KPIResult, error) {
		return w.next.KPIMetrics(ctx, p, s, previous)
	})
}

func (w *ReliabilityWrapper) ChartData(ctx context.Context, p domain.Principal, s domain.EffectiveScope) (domain.ChartData, error) {
	return protect(ctx, w, func(ctx context.Context) (domain.ChartData, error) {
		return w.next.ChartData(ctx, p, s)
	})
}

func (w *ReliabilityWrapper) LatencyMetrics(ctx context.Context, p domain.Principal, s domain.EffectiveScope) ([]domain.LatencyRow, error) {
	return protect(ctx, w, func(ctx context.Context) ([]domain.LatencyRow, error) {
		return w.next.LatencyMetrics(ctx, p, s)
	})
}

func (w *ReliabilityWrapper) AdminBillingSummary(ctx context.Context, p domain.Principal, period domain.DateRange) (domain.BillingSummary, error) {
	return protect(ctx, w, func(ctx context.Context) (domain.BillingSummary, error) {
		return w.next.AdminBillingSummary(ctx, p, period)
	})
}

func protect[T any](ctx context.Context, w *ReliabilityWrapper, call func(context.Context) (T, error)) (T, error) {
	var zero T

	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w: rate limit exceeded: %w", domain.ErrTransient, err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		var out T
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(domain.Retryable),
			retry.DelayType(retry.BackOffDelay),
		)
		err := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
			defer cancel()

			var callErr error
			out, callErr = call(tCtx)
			return callErr
		})
		return out, err
	})

	switch {
	case err == nil:
		return res.(T), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, fmt.Errorf("%w: %w", domain.ErrTransient, err)
	case ctx.Err() != nil:
		return zero, ctx.Err()
	default:
		return zero, err
	}
}
