package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xela07ax/voiceai-analytics/internal/analytics"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultQueryTimeout ограничивает один цикл запросов дашборда.
const DefaultQueryTimeout = 15 * time.Second

// Overview содержит все, что рисует главная вкладка. Секции, по которым данных нет, остаются пустыми.
type Overview struct {
	Scope          domain.EffectiveScope  `json:"scope"`
	PreviousPeriod domain.DateRange       `json:"previous_period"`
	KPIs           *analytics.KPISet      `json:"kpis,omitempty"`
	TotalCalls     *analytics.TimeSeries  `json:"total_calls,omitempty"`
	AnsweredCalls  *analytics.TimeSeries  `json:"answered_calls,omitempty"`
	ConvertedCalls *analytics.TimeSeries  `json:"converted_calls,omitempty"`
	Outcomes       *analytics.Breakdown   `json:"outcomes,omitempty"`
	Emotions       *analytics.Breakdown   `json:"emotions,omitempty"`
	Latency        *analytics.LatencyStat `json:"latency,omitempty"`
	LatencySeries  *analytics.TimeSeries  `json:"latency_series,omitempty"`
}

// LatencyReport задержки, сгруппированные по дню или деплою, и сводка по всей области.
type LatencyReport struct {
	GroupBy analytics.LatencyGroupBy `json:"group_by"`
	Groups  []analytics.LatencyStat  `json:"groups"`
	Summary analytics.LatencyStat    `json:"summary"`
}

// Service реализует Metric Aggregation Layer поверх бэкенда.
type Service struct {
	backend Backend
	metrics *Metrics
	timeout time.Duration
	logger  *zap.Logger
}

func NewService(backend Backend, metrics *Metrics, timeout time.Duration, logger *zap.Logger) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Service{
		backend: backend,
		metrics: metrics,
		timeout: timeout,
		logger:  logger.Named("dashboard"),
	}
}

// raw хранит ответы бэкенда одного цикла; empty отмечает секции без строк.
type raw struct {
	prev    domain.DateRange
	kpi     domain.KPIResult
	charts  domain.ChartData
	latency []domain.LatencyRow
	hasKPI  bool
	empty   [3]bool
}

// fetch запрашивает KPI, графики и задержки параллельно.
// EmptyResult одной секции не валит остальные; если пусто везде, возвращается ErrEmptyResult.
func (s *Service) fetch(ctx context.Context, p domain.Principal, scope domain.EffectiveScope) (*raw, error) {
	r := &raw{prev: analytics.PreviousPeriod(scope.DateRange)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r.kpi, err = observe(s, "kpi", func() (domain.KPIResult, error) { return s.backend.KPIMetrics(gctx, p, scope, r.prev) })
		r.hasKPI = err == nil
		r.empty[0] = !r.hasKPI || (r.kpi.Current.TotalCalls == 0 && r.kpi.Previous.TotalCalls == 0)
		return tolerateEmpty(err)
	})
	g.Go(func() error {
		var err error
		r.charts, err = observe(s, "chart", func() (domain.ChartData, error) { return s.backend.ChartData(gctx, p, scope) })
		r.empty[1] = errors.Is(err, domain.ErrEmptyResult) || (err == nil && r.charts.Empty())
		return tolerateEmpty(err)
	})
	g.Go(func() error {
		var err error
		r.latency, err = observe(s, "latency", func() ([]domain.LatencyRow, error) { return s.backend.LatencyMetrics(gctx, p, scope) })
		r.empty[2] = errors.Is(err, domain.ErrEmptyResult) || (err == nil && len(r.latency) == 0)
		return tolerateEmpty(err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if r.empty[0] && r.empty[1] && r.empty[2] {
		return nil, fmt.Errorf("scope %s: %w", scope.DateRange, domain.ErrEmptyResult)
	}
	return r, nil
}

// Overview KPI с выровненным предыдущим периодом, ряды объема, распределения и задержки.
// bucket перегруппировывает дневные ряды (nil оставляет дни).
func (s *Service) Overview(ctx context.Context, p domain.Principal, scope domain.EffectiveScope, bucket analytics.BucketFunc) (*Overview, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if bucket == nil {
		bucket = analytics.BucketDay
	}

	r, err := s.fetch(ctx, p, scope)
	if err != nil {
		return nil, fmt.Errorf("dashboard: overview: %w", err)
	}

	out := &Overview{Scope: scope, PreviousPeriod: r.prev}
	if r.hasKPI {
		k := analytics.BuildKPIs(r.kpi)
		out.KPIs = &k
	}
	if len(r.charts.CallVolumeByDay) > 0 {
		total, answered, converted := analytics.VolumeSeries(r.charts.CallVolumeByDay)
		total, answered, converted = total.Rollup(bucket), answered.Rollup(bucket), converted.Rollup(bucket)
		out.TotalCalls, out.AnsweredCalls, out.ConvertedCalls = &total, &answered, &converted
	}
	if len(r.charts.OutcomeDistribution) > 0 {
		b := analytics.NewBreakdown("outcomes", r.charts.OutcomeDistribution)
		out.Outcomes = &b
	}
	if len(r.charts.EmotionDistribution) > 0 {
		b := analytics.NewBreakdown("emotions", r.charts.EmotionDistribution)
		out.Emotions = &b
	}
	if len(r.latency) > 0 {
		sum := analytics.SummarizeLatency(r.latency)
		series := analytics.LatencySeries(r.latency).Rollup(bucket)
		out.Latency, out.LatencySeries = &sum, &series
	}
	return out, nil
}

func (s *Service) Latency(ctx context.Context, p domain.Principal, scope domain.EffectiveScope, by analytics.LatencyGroupBy) (*LatencyReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := observe(s, "latency", func() ([]domain.LatencyRow, error) { return s.backend.LatencyMetrics(ctx, p, scope) })
	if err != nil {
		return nil, fmt.Errorf("dashboard: latency: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dashboard: latency: %w", domain.ErrEmptyResult)
	}
	return &LatencyReport{
		GroupBy: by,
		Groups:  analytics.GroupLatency(rows, by),
		Summary: analytics.SummarizeLatency(rows),
	}, nil
}

// Attempts звонки по номеру попытки с динамическим набором категорий.
func (s *Service) Attempts(ctx context.Context, p domain.Principal, scope domain.EffectiveScope) (*analytics.Pivot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	charts, err := observe(s, "chart", func() (domain.ChartData, error) { return s.backend.ChartData(ctx, p, scope) })
	if err != nil {
		return nil, fmt.Errorf("dashboard: attempts: %w", err)
	}
	if len(charts.AttemptsByDay) == 0 {
		return nil, fmt.Errorf("dashboard: attempts: %w", domain.ErrEmptyResult)
	}
	pivot := analytics.PivotCategories(charts.AttemptsByDay)
	return &pivot, nil
}

// Billing сводка биллинга администратора. Для остальных фичи просто нет:
// (nil, false, nil), сама ошибка доступа наружу не выходит.
func (s *Service) Billing(ctx context.Context, p domain.Principal, period domain.DateRange) (*domain.BillingSummary, bool, error) {
	if !p.Admin {
		s.logger.Debug("billing summary hidden: principal is not an admin", zap.String("user_id", p.UserID))
		return nil, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	b, err := observe(s, "billing", func() (domain.BillingSummary, error) { return s.backend.AdminBillingSummary(ctx, p, period) })
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		s.logger.Debug("billing summary denied by backend", zap.String("user_id", p.UserID))
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("dashboard: billing: %w", err)
	}
	return &b, true, nil
}

// Export пишет CSV по области: KPI, объем по дням, исходы, попытки и задержки по деплоям.
func (s *Service) Export(ctx context.Context, p domain.Principal, scope domain.EffectiveScope, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.fetch(ctx, p, scope)
	if err != nil {
		return fmt.Errorf("dashboard: export: %w", err)
	}

	var tables []analytics.Table
	if r.hasKPI {
		tables = append(tables, analytics.FlattenKPIs(analytics.BuildKPIs(r.kpi)))
	}
	tables = append(tables,
		analytics.FlattenVolume(r.charts.CallVolumeByDay),
		analytics.FlattenBreakdown(analytics.NewBreakdown("outcomes", r.charts.OutcomeDistribution)),
	)
	if len(r.charts.AttemptsByDay) > 0 {
		tables = append(tables, analytics.FlattenPivot("attempts_by_day", analytics.PivotCategories(r.charts.AttemptsByDay)))
	}
	tables = append(tables, analytics.FlattenLatency("latency_by_deployment", analytics.GroupLatency(r.latency, analytics.GroupByDeployment)))

	if err := analytics.WriteCSV(w, tables...); err != nil {
		return fmt.Errorf("dashboard: export: %w", err)
	}
	return nil
}

// observe замеряет запрос и считает ошибки по классам.
func observe[T any](s *Service, query string, call func() (T, error)) (T, error) {
	start := time.Now()
	res, err := call()
	kind := domain.Classify(err)
	outcome := string(kind)
	if kind == domain.KindNone {
		outcome = "ok"
	}
	s.metrics.QueryDuration.WithLabelValues(query, outcome).Observe(time.Since(start).Seconds())

	switch kind {
	case domain.KindNone:
	case domain.KindAccessDenied, domain.KindEmptyResult, domain.KindSuperseded:
		s.metrics.QueryErrors.WithLabelValues(string(kind)).Inc()
		s.logger.Debug("backend query finished without data", zap.String("query", query), zap.Error(err))
	default:
		s.metrics.QueryErrors.WithLabelValues(string(kind)).Inc()
		s.logger.Warn("backend query failed", zap.String("query", query), zap.Error(err))
	}
	return res, err
}

func tolerateEmpty(err error) error {
	if errors.Is(err, domain.ErrEmptyResult) {
		return nil
	}
	return err
}

// Superseded учитывает отброшенный результат.
func (s *Service) Superseded() {
	s.metrics.Superseded.Inc()
}
