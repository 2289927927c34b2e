package postgres

import (
	"context"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// Обертки строк ответа: даты в jsonb приходят строкой "YYYY-MM-DD".
type dailyVolumeRow struct {
	domain.DailyVolume
	Date jsonDate `json:"date"`
}

type categoryPointRow struct {
	domain.CategoryPoint
	Date jsonDate `json:"date"`
}

type latencyRow struct {
	domain.LatencyRow
	Date jsonDate `json:"date"`
}

type chartDataRow struct {
	CallVolumeByDay     []dailyVolumeRow       `json:"call_volume_by_day"`
	OutcomeDistribution []domain.CategoryCount `json:"outcome_distribution"`
	EmotionDistribution []domain.CategoryCount `json:"emotion_distribution"`
	AttemptsByDay       []categoryPointRow     `json:"attempts_by_day"`
}

func (r *Repo) KPIMetrics(ctx context.Context, p domain.Principal, s domain.EffectiveScope, previous domain.DateRange) (domain.KPIResult, error) {
	args := append(scopeArgs(p, s),
		previous.Start.Format(domain.DateLayout),
		previous.End.Format(domain.DateLayout),
	)
	var out domain.KPIResult
	if err := r.callJSON(ctx, "get_kpi_metrics", &out, args...); err != nil {
		return domain.KPIResult{}, err
	}
	return out, nil
}

func (r *Repo) ChartData(ctx context.Context, p domain.Principal, s domain.EffectiveScope) (domain.ChartData, error) {
	var row chartDataRow
	if err := r.callJSON(ctx, "get_chart_data", &row, scopeArgs(p, s)...); err != nil {
		return domain.ChartData{}, err
	}

	out := domain.ChartData{
		OutcomeDistribution: row.OutcomeDistribution,
		EmotionDistribution: row.EmotionDistribution,
	}
	for _, d := range row.CallVolumeByDay {
		v := d.DailyVolume
		v.Date = d.Date.Time()
		out.CallVolumeByDay = append(out.CallVolumeByDay, v)
	}
	for _, c := range row.AttemptsByDay {
		pt := c.CategoryPoint
		pt.Date = c.Date.Time()
		out.AttemptsByDay = append(out.AttemptsByDay, pt)
	}
	return out, nil
}

func (r *Repo) LatencyMetrics(ctx context.Context, p domain.Principal, s domain.EffectiveScope) ([]domain.LatencyRow, error) {
	var rows []latencyRow
	if err := r.callJSON(ctx, "get_latency_metrics", &rows, scopeArgs(p, s)...); err != nil {
		return nil, err
	}
	out := make([]domain.LatencyRow, 0, len(rows))
	for _, lr := range rows {
		row := lr.LatencyRow
		row.Date = lr.Date.Time()
		out = append(out, row)
	}
	return out, nil
}

// AdminBillingSummary вызывает функцию, которая сама проверяет роль и отвечает 42501 не-администраторам.
// Итоги считаются здесь из строк по клиентам.
func (r *Repo) AdminBillingSummary(ctx context.Context, p domain.Principal, period domain.DateRange) (domain.BillingSummary, error) {
	var tenants []domain.TenantBilling
	err := r.callJSON(ctx, "get_admin_billing_summary", &tenants,
		p.UserID,
		period.Start.Format(domain.DateLayout),
		period.End.Format(domain.DateLayout),
	)
	if err != nil {
		return domain.BillingSummary{}, err
	}

	out := domain.BillingSummary{Period: period, Tenants: tenants}
	for _, t := range tenants {
		out.TotalCalls += t.Calls
		out.TotalMinutes += t.Minutes
		out.TotalCost += t.Cost
	}
	return out, nil
}
