package analytics

import "github.com/xela07ax/voiceai-analytics/internal/domain"

// KPISet заголовочные показатели дашборда, текущий период против выровненного предыдущего.
type KPISet struct {
	TotalCalls     KPI `json:"total_calls"`
	AnsweredCalls  KPI `json:"answered_calls"`
	ConvertedCalls KPI `json:"converted_calls"`
	AnswerRate     KPI `json:"answer_rate"`
	ConversionRate KPI `json:"conversion_rate"`
	TotalCost      KPI `json:"total_cost"`
	CostPerCall    KPI `json:"cost_per_call"`
	AvgDuration    KPI `json:"avg_duration_seconds"`
}

// BuildKPIs считает доли и средние из сырых счетчиков, а не берет готовые проценты бэкенда:
// так их можно сложить по нескольким клиентам.
func BuildKPIs(r domain.KPIResult) KPISet {
	c, p := r.Current, r.Previous
	return KPISet{
		TotalCalls:     Compare("total_calls", float64(c.TotalCalls), float64(p.TotalCalls), c.TotalCalls, p.TotalCalls),
		AnsweredCalls:  Compare("answered_calls", float64(c.AnsweredCalls), float64(p.AnsweredCalls), c.TotalCalls, p.TotalCalls),
		ConvertedCalls: Compare("converted_calls", float64(c.ConvertedCalls), float64(p.ConvertedCalls), c.AnsweredCalls, p.AnsweredCalls),
		AnswerRate: Compare("answer_rate",
			ratio(float64(c.AnsweredCalls), float64(c.TotalCalls))*100,
			ratio(float64(p.AnsweredCalls), float64(p.TotalCalls))*100,
			c.TotalCalls, p.TotalCalls),
		ConversionRate: Compare("conversion_rate",
			ratio(float64(c.ConvertedCalls), float64(c.AnsweredCalls))*100,
			ratio(float64(p.ConvertedCalls), float64(p.AnsweredCalls))*100,
			c.AnsweredCalls, p.AnsweredCalls),
		TotalCost: Compare("total_cost", c.TotalCost, p.TotalCost, c.TotalCalls, p.TotalCalls),
		CostPerCall: Compare("cost_per_call",
			ratio(c.TotalCost, float64(c.TotalCalls)),
			ratio(p.TotalCost, float64(p.TotalCalls)),
			c.TotalCalls, p.TotalCalls),
		// Длительность есть только у отвеченных звонков.
		AvgDuration: Compare("avg_duration_seconds",
			ratio(c.TotalDurationSecs, float64(c.AnsweredCalls)),
			ratio(p.TotalDurationSecs, float64(p.AnsweredCalls)),
			c.AnsweredCalls, p.AnsweredCalls),
	}
}

// List возвращает показатели в порядке отображения.
func (s KPISet) List() []KPI {
	return []KPI{s.TotalCalls, s.AnsweredCalls, s.ConvertedCalls, s.AnswerRate,
		s.ConversionRate, s.TotalCost, s.CostPerCall, s.AvgDuration}
}
