package analytics

import (
	"math"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// PreviousPeriod период той же длины, вплотную предшествующий r.
// Календарные единицы ("тот же период прошлого месяца") не используются: диапазон произвольный.
func PreviousPeriod(r domain.DateRange) domain.DateRange {
	days := r.Days()
	end := r.Start.AddDate(0, 0, -1)
	return domain.DateRange{Start: end.AddDate(0, 0, -(days - 1)), End: end}
}

// KPI одно значение в паре выровненных периодов.
type KPI struct {
	Name     string  `json:"name"`
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Delta    float64 `json:"delta"`
	// PercentChange равен nil, если в предыдущем периоде был ноль (рост "из ничего" не выражается в процентах).
	PercentChange *float64 `json:"percent_change"`
	// Samples показывает, на скольких звонках построено значение, для корректной перегруппировки.
	CurrentSamples  int64 `json:"current_samples"`
	PreviousSamples int64 `json:"previous_samples"`
}

func (KPI) MetricKind() MetricKind { return KindKPI }

// Compare строит KPI из пары значений.
func Compare(name string, current, previous float64, currentSamples, previousSamples int64) KPI {
	k := KPI{
		Name:            name,
		Current:         current,
		Previous:        previous,
		Delta:           current - previous,
		CurrentSamples:  currentSamples,
		PreviousSamples: previousSamples,
	}
	if previous != 0 {
		pct := (current - previous) / math.Abs(previous) * 100
		k.PercentChange = &pct
	}
	return k
}

// ratio деление с нулем вместо NaN/Inf.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
