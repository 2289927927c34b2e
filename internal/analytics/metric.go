package analytics

/*
Файл metric.go описывает AggregatedMetric в трех видах: KPI (пара периодов), временной ряд и разбивка по категориям.

Каждая точка несет число звонков, на которых она построена,
поэтому ряд можно перегруппировать (день -> неделя) без искажения средних.
*/

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

type MetricKind string

const (
	KindKPI       MetricKind = "kpi"
	KindSeries    MetricKind = "series"
	KindBreakdown MetricKind = "breakdown"
)

// AggregatedMetric реализуют KPI, TimeSeries и Breakdown.
type AggregatedMetric interface {
	MetricKind() MetricKind
}

// Envelope кодирует метрику с тегом вида для JSON-ответов.
func Envelope(m AggregatedMetric) json.RawMessage {
	body, err := json.Marshal(struct {
		Kind MetricKind       `json:"kind"`
		Data AggregatedMetric `json:"data"`
	}{m.MetricKind(), m})
	if err != nil {
		return nil
	}
	return body
}

// Aggregation задает, как складываются точки при перегруппировке.
type Aggregation string

const (
	AggSum          Aggregation = "sum"
	AggWeightedMean Aggregation = "weighted_mean"
)

type Point struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
	Count  int64     `json:"count"`
}

type TimeSeries struct {
	Name        string      `json:"name"`
	Aggregation Aggregation `json:"aggregation"`
	Points      []Point     `json:"points"`
}

func (TimeSeries) MetricKind() MetricKind { return KindSeries }

// BucketFunc отображает день в начало его корзины.
type BucketFunc func(time.Time) time.Time

// BucketDay оставляет ряд без перегруппировки.
func BucketDay(t time.Time) time.Time { return domain.CalendarDate(t) }

// BucketWeek ISO-неделя, начало в понедельник.
func BucketWeek(t time.Time) time.Time {
	d := domain.CalendarDate(t)
	weekday := int(d.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return d.AddDate(0, 0, -(weekday - 1))
}

func BucketMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// BucketByName разбирает "day" | "week" | "month". Пустое значение означает день.
func BucketByName(name string) (BucketFunc, bool) {
	switch name {
	case "", "day":
		return BucketDay, true
	case "week":
		return BucketWeek, true
	case "month":
		return BucketMonth, true
	default:
		return nil, false
	}
}

// Rollup перегруппировывает ряд. Для средних используется вес Count, суммы складываются.
func (s TimeSeries) Rollup(bucket BucketFunc) TimeSeries {
	type agg struct {
		sum   float64
		count int64
		acc   Accumulator
	}
	groups := make(map[time.Time]*agg)
	var order []time.Time
	for _, p := range s.Points {
		b := bucket(p.Bucket)
		g, ok := groups[b]
		if !ok {
			g = &agg{}
			groups[b] = g
			order = append(order, b)
		}
		g.sum += p.Value
		g.count += p.Count
		g.acc.Add(p.Value, p.Count)
	}
	slices.SortFunc(order, func(a, b time.Time) int { return a.Compare(b) })

	out := TimeSeries{Name: s.Name, Aggregation: s.Aggregation, Points: make([]Point, 0, len(order))}
	for _, b := range order {
		g := groups[b]
		v := g.sum
		if s.Aggregation == AggWeightedMean {
			v = g.acc.Mean()
		}
		out.Points = append(out.Points, Point{Bucket: b, Value: v, Count: g.count})
	}
	return out
}

// Total считает итог по ряду (сумму или взвешенное среднее).
func (s TimeSeries) Total() Point {
	var (
		sum   float64
		count int64
		acc   Accumulator
	)
	for _, p := range s.Points {
		sum += p.Value
		count += p.Count
		acc.Add(p.Value, p.Count)
	}
	if s.Aggregation == AggWeightedMean {
		sum = acc.Mean()
	}
	return Point{Value: sum, Count: count}
}

// VolumeSeries ряды объема звонков из ответа get_chart_data.
func VolumeSeries(days []domain.DailyVolume) (total, answered, converted TimeSeries) {
	total = TimeSeries{Name: "total_calls", Aggregation: AggSum}
	answered = TimeSeries{Name: "answered_calls", Aggregation: AggSum}
	converted = TimeSeries{Name: "converted_calls", Aggregation: AggSum}
	for _, d := range days {
		total.Points = append(total.Points, Point{Bucket: d.Date, Value: float64(d.Total), Count: d.Total})
		answered.Points = append(answered.Points, Point{Bucket: d.Date, Value: float64(d.Answered), Count: d.Total})
		converted.Points = append(converted.Points, Point{Bucket: d.Date, Value: float64(d.Converted), Count: d.Total})
	}
	return total, answered, converted
}

// Breakdown распределение по категориям (исходы звонков, эмоции).
type Breakdown struct {
	Name  string                 `json:"name"`
	Items []domain.CategoryCount `json:"items"`
	Total int64                  `json:"total"`
}

func (Breakdown) MetricKind() MetricKind { return KindBreakdown }

// NewBreakdown сливает повторяющиеся метки и сортирует по убыванию количества.
func NewBreakdown(name string, items []domain.CategoryCount) Breakdown {
	idx := make(map[string]int)
	b := Breakdown{Name: name}
	for _, it := range items {
		b.Total += it.Count
		if i, ok := idx[it.Label]; ok {
			b.Items[i].Count += it.Count
			continue
		}
		idx[it.Label] = len(b.Items)
		b.Items = append(b.Items, it)
	}
	slices.SortStableFunc(b.Items, func(x, y domain.CategoryCount) int {
		switch {
		case x.Count > y.Count:
			return -1
		case x.Count < y.Count:
			return 1
		default:
			return compareLabels(x.Label, y.Label)
		}
	})
	return b
}

// Share доля категории от итога в процентах.
func (b Breakdown) Share(label string) float64 {
	for _, it := range b.Items {
		if it.Label == label {
			return ratio(float64(it.Count), float64(b.Total)) * 100
		}
	}
	return 0
}
