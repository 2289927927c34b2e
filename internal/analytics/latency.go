package analytics

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// LatencyGroupBy ось перегруппировки строк get_latency_metrics.
type LatencyGroupBy string

const (
	GroupByDay        LatencyGroupBy = "day"
	GroupByDeployment LatencyGroupBy = "deployment"
)

func ParseLatencyGroupBy(s string) (LatencyGroupBy, error) {
	switch LatencyGroupBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupByDay:
		return GroupByDay, nil
	case GroupByDeployment:
		return GroupByDeployment, nil
	default:
		return "", fmt.Errorf("analytics: %w: unknown latency grouping %q", domain.ErrInvalidState, s)
	}
}

// LatencyStat сводка задержек по группе строк.
type LatencyStat struct {
	Key            string    `json:"key"`
	Date           time.Time `json:"date,omitzero"`
	DeploymentID   string    `json:"deployment_id,omitempty"`
	DeploymentName string    `json:"deployment_name,omitempty"`
	CallCount      int64     `json:"call_count"`
	AvgLLMMs       float64   `json:"avg_llm_latency_ms"`
	AvgTTSMs       float64   `json:"avg_tts_latency_ms"`
	AvgTotalMs     float64   `json:"avg_total_latency_ms"`
	MinTotalMs     float64   `json:"min_total_latency_ms"`
	MaxTotalMs     float64   `json:"max_total_latency_ms"`
	MinLLMMs       float64   `json:"min_llm_latency_ms"`
	MaxLLMMs       float64   `json:"max_llm_latency_ms"`
	MinTTSMs       float64   `json:"min_tts_latency_ms"`
	MaxTTSMs       float64   `json:"max_tts_latency_ms"`
}

type latencyAcc struct {
	stat                     LatencyStat
	llm, tts, total          Accumulator
	minTotal, minLLM, minTTS float64
	maxTotal, maxLLM, maxTTS float64
}

func newLatencyAcc(key string) *latencyAcc {
	inf := math.Inf(1)
	return &latencyAcc{
		stat:     LatencyStat{Key: key},
		minTotal: inf, minLLM: inf, minTTS: inf,
	}
}

func (a *latencyAcc) add(r domain.LatencyRow) {
	// Строка без звонков не несет ни средних, ни экстремумов.
	if r.CallCount <= 0 {
		return
	}
	a.llm.Add(r.AvgLLMLatencyMs, r.CallCount)
	a.tts.Add(r.AvgTTSLatencyMs, r.CallCount)
	a.total.Add(r.AvgTotalLatencyMs, r.CallCount)
	a.minTotal = math.Min(a.minTotal, r.MinTotalLatencyMs)
	a.minLLM = math.Min(a.minLLM, r.MinLLMLatencyMs)
	a.minTTS = math.Min(a.minTTS, r.MinTTSLatencyMs)
	a.maxTotal = math.Max(a.maxTotal, r.MaxTotalLatencyMs)
	a.maxLLM = math.Max(a.maxLLM, r.MaxLLMLatencyMs)
	a.maxTTS = math.Max(a.maxTTS, r.MaxTTSLatencyMs)
}

func (a *latencyAcc) result() LatencyStat {
	s := a.stat
	s.CallCount = a.total.Count()
	s.AvgLLMMs = a.llm.Mean()
	s.AvgTTSMs = a.tts.Mean()
	s.AvgTotalMs = a.total.Mean()
	if s.CallCount > 0 {
		s.MinTotalMs, s.MaxTotalMs = a.minTotal, a.maxTotal
		s.MinLLMMs, s.MaxLLMMs = a.minLLM, a.maxLLM
		s.MinTTSMs, s.MaxTTSMs = a.minTTS, a.maxTTS
	}
	return s
}

// GroupLatency сводит строки по дню или по деплою взвешенным по CallCount средним.
// Дни идут по возрастанию, деплои по убыванию числа звонков.
func GroupLatency(rows []domain.LatencyRow, by LatencyGroupBy) []LatencyStat {
	groups := make(map[string]*latencyAcc)
	var keys []string
	for _, r := range rows {
		var key string
		switch by {
		case GroupByDeployment:
			key = r.DeploymentID
			if key == "" {
				key = r.DeploymentName
			}
		default:
			key = domain.CalendarDate(r.Date).Format(domain.DateLayout)
		}
		a, ok := groups[key]
		if !ok {
			a = newLatencyAcc(key)
			if by == GroupByDeployment {
				a.stat.DeploymentID = r.DeploymentID
				a.stat.DeploymentName = r.DeploymentName
			} else {
				a.stat.Date = domain.CalendarDate(r.Date)
			}
			groups[key] = a
			keys = append(keys, key)
		}
		a.add(r)
	}

	out := make([]LatencyStat, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k].result())
	}
	if by == GroupByDeployment {
		slices.SortStableFunc(out, func(a, b LatencyStat) int {
			if a.CallCount != b.CallCount {
				if a.CallCount > b.CallCount {
					return -1
				}
				return 1
			}
			return strings.Compare(a.DeploymentName, b.DeploymentName)
		})
	} else {
		slices.SortFunc(out, func(a, b LatencyStat) int { return a.Date.Compare(b.Date) })
	}
	return out
}

// SummarizeLatency одна сводка по всем строкам области.
func SummarizeLatency(rows []domain.LatencyRow) LatencyStat {
	a := newLatencyAcc("all")
	for _, r := range rows {
		a.add(r)
	}
	return a.result()
}

// LatencySeries ряд средней полной задержки по дням (weighted_mean, пригоден для Rollup).
func LatencySeries(rows []domain.LatencyRow) TimeSeries {
	s := TimeSeries{Name: "avg_total_latency_ms", Aggregation: AggWeightedMean}
	for _, st := range GroupLatency(rows, GroupByDay) {
		s.Points = append(s.Points, Point{Bucket: st.Date, Value: st.AvgTotalMs, Count: st.CallCount})
	}
	return s
}
