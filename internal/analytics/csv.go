package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// Table плоское представление одного блока выгрузки.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
func formatInt(v int64) string     { return strconv.FormatInt(v, 10) }

func FlattenVolume(days []domain.DailyVolume) Table {
	t := Table{Name: "call_volume_by_day", Header: []string{"date", "total", "answered", "converted"}}
	for _, d := range days {
		t.Rows = append(t.Rows, []string{
			d.Date.Format(domain.DateLayout), formatInt(d.Total), formatInt(d.Answered), formatInt(d.Converted),
		})
	}
	return t
}

func FlattenBreakdown(b Breakdown) Table {
	t := Table{Name: b.Name, Header: []string{"label", "count", "share_percent"}}
	for _, it := range b.Items {
		t.Rows = append(t.Rows, []string{it.Label, formatInt(it.Count), formatFloat(b.Share(it.Label))})
	}
	return t
}

func FlattenLatency(name string, stats []LatencyStat) Table {
	t := Table{Name: name, Header: []string{
		"key", "deployment_name", "call_count",
		"avg_llm_ms", "avg_tts_ms", "avg_total_ms", "min_total_ms", "max_total_ms",
	}}
	for _, s := range stats {
		t.Rows = append(t.Rows, []string{
			s.Key, s.DeploymentName, formatInt(s.CallCount),
			formatFloat(s.AvgLLMMs), formatFloat(s.AvgTTSMs), formatFloat(s.AvgTotalMs),
			formatFloat(s.MinTotalMs), formatFloat(s.MaxTotalMs),
		})
	}
	return t
}

// FlattenPivot делает одну колонку на категорию; отсутствующая в день категория пишется как 0.
func FlattenPivot(name string, p Pivot) Table {
	t := Table{Name: name, Header: append([]string{"date"}, p.Categories...)}
	t.Header = append(t.Header, "total")
	for _, r := range p.Rows {
		row := make([]string, 0, len(p.Categories)+2)
		row = append(row, r.Date.Format(domain.DateLayout))
		for _, c := range p.Categories {
			row = append(row, formatInt(r.Value(c)))
		}
		row = append(row, formatInt(r.Total))
		t.Rows = append(t.Rows, row)
	}
	return t
}

func FlattenKPIs(s KPISet) Table {
	t := Table{Name: "kpis", Header: []string{"metric", "current", "previous", "delta", "percent_change"}}
	for _, k := range s.List() {
		pct := ""
		if k.PercentChange != nil {
			pct = formatFloat(*k.PercentChange)
		}
		t.Rows = append(t.Rows, []string{k.Name, formatFloat(k.Current), formatFloat(k.Previous), formatFloat(k.Delta), pct})
	}
	return t
}

// WriteCSV пишет блоки подряд: строка "# name", заголовок, данные, пустая строка-разделитель.
func WriteCSV(w io.Writer, tables ...Table) error {
	cw := csv.NewWriter(w)
	for i, t := range tables {
		if i > 0 {
			if err := cw.Write([]string{""}); err != nil {
				return fmt.Errorf("analytics: write csv: %w", err)
			}
		}
		if err := cw.Write([]string{"# " + t.Name}); err != nil {
			return fmt.Errorf("analytics: write csv: %w", err)
		}
		if err := cw.Write(t.Header); err != nil {
			return fmt.Errorf("analytics: write csv: %w", err)
		}
		if err := cw.WriteAll(t.Rows); err != nil {
			return fmt.Errorf("analytics: write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
