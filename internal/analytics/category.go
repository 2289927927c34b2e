package analytics

import (
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// DiscoverCategories возвращает все различные метки, встретившиеся в строках текущего запроса,
// в порядке числового суффикса ("Attempt 2" < "Attempt 10").
func DiscoverCategories(points []domain.CategoryPoint) []string {
	var labels []string
	seen := make(map[string]struct{})
	for _, p := range points {
		if _, ok := seen[p.Label]; ok {
			continue
		}
		seen[p.Label] = struct{}{}
		labels = append(labels, p.Label)
	}
	SortLabels(labels)
	return labels
}

// SortLabels ставит метки с числовым суффиксом по возрастанию числа, остальные идут следом лексикографически.
func SortLabels(labels []string) {
	slices.SortFunc(labels, compareLabels)
}

func compareLabels(a, b string) int {
	na, okA := numericSuffix(a)
	nb, okB := numericSuffix(b)
	switch {
	case okA && okB:
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(a, b)
}

func numericSuffix(label string) (int64, bool) {
	label = strings.TrimSpace(label)
	i := len(label)
	for i > 0 && unicode.IsDigit(rune(label[i-1])) {
		i--
	}
	if i == len(label) {
		return 0, false
	}
	n, err := strconv.ParseInt(label[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// PivotRow один день, значения по категориям. Отсутствующая категория читается как 0.
type PivotRow struct {
	Date   time.Time        `json:"date"`
	Values map[string]int64 `json:"values"`
	Total  int64            `json:"total"`
}

func (r PivotRow) Value(label string) int64 {
	return r.Values[label]
}

// Pivot ряд с динамическим набором категорий.
type Pivot struct {
	Categories []string   `json:"categories"`
	Rows       []PivotRow `json:"rows"`
}

func (Pivot) MetricKind() MetricKind { return KindSeries }

// PivotCategories сворачивает строки "день x категория" в одну запись на день.
// Повторы одной пары суммируются, дни идут по возрастанию.
func PivotCategories(points []domain.CategoryPoint) Pivot {
	p := Pivot{Categories: DiscoverCategories(points)}
	byDay := make(map[time.Time]int)
	for _, pt := range points {
		d := domain.CalendarDate(pt.Date)
		i, ok := byDay[d]
		if !ok {
			i = len(p.Rows)
			byDay[d] = i
			p.Rows = append(p.Rows, PivotRow{Date: d, Values: make(map[string]int64)})
		}
		p.Rows[i].Values[pt.Label] += pt.Count
		p.Rows[i].Total += pt.Count
	}
	slices.SortFunc(p.Rows, func(a, b PivotRow) int { return a.Date.Compare(b.Date) })
	return p
}

// Series разворачивает одну категорию в ряд (дни без нее дают 0).
func (p Pivot) Series(label string) TimeSeries {
	s := TimeSeries{Name: label, Aggregation: AggSum, Points: make([]Point, 0, len(p.Rows))}
	for _, r := range p.Rows {
		v := r.Value(label)
		s.Points = append(s.Points, Point{Bucket: r.Date, Value: float64(v), Count: v})
	}
	return s
}
