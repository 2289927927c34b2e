package domain

import "time"

// KPIPeriod сырые счетчики одного периода, как их отдает get_kpi_metrics.
// Доли (answer rate и т.п.) считаются на нашей стороне из счетчиков, чтобы их можно было перегруппировать.
type KPIPeriod struct {
	TotalCalls        int64   `json:"total_calls"`
	AnsweredCalls     int64   `json:"answered_calls"`
	ConvertedCalls    int64   `json:"converted_calls"`
	TotalCost         float64 `json:"total_cost"`
	TotalDurationSecs float64 `json:"total_duration_seconds"`
}

// KPIResult пара выровненных периодов.
type KPIResult struct {
	Current  KPIPeriod `json:"current_period"`
	Previous KPIPeriod `json:"previous_period"`
}

// DailyVolume объем звонков за день.
type DailyVolume struct {
	Date      time.Time `json:"date"`
	Total     int64     `json:"total"`
	Answered  int64     `json:"answered"`
	Converted int64     `json:"converted"`
}

// CategoryCount одна категория в распределении (исходы, эмоции).
type CategoryCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// CategoryPoint строка "день x категория", например звонки по номеру попытки.
// Набор категорий не фиксирован и зависит от конфигурации кампании.
type CategoryPoint struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
	Count int64     `json:"count"`
}

// ChartData ответ get_chart_data.
type ChartData struct {
	CallVolumeByDay     []DailyVolume   `json:"call_volume_by_day"`
	OutcomeDistribution []CategoryCount `json:"outcome_distribution"`
	EmotionDistribution []CategoryCount `json:"emotion_distribution,omitempty"`
	AttemptsByDay       []CategoryPoint `json:"attempts_by_day,omitempty"`
}

// Empty сообщает, что в ответе нет ни одной строки.
func (c ChartData) Empty() bool {
	return len(c.CallVolumeByDay) == 0 && len(c.OutcomeDistribution) == 0 &&
		len(c.EmotionDistribution) == 0 && len(c.AttemptsByDay) == 0
}

// LatencyRow строка get_latency_metrics. Средние в ней уже посчитаны бэкендом по CallCount звонков.
type LatencyRow struct {
	Date              time.Time `json:"date"`
	DeploymentID      string    `json:"deployment_id"`
	DeploymentName    string    `json:"deployment_name"`
	CallCount         int64     `json:"call_count"`
	AvgLLMLatencyMs   float64   `json:"avg_llm_latency_ms"`
	AvgTTSLatencyMs   float64   `json:"avg_tts_latency_ms"`
	AvgTotalLatencyMs float64   `json:"avg_total_latency_ms"`
	MinTotalLatencyMs float64   `json:"min_total_latency_ms"`
	MaxTotalLatencyMs float64   `json:"max_total_latency_ms"`
	MinLLMLatencyMs   float64   `json:"min_llm_latency_ms"`
	MaxLLMLatencyMs   float64   `json:"max_llm_latency_ms"`
	MinTTSLatencyMs   float64   `json:"min_tts_latency_ms"`
	MaxTTSLatencyMs   float64   `json:"max_tts_latency_ms"`
}

// TenantBilling потребление одного клиента за период.
type TenantBilling struct {
	TenantID   string  `json:"client_id"`
	TenantName string  `json:"client_name"`
	Calls      int64   `json:"calls"`
	Minutes    float64 `json:"minutes"`
	Cost       float64 `json:"cost"`
}

// BillingSummary ответ get_admin_billing_summary (только для администраторов).
type BillingSummary struct {
	Period       DateRange       `json:"period"`
	Tenants      []TenantBilling `json:"clients"`
	TotalCalls   int64           `json:"total_calls"`
	TotalMinutes float64         `json:"total_minutes"`
	TotalCost    float64         `json:"total_cost"`
}
