package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency время запросов в бэкенд метрик по виду запроса и исходу
	QueryDuration *prometheus.HistogramVec

	// Errors классификация отказов (domain.ErrorKind)
	QueryErrors *prometheus.CounterVec

	// Ответы, отброшенные из-за смены области
	Superseded prometheus.Counter

	// Кэш грантов: попадания/промахи по слоям (l1, l2)
	GrantCacheLookups *prometheus.CounterVec

	// Saturation состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState prometheus.Gauge

	ImpersonationSessions *prometheus.CounterVec

	// Audit заполненность буфера журнала имперсонаций (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		QueryDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_query_duration_seconds",
			Help:    "Histogram of metrics backend query latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"query", "outcome"}),

		QueryErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_query_errors_total",
			Help: "Total number of dashboard query errors by kind.",
		}, []string{"kind"}), // not_ready, access_denied, empty_result, transient, ...

		Superseded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dashboard_superseded_queries_total",
			Help: "Results discarded because a newer scope replaced the query.",
		}),

		GrantCacheLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "grant_cache_lookups_total",
			Help: "Access grant cache lookups by layer and result.",
		}, []string{"layer", "result"}),

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "backend_circuit_breaker_state",
			Help: "Current state of the metrics backend circuit breaker (0=closed, 1=half-open, 2=open).",
		}),

		ImpersonationSessions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "impersonation_sessions_total",
			Help: "View-as-user sessions started and stopped.",
		}, []string{"action"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "impersonation_audit_buffer_utilization",
			Help: "Current number of impersonation events waiting to be written.",
		}),
	}
}

// CacheLookup реализует access.Observer.
func (m *Metrics) CacheLookup(layer, result string) {
	m.GrantCacheLookups.WithLabelValues(layer, result).Inc()
}
