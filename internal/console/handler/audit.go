package handler

import (
	"github.com/xela07ax/voiceai-analytics/internal/audit"
	"github.com/xela07ax/voiceai-analytics/internal/dashboard"
)

// AuditTrail фоновый журнал имперсонаций (audit.Trail).
type AuditTrail interface {
	Log(event audit.ImpersonationEvent)
	Pending() int
}

// ImpersonationAuditor пишет события "view as user" в журнал и считает сессии в метриках.
type ImpersonationAuditor struct {
	trail   AuditTrail
	metrics *dashboard.Metrics
}

func NewImpersonationAuditor(trail AuditTrail, metrics *dashboard.Metrics) *ImpersonationAuditor {
	return &ImpersonationAuditor{trail: trail, metrics: metrics}
}

func (a *ImpersonationAuditor) Log(event audit.ImpersonationEvent) {
	a.trail.Log(event)
	a.metrics.ImpersonationSessions.WithLabelValues(string(event.Action)).Inc()
	a.metrics.AuditBufferFill.Set(float64(a.trail.Pending()))
}
