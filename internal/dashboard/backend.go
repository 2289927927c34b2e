package dashboard

import (
	"context"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// Backend RPC-функции внешнего бэкенда метрик. Каждая получает уже резолвленную область;
// собственная row-level security бэкенда остается главной границей доступа.
type Backend interface {
	// KPIMetrics возвращает счетчики текущего периода scope.DateRange и выровненного previous.
	KPIMetrics(ctx context.Context, p domain.Principal, scope domain.EffectiveScope, previous domain.DateRange) (domain.KPIResult, error)
	ChartData(ctx context.Context, p domain.Principal, scope domain.EffectiveScope) (domain.ChartData, error)
	LatencyMetrics(ctx context.Context, p domain.Principal, scope domain.EffectiveScope) ([]domain.LatencyRow, error)
	// AdminBillingSummary закрыт для не-администраторов (ErrAccessDenied).
	AdminBillingSummary(ctx context.Context, p domain.Principal, period domain.DateRange) (domain.BillingSummary, error)
}
