package dashboard

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) KPIMetrics(ctx context.Context, p domain.Principal, s domain.EffectiveScope, previous domain.DateRange) (domain.KPIResult, error) {
	args := m.Called(ctx, p, s, previous)
	return args.Get(0).(domain.KPIResult), args.Error(1)
}

func (m *MockBackend) ChartData(ctx context.Context, p domain.Principal, s domain.EffectiveScope) (domain.ChartData, error) {
	args := m.Called(ctx, p, s)
	return args.Get(0).(domain.ChartData), args.Error(1)
}

func (m *MockBackend) LatencyMetrics(ctx context.Context, p domain.Principal, s domain.EffectiveScope) ([]domain.LatencyRow, error) {
	args := m.Called(ctx, p, s)
	rows, _ := args.Get(0).([]domain.LatencyRow)
	return rows, args.Error(1)
}

func (m *MockBackend) AdminBillingSummary(ctx context.Context, p domain.Principal, period domain.DateRange) (domain.BillingSummary, error) {
	args := m.Called(ctx, p, period)
	return args.Get(0).(domain.BillingSummary), args.Error(1)
}
