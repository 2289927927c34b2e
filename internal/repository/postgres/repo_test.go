package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/voiceai-analytics/internal/audit"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
)

// fakeDB отвечает заранее заданным jsonb по имени функции и запоминает аргументы.
type fakeDB struct {
	responses map[string]string
	errs      map[string]error
	lastSQL   string
	lastArgs  []any
	copied    [][]any
}

type fakeRow struct {
	raw string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = []byte(r.raw)
	return nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL, f.lastArgs = sql, args
	for fn, err := range f.errs {
		if strings.HasPrefix(sql, "SELECT "+fn+"(") {
			return fakeRow{err: err}
		}
	}
	for fn, raw := range f.responses {
		if strings.HasPrefix(sql, "SELECT "+fn+"(") {
			return fakeRow{raw: raw}
		}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func (f *fakeDB) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		f.copied = append(f.copied, vals)
		n++
	}
	return n, src.Err()
}

func (f *fakeDB) Ping(context.Context) error { return nil }

func day(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

var (
	alice = domain.Principal{UserID: "alice"}
	scope = domain.EffectiveScope{
		TenantIDs: []string{"A"},
		AgentType: domain.AgentTypeCampaign,
		DateRange: domain.NewDateRange(day("2024-03-10"), day("2024-03-20")),
	}
)

func TestRPCQuery(t *testing.T) {
	assert.Equal(t, "SELECT get_chart_data($1, $2, $3)", rpcQuery("get_chart_data", 3))
	assert.Equal(t, "SELECT f()", rpcQuery("f", 0))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrEmptyResult},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, domain.ErrAccessDenied},
		{"raise access denied", &pgconn.PgError{Code: "P0001", Message: "access denied"}, domain.ErrAccessDenied},
		{"bad parameter", &pgconn.PgError{Code: "22023", Message: "start after end"}, domain.ErrInvalidState},
		{"other pg error", &pgconn.PgError{Code: "57P01"}, domain.ErrTransient},
		{"network", errors.New("connection reset"), domain.ErrTransient},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("get_kpi_metrics", tt.err), tt.want)
		})
	}
}

func TestKPIMetricsPassesAlignedPeriod(t *testing.T) {
	db := &fakeDB{responses: map[string]string{
		"get_kpi_metrics": `{"current_period":{"total_calls":10,"answered_calls":7},"previous_period":{"total_calls":4}}`,
	}}
	repo := NewRepo(db, zap.NewNop())

	prev := domain.NewDateRange(day("2024-02-28"), day("2024-03-09"))
	got, err := repo.KPIMetrics(context.Background(), alice, scope, prev)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Current.TotalCalls)
	assert.Equal(t, int64(4), got.Previous.TotalCalls)

	require.Len(t, db.lastArgs, 8)
	assert.Equal(t, "alice", db.lastArgs[0])
	assert.Equal(t, []string{"A"}, db.lastArgs[1])
	assert.Nil(t, db.lastArgs[2].(*string), "empty deployment is sent as NULL")
	assert.Equal(t, "campaign", *db.lastArgs[3].(*string))
	assert.Equal(t, []any{"2024-03-10", "2024-03-20", "2024-02-28", "2024-03-09"}, db.lastArgs[4:])
}

func TestChartDataDecodesCalendarDates(t *testing.T) {
	db := &fakeDB{responses: map[string]string{
		"get_chart_data": `{
			"call_volume_by_day":[{"date":"2024-03-10","total":5,"answered":3,"converted":1}],
			"outcome_distribution":[{"label":"answered","count":3}],
			"attempts_by_day":[{"date":"2024-03-10T00:00:00Z","label":"Attempt 2","count":2}]
		}`,
	}}
	got, err := NewRepo(db, zap.NewNop()).ChartData(context.Background(), alice, scope)
	require.NoError(t, err)
	require.Len(t, got.CallVolumeByDay, 1)
	assert.Equal(t, day("2024-03-10"), got.CallVolumeByDay[0].Date)
	assert.Equal(t, int64(3), got.CallVolumeByDay[0].Answered)
	require.Len(t, got.AttemptsByDay, 1)
	assert.True(t, day("2024-03-10").Equal(got.AttemptsByDay[0].Date))
}

func TestLatencyMetricsEmpty(t *testing.T) {
	db := &fakeDB{responses: map[string]string{"get_latency_metrics": `[]`}}
	_, err := NewRepo(db, zap.NewNop()).LatencyMetrics(context.Background(), alice, scope)
	assert.ErrorIs(t, err, domain.ErrEmptyResult)
}

func TestBillingFailsClosed(t *testing.T) {
	db := &fakeDB{errs: map[string]error{"get_admin_billing_summary": &pgconn.PgError{Code: "42501"}}}
	_, err := NewRepo(db, zap.NewNop()).AdminBillingSummary(context.Background(), alice, scope.DateRange)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestBillingTotals(t *testing.T) {
	db := &fakeDB{responses: map[string]string{"get_admin_billing_summary": `[
		{"client_id":"A","calls":10,"minutes":20.5,"cost":3},
		{"client_id":"B","calls":5,"minutes":1.5,"cost":1}
	]`}}
	got, err := NewRepo(db, zap.NewNop()).AdminBillingSummary(context.Background(), alice, scope.DateRange)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.TotalCalls)
	assert.InDelta(t, 22, got.TotalMinutes, 1e-9)
	assert.InDelta(t, 4, got.TotalCost, 1e-9)
	assert.Equal(t, scope.DateRange, got.Period)
}

func TestAccessSource(t *testing.T) {
	db := &fakeDB{responses: map[string]string{
		"get_accessible_clients": `["A","B"]`,
		"get_accessible_agents":  `[{"id":"d1","client_id":"A","name":"Reception","agent_type_name":"inbound"}]`,
		"get_user_client_ids":    `null`,
	}}
	repo := NewRepo(db, zap.NewNop())

	ids, err := repo.AccessibleTenants(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)

	deps, err := repo.AccessibleDeployments(context.Background(), alice, nil, "")
	require.NoError(t, err)
	assert.Equal(t, []domain.Deployment{{ID: "d1", TenantID: "A", Name: "Reception", AgentType: domain.AgentTypeInbound}}, deps)

	ids, err = repo.UserTenantIDs(context.Background(), domain.Principal{UserID: "root", Admin: true}, "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWriteBatch(t *testing.T) {
	db := &fakeDB{}
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	err := NewRepo(db, zap.NewNop()).WriteBatch(context.Background(), []audit.ImpersonationEvent{
		{ID: "e1", TraceID: "t1", AdminID: "root", TargetUserID: "bob", Action: audit.ActionStart, Timestamp: ts},
	})
	require.NoError(t, err)
	require.Len(t, db.copied, 1)
	assert.Equal(t, []any{"e1", "t1", "root", "bob", "start", ts}, db.copied[0])

	assert.NoError(t, NewRepo(db, zap.NewNop()).WriteBatch(context.Background(), nil))
}
