package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/voiceai-analytics/internal/access"
	"github.com/xela07ax/voiceai-analytics/internal/audit"
	"github.com/xela07ax/voiceai-analytics/internal/dashboard"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"github.com/xela07ax/voiceai-analytics/internal/infra/auth"
	"go.uber.org/zap"
)

// fakeSource видимость пользователей для access.Provider.
type fakeSource struct {
	tenants   map[string][]string
	deps      []domain.Deployment
	targetErr error
}

func (f *fakeSource) AccessibleTenants(_ context.Context, p domain.Principal) ([]string, error) {
	return f.tenants[p.UserID], nil
}

func (f *fakeSource) AccessibleDeployments(_ context.Context, _ domain.Principal, tenantIDs []string, _ domain.AgentType) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for _, d := range f.deps {
		if len(tenantIDs) == 0 || containsID(tenantIDs, d.TenantID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSource) UserTenantIDs(_ context.Context, _ domain.Principal, target string) ([]string, error) {
	if f.targetErr != nil {
		return nil, f.targetErr
	}
	return f.tenants[target], nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// fakeBackend запоминает последнюю область, пришедшую в бэкенд.
type fakeBackend struct {
	mu        sync.Mutex
	scopes    []domain.EffectiveScope
	err       error
	billingN  int
	latency   []domain.LatencyRow
	chartData domain.ChartData
}

func (b *fakeBackend) seen(s domain.EffectiveScope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scopes = append(b.scopes, s)
}

func (b *fakeBackend) lastScope() domain.EffectiveScope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scopes[len(b.scopes)-1]
}

func (b *fakeBackend) KPIMetrics(_ context.Context, _ domain.Principal, s domain.EffectiveScope, _ domain.DateRange) (domain.KPIResult, error) {
	b.seen(s)
	if b.err != nil {
		return domain.KPIResult{}, b.err
	}
	return domain.KPIResult{Current: domain.KPIPeriod{TotalCalls: 10, AnsweredCalls: 5}}, nil
}

func (b *fakeBackend) ChartData(_ context.Context, _ domain.Principal, s domain.EffectiveScope) (domain.ChartData, error) {
	b.seen(s)
	if b.err != nil {
		return domain.ChartData{}, b.err
	}
	return b.chartData, nil
}

func (b *fakeBackend) LatencyMetrics(_ context.Context, _ domain.Principal, s domain.EffectiveScope) ([]domain.LatencyRow, error) {
	b.seen(s)
	if b.err != nil {
		return nil, b.err
	}
	return b.latency, nil
}

func (b *fakeBackend) AdminBillingSummary(_ context.Context, _ domain.Principal, period domain.DateRange) (domain.BillingSummary, error) {
	b.mu.Lock()
	b.billingN++
	b.mu.Unlock()
	return domain.BillingSummary{Period: period, TotalCalls: 3}, nil
}

type memTrail struct {
	mu     sync.Mutex
	events []audit.ImpersonationEvent
}

func (m *memTrail) Log(e audit.ImpersonationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memTrail) Pending() int { return 0 }

type harness struct {
	handler *DashboardHandler
	backend *fakeBackend
	source  *fakeSource
	trail   *memTrail
}

var (
	root  = domain.Principal{UserID: "root", Admin: true}
	alice = domain.Principal{UserID: "alice"}
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	src := &fakeSource{
		tenants: map[string][]string{
			"root":  {"A", "B", "C"},
			"alice": {"A", "B"},
			"U":     {"C"},
		},
		deps: []domain.Deployment{
			{ID: "d1", TenantID: "A", Name: "Reception"},
			{ID: "d3", TenantID: "C", Name: "Outbound"},
		},
	}
	provider, err := access.NewProvider(src, 100, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(provider.Close)

	views, err := dashboard.NewViews(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(views.Close)

	backend := &fakeBackend{}
	metrics := dashboard.NewMetrics(nil)
	trail := &memTrail{}
	h := NewDashboardHandler(provider, dashboard.NewService(backend, metrics, time.Second, zap.NewNop()), views,
		NewImpersonationAuditor(trail, metrics),
		Options{DefaultRangeDays: 30, ReadyWait: time.Second},
		zap.NewNop())
	return &harness{handler: h, backend: backend, source: src, trail: trail}
}

func (h *harness) do(p *domain.Principal, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	h.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestOverviewNarrowsClientSelection(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&alice, http.MethodGet, "/overview?clientIds=B,Z&startDate=2024-03-10&endDate=2024-03-20", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s := h.backend.lastScope()
	assert.Equal(t, []string{"B"}, s.TenantIDs)
	assert.Equal(t, "2024-03-10", s.DateRange.Start.Format(domain.DateLayout))
}

func TestOverviewWithoutSelectionUsesWholeGrant(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&alice, http.MethodGet, "/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B"}, h.backend.lastScope().TenantIDs)
	assert.Equal(t, 30, h.backend.lastScope().DateRange.Days())
}

func TestUnauthenticatedRequest(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusUnauthorized, h.do(nil, http.MethodGet, "/scope", "").Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target string
		status int
	}{
		{"transient", domain.ErrTransient, "/overview", http.StatusServiceUnavailable},
		{"empty", domain.ErrEmptyResult, "/overview", http.StatusOK},
		{"access denied", domain.ErrAccessDenied, "/latency", http.StatusNoContent},
		{"bad grouping", nil, "/latency?groupBy=hour", http.StatusBadRequest},
		{"bad bucket", nil, "/overview?bucket=year", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.err = tt.err
			rec := h.do(&alice, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestEmptyResultBody(t *testing.T) {
	h := newHarness(t)
	h.backend.err = domain.ErrEmptyResult

	rec := h.do(&alice, http.MethodGet, "/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["empty"])
}

func TestTransientIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.backend.err = errors.New("connection reset")

	rec := h.do(&alice, http.MethodGet, "/attempts", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["retryable"])
	assert.NotContains(t, rec.Body.String(), "connection reset", "raw backend errors stay in logs")
}

func TestBillingHiddenForNonAdmin(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&alice, http.MethodGet, "/billing", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, h.backend.billingN)

	rec = h.do(&root, http.MethodGet, "/billing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.backend.billingN)
}

func TestUpdateFiltersReturnsCanonicalQuery(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&alice, http.MethodPatch, "/filters?startDate=2024-03-01&endDate=2024-03-31&groupBy=day",
		`{"client_ids":["A"],"deployment_id":"d1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	q, err := url.ParseQuery(decode(t, rec)["query"].(string))
	require.NoError(t, err)
	assert.Equal(t, "A", q.Get("clientIds"))
	assert.Equal(t, "d1", q.Get("deploymentId"))
	assert.Equal(t, "2024-03-01", q.Get("startDate"))
	assert.Equal(t, "day", q.Get("groupBy"), "unrelated parameters survive navigation")
}

func TestUpdateFiltersRejectsInvalidState(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&alice, http.MethodPatch, "/filters", `{"start_date":"2024-03-20","end_date":"2024-03-10"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(&alice, http.MethodPatch, "/filters?clientIds=A", `{"deployment_id":"d3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "deployment of another client")
}

func TestResetFiltersKeepsImpersonation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&root, http.MethodPost, "/filters/reset?clientIds=A&viewAsUser=U", "")
	require.Equal(t, http.StatusOK, rec.Code)
	q, err := url.ParseQuery(decode(t, rec)["query"].(string))
	require.NoError(t, err)
	assert.Empty(t, q.Get("clientIds"))
	assert.Equal(t, "U", q.Get("viewAsUser"))
}

func TestImpersonationFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&root, http.MethodPost, "/impersonation?clientIds=B", `{"user_id":"U"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	query := decode(t, rec)["query"].(string)
	q, err := url.ParseQuery(query)
	require.NoError(t, err)
	assert.Equal(t, "U", q.Get("viewAsUser"))
	assert.Empty(t, q.Get("clientIds"), "admin's own selection is cleared")

	rec = h.do(&root, http.MethodGet, "/overview?"+query, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"C"}, h.backend.lastScope().TenantIDs)
	assert.Equal(t, "U", h.backend.lastScope().ViewAsUser)

	rec = h.do(&root, http.MethodDelete, "/impersonation?"+query, "")
	require.Equal(t, http.StatusOK, rec.Code)
	query = decode(t, rec)["query"].(string)
	assert.NotContains(t, query, "viewAsUser")

	rec = h.do(&root, http.MethodGet, "/overview?"+query, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B", "C"}, h.backend.lastScope().TenantIDs)

	require.Len(t, h.trail.events, 2, "start and stop are audited once each")
	assert.Equal(t, audit.ActionStart, h.trail.events[0].Action)
	assert.Equal(t, audit.ActionStop, h.trail.events[1].Action)
	assert.Equal(t, "U", h.trail.events[1].TargetUserID)
}

func TestNonAdminViewAsUserIsIgnored(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&alice, http.MethodGet, "/overview?viewAsUser=U", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B"}, h.backend.lastScope().TenantIDs)
	assert.Empty(t, h.backend.lastScope().ViewAsUser)

	assert.Equal(t, http.StatusNoContent, h.do(&alice, http.MethodPost, "/impersonation", `{"user_id":"U"}`).Code)
}

func TestImpersonationFailureIsExplicit(t *testing.T) {
	h := newHarness(t)
	h.source.targetErr = domain.ErrTransient

	rec := h.do(&root, http.MethodGet, "/overview?viewAsUser=U", "")
	require.Equal(t, http.StatusFailedDependency, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "U", body["target_user_id"])
	assert.Equal(t, true, body["retryable"])
	assert.Empty(t, h.backend.scopes, "no fallback to the admin's own scope")
}

func TestTenantsUnderImpersonation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&root, http.MethodGet, "/tenants?viewAsUser=U", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"C"}, decode(t, rec)["client_ids"])

	rec = h.do(&alice, http.MethodGet, "/tenants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"A", "B"}, decode(t, rec)["client_ids"])
}

func TestDeploymentsFollowScope(t *testing.T) {
	h := newHarness(t)

	rec := h.do(&root, http.MethodGet, "/deployments?clientIds=C", "")
	require.Equal(t, http.StatusOK, rec.Code)
	deps := decode(t, rec)["deployments"].([]any)
	require.Len(t, deps, 1)
	assert.Equal(t, "d3", deps[0].(map[string]any)["id"])
}

func TestExportWritesCSV(t *testing.T) {
	h := newHarness(t)
	h.backend.chartData = domain.ChartData{
		CallVolumeByDay: []domain.DailyVolume{{Date: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Total: 4}},
	}

	rec := h.do(&alice, http.MethodGet, "/export.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "2024-03-10")
}

func TestInvalidateGrants(t *testing.T) {
	h := newHarness(t)
	var got string
	h.handler.opts.InvalidateGrants = func(_ context.Context, userID string) error {
		got = userID
		return nil
	}

	assert.Equal(t, http.StatusNoContent, h.do(&alice, http.MethodPost, "/grants/bob/invalidate", "").Code)
	assert.Empty(t, got)

	assert.Equal(t, http.StatusAccepted, h.do(&root, http.MethodPost, "/grants/bob/invalidate", "").Code)
	assert.Equal(t, "bob", got)
}
