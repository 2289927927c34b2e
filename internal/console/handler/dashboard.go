package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/voiceai-analytics/internal/access"
	"github.com/xela07ax/voiceai-analytics/internal/analytics"
	"github.com/xela07ax/voiceai-analytics/internal/dashboard"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"github.com/xela07ax/voiceai-analytics/internal/filter"
	"github.com/xela07ax/voiceai-analytics/internal/impersonation"
	"github.com/xela07ax/voiceai-analytics/internal/infra/auth"
	"github.com/xela07ax/voiceai-analytics/internal/scope"
	"go.uber.org/zap"
)

// ViewHeader несет id вкладки дашборда. Ответы для устаревшей области внутри вкладки отбрасываются.
const ViewHeader = "X-Dashboard-View"

// Options параметры цикла резолвинга, приходящие из конфига.
type Options struct {
	DefaultRangeDays int
	Location         *time.Location
	// ReadyWait ограничивает, сколько запрос ждет загрузки клиентов цели имперсонации, прежде чем ответить 202.
	ReadyWait time.Duration
	// InvalidateGrants сбрасывает кэш грантов пользователя на всех инстансах. При nil маршрут отключен.
	InvalidateGrants func(ctx context.Context, userID string) error
}

type DashboardHandler struct {
	access  *access.Provider
	service *dashboard.Service
	views   *dashboard.Views
	scopes  *scope.Resolver
	auditor impersonation.Auditor
	opts    Options
	logger  *zap.Logger
}

func NewDashboardHandler(
	provider *access.Provider,
	service *dashboard.Service,
	views *dashboard.Views,
	auditor impersonation.Auditor,
	opts Options,
	logger *zap.Logger,
) *DashboardHandler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ReadyWait <= 0 {
		opts.ReadyWait = 5 * time.Second
	}
	return &DashboardHandler{
		access:  provider,
		service: service,
		views:   views,
		scopes:  scope.NewResolver(logger),
		auditor: auditor,
		opts:    opts,
		logger:  logger.Named("dashboard-api"),
	}
}

// Routes маршруты /api/v1/dashboard. Ожидает принципала в контексте (auth.NewMiddleware).
func (h *DashboardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/scope", h.Scope)
	r.Get("/overview", h.Overview)
	r.Get("/latency", h.Latency)
	r.Get("/attempts", h.Attempts)
	r.Get("/export.csv", h.Export)
	r.Get("/billing", h.Billing)
	r.Get("/tenants", h.Tenants)
	r.Get("/deployments", h.Deployments)

	r.Patch("/filters", h.UpdateFilters)
	r.Post("/filters/reset", h.ResetFilters)

	r.Post("/impersonation", h.StartImpersonation)
	r.Delete("/impersonation", h.StopImpersonation)

	r.Post("/grants/{userID}/invalidate", h.InvalidateGrants)
	return r
}

// session собирает Filter State Store над URL вкладки и резолвер имперсонации одного запроса.
type session struct {
	principal domain.Principal
	loc       *filter.QueryLocation
	store     *filter.Store
	imp       *impersonation.Resolver
}

func (s *session) close() { s.imp.Close() }

func (h *DashboardHandler) open(w http.ResponseWriter, r *http.Request) (*session, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	loc := filter.NewQueryLocation(r.URL.Query())
	store := filter.NewStore(loc, h.access.Index(p), h.logger,
		filter.WithDefaultDays(h.opts.DefaultRangeDays),
		filter.WithClock(func() time.Time { return time.Now().In(h.opts.Location) }),
	)
	imp := impersonation.NewResolver(p, h.access, store, h.auditor, h.logger)
	return &session{principal: p, loc: loc, store: store, imp: imp}, true
}

// resolve проходит один цикл URL -> цель имперсонации -> грант -> EffectiveScope.
func (h *DashboardHandler) resolve(ctx context.Context, s *session) (domain.EffectiveScope, error) {
	if err := s.imp.Sync(ctx); err != nil {
		return domain.EffectiveScope{}, err
	}
	snap := s.store.Snapshot()

	wctx, cancel := context.WithTimeout(ctx, h.opts.ReadyWait)
	target := s.imp.Wait(wctx)
	cancel()

	grant, err := h.access.Grant(ctx, s.principal)
	if err != nil {
		return domain.EffectiveScope{}, fmt.Errorf("handler: load grant: %w", err)
	}
	return h.scopes.Resolve(scope.Inputs{
		Filter:     snap.Filter,
		ViewAsUser: snap.ViewAsUser,
		Grant:      grant,
		Target:     target,
	})
}

// scoped разрешает область и выполняет fn в цикле вкладки (панель name).
// Результат false означает, что ответ с ошибкой уже записан.
func scoped[T any](h *DashboardHandler, w http.ResponseWriter, r *http.Request, name string,
	fn func(ctx context.Context, p domain.Principal, sc domain.EffectiveScope) (T, error),
) (T, bool) {
	var zero T
	s, ok := h.open(w, r)
	if !ok {
		return zero, false
	}
	defer s.close()

	sc, err := h.resolve(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return zero, false
	}

	// Панели одной вкладки обновляются независимо: цикл ведется на каждую панель.
	var view *dashboard.View
	if id := strings.TrimSpace(r.Header.Get(ViewHeader)); id != "" {
		view = h.views.Get(s.principal.UserID, id+"/"+name)
	}
	res, err := dashboard.Run(r.Context(), view, sc.Key(), func(ctx context.Context) (T, error) {
		return fn(ctx, s.principal, sc)
	})
	if err != nil {
		h.writeError(w, r, err)
		return zero, false
	}
	return res, true
}

func (h *DashboardHandler) Scope(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	defer s.close()

	sc, err := h.resolve(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":         sc,
		"filter":        s.store.Read(),
		"impersonation": s.imp.Current(),
		"query":         s.loc.Encode(),
	})
}

func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	bucket, ok := analytics.BucketByName(r.URL.Query().Get("bucket"))
	if !ok {
		h.writeError(w, r, fmt.Errorf("handler: %w: unknown bucket %q", domain.ErrInvalidState, r.URL.Query().Get("bucket")))
		return
	}
	res, ok := scoped(h, w, r, "overview", func(ctx context.Context, p domain.Principal, sc domain.EffectiveScope) (*dashboard.Overview, error) {
		return h.service.Overview(ctx, p, sc, bucket)
	})
	if ok {
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *DashboardHandler) Latency(w http.ResponseWriter, r *http.Request) {
	by, err := analytics.ParseLatencyGroupBy(r.URL.Query().Get("groupBy"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, ok := scoped(h, w, r, "latency", func(ctx context.Context, p domain.Principal, sc domain.EffectiveScope) (*dashboard.LatencyReport, error) {
		return h.service.Latency(ctx, p, sc, by)
	})
	if ok {
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *DashboardHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	res, ok := scoped(h, w, r, "attempts", func(ctx context.Context, p domain.Principal, sc domain.EffectiveScope) (*analytics.Pivot, error) {
		return h.service.Attempts(ctx, p, sc)
	})
	if ok {
		writeJSON(w, http.StatusOK, res)
	}
}

// Export собирает CSV целиком в памяти: отброшенный цикл не должен оставить полуответ.
func (h *DashboardHandler) Export(w http.ResponseWriter, r *http.Request) {
	buf, ok := scoped(h, w, r, "export", func(ctx context.Context, p domain.Principal, sc domain.EffectiveScope) (*bytes.Buffer, error) {
		var b bytes.Buffer
		if err := h.service.Export(ctx, p, sc, &b); err != nil {
			return nil, err
		}
		return &b, nil
	})
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="dashboard.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Billing сводка только для администраторов; для остальных 204, как будто фичи нет.
func (h *DashboardHandler) Billing(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	defer s.close()

	period := s.store.Read().DateRange
	b, visible, err := h.service.Billing(r.Context(), s.principal, period)
	switch {
	case err != nil:
		h.writeError(w, r, err)
	case !visible:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, b)
	}
}

// Tenants отдает клиентов для выбора в фильтре. Под имперсонацией это клиенты цели.
func (h *DashboardHandler) Tenants(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	defer s.close()

	sc, err := h.resolve(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sc.ViewAsUser != "" {
		writeJSON(w, http.StatusOK, map[string]any{"client_ids": sc.TenantIDs, "view_as_user": sc.ViewAsUser})
		return
	}
	grant, err := h.access.Grant(r.Context(), s.principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client_ids": grant.TenantIDs})
}

// Deployments деплои внутри разрешенной области (clientIds и agentTypeName из URL).
func (h *DashboardHandler) Deployments(w http.ResponseWriter, r *http.Request) {
	res, ok := scoped(h, w, r, "deployments", func(ctx context.Context, p domain.Principal, sc domain.EffectiveScope) ([]domain.Deployment, error) {
		deps, err := h.access.Deployments(ctx, p, sc.TenantIDs, sc.AgentType)
		if err != nil {
			return nil, err
		}
		if len(deps) == 0 {
			return nil, fmt.Errorf("handler: deployments: %w", domain.ErrEmptyResult)
		}
		return deps, nil
	})
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{"deployments": res})
	}
}

// filterRequest тело PATCH /filters. Отсутствующее поле не меняется, пустое снимает фильтр.
type filterRequest struct {
	StartDate    *string   `json:"start_date"`
	EndDate      *string   `json:"end_date"`
	ClientIDs    *[]string `json:"client_ids"`
	DeploymentID *string   `json:"deployment_id"`
	AgentType    *string   `json:"agent_type_name"`
}

func (req filterRequest) patch(cur domain.FilterState) (filter.Patch, error) {
	p := filter.Patch{
		TenantIDs:    req.ClientIDs,
		DeploymentID: req.DeploymentID,
	}
	if req.AgentType != nil {
		t := domain.AgentType(strings.TrimSpace(*req.AgentType))
		p.AgentType = &t
	}
	if req.StartDate != nil || req.EndDate != nil {
		start := cur.DateRange.Start.Format(domain.DateLayout)
		end := cur.DateRange.End.Format(domain.DateLayout)
		if req.StartDate != nil {
			start = *req.StartDate
		}
		if req.EndDate != nil {
			end = *req.EndDate
		}
		dr, err := domain.ParseDateRange(start, end)
		if err != nil {
			return filter.Patch{}, err
		}
		p.DateRange = &dr
	}
	return p, nil
}

// UpdateFilters выполняет навигацию и отвечает каноническим query string нового состояния вкладки.
func (h *DashboardHandler) UpdateFilters(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	defer s.close()

	patch, err := req.patch(s.store.Read())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := s.store.Update(r.Context(), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": s.loc.Encode(), "filter": snap.Filter})
}

func (h *DashboardHandler) ResetFilters(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	defer s.close()

	snap := s.store.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"query": s.loc.Encode(), "filter": snap.Filter})
}

type impersonationRequest struct {
	UserID string `json:"user_id"`
}

// StartImpersonation включает "view as user". Не-администратору фича недоступна, ответ 204.
func (h *DashboardHandler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	var req impersonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	defer s.close()

	if !s.principal.Admin {
		h.writeError(w, r, fmt.Errorf("handler: impersonation: %w", domain.ErrAccessDenied))
		return
	}
	if err := s.imp.Start(r.Context(), req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	// Дожидаемся загрузки, чтобы следующий запрос вкладки взял клиентов цели из кэша.
	wctx, cancel := context.WithTimeout(r.Context(), h.opts.ReadyWait)
	target := s.imp.Wait(wctx)
	cancel()

	writeJSON(w, http.StatusOK, map[string]any{"query": s.loc.Encode(), "impersonation": target})
}

func (h *DashboardHandler) StopImpersonation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	defer s.close()

	if err := s.imp.Stop(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": s.loc.Encode()})
}

// InvalidateGrants вызывается после смены доступов пользователя. Следующий резолвинг перечитает грант.
func (h *DashboardHandler) InvalidateGrants(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !p.Admin || h.opts.InvalidateGrants == nil {
		h.writeError(w, r, fmt.Errorf("handler: invalidate grants: %w", domain.ErrAccessDenied))
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}
	if err := h.opts.InvalidateGrants(r.Context(), userID); err != nil {
		h.writeError(w, r, fmt.Errorf("handler: invalidate grants of %s: %w", userID, err))
		return
	}
	h.logger.Info("grants invalidated", zap.String("admin_id", p.UserID), zap.String("user_id", userID))
	w.WriteHeader(http.StatusAccepted)
}

type errorResponse struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	Retryable    bool   `json:"retryable,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
}

// writeError переводит класс ошибки в ответ. Сырые ошибки бэкенда наружу не уходят.
func (h *DashboardHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Classify(err)
	log := h.logger.With(zap.String("path", r.URL.Path), zap.String("kind", string(kind)), zap.Error(err))

	switch kind {
	case domain.KindNotReady:
		log.Debug("scope not ready")
		w.WriteHeader(http.StatusAccepted)
	case domain.KindAccessDenied:
		log.Debug("feature absent for principal")
		w.WriteHeader(http.StatusNoContent)
	case domain.KindEmptyResult:
		writeJSON(w, http.StatusOK, map[string]any{"empty": true, "message": domain.ErrEmptyResult.Error()})
	case domain.KindInvalidState:
		log.Info("invalid filter state")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: string(kind)})
	case domain.KindSuperseded:
		if errors.Is(err, domain.ErrSuperseded) {
			h.service.Superseded()
		}
		log.Debug("result discarded")
		writeJSON(w, http.StatusConflict, errorResponse{Error: domain.ErrSuperseded.Error(), Kind: string(kind)})
	case domain.KindImpersonation:
		var impErr *domain.ImpersonationError
		errors.As(err, &impErr)
		log.Warn("impersonation failed")
		writeJSON(w, http.StatusFailedDependency, errorResponse{
			Error:        "could not load clients of the impersonated user",
			Kind:         string(kind),
			Retryable:    domain.Retryable(impErr.Err),
			TargetUserID: impErr.TargetUserID,
		})
	default:
		log.Error("dashboard query failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:     domain.ErrTransient.Error(),
			Kind:      string(domain.KindTransient),
			Retryable: true,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
