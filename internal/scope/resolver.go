package scope

/*
Файл resolver.go реализует Scope Resolver.

Сводит три источника в одну неизменяемую EffectiveScope:
  1. Цель имперсонации (если загружена) полностью заменяет выбор клиентов.
  2. Иначе выбор клиентов из URL пересекается с грантом; пустое пересечение -> весь грант.
  3. Иначе весь грант.

Чистая функция: никаких походов в бэкенд, все входы передаются снимком.
*/

import (
	"fmt"
	"slices"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
)

// Inputs согласованный снимок трех входов одного цикла резолвинга.
type Inputs struct {
	Filter     domain.FilterState
	ViewAsUser string
	Grant      domain.AccessGrant
	// Target равен nil, если имперсонации нет.
	Target *domain.ImpersonationTarget
}

// Resolve строит область. Ошибки:
//   - ErrNotReady, пока клиенты цели имперсонации загружаются;
//   - *ImpersonationError, если загрузка цели провалилась (без отката к области администратора);
//   - ErrEmptyResult, если видимых клиентов нет вообще.
func Resolve(filter domain.FilterState, grant domain.AccessGrant, target *domain.ImpersonationTarget) (domain.EffectiveScope, error) {
	var tenants []string

	if target != nil {
		if target.Loading {
			return domain.EffectiveScope{}, fmt.Errorf("scope: impersonation of %s: %w", target.UserID, domain.ErrNotReady)
		}
		if target.Err != nil {
			return domain.EffectiveScope{}, target.Err
		}
		if len(target.TenantIDs) == 0 {
			return domain.EffectiveScope{}, fmt.Errorf("scope: user %s has no clients: %w", target.UserID, domain.ErrEmptyResult)
		}
		tenants = dedupe(target.TenantIDs)
	} else {
		if grant.Empty() {
			return domain.EffectiveScope{}, fmt.Errorf("scope: principal has no client grants: %w", domain.ErrEmptyResult)
		}
		tenants = Narrow(filter.TenantIDs, grant.TenantIDs)
	}

	s := domain.EffectiveScope{
		TenantIDs:    tenants,
		DeploymentID: filter.DeploymentID,
		AgentType:    filter.AgentType,
		DateRange:    filter.DateRange,
	}
	if target != nil {
		s.ViewAsUser = target.UserID
	}
	if s.DeploymentID != "" && !deploymentInScope(s.DeploymentID, tenants, grant) {
		s.DeploymentID = ""
	}
	return s, nil
}

// Narrow пересекает выбор пользователя с доступными клиентами, сохраняя порядок выбора.
// Пустой выбор или пустое пересечение дают все доступные клиенты.
func Narrow(selected, accessible []string) []string {
	var out []string
	for _, id := range selected {
		if slices.Contains(accessible, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return dedupe(accessible)
	}
	return out
}

// Деплой остается в области, только если его клиент в области.
// Без карты деплоев (бэкенд ее не отдал) проверить нечего: решает бэкенд.
func deploymentInScope(deploymentID string, tenants []string, grant domain.AccessGrant) bool {
	if grant.Deployments == nil {
		return true
	}
	tenantID, ok := grant.DeploymentTenant(deploymentID)
	return ok && slices.Contains(tenants, tenantID)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Resolver оборачивает Resolve логированием деградаций (откат к полному гранту, сброс деплоя).
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("scope")}
}

func (r *Resolver) Resolve(in Inputs) (domain.EffectiveScope, error) {
	s, err := Resolve(in.Filter, in.Grant, in.Target)
	if err != nil {
		r.logger.Debug("scope not resolved", zap.String("view_as_user", in.ViewAsUser), zap.Error(err))
		return s, err
	}

	if in.Target == nil && len(in.Filter.TenantIDs) > 0 && !domain.SameTenants(s.TenantIDs, in.Filter.TenantIDs) {
		r.logger.Debug("client selection narrowed by grant",
			zap.Strings("requested", in.Filter.TenantIDs),
			zap.Strings("effective", s.TenantIDs))
	}
	if in.Filter.DeploymentID != "" && s.DeploymentID == "" {
		r.logger.Debug("deployment outside scope dropped", zap.String("deployment_id", in.Filter.DeploymentID))
	}
	return s, nil
}
