package postgres

import (
	"context"
	"errors"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// AccessibleTenants клиенты, видимые пользователю (view accessible_clients).
// Пустой список не считается ошибкой, провайдер покажет пустое состояние.
func (r *Repo) AccessibleTenants(ctx context.Context, p domain.Principal) ([]string, error) {
	var ids []string
	err := r.callJSON(ctx, "get_accessible_clients", &ids, p.UserID)
	if errors.Is(err, domain.ErrEmptyResult) {
		return nil, nil
	}
	return ids, err
}

func (r *Repo) AccessibleDeployments(ctx context.Context, p domain.Principal, tenantIDs []string, agentType domain.AgentType) ([]domain.Deployment, error) {
	var deps []domain.Deployment
	err := r.callJSON(ctx, "get_accessible_agents", &deps, p.UserID, tenantIDs, nullIfEmpty(string(agentType)))
	if err != nil {
		return nil, err
	}
	return deps, nil
}

// UserTenantIDs клиенты другого пользователя; функция закрыта для не-администраторов.
func (r *Repo) UserTenantIDs(ctx context.Context, admin domain.Principal, targetUserID string) ([]string, error) {
	var ids []string
	err := r.callJSON(ctx, "get_user_client_ids", &ids, admin.UserID, targetUserID)
	if errors.Is(err, domain.ErrEmptyResult) {
		return nil, nil
	}
	return ids, err
}
