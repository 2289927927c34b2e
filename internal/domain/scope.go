package domain

import (
	"slices"
	"strings"
)

// Principal аутентифицированный пользователь консоли.
type Principal struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// Deployment описывает один сконфигурированный агент, он принадлежит ровно одному клиенту.
type Deployment struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"client_id"`
	Name      string    `json:"name"`
	AgentType AgentType `json:"agent_type_name"`
}

// AccessGrant описывает, что принципалу разрешено запрашивать (выдается внешним бэкендом, read-only).
type AccessGrant struct {
	TenantIDs []string `json:"client_ids"`
	// DeploymentID -> TenantID. nil значит, что карты нет; пустая карта значит, что деплоев нет.
	Deployments map[string]string `json:"deployments"`
}

func (g AccessGrant) Empty() bool {
	return len(g.TenantIDs) == 0
}

func (g AccessGrant) HasTenant(id string) bool {
	return slices.Contains(g.TenantIDs, id)
}

// DeploymentTenant возвращает клиента, которому принадлежит деплой.
func (g AccessGrant) DeploymentTenant(deploymentID string) (string, bool) {
	t, ok := g.Deployments[deploymentID]
	return t, ok
}

// EffectiveScope единственное производное значение, которым сужается каждый запрос в бэкенд.
// Не мутируется после построения: все слайсы копируются резолвером.
type EffectiveScope struct {
	TenantIDs    []string  `json:"client_ids"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	AgentType    AgentType `json:"agent_type_name,omitempty"`
	DateRange    DateRange `json:"date_range"`
	// ViewAsUser заполнен, если область построена из имперсонации.
	ViewAsUser string `json:"view_as_user,omitempty"`
}

// Key идентичность области для отбрасывания устаревших ответов.
func (s EffectiveScope) Key() string {
	tenants := slices.Clone(s.TenantIDs)
	slices.Sort(tenants)
	return strings.Join([]string{
		strings.Join(tenants, ","),
		s.DeploymentID,
		string(s.AgentType),
		s.DateRange.String(),
		s.ViewAsUser,
	}, "|")
}

// WithDateRange возвращает копию области с другим периодом (для предыдущего периода).
func (s EffectiveScope) WithDateRange(r DateRange) EffectiveScope {
	c := s
	c.TenantIDs = slices.Clone(s.TenantIDs)
	c.DateRange = r
	return c
}

// ImpersonationTarget текущее состояние "view as user".
type ImpersonationTarget struct {
	UserID    string   `json:"user_id"`
	TenantIDs []string `json:"client_ids,omitempty"`
	Loading   bool     `json:"is_loading"`
	Err       error    `json:"-"`
}
