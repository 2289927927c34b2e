package filter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
)

// DefaultRangeDays ширина периода по умолчанию (последние 30 дней, сегодня включительно).
const DefaultRangeDays = 30

// Location хранит фильтры в текущем URL вкладки, другого источника у них нет.
// Replace выполняет навигацию, URL целиком заменяется новым query.
type Location interface {
	Query() url.Values
	Replace(q url.Values)
}

// DeploymentIndex отвечает, какому клиенту принадлежит деплой из доступных принципалу.
type DeploymentIndex interface {
	DeploymentTenant(ctx context.Context, deploymentID string) (tenantID string, ok bool, err error)
}

// Patch частичное обновление. nil-поле означает "не менять".
// Пустой слайс в TenantIDs и пустая строка в DeploymentID/AgentType снимают фильтр.
type Patch struct {
	DateRange    *domain.DateRange `json:"date_range,omitempty"`
	TenantIDs    *[]string         `json:"client_ids,omitempty"`
	DeploymentID *string           `json:"deployment_id,omitempty"`
	AgentType    *domain.AgentType `json:"agent_type_name,omitempty"`
	// ViewAsUser меняется только резолвером имперсонации, из JSON не читается.
	ViewAsUser *string `json:"-"`
}

// Store реализует Filter State Store поверх Location.
type Store struct {
	mu          sync.Mutex
	loc         Location
	index       DeploymentIndex
	now         func() time.Time
	defaultDays int
	logger      *zap.Logger
}

type Option func(*Store)

// WithClock подменяет часы (для вычисления периода по умолчанию).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDefaultDays меняет ширину периода по умолчанию.
func WithDefaultDays(days int) Option {
	return func(s *Store) {
		if days > 0 {
			s.defaultDays = days
		}
	}
}

func NewStore(loc Location, index DeploymentIndex, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		loc:         loc,
		index:       index,
		now:         time.Now,
		defaultDays: DefaultRangeDays,
		logger:      logger.Named("filter-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultRange возвращает период по умолчанию. "Сегодня" берется в часовом поясе часов Store.
func (s *Store) DefaultRange() domain.DateRange {
	return domain.TrailingDays(s.now(), s.defaultDays)
}

// Read возвращает текущие фильтры, разобранные из URL.
func (s *Store) Read() domain.FilterState {
	return s.Snapshot().Filter
}

// Snapshot возвращает фильтры вместе с целью имперсонации.
// Битые параметры URL заменяются значениями по умолчанию (с предупреждением в лог).
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current()
}

// Strict разбирает URL и возвращает ErrInvalidState, если какой-то параметр был исправлен.
func (s *Store) Strict() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Decode(s.loc.Query(), s.DefaultRange())
}

func (s *Store) current() Snapshot {
	snap, err := Decode(s.loc.Query(), s.DefaultRange())
	if err != nil {
		s.logger.Warn("url filter state corrected", zap.Error(err))
	}
	return snap
}

// Update сливает patch с состоянием, заново прочитанным из URL (а не с кэшем в памяти),
// проверяет результат и выполняет навигацию.
func (s *Store) Update(ctx context.Context, p Patch) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current()
	next := prev
	next.Filter = prev.Filter.Clone()

	if p.DateRange != nil {
		next.Filter.DateRange = domain.NewDateRange(p.DateRange.Start, p.DateRange.End)
	}
	if p.TenantIDs != nil {
		next.Filter.TenantIDs = normalizeIDs(*p.TenantIDs)
	}
	if p.DeploymentID != nil {
		next.Filter.DeploymentID = strings.TrimSpace(*p.DeploymentID)
	}
	if p.AgentType != nil {
		next.Filter.AgentType = *p.AgentType
	}
	if p.ViewAsUser != nil {
		next.ViewAsUser = strings.TrimSpace(*p.ViewAsUser)
	}

	if err := next.Filter.Validate(); err != nil {
		return prev, fmt.Errorf("filter: update rejected: %w", err)
	}

	if next.Filter.DeploymentID != "" {
		explicit := p.DeploymentID != nil
		tenantsChanged := !domain.SameTenants(prev.Filter.TenantIDs, next.Filter.TenantIDs)
		if explicit || tenantsChanged {
			reachable, err := s.deploymentReachable(ctx, next.Filter)
			switch {
			case err != nil && explicit:
				return prev, fmt.Errorf("filter: verify deployment %s: %w", next.Filter.DeploymentID, err)
			case err != nil:
				// Проверить не удалось: фильтр деплоя не должен пережить смену клиентов.
				s.logger.Warn("deployment lookup failed, clearing deployment filter",
					zap.String("deployment_id", next.Filter.DeploymentID), zap.Error(err))
				next.Filter.DeploymentID = ""
			case !reachable && explicit:
				return prev, fmt.Errorf("filter: %w: deployment %s is outside the selected clients",
					domain.ErrInvalidState, next.Filter.DeploymentID)
			case !reachable:
				s.logger.Debug("clearing orphaned deployment filter",
					zap.String("deployment_id", next.Filter.DeploymentID),
					zap.Strings("client_ids", next.Filter.TenantIDs))
				next.Filter.DeploymentID = ""
			}
		}
	}

	s.loc.Replace(Merge(s.loc.Query(), next))
	return next, nil
}

// Reset возвращает фильтры к значениям по умолчанию. Цель имперсонации не трогается:
// выход из "view as user" делается отдельной операцией.
func (s *Store) Reset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Snapshot{
		Filter:     domain.FilterState{DateRange: s.DefaultRange()},
		ViewAsUser: s.current().ViewAsUser,
	}
	s.loc.Replace(Merge(s.loc.Query(), next))
	return next
}

func (s *Store) deploymentReachable(ctx context.Context, f domain.FilterState) (bool, error) {
	if s.index == nil {
		return true, nil
	}
	tenantID, ok, err := s.index.DeploymentTenant(ctx, f.DeploymentID)
	if err != nil {
		if errors.Is(err, domain.ErrAccessDenied) {
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}
	// Без ограничения по клиентам достаточно того, что деплой вообще доступен.
	return len(f.TenantIDs) == 0 || f.HasTenant(tenantID), nil
}

// normalizeIDs убирает пробелы, пустые значения и дубликаты, сохраняя порядок.
func normalizeIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// QueryLocation реализует Location в памяти поверх query одного HTTP-запроса.
// После Update итоговый URL отдается клиенту как новое состояние вкладки.
type QueryLocation struct {
	mu sync.RWMutex
	q  url.Values
}

func NewQueryLocation(q url.Values) *QueryLocation {
	return &QueryLocation{q: cloneValues(q)}
}

func (l *QueryLocation) Query() url.Values {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneValues(l.q)
}

func (l *QueryLocation) Replace(q url.Values) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.q = cloneValues(q)
}

// Encode канонический query string текущего состояния.
func (l *QueryLocation) Encode() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.q.Encode()
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}
