package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DateLayout формат календарной даты в URL и в параметрах RPC.
const DateLayout = "2006-01-02"

// AgentType продуктовая линейка голосового агента (закрытый список).
type AgentType string

const (
	AgentTypeInbound  AgentType = "inbound"  // Входящие звонки (ресепшн)
	AgentTypeOutbound AgentType = "outbound" // Исходящие звонки
	AgentTypeCampaign AgentType = "campaign" // Обзвон по кампании с повторными попытками
)

// AgentTypes перечисляет все допустимые значения AgentType.
var AgentTypes = []AgentType{AgentTypeInbound, AgentTypeOutbound, AgentTypeCampaign}

// Valid проверяет принадлежность к закрытому списку. Пустое значение означает "без фильтра".
func (t AgentType) Valid() bool {
	return t == "" || slices.Contains(AgentTypes, t)
}

// DateRange включительный диапазон календарных дат (UTC-полночь на обоих концах).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange нормализует границы до календарных дат.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: CalendarDate(start), End: CalendarDate(end)}
}

// ParseDateRange разбирает пару ISO-дат.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start date %q", ErrInvalidState, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end date %q", ErrInvalidState, end)
	}
	r := NewDateRange(s, e)
	return r, r.Validate()
}

// TrailingDays возвращает диапазон из n дней, заканчивающийся датой today включительно.
func TrailingDays(today time.Time, n int) DateRange {
	end := CalendarDate(today)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// CalendarDate берет календарную дату t в ее собственной зоне и возвращает полночь этой даты в UTC.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: date range is not set", ErrInvalidState)
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidState,
			r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// Days длина диапазона в днях, обе границы включены.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) Contains(t time.Time) bool {
	d := CalendarDate(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// FilterState пользовательский выбор фильтров одной вкладки дашборда.
// Пустой TenantIDs означает "пользователь не ограничивал клиентов", а не "ничего не видно".
type FilterState struct {
	DateRange    DateRange `json:"date_range"`
	TenantIDs    []string  `json:"client_ids,omitempty"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	AgentType    AgentType `json:"agent_type_name,omitempty"`
}

// Validate отсекает состояния, которые нельзя отправлять в бэкенд (InvalidState).
func (s FilterState) Validate() error {
	if err := s.DateRange.Validate(); err != nil {
		return err
	}
	for _, id := range s.TenantIDs {
		if err := validateID(id); err != nil {
			return err
		}
	}
	if s.DeploymentID != "" {
		if err := validateID(s.DeploymentID); err != nil {
			return err
		}
	}
	if !s.AgentType.Valid() {
		return fmt.Errorf("%w: unknown agent type %q", ErrInvalidState, s.AgentType)
	}
	return nil
}

// HasTenant сообщает, выбран ли клиент id.
func (s FilterState) HasTenant(id string) bool {
	return slices.Contains(s.TenantIDs, id)
}

// Clone возвращает копию без общих слайсов.
func (s FilterState) Clone() FilterState {
	c := s
	c.TenantIDs = slices.Clone(s.TenantIDs)
	return c
}

// Идентификатор попадает в URL через запятую, поэтому запятая и пробелы по краям запрещены.
func validateID(id string) error {
	if id == "" || strings.ContainsRune(id, ',') || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: malformed identifier %q", ErrInvalidState, id)
	}
	return nil
}

// SameTenants сравнивает два набора клиентов как множества.
func SameTenants(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	as, bs := slices.Clone(a), slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(slices.Compact(as), slices.Compact(bs))
}
