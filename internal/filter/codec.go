package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

// Имена query-параметров. Каждый необязателен и разбирается независимо от остальных.
const (
	ParamStartDate    = "startDate"
	ParamEndDate      = "endDate"
	ParamClientIDs    = "clientIds"
	ParamDeploymentID = "deploymentId"
	ParamAgentType    = "agentTypeName"
	ParamViewAsUser   = "viewAsUser"
)

var filterParams = []string{
	ParamStartDate, ParamEndDate, ParamClientIDs, ParamDeploymentID, ParamAgentType, ParamViewAsUser,
}

// Snapshot содержит все, что живет в URL, то есть фильтры пользователя и цель имперсонации.
type Snapshot struct {
	Filter     domain.FilterState `json:"filter"`
	ViewAsUser string             `json:"view_as_user,omitempty"`
}

// Encode сериализует снимок в query-параметры. Пустые поля не пишутся.
func Encode(s Snapshot) url.Values {
	q := url.Values{}
	if !s.Filter.DateRange.Start.IsZero() {
		q.Set(ParamStartDate, s.Filter.DateRange.Start.Format(domain.DateLayout))
	}
	if !s.Filter.DateRange.End.IsZero() {
		q.Set(ParamEndDate, s.Filter.DateRange.End.Format(domain.DateLayout))
	}
	if len(s.Filter.TenantIDs) > 0 {
		q.Set(ParamClientIDs, strings.Join(s.Filter.TenantIDs, ","))
	}
	if s.Filter.DeploymentID != "" {
		q.Set(ParamDeploymentID, s.Filter.DeploymentID)
	}
	if s.Filter.AgentType != "" {
		q.Set(ParamAgentType, string(s.Filter.AgentType))
	}
	if s.ViewAsUser != "" {
		q.Set(ParamViewAsUser, s.ViewAsUser)
	}
	return q
}

// Decode разбирает query-параметры. Отсутствующие даты берутся из defaults.
//
// Битые поля заменяются безопасным значением (даты по умолчанию, без фильтра по типу),
// а ошибка ErrInvalidState возвращается вместе с исправленным снимком,
// чтобы вызывающий мог решить: отклонить запрос или работать с исправленным.
func Decode(q url.Values, defaults domain.DateRange) (Snapshot, error) {
	var (
		s    Snapshot
		errs []error
	)

	start, err := decodeDate(q, ParamStartDate, defaults.Start)
	if err != nil {
		errs = append(errs, err)
	}
	end, err := decodeDate(q, ParamEndDate, defaults.End)
	if err != nil {
		errs = append(errs, err)
	}
	s.Filter.DateRange = domain.NewDateRange(start, end)
	if err := s.Filter.DateRange.Validate(); err != nil {
		errs = append(errs, err)
		s.Filter.DateRange = defaults
	}

	s.Filter.TenantIDs = splitIDs(q.Get(ParamClientIDs))
	s.Filter.DeploymentID = strings.TrimSpace(q.Get(ParamDeploymentID))

	if t := domain.AgentType(strings.TrimSpace(q.Get(ParamAgentType))); t.Valid() {
		s.Filter.AgentType = t
	} else {
		errs = append(errs, fmt.Errorf("%w: unknown agent type %q", domain.ErrInvalidState, t))
	}

	s.ViewAsUser = strings.TrimSpace(q.Get(ParamViewAsUser))
	return s, errors.Join(errs...)
}

// Merge кладет снимок поверх остальных параметров URL, не трогая чужие ключи.
func Merge(base url.Values, s Snapshot) url.Values {
	out := make(url.Values, len(base)+len(filterParams))
	for k, v := range base {
		out[k] = append([]string(nil), v...)
	}
	for _, k := range filterParams {
		out.Del(k)
	}
	for k, v := range Encode(s) {
		out[k] = v
	}
	return out
}

func decodeDate(q url.Values, key string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q is not an ISO date", domain.ErrInvalidState, key, raw)
	}
	return t, nil
}

// splitIDs режет список через запятую. Пустой список дает nil ("нет ограничения").
func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
