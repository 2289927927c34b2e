package domain

import (
	"context"
	"errors"
	"fmt"
)

// Таксономия ошибок резолвера и слоя агрегации.
var (
	// ErrNotReady означает, что вход (цель имперсонации, грант доступа) еще загружается, зависимые запросы подавляются.
	ErrNotReady = errors.New("scope is not ready")
	// ErrAccessDenied означает, что бэкенд отказал по привилегиям. Для вызывающего это "фича отсутствует".
	ErrAccessDenied = errors.New("access denied")
	// ErrEmptyResult означает, что запрос успешен, область валидна, но строк нет.
	ErrEmptyResult = errors.New("no data for this selection")
	// ErrTransient означает сетевой сбой или сбой бэкенда, можно повторить.
	ErrTransient = errors.New("backend temporarily unavailable")
	// ErrInvalidState означает некорректный фильтр, он отсекается до бэкенда.
	ErrInvalidState = errors.New("invalid filter state")
	// ErrSuperseded означает, что результат посчитан для области, которую уже заменила более новая.
	ErrSuperseded = errors.New("query superseded by a newer scope")
)

// ImpersonationError явное состояние ошибки "view as user".
// Никогда не превращается в область самого администратора.
type ImpersonationError struct {
	TargetUserID string
	Err          error
}

func (e *ImpersonationError) Error() string {
	return fmt.Sprintf("impersonation of user %s failed: %v", e.TargetUserID, e.Err)
}

func (e *ImpersonationError) Unwrap() error { return e.Err }

// ErrorKind класс ошибки для политики распространения.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNotReady      ErrorKind = "not_ready"
	KindAccessDenied  ErrorKind = "access_denied"
	KindEmptyResult   ErrorKind = "empty_result"
	KindTransient     ErrorKind = "transient"
	KindInvalidState  ErrorKind = "invalid_state"
	KindSuperseded    ErrorKind = "superseded"
	KindImpersonation ErrorKind = "impersonation_failed"
)

// Classify сводит произвольную ошибку к одному классу.
// Неизвестные ошибки и таймауты считаются Transient: повторить безопасно, расширять область нельзя.
func Classify(err error) ErrorKind {
	var impErr *ImpersonationError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &impErr):
		return KindImpersonation
	case errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		return KindSuperseded
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrEmptyResult):
		return KindEmptyResult
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	default:
		return KindTransient
	}
}

// Retryable отбирает ошибки, которые имеет смысл повторять и которые должны учитываться Circuit Breaker'ом.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}
