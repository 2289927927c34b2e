package impersonation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/voiceai-analytics/internal/audit"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"github.com/xela07ax/voiceai-analytics/internal/filter"
	"go.uber.org/zap"
)

// DefaultLookupTimeout ограничивает загрузку клиентов цели.
const DefaultLookupTimeout = 15 * time.Second

// TargetLookup отдает клиентов пользователя-цели (кэширующий access.Provider).
type TargetLookup interface {
	TargetTenants(ctx context.Context, admin domain.Principal, targetUserID string) ([]string, error)
}

// FilterStore описывает то, что резолверу нужно от Filter State Store.
type FilterStore interface {
	Snapshot() filter.Snapshot
	Update(ctx context.Context, p filter.Patch) (filter.Snapshot, error)
}

// Auditor фиксирует начало и конец имперсонации. Может быть nil.
type Auditor interface {
	Log(event audit.ImpersonationEvent)
}

type session struct {
	userID    string
	tenantIDs []string
	err       error
	done      chan struct{}
	cancel    context.CancelFunc
}

// Resolver реализует Impersonation Resolver одного администратора.
// Для не-администратора все операции ничего не делают и фильтры не меняют.
type Resolver struct {
	principal domain.Principal
	lookup    TargetLookup
	store     FilterStore
	auditor   Auditor
	timeout   time.Duration
	logger    *zap.Logger

	mu  sync.Mutex
	cur *session
}

func NewResolver(principal domain.Principal, lookup TargetLookup, store FilterStore, auditor Auditor, logger *zap.Logger) *Resolver {
	return &Resolver{
		principal: principal,
		lookup:    lookup,
		store:     store,
		auditor:   auditor,
		timeout:   DefaultLookupTimeout,
		logger:    logger.Named("impersonation").With(zap.String("admin_id", principal.UserID)),
	}
}

// WithTimeout меняет таймаут загрузки цели.
func (r *Resolver) WithTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Start начинает "view as user". Он сбрасывает выбранных клиентов в URL и запускает загрузку клиентов цели.
// Повторный Start с той же целью не перезапускает загрузку.
func (r *Resolver) Start(ctx context.Context, userID string) error {
	return r.start(ctx, userID, true)
}

// start с audited=false восстанавливает вид из URL и в журнал не пишет.
func (r *Resolver) start(ctx context.Context, userID string, audited bool) error {
	if !r.principal.Admin {
		r.logger.Debug("impersonation ignored: principal is not an admin", zap.String("target_id", userID))
		return nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.ContainsRune(userID, ',') {
		return fmt.Errorf("impersonation: %w: bad target user id %q", domain.ErrInvalidState, userID)
	}

	r.mu.Lock()
	same := r.cur != nil && r.cur.userID == userID && !r.cur.failed()
	if !same {
		r.stopLocked()
		r.cur = r.launch(ctx, userID)
	}
	r.mu.Unlock()

	// Устаревший фильтр клиентов администратора не должен остаться в URL имперсонированного вида.
	snap := r.store.Snapshot()
	entering := snap.ViewAsUser != userID
	if entering || len(snap.Filter.TenantIDs) > 0 {
		patch := filter.Patch{
			TenantIDs:  &[]string{},
			ViewAsUser: &userID,
		}
		// Деплой, выбранный до входа в вид, принадлежит клиентам администратора, а не цели.
		if entering && snap.Filter.DeploymentID != "" {
			none := ""
			patch.DeploymentID = &none
		}
		if _, err := r.store.Update(ctx, patch); err != nil {
			return fmt.Errorf("impersonation: update filters: %w", err)
		}
	}

	if !same && audited {
		r.logger.Info("impersonation started", zap.String("target_id", userID))
		r.record(ctx, userID, audit.ActionStart)
	}
	return nil
}

// Stop возвращает администратору его собственную область на следующем цикле резолвинга.
func (r *Resolver) Stop(ctx context.Context) error {
	if !r.principal.Admin {
		return nil
	}

	r.mu.Lock()
	var target string
	if r.cur != nil {
		target = r.cur.userID
	}
	r.stopLocked()
	r.mu.Unlock()

	if target == "" {
		target = r.store.Snapshot().ViewAsUser
	}
	if target == "" {
		return nil
	}

	empty := ""
	if _, err := r.store.Update(ctx, filter.Patch{ViewAsUser: &empty}); err != nil {
		return fmt.Errorf("impersonation: update filters: %w", err)
	}
	r.logger.Info("impersonation stopped", zap.String("target_id", target))
	r.record(ctx, target, audit.ActionStop)
	return nil
}

// Sync приводит резолвер в соответствие с viewAsUser из URL (повторный вход в вид, перезагрузка).
func (r *Resolver) Sync(ctx context.Context) error {
	if !r.principal.Admin {
		return nil
	}
	viewAs := r.store.Snapshot().ViewAsUser
	if viewAs == "" {
		r.mu.Lock()
		r.stopLocked()
		r.mu.Unlock()
		return nil
	}
	return r.start(ctx, viewAs, false)
}

// Current возвращает текущую цель или nil, если имперсонации нет.
func (r *Resolver) Current() *domain.ImpersonationTarget {
	r.mu.Lock()
	s := r.cur
	r.mu.Unlock()
	if s == nil {
		return nil
	}

	t := &domain.ImpersonationTarget{UserID: s.userID}
	select {
	case <-s.done:
		t.TenantIDs = slices.Clone(s.tenantIDs)
		t.Err = s.err
	default:
		t.Loading = true
	}
	return t
}

// Wait блокируется, пока клиенты цели не загрузятся (или ctx не истечет).
func (r *Resolver) Wait(ctx context.Context) *domain.ImpersonationTarget {
	r.mu.Lock()
	s := r.cur
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return r.Current()
}

// Close отменяет незавершенную загрузку.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.stopLocked()
	r.mu.Unlock()
}

func (r *Resolver) launch(ctx context.Context, userID string) *session {
	// Загрузка не должна умирать вместе с контекстом вызова Start: ее отменяет Stop или новый Start.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	s := &session{userID: userID, done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(s.done)
		defer cancel()
		ids, err := r.lookup.TargetTenants(fctx, r.principal, userID)
		if err != nil {
			r.logger.Warn("impersonation target lookup failed", zap.String("target_id", userID), zap.Error(err))
			s.err = &domain.ImpersonationError{TargetUserID: userID, Err: err}
			return
		}
		s.tenantIDs = ids
	}()
	return s
}

// failed сообщает, что загрузка завершилась ошибкой. Повторный Start с той же целью пробует снова.
func (s *session) failed() bool {
	select {
	case <-s.done:
		return s.err != nil
	default:
		return false
	}
}

func (r *Resolver) stopLocked() {
	if r.cur != nil {
		r.cur.cancel()
		r.cur = nil
	}
}

func (r *Resolver) record(ctx context.Context, target string, action audit.Action) {
	if r.auditor == nil {
		return
	}
	r.auditor.Log(audit.ImpersonationEvent{
		TraceID:      audit.TraceID(ctx),
		AdminID:      r.principal.UserID,
		TargetUserID: target,
		Action:       action,
	})
}
