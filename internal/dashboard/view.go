package dashboard

/*
Файл view.go отвечает за отбрасывание устаревших ответов.

View: одна вкладка дашборда. Каждый новый цикл запросов (Begin) отменяет
предыдущий незавершенный; результат цикла принимается (Finish), только если
за время выполнения не начался более новый. Так показывается ответ последней
запрошенной области, даже если более ранний запрос вернулся позже.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
)

type View struct {
	mu       sync.Mutex
	seq      uint64
	scopeKey string
	cancel   context.CancelFunc
}

// Ticket право одного цикла опубликовать результат.
type Ticket struct {
	seq      uint64
	scopeKey string
}

// Begin открывает новый цикл для области scopeKey и отменяет предыдущий.
func (v *View) Begin(ctx context.Context, scopeKey string) (context.Context, Ticket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
	v.seq++
	v.scopeKey = scopeKey
	cctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	return cctx, Ticket{seq: v.seq, scopeKey: scopeKey}
}

// Finish закрывает цикл. ErrSuperseded означает, что область сменилась и результат показывать нельзя.
func (v *View) Finish(t Ticket) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.seq != v.seq {
		return fmt.Errorf("dashboard: scope %s: %w", t.scopeKey, domain.ErrSuperseded)
	}
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	return nil
}

// Current ключ последней запрошенной области.
func (v *View) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scopeKey
}

// Run выполняет fn в цикле view. Если во время выполнения началась новая область,
// результат отбрасывается с ErrSuperseded, даже если fn успел вернуть данные.
func Run[T any](ctx context.Context, v *View, scopeKey string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if v == nil {
		return fn(ctx)
	}
	cctx, ticket := v.Begin(ctx, scopeKey)
	res, err := fn(cctx)
	if ferr := v.Finish(ticket); ferr != nil {
		return zero, ferr
	}
	if err != nil {
		return zero, err
	}
	return res, nil
}

// Views реестр вкладок (principal + id вкладки) с вытеснением простаивающих.
type Views struct {
	mu    sync.Mutex
	cache otter.Cache[string, *View]
}

// NewViews строит реестр. idleTTL задает, через сколько без обращений вкладка забывается.
func NewViews(capacity int, idleTTL time.Duration) (*Views, error) {
	if capacity <= 0 {
		capacity = 10_000
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	c, err := otter.MustBuilder[string, *View](capacity).
		Cost(func(_ string, _ *View) uint32 { return 1 }).
		WithTTL(idleTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dashboard: build view registry: %w", err)
	}
	return &Views{cache: c}, nil
}

// Get возвращает вкладку, создавая ее при первом обращении. Пустой viewID отключает отслеживание.
func (r *Views) Get(userID, viewID string) *View {
	if viewID == "" {
		return nil
	}
	key := userID + "|" + viewID

	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache.Get(key)
	if !ok {
		v = &View{}
	}
	// Повторный Set продлевает жизнь записи.
	r.cache.Set(key, v)
	return v
}

func (r *Views) Close() {
	r.cache.Close()
}
