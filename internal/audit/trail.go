package audit

/*
Файл trail.go реализует журнал имперсонаций ("view as user").

- Log не блокирует запрос: событие кладется в буферизованный канал,
  при переполнении оно сбрасывается в zap-лог (Load Shedding).
- Воркер пишет в Postgres пачками: по таймеру или при достижении batchSize.
- Stop закрывает вход и дожидается финального flush (Drain Pattern).
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize    = 1000
	DefaultFlushInterval = time.Second
	batchSize            = 100
)

// Storage определяет, куда физически сохраняются события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []ImpersonationEvent) error
}

type Trail struct {
	ch       chan ImpersonationEvent
	repo     Storage
	interval time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	closed   atomic.Bool
	mu       sync.RWMutex // Log держит RLock, Stop берет Lock перед close(ch)
}

func NewTrail(repo Storage, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Trail {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Trail{
		ch:       make(chan ImpersonationEvent, bufferSize),
		repo:     repo,
		interval: flushInterval,
		logger:   logger.Named("audit-trail"),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed.Swap(true) {
		t.mu.Unlock()
		return
	}
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event ImpersonationEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
	default:
		// Буфер полон: событие не теряем молча, а оставляем в логе
		t.logger.Error("audit_buffer_overflow",
			zap.String("admin_id", event.AdminID),
			zap.String("target_user_id", event.TargetUserID),
			zap.String("action", string(event.Action)),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Pending возвращает, сколько событий ждут записи (для метрики заполненности буфера).
func (t *Trail) Pending() int {
	return len(t.ch)
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]ImpersonationEvent, 0, batchSize)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Контекст запроса к этому моменту уже закрыт, пишем с Background
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.repo.WriteBatch(ctx, batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				flush() // Финальный сброс
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
