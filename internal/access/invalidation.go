package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/voiceai-analytics/internal/infra"
	"go.uber.org/zap"
)

// Задержки переподключения слушателя.
var (
	subscribeRetryDelay = 5 * time.Second
	resubscribeDelay    = time.Second
)

// Subscription описывает открытую подписку, *redis.PubSub подходит как есть.
type Subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// InvalidationBus доставляет сигналы инвалидации грантов между инстансами.
type InvalidationBus interface {
	Publish(ctx context.Context, userID string) error
	// Subscribe возвращает подписку, уже подтвержденную сервером.
	Subscribe(ctx context.Context) (Subscription, error)
}

// RedisBus реализует InvalidationBus поверх Redis Pub/Sub.
type RedisBus struct {
	rdb redis.UniversalClient
}

func NewRedisBus(rdb redis.UniversalClient) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, userID string) error {
	return b.rdb.Publish(ctx, infra.RedisChanGrantInvalidate, userID).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, infra.RedisChanGrantInvalidate)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", infra.RedisChanGrantInvalidate, err)
	}
	return pubsub, nil
}

// PublishInvalidation сообщает всем инстансам, что гранты пользователя изменились.
// L2 чистится сразу, L1 каждого инстанса чистится по сигналу.
func (p *Provider) PublishInvalidation(ctx context.Context, bus InvalidationBus, userID string) error {
	if err := p.Invalidate(ctx, userID); err != nil {
		return err
	}
	if err := bus.Publish(ctx, userID); err != nil {
		return fmt.Errorf("access: publish invalidation %s: %w", userID, err)
	}
	return nil
}

// ListenInvalidations держит подписку на сигналы инвалидации, пока жив ctx.
// При каждом (пере)подключении L1 чистится целиком, ведь без подписки сигналы могли потеряться.
func (p *Provider) ListenInvalidations(ctx context.Context, bus InvalidationBus) {
	for {
		sub, err := bus.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanGrantInvalidate), zap.Error(err))
			if !sleepCtx(ctx, subscribeRetryDelay) {
				return
			}
			continue
		}

		p.l1.Clear()
		ch := sub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				userID := strings.TrimSpace(msg.Payload)
				if userID == "" {
					p.logger.Error("invalid invalidation signal", zap.String("payload", msg.Payload))
					continue
				}
				p.EvictLocal(userID)
				p.logger.Debug("grant evicted by signal", zap.String("user_id", userID))
			}
		}

		sub.Close()
		if !sleepCtx(ctx, resubscribeDelay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
