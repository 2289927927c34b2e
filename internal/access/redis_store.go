package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"github.com/xela07ax/voiceai-analytics/internal/infra"
)

// RedisStore реализует L2-кэш грантов, общий для всех инстансов консоли.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Load(ctx context.Context, key string) (domain.AccessGrant, bool, error) {
	raw, err := s.rdb.Get(ctx, infra.GrantCacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.AccessGrant{}, false, nil
	}
	if err != nil {
		return domain.AccessGrant{}, false, fmt.Errorf("redis: get %s: %w", key, err)
	}

	var g domain.AccessGrant
	if err := json.Unmarshal(raw, &g); err != nil {
		// Битая запись равносильна промаху: бэкенд перезапишет ее.
		return domain.AccessGrant{}, false, nil
	}
	return g, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, g domain.AccessGrant, ttl time.Duration) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	return s.rdb.Set(ctx, infra.GrantCacheKey(key), raw, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, infra.GrantCacheKey(k))
	}
	return s.rdb.Del(ctx, full...).Err()
}
