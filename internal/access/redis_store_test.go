package access

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"github.com/xela07ax/voiceai-analytics/internal/infra"
	"github.com/xela07ax/voiceai-analytics/internal/scope"
)

// memRedis отвечает на GET/SET/DEL из памяти, не доходя до сети.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newRedisClient(t *testing.T) (*redis.Client, *memRedis) {
	t.Helper()
	m := &memRedis{data: map[string]string{}}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(m)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, m
}

func (m *memRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (m *memRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (m *memRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		args := cmd.Args()
		switch c := cmd.(type) {
		case *redis.StringCmd:
			v, ok := m.data[fmt.Sprint(args[1])]
			if !ok {
				c.SetErr(redis.Nil)
				return redis.Nil
			}
			c.SetVal(v)
		case *redis.StatusCmd:
			switch raw := args[2].(type) {
			case []byte:
				m.data[fmt.Sprint(args[1])] = string(raw)
			default:
				m.data[fmt.Sprint(args[1])] = fmt.Sprint(raw)
			}
			c.SetVal("OK")
		case *redis.IntCmd:
			var n int64
			for _, k := range args[1:] {
				key := fmt.Sprint(k)
				if _, ok := m.data[key]; ok {
					delete(m.data, key)
					n++
				}
			}
			c.SetVal(n)
		default:
			return next(ctx, cmd)
		}
		return nil
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	rdb, _ := newRedisClient(t)
	store := NewRedisStore(rdb)
	ctx := context.Background()

	tests := []struct {
		name  string
		grant domain.AccessGrant
	}{
		{"with deployments", domain.AccessGrant{TenantIDs: []string{"A"}, Deployments: map[string]string{"d1": "A"}}},
		{"no deployments", domain.AccessGrant{TenantIDs: []string{"A"}, Deployments: map[string]string{}}},
		{"no deployment map", domain.AccessGrant{TenantIDs: []string{"A"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, "grant:"+tt.name, tt.grant, time.Minute))

			got, ok, err := store.Load(ctx, "grant:"+tt.name)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.grant, got)
			assert.Equal(t, tt.grant.Deployments == nil, got.Deployments == nil)
		})
	}
}

func TestRedisStoreMissAndDelete(t *testing.T) {
	rdb, _ := newRedisClient(t)
	store := NewRedisStore(rdb)
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "grant:nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "grant:alice", domain.AccessGrant{TenantIDs: []string{"A"}}, time.Minute))
	require.NoError(t, store.Delete(ctx, "grant:alice", "target:alice"))
	_, ok, err = store.Load(ctx, "grant:alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreCorruptEntryIsMiss(t *testing.T) {
	rdb, m := newRedisClient(t)
	m.data[infra.GrantCacheKey(grantKey("alice"))] = "{not json"

	_, ok, err := NewRedisStore(rdb).Load(context.Background(), grantKey("alice"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// Деплой чужого клиента отбрасывается одинаково, откуда бы ни пришел грант: из бэкенда или из L2.
func TestForeignDeploymentDroppedAfterSecondLevelCache(t *testing.T) {
	rdb, _ := newRedisClient(t)
	l2 := NewRedisStore(rdb)

	src := new(MockSource)
	src.On("AccessibleTenants", anyArg, alice).Return([]string{"A"}, nil).Once()
	src.On("AccessibleDeployments", anyArg, alice, []string(nil), domain.AgentType("")).Return([]domain.Deployment{}, nil).Once()

	filter := domain.FilterState{DeploymentID: "foreign"}

	fresh, err := newTestProvider(t, src, WithSnapshotStore(l2)).Grant(context.Background(), alice)
	require.NoError(t, err)
	s, err := scope.Resolve(filter, fresh, nil)
	require.NoError(t, err)
	assert.Empty(t, s.DeploymentID)

	// Другой инстанс: пустой L1, грант приходит из Redis.
	cached, err := newTestProvider(t, src, WithSnapshotStore(l2)).Grant(context.Background(), alice)
	require.NoError(t, err)
	s, err = scope.Resolve(filter, cached, nil)
	require.NoError(t, err)
	assert.Empty(t, s.DeploymentID)
	src.AssertExpectations(t)
}
