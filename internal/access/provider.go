package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/maypok86/otter"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL граница устаревания кэша грантов.
const DefaultTTL = time.Hour

// Source внешний бэкенд, выдающий видимость принципала (views accessible_clients/accessible_agents).
type Source interface {
	AccessibleTenants(ctx context.Context, p domain.Principal) ([]string, error)
	AccessibleDeployments(ctx context.Context, p domain.Principal, tenantIDs []string, agentType domain.AgentType) ([]domain.Deployment, error)
	UserTenantIDs(ctx context.Context, admin domain.Principal, targetUserID string) ([]string, error)
}

// SnapshotStore описывает L2-кэш, общий для всех инстансов консоли (Redis).
type SnapshotStore interface {
	Load(ctx context.Context, key string) (domain.AccessGrant, bool, error)
	Save(ctx context.Context, key string, g domain.AccessGrant, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Observer получает события кэша (метрики). Может быть nil.
type Observer interface {
	CacheLookup(layer, result string)
}

type entry struct {
	grant    domain.AccessGrant
	loadedAt time.Time
}

// Provider реализует Accessibility Provider с read-through кэшем:
// L1 (otter, в памяти инстанса) -> L2 (Redis) -> бэкенд.
// Каждая запись заменяется по ключу целиком, частичных мутаций нет.
type Provider struct {
	src      Source
	l1       otter.Cache[string, entry]
	l2       SnapshotStore
	group    singleflight.Group
	ttl      time.Duration
	now      func() time.Time
	observer Observer
	logger   *zap.Logger
}

type Option func(*Provider)

func WithSnapshotStore(s SnapshotStore) Option {
	return func(p *Provider) { p.l2 = s }
}

func WithObserver(o Observer) Option {
	return func(p *Provider) { p.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider строит провайдер. ttl <= 0 означает DefaultTTL, capacity задает максимум записей L1.
func NewProvider(src Source, capacity int, ttl time.Duration, logger *zap.Logger, opts ...Option) (*Provider, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = 10_000
	}
	l1, err := otter.MustBuilder[string, entry](capacity).
		Cost(func(_ string, _ entry) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("access: build grant cache: %w", err)
	}

	p := &Provider{
		src:    src,
		l1:     l1,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("grant-cache"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close освобождает фоновые ресурсы L1.
func (p *Provider) Close() {
	p.l1.Close()
}

func grantKey(userID string) string  { return "grant:" + userID }
func targetKey(userID string) string { return "target:" + userID }

// Grant возвращает грант текущего принципала (клиенты + карта деплоев).
func (p *Provider) Grant(ctx context.Context, principal domain.Principal) (domain.AccessGrant, error) {
	if principal.UserID == "" {
		return domain.AccessGrant{}, fmt.Errorf("access: %w: anonymous principal", domain.ErrAccessDenied)
	}
	return p.cached(ctx, grantKey(principal.UserID), func(ctx context.Context) (domain.AccessGrant, error) {
		return p.fetchGrant(ctx, principal)
	})
}

// TargetTenants клиенты пользователя, от имени которого смотрит администратор.
// Для не-администраторов закрыто без обращения к бэкенду.
func (p *Provider) TargetTenants(ctx context.Context, admin domain.Principal, targetUserID string) ([]string, error) {
	if !admin.Admin {
		return nil, fmt.Errorf("access: %w: impersonation requires admin", domain.ErrAccessDenied)
	}
	g, err := p.cached(ctx, targetKey(targetUserID), func(ctx context.Context) (domain.AccessGrant, error) {
		ids, err := p.src.UserTenantIDs(ctx, admin, targetUserID)
		if err != nil {
			return domain.AccessGrant{}, err
		}
		return domain.AccessGrant{TenantIDs: ids}, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(g.TenantIDs), nil
}

// Deployments деплои, доступные принципалу, с опциональным сужением по клиентам и типу.
// Не кэшируется: используется пикерами фильтров, а не на горячем пути резолвера.
func (p *Provider) Deployments(ctx context.Context, principal domain.Principal, tenantIDs []string, agentType domain.AgentType) ([]domain.Deployment, error) {
	deps, err := p.src.AccessibleDeployments(ctx, principal, tenantIDs, agentType)
	if err != nil {
		return nil, fmt.Errorf("access: list deployments: %w", err)
	}
	return deps, nil
}

// Invalidate выбрасывает все записи пользователя из L1 и L2.
func (p *Provider) Invalidate(ctx context.Context, userID string) error {
	keys := []string{grantKey(userID), targetKey(userID)}
	for _, k := range keys {
		p.l1.Delete(k)
	}
	if p.l2 != nil {
		if err := p.l2.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("access: invalidate %s: %w", userID, err)
		}
	}
	p.logger.Info("grant cache invalidated", zap.String("user_id", userID))
	return nil
}

// EvictLocal чистит только L1 (сигнал от другого инстанса, L2 он уже почистил).
func (p *Provider) EvictLocal(userID string) {
	p.l1.Delete(grantKey(userID))
	p.l1.Delete(targetKey(userID))
}

func (p *Provider) cached(ctx context.Context, key string, load func(context.Context) (domain.AccessGrant, error)) (domain.AccessGrant, error) {
	if e, ok := p.l1.Get(key); ok && p.now().Sub(e.loadedAt) < p.ttl {
		p.observe("l1", "hit")
		return cloneGrant(e.grant), nil
	}
	p.observe("l1", "miss")

	// Параллельные промахи по одному ключу сводятся в один поход в бэкенд.
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		if p.l2 != nil {
			g, ok, err := p.l2.Load(ctx, key)
			switch {
			case err != nil:
				p.logger.Warn("l2 grant cache unavailable", zap.String("key", key), zap.Error(err))
			case ok:
				p.observe("l2", "hit")
				p.l1.Set(key, entry{grant: g, loadedAt: p.now()})
				return g, nil
			default:
				p.observe("l2", "miss")
			}
		}

		g, err := load(ctx)
		if err != nil {
			return domain.AccessGrant{}, err
		}
		p.l1.Set(key, entry{grant: g, loadedAt: p.now()})
		if p.l2 != nil {
			if err := p.l2.Save(ctx, key, g, p.ttl); err != nil {
				p.logger.Warn("l2 grant cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return g, nil
	})
	if err != nil {
		return domain.AccessGrant{}, fmt.Errorf("access: load %s: %w", key, err)
	}
	return cloneGrant(v.(domain.AccessGrant)), nil
}

func (p *Provider) fetchGrant(ctx context.Context, principal domain.Principal) (domain.AccessGrant, error) {
	var (
		tenants []string
		deps    []domain.Deployment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tenants, err = p.src.AccessibleTenants(gctx, principal)
		return err
	})
	g.Go(func() error {
		var err error
		deps, err = p.src.AccessibleDeployments(gctx, principal, nil, "")
		// Без карты деплоев резолвер просто не сможет отбросить осиротевший deploymentId.
		if errors.Is(err, domain.ErrEmptyResult) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.AccessGrant{}, err
	}

	grant := domain.AccessGrant{
		TenantIDs:   tenants,
		Deployments: make(map[string]string, len(deps)),
	}
	for _, d := range deps {
		grant.Deployments[d.ID] = d.TenantID
	}
	if grant.Empty() {
		p.logger.Warn("principal has no client grants", zap.String("user_id", principal.UserID))
	}
	return grant, nil
}

func (p *Provider) observe(layer, result string) {
	if p.observer != nil {
		p.observer.CacheLookup(layer, result)
	}
}

func cloneGrant(g domain.AccessGrant) domain.AccessGrant {
	out := domain.AccessGrant{TenantIDs: slices.Clone(g.TenantIDs)}
	if g.Deployments != nil {
		out.Deployments = make(map[string]string, len(g.Deployments))
		for k, v := range g.Deployments {
			out.Deployments[k] = v
		}
	}
	return out
}

// Index реализует DeploymentIndex для Filter State Store поверх гранта одного принципала.
type Index struct {
	provider  *Provider
	principal domain.Principal
}

func (p *Provider) Index(principal domain.Principal) *Index {
	return &Index{provider: p, principal: principal}
}

func (i *Index) DeploymentTenant(ctx context.Context, deploymentID string) (string, bool, error) {
	g, err := i.provider.Grant(ctx, i.principal)
	if err != nil {
		return "", false, err
	}
	t, ok := g.DeploymentTenant(deploymentID)
	return t, ok, nil
}
