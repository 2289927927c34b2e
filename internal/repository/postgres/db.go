package postgres

/*
Файл db.go отвечает за доступ к бэкенду метрик.

Бэкенд: это Postgres с набором RPC-функций (get_kpi_metrics, get_chart_data, ...).
Каждая функция принимает id пользователя и параметры области и возвращает jsonb;
row-level security внутри функций остается главной границей доступа.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
)

// DB описывает то, что репозиторию нужно от пула соединений (*pgxpool.Pool).
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
}

// NewPool открывает пул и проверяет соединение.
func NewPool(ctx context.Context, url string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Repo реализует dashboard.Backend, access.Source и audit.Storage поверх одного пула.
type Repo struct {
	db     DB
	logger *zap.Logger
}

func NewRepo(db DB, logger *zap.Logger) *Repo {
	return &Repo{db: db, logger: logger.Named("postgres")}
}

// Ping проверяет доступность базы (для /health).
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// callJSON вызывает RPC-функцию, возвращающую jsonb, и раскладывает ответ в dst.
// SQL NULL и пустой массив/объект дают ErrEmptyResult.
func (r *Repo) callJSON(ctx context.Context, fn string, dst any, args ...any) error {
	var raw []byte
	if err := r.db.QueryRow(ctx, rpcQuery(fn, len(args)), args...).Scan(&raw); err != nil {
		return mapError(fn, err)
	}
	switch string(raw) {
	case "", "null", "[]", "{}":
		return fmt.Errorf("postgres: %s: %w", fn, domain.ErrEmptyResult)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("postgres: %s: decode: %w", fn, err)
	}
	return nil
}

func rpcQuery(fn string, nargs int) string {
	q := "SELECT " + fn + "("
	for i := 1; i <= nargs; i++ {
		if i > 1 {
			q += ", "
		}
		q += fmt.Sprintf("$%d", i)
	}
	return q + ")"
}

// SQLSTATE, которые бэкенд использует для отказов.
const (
	codeInsufficientPrivilege = "42501"
	codeInvalidAuthorization  = "28000"
	codeInvalidParameter      = "22023"
	codeInvalidDatetime       = "22007"
	codeRaiseException        = "P0001"
)

// mapError сводит ошибки pgx к таксономии домена.
func mapError(fn string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("postgres: %s: %w", fn, domain.ErrEmptyResult)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("postgres: %s: %w", fn, err)
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case codeInsufficientPrivilege, codeInvalidAuthorization:
			return fmt.Errorf("postgres: %s: %w", fn, domain.ErrAccessDenied)
		case codeInvalidParameter, codeInvalidDatetime:
			return fmt.Errorf("postgres: %s: %w: %s", fn, domain.ErrInvalidState, pgErr.Message)
		case codeRaiseException:
			// RAISE EXCEPTION 'access denied' в функциях с проверкой роли
			if pgErr.Message == "access denied" {
				return fmt.Errorf("postgres: %s: %w", fn, domain.ErrAccessDenied)
			}
		}
		return fmt.Errorf("postgres: %s: %w: %w", fn, domain.ErrTransient, err)
	default:
		return fmt.Errorf("postgres: %s: %w: %w", fn, domain.ErrTransient, err)
	}
}

// jsonDate принимает и календарную дату, и RFC3339 (jsonb отдает date как "2024-03-10").
type jsonDate time.Time

func (d *jsonDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if t, err := time.Parse(domain.DateLayout, s); err == nil {
		*d = jsonDate(t)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("postgres: bad date %q", s)
	}
	*d = jsonDate(domain.CalendarDate(t))
	return nil
}

func (d jsonDate) Time() time.Time { return time.Time(d) }

// scopeArgs общие параметры функций области:
// p_user_id, p_client_ids, p_deployment_id, p_agent_type_name, p_start_date, p_end_date.
func scopeArgs(p domain.Principal, s domain.EffectiveScope) []any {
	return []any{
		p.UserID,
		s.TenantIDs,
		nullIfEmpty(s.DeploymentID),
		nullIfEmpty(string(s.AgentType)),
		s.DateRange.Start.Format(domain.DateLayout),
		s.DateRange.End.Format(domain.DateLayout),
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
