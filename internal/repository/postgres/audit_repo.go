package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/voiceai-analytics/internal/audit"
)

var auditColumns = []string{"id", "trace_id", "admin_id", "target_user_id", "action", "created_at"}

// WriteBatch реализует audit.Storage и пишет пачку событий имперсонации одним COPY в impersonation_audit.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.ImpersonationEvent) error {
	if len(events) == 0 {
		return nil
	}

	n, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"impersonation_audit"},
		auditColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.ID, e.TraceID, e.AdminID, e.TargetUserID, string(e.Action), e.Timestamp}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("postgres: write impersonation audit: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("postgres: write impersonation audit: copied %d of %d rows", n, len(events))
	}
	return nil
}
