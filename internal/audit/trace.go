package audit

import (
	"context"

	"github.com/google/uuid"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// ZeroTraceID подставляется, если запрос пришел не через TracingMiddleware.
const ZeroTraceID = "00000000-0000-0000-0000-000000000000"

// WithTraceID кладет ID запроса в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID помогает безопасно достать ID в любом месте кода
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ZeroTraceID
}
