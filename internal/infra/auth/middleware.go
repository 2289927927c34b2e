package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/voiceai-analytics/internal/audit"
	"github.com/xela07ax/voiceai-analytics/internal/domain"
	"go.uber.org/zap"
)

// TraceHeader несет сквозной ID запроса. Его ставит прокси, иначе ID генерируется.
const TraceHeader = "X-Trace-ID"

// TokenValidator проверка токена, которую делает middleware.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey struct{}

// WithPrincipal кладет принципала в контекст (middleware и тесты).
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom достает принципала, положенного NewMiddleware.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(domain.Principal)
	return p, ok
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.String("trace_id", audit.TraceID(r.Context())), zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithPrincipal(r.Context(), claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TracingMiddleware инициализирует Trace-ID для каждого запроса.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithTraceID(r.Context(), r.Header.Get(TraceHeader))
		// клиент тоже должен знать ID своего запроса
		w.Header().Set(TraceHeader, audit.TraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
