package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tripwise/planner/backend/pkg/utils"
)

// UserIDHeader carries the caller identity established by the auth layer in
// front of this service.
const UserIDHeader = "X-User-ID"

type contextKey string

const userIDContextKey contextKey = "user_id"

// UserIDFromContext returns the identity stored by RequireUser.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// WithUserID stores id on ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDContextKey, id)
}

// RequireUser rejects requests without an identity and stores it in the
// request context otherwise.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			utils.RespondError(w, http.StatusUnauthorized, "missing user identity")
			return
		}

		ctx := WithUserID(r.Context(), id)
		zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", id)
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
