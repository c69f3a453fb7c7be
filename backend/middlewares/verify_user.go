package middleware

import (
	"context"
	"net/http"

	"github.com/ravigill3969/depo-billing/backend/utils"
	"go.uber.org/zap"
)

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity stores the resolved caller in ctx.
func WithIdentity(ctx context.Context, id *utils.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext returns the caller resolved by Authenticate, or nil.
func IdentityFromContext(ctx context.Context) *utils.Identity {
	id, _ := ctx.Value(identityContextKey).(*utils.Identity)
	return id
}

type Authenticator struct {
	JWTSecret []byte
	Logger    *zap.Logger
}

// Authenticate resolves the bearer token when one is present. It never rejects
// the request: actions that need a caller check IdentityFromContext themselves,
// because cancel-subscription is reachable without one.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := utils.IdentityFromHeader(header, a.JWTSecret)
		if err != nil {
			a.Logger.Debug("bearer token rejected", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
