package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mind-engage/bandcore/internal/entitlement"
)

type ctxKey struct{}

func WithCaller(ctx context.Context, c entitlement.Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// CallerFromContext returns the zero Caller for anonymous requests.
func CallerFromContext(ctx context.Context) entitlement.Caller {
	c, _ := ctx.Value(ctxKey{}).(entitlement.Caller)
	return c
}

// Identify attaches the bearer token's caller to the request context. A
// missing header leaves the request anonymous; a bad token is rejected
// through onError so the caller controls the error body.
func Identify(a *AuthService, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(h, "Bearer ") {
				onError(w, r, errMalformedHeader)
				return
			}
			claims, err := a.Parse(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
			if err != nil {
				onError(w, r, err)
				return
			}
			// Unknown claim roles are dropped, never trusted.
			role, err := entitlement.ParseRole(claims.Role)
			if err != nil {
				role = entitlement.RoleNone
			}
			c := entitlement.Caller{UserID: claims.Subject, ClaimRole: role}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
		})
	}
}

type authError string

func (e authError) Error() string { return string(e) }

const errMalformedHeader = authError("authorization header must use the Bearer scheme")
