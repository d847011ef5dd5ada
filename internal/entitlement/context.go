package entitlement

import "context"

type ctxKey struct{}

func WithAccess(ctx context.Context, a Access) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func AccessFromContext(ctx context.Context) (Access, bool) {
	a, ok := ctx.Value(ctxKey{}).(Access)
	return a, ok
}
