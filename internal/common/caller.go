package common

import "context"

type ctxKey string

const callerKey ctxKey = "auth/caller"

// WithCaller stores the authenticated caller (token subject or API key label) on the context.
func WithCaller(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey, id)
}

// Caller extracts the authenticated caller from the context if present.
func Caller(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey).(string)
	return id, ok && id != ""
}
