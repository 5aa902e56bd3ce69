package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorIDKey
	actorRoleKey
)

// WithRequestID stores the request correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithActor stores the authenticated user id and role.
func WithActor(ctx context.Context, actorID, role string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
	return context.WithValue(ctx, actorRoleKey, strings.TrimSpace(role))
}

// ActorFromContext returns the actor id and role, empty when anonymous.
func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	id, _ := ctx.Value(actorIDKey).(string)
	role, _ := ctx.Value(actorRoleKey).(string)
	return id, role
}
