package internal

import "context"

type ctxKey string

const (
	ContextOperatorKey ctxKey = "operator"
	ContextTraceKey    ctxKey = "traceID"
)

func OperatorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sub, ok := ctx.Value(ContextOperatorKey).(string); ok {
		return sub
	}
	return ""
}

func ContextWithOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextOperatorKey, subject)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ContextTraceKey).(string); ok {
		return id
	}
	return ""
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ContextTraceKey, traceID)
}
