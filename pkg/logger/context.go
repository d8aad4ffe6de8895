package logger

import "context"

// contextKey 日志上下文键
type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	endpointKey contextKey = "endpoint"
	clientIDKey contextKey = "client_id"
)

// WithTraceID 将 TraceID 写入 Context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext 读取 TraceID，优先使用显式设置的值，其次使用 OpenTelemetry TraceID
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		return traceID
	}
	return extractTraceID(ctx)
}

// WithConnection 将连接所属端点与客户端 ID 写入 Context
func WithConnection(ctx context.Context, endpoint, clientID string) context.Context {
	ctx = context.WithValue(ctx, endpointKey, endpoint)
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ConnectionFromContext 读取端点与客户端 ID
func ConnectionFromContext(ctx context.Context) (endpoint, clientID string) {
	endpoint, _ = ctx.Value(endpointKey).(string)
	clientID, _ = ctx.Value(clientIDKey).(string)
	return endpoint, clientID
}
