package shared

import "context"

type contextKey string

const requestMetaKey contextKey = "request_meta"

// RequestMeta carries request-scoped metadata that ends up in audit records.
type RequestMeta struct {
	RequestID string
	SessionID string
	IP        string
	UserAgent string
	Method    string
	URL       string
}

// ContextWithRequestMeta attaches request metadata to the context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey, meta)
}

// RequestMetaFromContext returns the request metadata stored in the context,
// or a zero value when none was attached.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey).(RequestMeta)
	return meta
}
