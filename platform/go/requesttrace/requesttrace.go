package requesttrace

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const ctxRequesterInfo contextKey = "SCHEMALOOM_REQUEST_TRACE"

// RequesterInfo captures request-scoped metadata recorded alongside query
// history entries. All fields are best-effort; background operations carry
// an empty RequestID.
type RequesterInfo struct {
	RequestID  string
	RemoteAddr string
	UserAgent  string
}

// IntoContext stores the RequesterInfo in the provided context.
func IntoContext(ctx context.Context, info RequesterInfo) context.Context {
	return context.WithValue(ctx, ctxRequesterInfo, info)
}

// FromContext extracts the RequesterInfo from context, returning false when not present.
func FromContext(ctx context.Context) (RequesterInfo, bool) {
	if ctx == nil {
		return RequesterInfo{}, false
	}
	v := ctx.Value(ctxRequesterInfo)
	if v == nil {
		return RequesterInfo{}, false
	}

	info, ok := v.(RequesterInfo)
	return info, ok
}

// FromContextOrSystem returns the RequesterInfo stored on the context, or a
// system record when absent (retention sweeps, CLI invocations).
func FromContextOrSystem(ctx context.Context) RequesterInfo {
	if info, ok := FromContext(ctx); ok {
		return info
	}
	return RequesterInfo{RemoteAddr: "system"}
}

// Middleware resolves requester metadata from the incoming request and
// attaches it to the context for downstream history capture.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := RequesterInfo{
			RequestID:  middleware.GetReqID(r.Context()),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(IntoContext(r.Context(), info)))
	})
}
