package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tracing wraps handlers with otelhttp spans named after chi's matched route
// pattern. The pattern is only available after chi routing runs, so the
// otelhttp handler is built per request.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operation := r.Method + " " + r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				operation = r.Method + " " + rctx.RoutePattern()
			}
			otelhttp.NewHandler(next, operation).ServeHTTP(w, r)
		})
	}
}
