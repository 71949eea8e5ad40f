// Package http wraps handlers with OpenTelemetry server spans so requests
// reach the profiler through its span bridge.
package http

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// NewMiddleware traces handler under operation. Spans are named
// "<METHOD> <path>" so the profiler reports one method per route.
func NewMiddleware(handler http.Handler, operation string, tp trace.TracerProvider) http.Handler {
	return otelhttp.NewHandler(handler, operation,
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
