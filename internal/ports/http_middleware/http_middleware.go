package http_middleware

import (
	"net/http"

	"github.com/fllarpy/callprof/domain"
)

// Tracer records calls on the calling goroutine.
type Tracer interface {
	Enter(method domain.MethodID)
	Leave(method domain.MethodID)
	// Depth is the calling goroutine's active call depth.
	Depth() int
	// ThreadExit ends the calling goroutine's collection.
	ThreadExit()
}

// MethodName is the name a request is recorded under.
func MethodName(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// ProfileMiddleware creates a new HTTP middleware that records each request
// as a call. It returns a function that takes an http.Handler and returns an
// http.Handler, suitable for use with frameworks like chi.
//
// net/http reuses a connection's goroutine for the next request, so once a
// request leaves nothing open on its goroutine the goroutine's collection is
// ended; its numbers stay queued for the next report.
func ProfileMiddleware(interner domain.Interner, tracer Tracer) func(http.Handler) http.Handler {
	if interner == nil || tracer == nil {
		// If disabled, return a no-op middleware.
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := interner.Intern(MethodName(r))
			tracer.Enter(method)
			defer func() {
				tracer.Leave(method)
				if tracer.Depth() == 0 {
					tracer.ThreadExit()
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
