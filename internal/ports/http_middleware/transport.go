package http_middleware

import (
	"net/http"

	"github.com/fllarpy/callprof/domain"
)

// Transport is an http.RoundTripper that records each outbound request as a
// call of "HTTP <method> <host><path>" on the calling goroutine. The call
// ends when the response headers arrive; reading the body is not counted.
type Transport struct {
	// Base is the underlying RoundTripper to execute the request.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	interner domain.Interner
	tracer   Tracer
}

// NewProfileTransport creates a new Transport recording through tracer.
func NewProfileTransport(base http.RoundTripper, interner domain.Interner, tracer Tracer) *Transport {
	return &Transport{
		Base:     base,
		interner: interner,
		tracer:   tracer,
	}
}

// ClientMethodName is the name an outbound request is recorded under.
func ClientMethodName(req *http.Request) string {
	return "HTTP " + req.Method + " " + req.URL.Host + req.URL.Path
}

// RoundTrip executes a single HTTP transaction, returning a Response for the request `req`.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Use the base RoundTripper, or the default if not provided.
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.interner == nil || t.tracer == nil {
		return base.RoundTrip(req)
	}

	method := t.interner.Intern(ClientMethodName(req))
	t.tracer.Enter(method)
	defer func() {
		t.tracer.Leave(method)
		if t.tracer.Depth() == 0 {
			t.tracer.ThreadExit()
		}
	}()
	return base.RoundTrip(req)
}
