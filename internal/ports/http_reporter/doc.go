// Package http_reporter exposes the profiler over HTTP: the report history
// as JSON, an endpoint that forces a report, and the profiler's own
// Prometheus metrics.
//
// The handlers implement the standard http.Handler interface and can be
// mounted on any router; NewMux wires all of them onto one ServeMux.
package http_reporter
