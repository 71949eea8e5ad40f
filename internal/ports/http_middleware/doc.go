// Package http_middleware profiles HTTP traffic: every served request is
// recorded as one call of the method "<HTTP method> <path>" on the goroutine
// serving it, and Transport does the same for outbound client requests.
//
// The middleware is designed to be used with the standard library's
// net/http package or any router that accepts func(http.Handler) http.Handler.
package http_middleware
