// Package httpmw provides HTTP middleware for the admin API server.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// security headers, request ID, client IP extraction, OTel tracing, metrics,
// structured logging, then the chi router. Rate limiting is not a middleware
// here; it runs per handler inside the admission wrapper so each route can
// shape its own rejection.
//
// Header values supplied by the caller (query strings, user agent) stay out of
// logs.
package httpmw
