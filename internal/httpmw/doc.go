// Package httpmw contains the HTTP middleware shared by the public API
// listener and the admin listener: request IDs, client IP resolution,
// authenticated-principal context, request-scoped logging, panic
// recovery, security headers, and body limits.
//
// Middleware here is transport plumbing only; admission and caching
// policy live in internal/ratelimit and internal/cache.
package httpmw
