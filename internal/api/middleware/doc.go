// Package middleware provides the HTTP middleware stack for the add-on host API.
//
// Middleware stack includes:
//   - RequestID: X-Request-ID propagation (uuid when absent)
//   - Logger: One zap line per request
//   - CORS: Cross-origin resource sharing with configurable origins
//   - RateLimit: Per-IP token bucket rate limiting
//
// Rate Limiting:
//   - Per-IP tracking with idle cleanup
//   - Token bucket algorithm
//   - Configurable RPS and burst capacity
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
