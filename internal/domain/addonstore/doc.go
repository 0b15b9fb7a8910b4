// Package addonstore is the client for the remote add-on catalog.
//
// Every request passes a rate limiter and a circuit breaker. Transport
// failures, 5xx responses, cancelled limiter waits and an open breaker
// surface as types.StoreUnavailableError; a 404 surfaces as
// types.ErrListingNotFound. Listing descriptions arrive as HTML and are
// sanitized before they reach callers.
package addonstore
