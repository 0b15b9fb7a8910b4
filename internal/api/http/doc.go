// Package http exposes the add-on lifecycle over a JSON API.
//
// Handlers are thin: they validate path parameters, call the install
// pipeline, the runtime registry or the store client, and map domain errors
// to status codes (package errors 422, in-progress 409, unknown ids 404,
// store outages 503).
package http
