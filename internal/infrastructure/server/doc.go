// Package server assembles the add-on host: storage, inspector, staging,
// runtime registry, install pipeline, optional remote store client, metrics
// and the HTTP/WebSocket API.
package server
