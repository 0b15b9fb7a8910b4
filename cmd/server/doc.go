// Package main is the entry point for the add-on host server.
//
// The server reviews, installs and runs UI add-ons for a host application:
//
//	upload/store → inspect → classify → stage → consent → persist → load
//
// The server provides:
//   - REST API for reviewing, approving, toggling and removing add-ons
//   - WebSocket stream of navigation changes
//   - Optional remote store client (listings, ratings, downloads)
//   - Prometheus metrics at /metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./server -port 8000 -data ./data/addons -store https://store.example.com/api
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
