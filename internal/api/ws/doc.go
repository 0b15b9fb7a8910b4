// Package ws streams navigation changes over WebSocket.
//
// A client connecting to /stream first receives a "snapshot" message with
// the current sidebar and routes, then one "navigation" message per
// contribution added or removed as add-ons load and unload.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping, answered with pong
//
// Message Types (Server → Client):
//   - snapshot: Current sidebar and routes
//   - navigation: A single navigation event
//   - pong: Reply to ping
package ws
