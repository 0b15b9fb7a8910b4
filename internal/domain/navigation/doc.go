// Package navigation is the host application's sidebar and route registry.
//
// Add-ons never touch it directly; the runtime registry registers their
// contributions and keeps the returned Disposable handles so a disabled
// add-on can be removed without any per-kind cleanup logic.
//
// Changes are broadcast to subscribers (the WebSocket stream) as
// NavigationEvent values.
package navigation
