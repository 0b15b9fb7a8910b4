// Package runtime tracks which add-ons are loaded in the running host.
//
// The Registry resolves each add-on's entry point through a ModuleLoader,
// hands it a capability-scoped AddonContext, and records every sidebar
// item and route the add-on registers. Unloading runs the add-on's
// teardown and disable hooks, then disposes the recorded contributions,
// so a toggled or removed add-on never leaves navigation behind.
//
// Invariants:
//   - The persisted enabled flag is written only by Toggle and ReloadAll,
//     and only after the runtime action succeeded.
//   - A failed Initialize leaves no contributions registered.
//   - Operations on one add-on id are serialized; ReloadAll excludes all.
//
// Example Usage:
//
//	reg := runtime.New(store, navHost, runtime.ChainLoader{static, scripts}, logger)
//	report := reg.ReloadAll(ctx)
//	if err := report.Err(); err != nil {
//	    logger.Warn("some add-ons failed to load", zap.Error(err))
//	}
package runtime
