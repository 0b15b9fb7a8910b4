// Package types provides shared data structures for the add-on host.
//
// Core Types:
//   - AddonManifest: Identity, entry point and declared permissions of a package
//   - Capability: A (category, action) permission pair
//   - RiskTier: low, medium or high classification of a capability set
//   - StagedAddon: Extracted package awaiting a consent decision
//   - InstalledAddon: Persisted install record
//
// Navigation Types:
//   - SidebarItem, Route: Contributions registered by loaded add-ons
//   - Disposable: Uniform removal contract for contributions
//
// Store Types:
//   - StoreListing, Rating: Remote catalog data
//
// Errors:
//   - PackageError (Malformed, InvalidManifest, UnsupportedVersion)
//   - StagingError, LoadError, StoreUnavailableError, PersistenceError
//   - ErrAlreadyInProgress, ErrNotStaged, ErrNotInstalled
//
// Example Usage:
//
//	caps := manifest.Capabilities()
//	for _, c := range caps {
//	    fmt.Println(c) // accounts:read
//	}
package types
