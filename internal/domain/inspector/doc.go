// Package inspector parses add-on packages into manifests.
//
// A package is a zip, tar, tar.gz or tar.zst archive holding a manifest
// (manifest.json, manifest.yaml or manifest.toml) at its root or under a
// single top-level directory, an entry script and assets.
//
// Features:
//   - Content-sniffed archive formats
//   - Embedded JSON Schema validation of the manifest
//   - Semver checks for the package, SDK and minimum host versions
//   - Size, entry count and path traversal limits
//
// Inspection is pure: files are decoded into memory and never written.
// Extraction to disk belongs to the staging area.
//
// Example Usage:
//
//	insp, _ := inspector.New(inspector.DefaultConfig(), logger)
//	manifest, err := insp.Inspect(data)
//	if types.IsPackageKind(err, types.InvalidManifest) {
//	    // show schema issues
//	}
package inspector
