// Package staging holds extracted add-on packages while the user decides.
//
// Entries are namespaced by add-on id under a single root directory.
// Extraction happens in a private temp directory that is swapped into
// place only once complete, so a failed or cancelled Stage leaves the
// area exactly as it was.
//
// Example Usage:
//
//	area, _ := staging.New(layout.StagingDir(), insp, logger)
//	staged, err := area.Stage(ctx, "budget-lens", data)
//	...
//	area.Clear("budget-lens")
package staging
