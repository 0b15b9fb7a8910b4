// Package pipeline drives an add-on package from upload to a loaded module.
//
// An attempt moves through reviewing, approved, persisting and loaded, or
// ends cancelled or failed. Review stages the package and classifies its
// capabilities without touching persistent state. Approve promotes the
// staged files, writes the install record and optionally enables the
// add-on through the runtime registry; any failure restores the previous
// install. Operations on the same add-on id never overlap.
package pipeline
