package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyInProgress is returned when an operation for the same add-on id is in flight
	ErrAlreadyInProgress = errors.New("operation already in progress")
	// ErrNotStaged is returned when no staged entry exists for an add-on id
	ErrNotStaged = errors.New("add-on not staged")
	// ErrNotInstalled is returned when no install record exists for an add-on id
	ErrNotInstalled = errors.New("add-on not installed")
	// ErrListingNotFound is returned when the store has no such listing
	ErrListingNotFound = errors.New("store listing not found")
	// ErrCancelled is returned when the user declines the permission prompt
	ErrCancelled = errors.New("install cancelled")
	// ErrStoreRejected is returned when the store refuses a well-formed request
	ErrStoreRejected = errors.New("store rejected request")
)

// PackageErrorKind classifies package inspection failures
type PackageErrorKind string

const (
	Malformed          PackageErrorKind = "malformed"
	InvalidManifest    PackageErrorKind = "invalid_manifest"
	UnsupportedVersion PackageErrorKind = "unsupported_version"
)

// PackageError reports a package that cannot be accepted
type PackageError struct {
	Kind   PackageErrorKind
	Reason string
	Issues []string
	Err    error
}

func (e *PackageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %s: %s", e.Kind, e.Reason)
	if len(e.Issues) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Issues, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PackageError) Unwrap() error { return e.Err }

// NewPackageError creates a package error of the given kind
func NewPackageError(kind PackageErrorKind, reason string, err error) *PackageError {
	return &PackageError{Kind: kind, Reason: reason, Err: err}
}

// IsPackageKind reports whether err is a PackageError of the given kind
func IsPackageKind(err error, kind PackageErrorKind) bool {
	var pe *PackageError
	return errors.As(err, &pe) && pe.Kind == kind
}

// StagingError reports an extraction or filesystem failure in the staging area
type StagingError struct {
	AddonID string
	Op      string
	Err     error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s for %s: %v", e.Op, e.AddonID, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// LoadError reports an add-on module that failed to initialize
type LoadError struct {
	AddonID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.AddonID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// StoreUnavailableError reports an unreachable or failing remote catalog
type StoreUnavailableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *StoreUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("store unavailable: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// PersistenceError reports a failed persistent store operation
type PersistenceError struct {
	AddonID string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.AddonID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
