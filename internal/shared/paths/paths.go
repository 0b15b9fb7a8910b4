package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Subdirectories of the add-on data root
const (
	Staging    = "staging"
	Installed  = "installed"
	Records    = "records"
	Backups    = "backups"
	Database   = "addons.db"
	SeedLedger = "seeded.json"
)

// Layout resolves every on-disk location under a single data root
type Layout struct {
	Root string
}

// New returns the layout rooted at dir
func New(dir string) Layout {
	return Layout{Root: filepath.Clean(dir)}
}

// StagingDir holds extracted packages awaiting consent
func (l Layout) StagingDir() string {
	return filepath.Join(l.Root, Staging)
}

// InstalledDir holds promoted add-on files
func (l Layout) InstalledDir() string {
	return filepath.Join(l.Root, Installed)
}

// RecordsDir holds JSON install records for the file store
func (l Layout) RecordsDir() string {
	return filepath.Join(l.Root, Records)
}

// BackupsDir holds the previous version during an update
func (l Layout) BackupsDir() string {
	return filepath.Join(l.Root, Backups)
}

// DatabasePath is the sqlite store location
func (l Layout) DatabasePath() string {
	return filepath.Join(l.Root, Database)
}

// SeedLedgerPath lists the bundled add-ons seeded so far
func (l Layout) SeedLedgerPath() string {
	return filepath.Join(l.Root, SeedLedger)
}

// AddonDir returns the install directory of an add-on
func (l Layout) AddonDir(addonID string) string {
	return filepath.Join(l.InstalledDir(), addonID)
}

// StandardDirectories returns all directories that should exist
func (l Layout) StandardDirectories() []string {
	return []string{
		l.StagingDir(),
		l.InstalledDir(),
		l.RecordsDir(),
		l.BackupsDir(),
	}
}

// Ensure creates every standard directory
func (l Layout) Ensure() error {
	for _, dir := range l.StandardDirectories() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Within reports whether path resolves inside base
func Within(base, path string) bool {
	base = filepath.Clean(base)
	path = filepath.Clean(path)
	return path == base || strings.HasPrefix(path, base+string(os.PathSeparator))
}
