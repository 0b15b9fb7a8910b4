package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/storage/sqlite"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Driver selects the persistent store implementation
type Driver string

const (
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
)

// Store is the durable table of installed add-ons keyed by add-on id
type Store interface {
	GetInstalledAddons(ctx context.Context) ([]*types.InstalledAddon, error)
	GetInstalledAddon(ctx context.Context, addonID string) (*types.InstalledAddon, error)
	SaveInstalledAddon(ctx context.Context, addon *types.InstalledAddon) error
	DeleteInstalledAddon(ctx context.Context, addonID string) error
	SetEnabled(ctx context.Context, addonID string, enabled bool) error
	Close() error
}

// Stats summarizes stored records
type Stats struct {
	Installed int `json:"installed"`
	Enabled   int `json:"enabled"`
}

// Open opens the store selected by driver under layout
func Open(driver Driver, layout paths.Layout, logger *zap.Logger) (Store, error) {
	switch driver {
	case DriverFile, "":
		return NewFileStore(layout.RecordsDir(), logger)
	case DriverSQLite:
		return sqlite.Open(layout.DatabasePath())
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
