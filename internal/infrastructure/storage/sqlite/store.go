// Package sqlite provides a SQLite-backed install record store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/storage/sqlite/migrations"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Store persists install records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const selectColumns = `addon_id, manifest_json, capabilities_json, enabled, digest, source, dir, installed_at, updated_at`

// GetInstalledAddons returns every record ordered by install time.
func (s *Store) GetInstalledAddons(ctx context.Context) ([]*types.InstalledAddon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM installed_addons ORDER BY installed_at, addon_id`)
	if err != nil {
		return nil, fmt.Errorf("list installed addons: %w", err)
	}
	defer rows.Close()

	var out []*types.InstalledAddon
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate installed addons: %w", err)
	}
	return out, nil
}

// GetInstalledAddon returns one record by add-on id.
func (s *Store) GetInstalledAddon(ctx context.Context, addonID string) (*types.InstalledAddon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM installed_addons WHERE addon_id = ?`, addonID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotInstalled, addonID)
	}
	return rec, err
}

// SaveInstalledAddon inserts or replaces one record.
func (s *Store) SaveInstalledAddon(ctx context.Context, addon *types.InstalledAddon) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addonID := addon.ID()
	if addonID == "" {
		return &types.PersistenceError{Op: "save", Err: fmt.Errorf("addon id is required")}
	}
	manifestJSON, err := sonic.MarshalString(addon.Manifest)
	if err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "save", Err: err}
	}
	caps := addon.ApprovedCapabilities
	if caps == nil {
		caps = []types.Capability{}
	}
	capsJSON, err := sonic.MarshalString(caps)
	if err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "save", Err: err}
	}

	installedAt := addon.InstalledAt
	if installedAt.IsZero() {
		installedAt = time.Now()
	}
	updatedAt := addon.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = installedAt
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO installed_addons (
		   addon_id, version, manifest_json, capabilities_json, enabled,
		   digest, source, dir, installed_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(addon_id) DO UPDATE SET
		   version = excluded.version,
		   manifest_json = excluded.manifest_json,
		   capabilities_json = excluded.capabilities_json,
		   enabled = excluded.enabled,
		   digest = excluded.digest,
		   source = excluded.source,
		   dir = excluded.dir,
		   installed_at = excluded.installed_at,
		   updated_at = excluded.updated_at`,
		addonID,
		addon.Manifest.Version,
		manifestJSON,
		capsJSON,
		boolToInt(addon.Enabled),
		addon.Digest,
		string(addon.Source),
		addon.Dir,
		toMillis(installedAt),
		toMillis(updatedAt),
	)
	if err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "save", Err: err}
	}
	return nil
}

// DeleteInstalledAddon removes one record; missing records are ignored.
func (s *Store) DeleteInstalledAddon(ctx context.Context, addonID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM installed_addons WHERE addon_id = ?`, addonID); err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "delete", Err: err}
	}
	return nil
}

// SetEnabled updates the enabled flag of an existing record.
func (s *Store) SetEnabled(ctx context.Context, addonID string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE installed_addons SET enabled = ?, updated_at = ? WHERE addon_id = ?`,
		boolToInt(enabled), toMillis(time.Now()), addonID)
	if err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "set_enabled", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "set_enabled", Err: err}
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotInstalled, addonID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.InstalledAddon, error) {
	var (
		addonID      string
		manifestJSON string
		capsJSON     string
		enabled      int64
		digest       string
		source       string
		dir          string
		installedAt  int64
		updatedAt    int64
	)
	if err := row.Scan(&addonID, &manifestJSON, &capsJSON, &enabled, &digest, &source, &dir, &installedAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan installed addon: %w", err)
	}
	var manifest types.AddonManifest
	if err := sonic.UnmarshalString(manifestJSON, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", addonID, err)
	}
	var caps []types.Capability
	if err := sonic.UnmarshalString(capsJSON, &caps); err != nil {
		return nil, fmt.Errorf("decode capabilities for %s: %w", addonID, err)
	}
	return &types.InstalledAddon{
		Manifest:             &manifest,
		ApprovedCapabilities: caps,
		Enabled:              enabled != 0,
		InstalledAt:          fromMillis(installedAt),
		UpdatedAt:            fromMillis(updatedAt),
		Digest:               digest,
		Source:               types.Source(source),
		Dir:                  dir,
	}, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
