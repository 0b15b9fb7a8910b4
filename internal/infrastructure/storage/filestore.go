package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/utils"
)

const recordExt = ".json"

// FileStore persists one JSON record per add-on id, cached in memory
type FileStore struct {
	dir     string
	records sync.Map // addon id -> *types.InstalledAddon
	writeMu sync.Mutex
	logger  *zap.Logger
}

// NewFileStore opens a store in dir, loading every existing record
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}
	s := &FileStore{dir: dir, logger: logger}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != recordExt {
			continue
		}
		addonID := strings.TrimSuffix(e.Name(), recordExt)
		rec, err := s.read(addonID)
		if err != nil {
			// one corrupt record must not hide the rest
			s.logger.Warn("Skipping unreadable install record", zap.String("addon_id", addonID), zap.Error(err))
			continue
		}
		s.records.Store(addonID, rec)
	}
	return nil
}

func (s *FileStore) read(addonID string) (*types.InstalledAddon, error) {
	data, err := os.ReadFile(s.recordPath(addonID))
	if err != nil {
		return nil, err
	}
	var rec types.InstalledAddon
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", addonID, err)
	}
	if rec.ID() != addonID {
		return nil, fmt.Errorf("record %s has mismatched id %q", addonID, rec.ID())
	}
	return &rec, nil
}

// GetInstalledAddons returns every record ordered by install time
func (s *FileStore) GetInstalledAddons(_ context.Context) ([]*types.InstalledAddon, error) {
	var out []*types.InstalledAddon
	s.records.Range(func(_, value interface{}) bool {
		out = append(out, value.(*types.InstalledAddon).Clone())
		return true
	})
	sortByInstallOrder(out)
	return out, nil
}

// GetInstalledAddon returns one record
func (s *FileStore) GetInstalledAddon(_ context.Context, addonID string) (*types.InstalledAddon, error) {
	value, ok := s.records.Load(addonID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotInstalled, addonID)
	}
	return value.(*types.InstalledAddon).Clone(), nil
}

// SaveInstalledAddon writes a record, replacing any previous one
func (s *FileStore) SaveInstalledAddon(_ context.Context, addon *types.InstalledAddon) error {
	addonID := addon.ID()
	if err := utils.ValidateAddonID(addonID); err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "save", Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := addon.Clone()
	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = time.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.InstalledAt
	}
	if err := s.write(rec); err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "save", Err: err}
	}
	s.records.Store(addonID, rec)
	return nil
}

// DeleteInstalledAddon removes a record; deleting a missing record is not an error
func (s *FileStore) DeleteInstalledAddon(_ context.Context, addonID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.Remove(s.recordPath(addonID)); err != nil && !os.IsNotExist(err) {
		return &types.PersistenceError{AddonID: addonID, Op: "delete", Err: err}
	}
	s.records.Delete(addonID)
	return nil
}

// SetEnabled updates the enabled flag of an existing record
func (s *FileStore) SetEnabled(_ context.Context, addonID string, enabled bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	value, ok := s.records.Load(addonID)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotInstalled, addonID)
	}
	rec := value.(*types.InstalledAddon).Clone()
	rec.Enabled = enabled
	rec.UpdatedAt = time.Now()
	if err := s.write(rec); err != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "set_enabled", Err: err}
	}
	s.records.Store(addonID, rec)
	return nil
}

// Stats returns record counts
func (s *FileStore) Stats() Stats {
	var stats Stats
	s.records.Range(func(_, value interface{}) bool {
		stats.Installed++
		if value.(*types.InstalledAddon).Enabled {
			stats.Enabled++
		}
		return true
	})
	return stats
}

// Close is a no-op; records are written synchronously
func (s *FileStore) Close() error {
	return nil
}

// write replaces the record file atomically
func (s *FileStore) write(rec *types.InstalledAddon) error {
	data, err := sonic.ConfigStd.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+rec.ID()+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.recordPath(rec.ID()))
}

func (s *FileStore) recordPath(addonID string) string {
	return filepath.Join(s.dir, addonID+recordExt)
}

func sortByInstallOrder(recs []*types.InstalledAddon) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].InstalledAt.Equal(recs[j].InstalledAt) {
			return recs[i].InstalledAt.Before(recs[j].InstalledAt)
		}
		return recs[i].ID() < recs[j].ID()
	})
}
