package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// MemoryStore is an in-memory install record store with failure injection
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*types.InstalledAddon

	// FailSave, FailDelete and FailSetEnabled make the matching call fail
	FailSave       error
	FailDelete     error
	FailSetEnabled error

	// BeforeDelete runs at the start of DeleteInstalledAddon, without the lock
	BeforeDelete func(addonID string)
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.InstalledAddon)}
}

// GetInstalledAddons returns all records in install order
func (s *MemoryStore) GetInstalledAddons(_ context.Context) ([]*types.InstalledAddon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.InstalledAddon, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstalledAt.Before(out[j].InstalledAt) })
	return out, nil
}

// GetInstalledAddon returns one record
func (s *MemoryStore) GetInstalledAddon(_ context.Context, addonID string) (*types.InstalledAddon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[addonID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotInstalled, addonID)
	}
	return r.Clone(), nil
}

// SaveInstalledAddon inserts or replaces a record
func (s *MemoryStore) SaveInstalledAddon(_ context.Context, addon *types.InstalledAddon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return &types.PersistenceError{AddonID: addon.ID(), Op: "save", Err: s.FailSave}
	}
	s.records[addon.ID()] = addon.Clone()
	return nil
}

// DeleteInstalledAddon removes a record; deleting a missing record is not an error
func (s *MemoryStore) DeleteInstalledAddon(_ context.Context, addonID string) error {
	if s.BeforeDelete != nil {
		s.BeforeDelete(addonID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "delete", Err: s.FailDelete}
	}
	delete(s.records, addonID)
	return nil
}

// SetEnabled updates the enabled flag
func (s *MemoryStore) SetEnabled(_ context.Context, addonID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSetEnabled != nil {
		return &types.PersistenceError{AddonID: addonID, Op: "set_enabled", Err: s.FailSetEnabled}
	}
	r, ok := s.records[addonID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotInstalled, addonID)
	}
	r.Enabled = enabled
	return nil
}

// Len returns the number of records
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// MockStore is a testify mock of the install record store
type MockStore struct {
	mock.Mock
}

// GetInstalledAddons mocks the GetInstalledAddons method.
func (m *MockStore) GetInstalledAddons(ctx context.Context) ([]*types.InstalledAddon, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.InstalledAddon), args.Error(1)
}

// GetInstalledAddon mocks the GetInstalledAddon method.
func (m *MockStore) GetInstalledAddon(ctx context.Context, addonID string) (*types.InstalledAddon, error) {
	args := m.Called(ctx, addonID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.InstalledAddon), args.Error(1)
}

// SaveInstalledAddon mocks the SaveInstalledAddon method.
func (m *MockStore) SaveInstalledAddon(ctx context.Context, addon *types.InstalledAddon) error {
	return m.Called(ctx, addon).Error(0)
}

// DeleteInstalledAddon mocks the DeleteInstalledAddon method.
func (m *MockStore) DeleteInstalledAddon(ctx context.Context, addonID string) error {
	return m.Called(ctx, addonID).Error(0)
}

// SetEnabled mocks the SetEnabled method.
func (m *MockStore) SetEnabled(ctx context.Context, addonID string, enabled bool) error {
	return m.Called(ctx, addonID, enabled).Error(0)
}
