package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/inspector"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/utils"
)

// tempPrefix marks in-progress extractions; never a valid add-on id
const tempPrefix = ".tmp-"

// Area is the addon-scoped transient storage for packages pending consent.
// Every entry lives in <root>/<addon-id>; at most one entry exists per id.
type Area struct {
	root      string
	inspector *inspector.Inspector
	hasher    *utils.Hasher
	logger    *zap.Logger

	mu      sync.RWMutex
	entries map[string]*types.StagedAddon
}

// New creates a staging area rooted at root. Leftovers from a previous
// process are removed since staged entries never outlive the process.
func New(root string, insp *inspector.Inspector, logger *zap.Logger) (*Area, error) {
	if insp == nil {
		return nil, errors.New("staging area requires an inspector")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("failed to reset staging root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging root: %w", err)
	}
	return &Area{
		root:      filepath.Clean(root),
		inspector: insp,
		hasher:    utils.DefaultHasher(),
		logger:    logger,
		entries:   make(map[string]*types.StagedAddon),
	}, nil
}

// Root returns the staging root directory
func (a *Area) Root() string {
	return a.root
}

// Stage inspects data and extracts it under addonID, replacing any previous
// entry for that id. On failure nothing is left behind.
func (a *Area) Stage(ctx context.Context, addonID string, data []byte) (*types.StagedAddon, error) {
	if err := utils.ValidateAddonID(addonID); err != nil {
		return nil, &types.StagingError{AddonID: addonID, Op: "validate", Err: err}
	}

	pkg, err := a.inspector.Open(data)
	if err != nil {
		return nil, err
	}
	if pkg.Manifest.ID != addonID {
		return nil, &types.StagingError{
			AddonID: addonID,
			Op:      "verify",
			Err:     fmt.Errorf("package declares id %q", pkg.Manifest.ID),
		}
	}

	tmp, err := os.MkdirTemp(a.root, tempPrefix+addonID+"-")
	if err != nil {
		return nil, &types.StagingError{AddonID: addonID, Op: "mkdir", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	if err := extract(ctx, tmp, pkg.Archive); err != nil {
		return nil, &types.StagingError{AddonID: addonID, Op: "extract", Err: err}
	}
	files, err := inventory(ctx, tmp)
	if err != nil {
		return nil, &types.StagingError{AddonID: addonID, Op: "inventory", Err: err}
	}

	staged := &types.StagedAddon{
		AddonID:      addonID,
		Manifest:     pkg.Manifest,
		Capabilities: pkg.Capabilities,
		Dir:          a.entryDir(addonID),
		Files:        files,
		Digest:       a.hasher.Digest(data),
		StagedAt:     time.Now(),
		Data:         data,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Cancellation is honored up to the swap; after it the entry is complete
	if err := ctx.Err(); err != nil {
		return nil, &types.StagingError{AddonID: addonID, Op: "extract", Err: err}
	}
	if err := a.swap(tmp, staged.Dir); err != nil {
		return nil, &types.StagingError{AddonID: addonID, Op: "commit", Err: err}
	}
	committed = true
	a.entries[addonID] = staged

	a.logger.Info("Staged add-on",
		zap.String("addon_id", addonID),
		zap.String("version", pkg.Manifest.Version),
		zap.Int("files", len(files)))
	return cloneStaged(staged), nil
}

// swap atomically replaces dest with src. Caller holds a.mu.
func (a *Area) swap(src, dest string) error {
	var trash string
	if _, err := os.Lstat(dest); err == nil {
		trash = src + ".old"
		if err := os.Rename(dest, trash); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dest); err != nil {
		if trash != "" {
			os.Rename(trash, dest)
		}
		return err
	}
	if trash != "" {
		os.RemoveAll(trash)
	}
	return nil
}

// Get returns the staged entry for addonID
func (a *Area) Get(addonID string) (*types.StagedAddon, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	staged, ok := a.entries[addonID]
	if !ok {
		return nil, false
	}
	return cloneStaged(staged), true
}

// List returns every staged entry ordered by id
func (a *Area) List() []*types.StagedAddon {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*types.StagedAddon, 0, len(a.entries))
	for _, staged := range a.entries {
		out = append(out, cloneStaged(staged))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddonID < out[j].AddonID })
	return out
}

// Count returns the number of staged entries
func (a *Area) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Promote moves the staged files of addonID to dest and drops the entry
func (a *Area) Promote(addonID, dest string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	staged, ok := a.entries[addonID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotStaged, addonID)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &types.StagingError{AddonID: addonID, Op: "promote", Err: err}
	}
	if err := os.Rename(staged.Dir, dest); err != nil {
		return &types.StagingError{AddonID: addonID, Op: "promote", Err: err}
	}
	delete(a.entries, addonID)
	a.logger.Debug("Promoted staged add-on", zap.String("addon_id", addonID), zap.String("dest", dest))
	return nil
}

// Clear removes the staged entry for addonID. Clearing a missing entry is not an error.
func (a *Area) Clear(addonID string) error {
	if err := utils.ValidateAddonID(addonID); err != nil {
		return &types.StagingError{AddonID: addonID, Op: "validate", Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.entries, addonID)
	if err := os.RemoveAll(a.entryDir(addonID)); err != nil {
		return &types.StagingError{AddonID: addonID, Op: "clear", Err: err}
	}
	return nil
}

// ClearAll removes every staged entry
func (a *Area) ClearAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = make(map[string]*types.StagedAddon)
	dirents, err := os.ReadDir(a.root)
	if err != nil {
		return &types.StagingError{Op: "clear", Err: err}
	}
	var firstErr error
	for _, d := range dirents {
		// in-flight extractions remove their own temp dirs
		if strings.HasPrefix(d.Name(), tempPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.root, d.Name())); err != nil && firstErr == nil {
			firstErr = &types.StagingError{AddonID: d.Name(), Op: "clear", Err: err}
		}
	}
	return firstErr
}

func (a *Area) entryDir(addonID string) string {
	return filepath.Join(a.root, addonID)
}

// extract writes every archive file below dir
func extract(ctx context.Context, dir string, archive *inspector.Archive) error {
	for _, f := range archive.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !paths.Within(dir, dest) || dest == dir {
			return fmt.Errorf("illegal file path: %s", f.Name)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, f.Data, f.Mode|0o600); err != nil {
			return err
		}
	}
	return nil
}

// inventory lists the extracted files relative to dir, slash separated
func inventory(ctx context.Context, dir string) ([]string, error) {
	var (
		mu    sync.Mutex
		files []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		mu.Lock()
		files = append(files, filepath.ToSlash(rel))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func cloneStaged(s *types.StagedAddon) *types.StagedAddon {
	cp := *s
	cp.Files = append([]string(nil), s.Files...)
	cp.Capabilities = append([]types.Capability(nil), s.Capabilities...)
	return &cp
}
