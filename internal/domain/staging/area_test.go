package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/inspector"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/testutil"
)

func newArea(t *testing.T) *Area {
	t.Helper()
	insp, err := inspector.New(inspector.DefaultConfig(), nil)
	require.NoError(t, err)
	area, err := New(filepath.Join(t.TempDir(), "staging"), insp, nil)
	require.NoError(t, err)
	return area
}

func entriesOnDisk(t *testing.T, a *Area) []string {
	t.Helper()
	dirents, err := os.ReadDir(a.Root())
	require.NoError(t, err)
	var names []string
	for _, d := range dirents {
		names = append(names, d.Name())
	}
	return names
}

func TestStage(t *testing.T) {
	a := newArea(t)
	data := testutil.NewPackage("budget-lens").
		WithPermission("portfolio", "read").
		WithFile("assets/logo.svg", "<svg/>").
		Zip(t)

	staged, err := a.Stage(context.Background(), "budget-lens", data)
	require.NoError(t, err)

	assert.Equal(t, "budget-lens", staged.AddonID)
	assert.Equal(t, filepath.Join(a.Root(), "budget-lens"), staged.Dir)
	assert.Equal(t, []string{"assets/logo.svg", "index.js", "manifest.json"}, staged.Files)
	assert.Equal(t, data, staged.Data)
	assert.Contains(t, staged.Digest, "blake2b:")
	assert.Len(t, staged.Capabilities, 1)

	content, err := os.ReadFile(filepath.Join(staged.Dir, "assets", "logo.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(content))

	got, ok := a.Get("budget-lens")
	require.True(t, ok)
	assert.Equal(t, staged.Digest, got.Digest)
}

func TestStageTwiceKeepsSecond(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	_, err := a.Stage(ctx, "fx", testutil.NewPackage("fx").WithFile("old.txt", "1").Zip(t))
	require.NoError(t, err)
	second, err := a.Stage(ctx, "fx", testutil.NewPackage("fx").WithVersion("2.0.0").Zip(t))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Count())
	assert.Equal(t, []string{"fx"}, entriesOnDisk(t, a))

	got, ok := a.Get("fx")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", got.Manifest.Version)
	assert.Equal(t, second.Files, got.Files)
	assert.NoFileExists(t, filepath.Join(got.Dir, "old.txt"))

	require.NoError(t, a.Clear("fx"))
	assert.Equal(t, 0, a.Count())
	assert.Empty(t, entriesOnDisk(t, a))
}

func TestClearIdempotent(t *testing.T) {
	a := newArea(t)

	assert.NoError(t, a.Clear("never-staged"))
	assert.NoError(t, a.Clear("never-staged"))
	assert.NoError(t, a.ClearAll())
}

func TestClearAll(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()
	for _, id := range []string{"one", "two", "three"} {
		_, err := a.Stage(ctx, id, testutil.NewPackage(id).Zip(t))
		require.NoError(t, err)
	}
	assert.Len(t, a.List(), 3)

	require.NoError(t, a.ClearAll())
	assert.Empty(t, a.List())
	assert.Empty(t, entriesOnDisk(t, a))
}

func TestStageIsolation(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	_, err := a.Stage(ctx, "alpha", testutil.NewPackage("alpha").Zip(t))
	require.NoError(t, err)
	_, err = a.Stage(ctx, "beta", testutil.NewPackage("beta").Zip(t))
	require.NoError(t, err)

	require.NoError(t, a.Clear("beta"))

	alpha, ok := a.Get("alpha")
	require.True(t, ok)
	assert.DirExists(t, alpha.Dir)
	assert.Equal(t, []string{"alpha"}, entriesOnDisk(t, a))
}

func TestStageFailureLeavesAreaClean(t *testing.T) {
	a := newArea(t)
	ctx := context.Background()

	_, err := a.Stage(ctx, "keep", testutil.NewPackage("keep").Zip(t))
	require.NoError(t, err)

	tests := []struct {
		name  string
		id    string
		data  []byte
		check func(t *testing.T, err error)
	}{
		{
			name: "malformed package",
			id:   "keep",
			data: []byte("garbage"),
			check: func(t *testing.T, err error) {
				assert.True(t, types.IsPackageKind(err, types.Malformed))
			},
		},
		{
			name: "id mismatch",
			id:   "other",
			data: testutil.NewPackage("keep").Zip(t),
			check: func(t *testing.T, err error) {
				var se *types.StagingError
				assert.ErrorAs(t, err, &se)
			},
		},
		{
			name: "invalid id",
			id:   "../escape",
			data: testutil.NewPackage("keep").Zip(t),
			check: func(t *testing.T, err error) {
				var se *types.StagingError
				assert.ErrorAs(t, err, &se)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Stage(ctx, tt.id, tt.data)
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, []string{"keep"}, entriesOnDisk(t, a))
			kept, ok := a.Get("keep")
			require.True(t, ok)
			assert.Equal(t, "1.0.0", kept.Manifest.Version)
		})
	}
}

func TestStageCancelled(t *testing.T) {
	a := newArea(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Stage(ctx, "late", testutil.NewPackage("late").Zip(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.Count())
	assert.Empty(t, entriesOnDisk(t, a))
}

func TestPromote(t *testing.T) {
	a := newArea(t)
	_, err := a.Stage(context.Background(), "fx", testutil.NewPackage("fx").Zip(t))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "installed", "fx")
	require.NoError(t, a.Promote("fx", dest))

	assert.FileExists(t, filepath.Join(dest, "index.js"))
	_, ok := a.Get("fx")
	assert.False(t, ok)

	err = a.Promote("fx", dest)
	assert.ErrorIs(t, err, types.ErrNotStaged)
}

func TestNewRemovesLeftovers(t *testing.T) {
	root := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stale"), 0o755))

	insp, err := inspector.New(inspector.DefaultConfig(), nil)
	require.NoError(t, err)
	a, err := New(root, insp, nil)
	require.NoError(t, err)

	assert.Empty(t, entriesOnDisk(t, a))
}
