package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/addonhost/backend/internal/testutil"
)

func writeSeed(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestSeedInstallsBundledPackages(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	writeSeed(t, dir, "fx-rates.zip", testutil.NewPackage("fx-rates").Zip(t))
	writeSeed(t, dir, "nested/net-worth.tar.gz", testutil.NewPackage("net-worth").TarGz(t))
	writeSeed(t, dir, "broken.zip", []byte("garbage"))
	writeSeed(t, dir, "README.md", []byte("ignored"))

	report, err := NewSeeder(f.pipeline, dir).Seed(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"fx-rates", "net-worth"}, report.Installed)
	assert.Contains(t, report.Failed, "broken.zip")
	assert.True(t, f.registry.IsLoaded("fx-rates"))
	assert.True(t, f.registry.IsLoaded("net-worth"))
	assert.Equal(t, 2, f.observer.count(OutcomeInstalled))
}

func TestSeedSkipsInstalledVersions(t *testing.T) {
	f := newFixture(t)
	f.install(t, testutil.NewPackage("fx-rates").WithVersion("2.0.0").Zip(t), true)

	dir := t.TempDir()
	writeSeed(t, dir, "fx-rates-old.zip", testutil.NewPackage("fx-rates").WithVersion("1.5.0").Zip(t))

	report, err := NewSeeder(f.pipeline, dir).Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fx-rates"}, report.Skipped)
	assert.Empty(t, report.Installed)

	rec, err := f.store.GetInstalledAddon(context.Background(), "fx-rates")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", rec.Manifest.Version)
}

func TestSeedUpgradesOlderInstall(t *testing.T) {
	f := newFixture(t)
	f.install(t, testutil.NewPackage("fx-rates").WithVersion("1.0.0").Zip(t), true)

	dir := t.TempDir()
	writeSeed(t, dir, "fx-rates.zip", testutil.NewPackage("fx-rates").WithVersion("1.1.0").Zip(t))

	report, err := NewSeeder(f.pipeline, dir).Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fx-rates"}, report.Installed)

	rec, err := f.store.GetInstalledAddon(context.Background(), "fx-rates")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", rec.Manifest.Version)
	assert.True(t, rec.Enabled)
}

func TestSeedKeepsUninstalledAddonsAway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeSeed(t, dir, "fx-rates.zip", testutil.NewPackage("fx-rates").Zip(t))

	report, err := NewSeeder(f.pipeline, dir).Seed(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"fx-rates"}, report.Installed)
	assert.FileExists(t, f.layout.SeedLedgerPath())

	require.NoError(t, f.pipeline.Uninstall(ctx, "fx-rates"))

	report, err = NewSeeder(f.pipeline, dir).Seed(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Installed)
	assert.Equal(t, []string{"fx-rates"}, report.Skipped)
	assert.Equal(t, 0, f.store.Len())
	assert.False(t, f.registry.IsLoaded("fx-rates"))
}

func TestSeedUpgradeKeepsDisabledState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.install(t, testutil.NewPackage("fx-rates").WithVersion("1.0.0").Zip(t), true)
	require.NoError(t, f.pipeline.Toggle(ctx, "fx-rates", false))

	dir := t.TempDir()
	writeSeed(t, dir, "fx-rates.zip", testutil.NewPackage("fx-rates").WithVersion("1.2.0").Zip(t))

	report, err := NewSeeder(f.pipeline, dir).Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fx-rates"}, report.Installed)

	rec, err := f.store.GetInstalledAddon(ctx, "fx-rates")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", rec.Manifest.Version)
	assert.False(t, rec.Enabled)
	assert.False(t, f.registry.IsLoaded("fx-rates"))
}

func TestSeedMissingDirectory(t *testing.T) {
	f := newFixture(t)
	report, err := NewSeeder(f.pipeline, filepath.Join(t.TempDir(), "absent")).Seed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Installed)
}

func TestNewer(t *testing.T) {
	assert.True(t, newer("1.1.0", "1.0.0"))
	assert.False(t, newer("1.0.0", "1.0.0"))
	assert.False(t, newer("0.9.0", "1.0.0"))
	assert.True(t, newer("1.0.0", "not-semver"))
}
