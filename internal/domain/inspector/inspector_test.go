package inspector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/testutil"
)

func newInspector(t *testing.T) *Inspector {
	t.Helper()
	insp, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	return insp
}

func TestInspectFormats(t *testing.T) {
	pkg := testutil.NewPackage("budget-lens").
		WithPermission("accounts", "read").
		WithPermission("ui", "sidebar", "route")

	tests := []struct {
		name   string
		data   []byte
		format Format
	}{
		{"zip", pkg.Zip(t), FormatZip},
		{"tar", pkg.Tar(t), FormatTar},
		{"tar.gz", pkg.TarGz(t), FormatTarGz},
		{"tar.zst", pkg.TarZst(t), FormatTarZst},
	}

	insp := newInspector(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened, err := insp.Open(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.format, opened.Archive.Format)
			assert.Equal(t, "budget-lens", opened.Manifest.ID)
			assert.Equal(t, "1.0.0", opened.Manifest.Version)
			assert.Equal(t, "index.js", opened.Manifest.Main)
			assert.Equal(t, []types.Capability{
				{Category: types.CategoryAccounts, Action: "read"},
				{Category: types.CategoryUI, Action: "sidebar"},
				{Category: types.CategoryUI, Action: "route"},
			}, opened.Capabilities)
		})
	}
}

func TestInspectManifestFormats(t *testing.T) {
	insp := newInspector(t)
	for _, format := range []string{"json", "yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			data := testutil.NewPackage("fx-rates").
				WithManifestFormat(format).
				WithPermission("market-data", "read").
				Zip(t)

			m, err := insp.Inspect(data)
			require.NoError(t, err)
			assert.Equal(t, "fx-rates", m.ID)
			assert.Equal(t, []types.Capability{{Category: types.CategoryMarketData, Action: "read"}}, m.Capabilities())
		})
	}
}

func TestInspectCapabilitiesVerbatim(t *testing.T) {
	data := testutil.NewPackage("dup").
		WithPermission("files", "read").
		WithPermission("files", "read").
		Zip(t)

	m, err := newInspector(t).Inspect(data)
	require.NoError(t, err)
	assert.Len(t, m.Capabilities(), 2)
}

func TestInspectNestedRoot(t *testing.T) {
	data := testutil.NewPackage("nested").WithRoot("nested-1.0.0").WithFile("assets/icon.svg", "<svg/>").TarGz(t)

	opened, err := newInspector(t).Open(data)
	require.NoError(t, err)
	assert.Equal(t, "nested-1.0.0", opened.Archive.Root)
	assert.ElementsMatch(t, []string{"manifest.json", "index.js", "assets/icon.svg"}, opened.Archive.Names())
}

func TestInspectIgnoresJunk(t *testing.T) {
	data := testutil.NewPackage("junk").
		WithFile(".DS_Store", "x").
		WithFile("__MACOSX/._index.js", "x").
		Zip(t)

	opened, err := newInspector(t).Open(data)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"manifest.json", "index.js"}, opened.Archive.Names())
}

func TestInspectNormalizesEntryPoint(t *testing.T) {
	for _, main := range []string{"./index.js", "lib/../index.js", "./lib/../index.js"} {
		t.Run(main, func(t *testing.T) {
			m, err := newInspector(t).Inspect(testutil.NewPackage("dotted").WithField("main", main).Zip(t))
			require.NoError(t, err)
			assert.Equal(t, "index.js", m.Main)
		})
	}

	_, err := newInspector(t).Inspect(testutil.NewPackage("escape").WithField("main", "../index.js").Zip(t))
	assert.True(t, types.IsPackageKind(err, types.InvalidManifest))
}

func TestInspectErrors(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
		kind types.PackageErrorKind
	}{
		{
			name: "not an archive",
			data: func(t *testing.T) []byte { return []byte("just some text, definitely not a zip") },
			kind: types.Malformed,
		},
		{
			name: "empty",
			data: func(t *testing.T) []byte { return nil },
			kind: types.Malformed,
		},
		{
			name: "missing manifest",
			data: func(t *testing.T) []byte { return testutil.NewPackage("x1").WithoutManifest().Zip(t) },
			kind: types.Malformed,
		},
		{
			name: "path traversal",
			data: func(t *testing.T) []byte {
				return testutil.RawZip(t, map[string]string{"../evil.js": "x", "manifest.json": "{}"})
			},
			kind: types.Malformed,
		},
		{
			name: "missing name",
			data: func(t *testing.T) []byte { return testutil.NewPackage("x2").WithField("name", nil).Zip(t) },
			kind: types.InvalidManifest,
		},
		{
			name: "unknown category",
			data: func(t *testing.T) []byte {
				return testutil.NewPackage("x3").WithPermission("crypto-wallet", "read").Zip(t)
			},
			kind: types.InvalidManifest,
		},
		{
			name: "empty actions",
			data: func(t *testing.T) []byte { return testutil.NewPackage("x4").WithPermission("ui").Zip(t) },
			kind: types.InvalidManifest,
		},
		{
			name: "bad version",
			data: func(t *testing.T) []byte { return testutil.NewPackage("x5").WithVersion("one").Zip(t) },
			kind: types.InvalidManifest,
		},
		{
			name: "entry point missing",
			data: func(t *testing.T) []byte { return testutil.NewPackage("x6").WithField("main", "app.js").Zip(t) },
			kind: types.InvalidManifest,
		},
		{
			name: "unparseable manifest",
			data: func(t *testing.T) []byte {
				return testutil.RawZip(t, map[string]string{"manifest.json": "{not json", "index.js": ""})
			},
			kind: types.InvalidManifest,
		},
		{
			name: "sdk too new",
			data: func(t *testing.T) []byte { return testutil.NewPackage("x7").WithField("sdkVersion", "2.1.0").Zip(t) },
			kind: types.UnsupportedVersion,
		},
		{
			name: "host too old",
			data: func(t *testing.T) []byte {
				return testutil.NewPackage("x8").WithField("minHostVersion", "9.0.0").Zip(t)
			},
			kind: types.UnsupportedVersion,
		},
	}

	insp := newInspector(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := insp.Inspect(tt.data(t))
			require.Error(t, err)
			var pe *types.PackageError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind, pe.Error())
		})
	}
}

func TestInspectSchemaIssues(t *testing.T) {
	data := testutil.NewPackage("x9").WithField("name", nil).WithPermission("nope", "read").Zip(t)

	_, err := newInspector(t).Inspect(data)
	var pe *types.PackageError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, pe.Issues)
}

func TestInspectLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxPackageSize = 64
	insp, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = insp.Inspect(testutil.NewPackage("big").Zip(t))
	assert.True(t, types.IsPackageKind(err, types.Malformed))

	cfg = DefaultConfig()
	cfg.Limits.MaxExpanded = 16
	insp, err = New(cfg, nil)
	require.NoError(t, err)

	_, err = insp.Inspect(testutil.NewPackage("wide").Zip(t))
	assert.True(t, types.IsPackageKind(err, types.Malformed))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HostVersion = "not-a-version"
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.SDKConstraint = ">>> 1"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestWalk(t *testing.T) {
	data := testutil.NewPackage("walker").
		WithFile("assets/icon.svg", "<svg/>").
		WithFile("__MACOSX/._index.js", "junk").
		Zip(t)

	var names []string
	err := newInspector(t).Walk(data, func(f File) error {
		names = append(names, f.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, names, "index.js")
	assert.Contains(t, names, "assets/icon.svg")
	assert.NotContains(t, names, "__MACOSX/._index.js")
}

func TestWalkStopsOnError(t *testing.T) {
	data := testutil.NewPackage("walker").WithFile("a.txt", "a").Zip(t)
	stop := assert.AnError
	visited := 0
	err := newInspector(t).Walk(data, func(File) error {
		visited++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, visited)
}

func TestWalkRejectsGarbage(t *testing.T) {
	err := newInspector(t).Walk([]byte("plain text"), func(File) error { return nil })
	assert.True(t, types.IsPackageKind(err, types.Malformed))
}
