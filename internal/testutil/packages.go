// Package testutil provides testing utilities and helpers for backend tests.
package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pelletier/go-toml/v2"
)

// DefaultScript registers one sidebar item and one route and returns a teardown
const DefaultScript = `
exports.enable = function (ctx) {
  ctx.sidebar.addItem({ id: "main", label: ctx.manifest.name, route: "/addons/" + ctx.addonId });
  ctx.router.add({ path: "/addons/" + ctx.addonId, title: ctx.manifest.name });
  return function () {};
};
`

// PackageBuilder assembles add-on packages in memory
type PackageBuilder struct {
	manifest     map[string]interface{}
	format       string
	root         string
	omitManifest bool
	files        []packageFile
}

type packageFile struct {
	name string
	data []byte
}

// NewPackage starts a package with a valid manifest and the default script
func NewPackage(id string) *PackageBuilder {
	return &PackageBuilder{
		manifest: map[string]interface{}{
			"id":         id,
			"name":       "Addon " + id,
			"version":    "1.0.0",
			"main":       "index.js",
			"sdkVersion": "1.0.0",
		},
		format: "json",
		files:  []packageFile{{name: "index.js", data: []byte(DefaultScript)}},
	}
}

// WithVersion sets the manifest version
func (b *PackageBuilder) WithVersion(v string) *PackageBuilder {
	return b.WithField("version", v)
}

// WithField sets an arbitrary manifest field; a nil value removes it
func (b *PackageBuilder) WithField(key string, value interface{}) *PackageBuilder {
	if value == nil {
		delete(b.manifest, key)
		return b
	}
	b.manifest[key] = value
	return b
}

// WithPermission appends a permission declaration
func (b *PackageBuilder) WithPermission(category string, actions ...string) *PackageBuilder {
	perms, _ := b.manifest["permissions"].([]interface{})
	acts := make([]interface{}, len(actions))
	for i, a := range actions {
		acts[i] = a
	}
	perms = append(perms, map[string]interface{}{"category": category, "actions": acts})
	b.manifest["permissions"] = perms
	return b
}

// WithScript replaces the entry script
func (b *PackageBuilder) WithScript(src string) *PackageBuilder {
	main, _ := b.manifest["main"].(string)
	return b.WithFile(main, src)
}

// WithFile adds or replaces a file
func (b *PackageBuilder) WithFile(name, content string) *PackageBuilder {
	for i := range b.files {
		if b.files[i].name == name {
			b.files[i].data = []byte(content)
			return b
		}
	}
	b.files = append(b.files, packageFile{name: name, data: []byte(content)})
	return b
}

// WithManifestFormat selects json, yaml or toml
func (b *PackageBuilder) WithManifestFormat(format string) *PackageBuilder {
	b.format = format
	return b
}

// WithRoot nests every entry under a single top-level directory
func (b *PackageBuilder) WithRoot(dir string) *PackageBuilder {
	b.root = dir
	return b
}

// WithoutManifest omits the manifest file
func (b *PackageBuilder) WithoutManifest() *PackageBuilder {
	b.omitManifest = true
	return b
}

func (b *PackageBuilder) entries(t testing.TB) []packageFile {
	t.Helper()
	var out []packageFile
	if !b.omitManifest {
		var (
			data []byte
			err  error
			name string
		)
		switch b.format {
		case "yaml":
			name = "manifest.yaml"
			data, err = yaml.Marshal(b.manifest)
		case "toml":
			name = "manifest.toml"
			data, err = toml.Marshal(b.manifest)
		default:
			name = "manifest.json"
			data, err = sonic.Marshal(b.manifest)
		}
		if err != nil {
			t.Fatalf("encode manifest: %v", err)
		}
		out = append(out, packageFile{name: name, data: data})
	}
	out = append(out, b.files...)
	if b.root != "" {
		for i := range out {
			out[i].name = path.Join(b.root, out[i].name)
		}
	}
	return out
}

// Zip encodes the package as a zip archive
func (b *PackageBuilder) Zip(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range b.entries(t) {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			t.Fatalf("zip write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// Tar encodes the package as an uncompressed tar archive
func (b *PackageBuilder) Tar(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeTar(t, &buf, b.entries(t))
	return buf.Bytes()
}

// TarGz encodes the package as a gzip-compressed tar archive
func (b *PackageBuilder) TarGz(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	writeTar(t, gz, b.entries(t))
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// TarZst encodes the package as a zstd-compressed tar archive
func (b *PackageBuilder) TarZst(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	writeTar(t, zw, b.entries(t))
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func writeTar(t testing.TB, w io.Writer, files []packageFile) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, f := range files {
		hdr := &tar.Header{
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.data)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", f.name, err)
		}
		if _, err := tw.Write(f.data); err != nil {
			t.Fatalf("tar write %s: %v", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
}

// RawZip builds a zip from explicit entry names, bypassing the manifest helpers
func RawZip(t testing.TB, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		fmt.Fprint(w, content)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
