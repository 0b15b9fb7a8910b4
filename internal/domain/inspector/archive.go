package inspector

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Format is a supported package archive format
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
)

// Limits bounds what a package may contain
type Limits struct {
	MaxPackageSize int64 // compressed bytes
	MaxExpanded    int64 // sum of uncompressed file sizes
	MaxEntries     int
}

// DefaultLimits returns limits suitable for UI add-ons
func DefaultLimits() Limits {
	return Limits{
		MaxPackageSize: 32 << 20,
		MaxExpanded:    128 << 20,
		MaxEntries:     4096,
	}
}

// IgnorePatterns match archive entries dropped on read
var IgnorePatterns = []string{
	"__MACOSX/**",
	"**/.DS_Store",
	"**/Thumbs.db",
}

func ignored(name string) bool {
	for _, pattern := range IgnorePatterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// File is a regular file read from a package
type File struct {
	Name string
	Mode fs.FileMode
	Data []byte
}

// Archive is the in-memory view of a package
type Archive struct {
	Format Format
	Root   string // top-level directory stripped from every name, if any
	Files  []File
}

// Lookup returns the file with the given root-relative name
func (a *Archive) Lookup(name string) (File, bool) {
	for _, f := range a.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

// Names lists root-relative file names in archive order
func (a *Archive) Names() []string {
	names := make([]string, len(a.Files))
	for i, f := range a.Files {
		names[i] = f.Name
	}
	return names
}

// DetectFormat sniffs the archive format from content
func DetectFormat(data []byte) (Format, error) {
	mt := mimetype.Detect(data)
	// zip-derived types (jar, docx) report zip as a parent
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return FormatZip, nil
		case m.Is("application/gzip"):
			return FormatTarGz, nil
		case m.Is("application/zstd"):
			return FormatTarZst, nil
		case m.Is("application/x-tar"):
			return FormatTar, nil
		}
	}
	return "", types.NewPackageError(types.Malformed,
		fmt.Sprintf("unsupported archive type %s", mt.String()), nil)
}

// ReadArchive decodes every regular file of a package into memory
func ReadArchive(data []byte, limits Limits) (*Archive, error) {
	if len(data) == 0 {
		return nil, types.NewPackageError(types.Malformed, "empty package", nil)
	}
	if limits.MaxPackageSize > 0 && int64(len(data)) > limits.MaxPackageSize {
		return nil, types.NewPackageError(types.Malformed,
			fmt.Sprintf("package is %d bytes, limit is %d", len(data), limits.MaxPackageSize), nil)
	}

	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}

	r := &reader{limits: limits}
	switch format {
	case FormatZip:
		err = r.readZip(data)
	case FormatTar:
		err = r.readTar(bytes.NewReader(data))
	case FormatTarGz:
		var gz *gzip.Reader
		gz, err = gzip.NewReader(bytes.NewReader(data))
		if err == nil {
			defer gz.Close()
			err = r.readTar(gz)
		}
	case FormatTarZst:
		var zr *zstd.Decoder
		zr, err = zstd.NewReader(bytes.NewReader(data))
		if err == nil {
			defer zr.Close()
			err = r.readTar(zr)
		}
	}
	if err != nil {
		var pe *types.PackageError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, types.NewPackageError(types.Malformed, "corrupt "+string(format)+" archive", err)
	}
	if len(r.files) == 0 {
		return nil, types.NewPackageError(types.Malformed, "archive contains no files", nil)
	}

	root := commonRoot(r.files)
	if root != "" {
		for i := range r.files {
			r.files[i].Name = strings.TrimPrefix(r.files[i].Name, root+"/")
		}
	}
	return &Archive{Format: format, Root: root, Files: r.files}, nil
}

type reader struct {
	limits   Limits
	files    []File
	expanded int64
	entries  int
}

func (r *reader) readZip(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := r.count(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if !f.Mode().IsRegular() {
			return types.NewPackageError(types.Malformed,
				fmt.Sprintf("entry %q is not a regular file", f.Name), nil)
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = r.add(f.Name, f.Mode(), rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) readTar(src io.Reader) error {
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.count(); err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir, tar.TypeXGlobalHeader:
			continue
		case tar.TypeReg:
			if err := r.add(hdr.Name, hdr.FileInfo().Mode(), tr); err != nil {
				return err
			}
		default:
			return types.NewPackageError(types.Malformed,
				fmt.Sprintf("entry %q is not a regular file", hdr.Name), nil)
		}
	}
}

func (r *reader) count() error {
	r.entries++
	if r.limits.MaxEntries > 0 && r.entries > r.limits.MaxEntries {
		return types.NewPackageError(types.Malformed,
			fmt.Sprintf("archive has more than %d entries", r.limits.MaxEntries), nil)
	}
	return nil
}

func (r *reader) add(name string, mode fs.FileMode, src io.Reader) error {
	clean, err := cleanEntryName(name)
	if err != nil {
		return err
	}
	if ignored(clean) {
		return nil
	}

	limit := int64(-1)
	if r.limits.MaxExpanded > 0 {
		limit = r.limits.MaxExpanded - r.expanded
	}
	var data []byte
	if limit >= 0 {
		data, err = io.ReadAll(io.LimitReader(src, limit+1))
		if err == nil && int64(len(data)) > limit {
			return types.NewPackageError(types.Malformed,
				fmt.Sprintf("archive expands beyond %d bytes", r.limits.MaxExpanded), nil)
		}
	} else {
		data, err = io.ReadAll(src)
	}
	if err != nil {
		return err
	}
	r.expanded += int64(len(data))
	r.files = append(r.files, File{Name: clean, Mode: mode.Perm(), Data: data})
	return nil
}

// cleanEntryName rejects names that would escape the extraction root
func cleanEntryName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || path.IsAbs(name) {
		return "", types.NewPackageError(types.Malformed,
			fmt.Sprintf("absolute entry name %q", name), nil)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", types.NewPackageError(types.Malformed,
			fmt.Sprintf("entry %q escapes package root", name), nil)
	}
	return clean, nil
}

// commonRoot returns the single top-level directory shared by every file
// when no manifest sits at the archive root
func commonRoot(files []File) string {
	for _, f := range files {
		if isManifestName(f.Name) {
			return ""
		}
	}
	root := ""
	for _, f := range files {
		dir, _, ok := strings.Cut(f.Name, "/")
		if !ok {
			return ""
		}
		if root == "" {
			root = dir
		} else if root != dir {
			return ""
		}
	}
	return root
}
