package inspector

import (
	"fmt"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// DefaultSDKConstraint is the add-on SDK range this host can run
const DefaultSDKConstraint = ">= 1.0.0, < 2.0.0"

// Config configures an Inspector
type Config struct {
	HostVersion   string
	SDKConstraint string
	Limits        Limits
}

// DefaultConfig returns the inspector defaults
func DefaultConfig() Config {
	return Config{
		HostVersion:   "1.0.0",
		SDKConstraint: DefaultSDKConstraint,
		Limits:        DefaultLimits(),
	}
}

// Package is a fully inspected package: its manifest plus decoded contents
type Package struct {
	Manifest     *types.AddonManifest
	Capabilities []types.Capability
	Archive      *Archive
	ManifestFile string
}

// Inspector parses and validates add-on packages. It never touches disk.
type Inspector struct {
	host   *semver.Version
	sdk    *semver.Constraints
	limits Limits
	logger *zap.Logger
}

// New creates an inspector
func New(cfg Config, logger *zap.Logger) (*Inspector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	host, err := semver.NewVersion(cfg.HostVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid host version %q: %w", cfg.HostVersion, err)
	}
	constraint := cfg.SDKConstraint
	if constraint == "" {
		constraint = DefaultSDKConstraint
	}
	sdk, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid sdk constraint %q: %w", constraint, err)
	}
	if _, err := getSchema(); err != nil {
		return nil, err
	}
	return &Inspector{host: host, sdk: sdk, limits: cfg.Limits, logger: logger}, nil
}

// Inspect parses data into a manifest
func (i *Inspector) Inspect(data []byte) (*types.AddonManifest, error) {
	pkg, err := i.Open(data)
	if err != nil {
		return nil, err
	}
	return pkg.Manifest, nil
}

// Open parses data and returns the manifest together with the package files
func (i *Inspector) Open(data []byte) (*Package, error) {
	archive, err := ReadArchive(data, i.limits)
	if err != nil {
		return nil, err
	}

	var manifestFile File
	found := false
	for _, name := range ManifestNames {
		if manifestFile, found = archive.Lookup(name); found {
			break
		}
	}
	if !found {
		return nil, types.NewPackageError(types.Malformed, "manifest not found", nil)
	}

	manifest, err := decodeManifest(manifestFile.Name, manifestFile.Data)
	if err != nil {
		return nil, err
	}
	if err := i.checkVersions(manifest); err != nil {
		return nil, err
	}
	entry, ok := cleanEntry(manifest.Main)
	if !ok {
		return nil, &types.PackageError{
			Kind:   types.InvalidManifest,
			Reason: "entry point escapes package",
			Issues: []string{"/main: " + manifest.Main},
		}
	}
	manifest.Main = entry
	if _, ok := archive.Lookup(manifest.Main); !ok {
		return nil, &types.PackageError{
			Kind:   types.InvalidManifest,
			Reason: "entry point missing from package",
			Issues: []string{"/main: " + manifest.Main + " not found"},
		}
	}

	caps := manifest.Capabilities()
	i.logger.Debug("Inspected add-on package",
		zap.String("addon_id", manifest.ID),
		zap.String("version", manifest.Version),
		zap.String("format", string(archive.Format)),
		zap.Int("files", len(archive.Files)),
		zap.Int("capabilities", len(caps)))

	return &Package{
		Manifest:     manifest,
		Capabilities: caps,
		Archive:      archive,
		ManifestFile: manifestFile.Name,
	}, nil
}

// Walk visits every package file in archive order, skipping junk entries.
// Iteration stops at the first error returned by fn.
func (i *Inspector) Walk(data []byte, fn func(File) error) error {
	archive, err := ReadArchive(data, i.limits)
	if err != nil {
		return err
	}
	for _, f := range archive.Files {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// cleanEntry normalizes a package-relative entry path such as "./index.js"
func cleanEntry(main string) (string, bool) {
	cleaned := path.Clean(strings.ReplaceAll(main, "\\", "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return "", false
	}
	return cleaned, true
}

func (i *Inspector) checkVersions(m *types.AddonManifest) error {
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return &types.PackageError{
			Kind:   types.InvalidManifest,
			Reason: "version is not semver",
			Issues: []string{"/version: " + m.Version},
			Err:    err,
		}
	}

	if m.SDKVersion != "" {
		sdk, err := semver.NewVersion(m.SDKVersion)
		if err != nil {
			return &types.PackageError{
				Kind:   types.InvalidManifest,
				Reason: "sdkVersion is not semver",
				Issues: []string{"/sdkVersion: " + m.SDKVersion},
				Err:    err,
			}
		}
		if !i.sdk.Check(sdk) {
			return types.NewPackageError(types.UnsupportedVersion,
				fmt.Sprintf("sdk %s outside supported range %s", sdk, i.sdk), nil)
		}
	}

	if m.MinHostVersion != "" {
		minHost, err := semver.NewVersion(m.MinHostVersion)
		if err != nil {
			return &types.PackageError{
				Kind:   types.InvalidManifest,
				Reason: "minHostVersion is not semver",
				Issues: []string{"/minHostVersion: " + m.MinHostVersion},
				Err:    err,
			}
		}
		if i.host.LessThan(minHost) {
			return types.NewPackageError(types.UnsupportedVersion,
				fmt.Sprintf("requires host %s, running %s", minHost, i.host), nil)
		}
	}
	return nil
}
