package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// seedPattern matches every archive format the inspector accepts
const seedPattern = "**/*.{zip,tar,tgz,tar.gz,tar.zst}"

// SeedReport collects the outcome of Seed
type SeedReport struct {
	Installed []string
	Skipped   []string
	Failed    map[string]error
}

// Seeder installs the add-on packages bundled with the host. Bundled
// packages ship with the host, so they are approved without a prompt.
// Every seeded id is remembered in a ledger so an add-on the user
// uninstalled is not brought back.
type Seeder struct {
	pipeline *Pipeline
	dir      string
	ledger   string
}

// NewSeeder creates a seeder for the packages under dir
func NewSeeder(p *Pipeline, dir string) *Seeder {
	return &Seeder{pipeline: p, dir: dir, ledger: p.layout.SeedLedgerPath()}
}

// Seed installs every bundled package that was never seeded before, and
// upgrades installed ones to a newer bundled version while keeping the
// user's enabled choice. A missing directory is not an error. Failures are
// collected per file and never stop the others.
func (s *Seeder) Seed(ctx context.Context) (*SeedReport, error) {
	report := &SeedReport{Failed: make(map[string]error)}
	logger := s.pipeline.logger

	if _, err := os.Stat(s.dir); errors.Is(err, os.ErrNotExist) {
		logger.Warn("Seed directory not found", zap.String("dir", s.dir))
		return report, nil
	}

	seeded, err := s.readLedger()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.writeLedger(seeded); err != nil {
			logger.Warn("Failed to write seed ledger", zap.String("path", s.ledger), zap.Error(err))
		}
	}()

	matches, err := doublestar.Glob(os.DirFS(s.dir), seedPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list seed packages: %w", err)
	}
	sort.Strings(matches)

	for _, name := range matches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		addonID, installed, err := s.seedOne(ctx, filepath.Join(s.dir, filepath.FromSlash(name)), seeded)
		switch {
		case err != nil:
			report.Failed[name] = err
			logger.Warn("Failed to seed add-on package", zap.String("file", name), zap.Error(err))
		case installed:
			report.Installed = append(report.Installed, addonID)
		default:
			report.Skipped = append(report.Skipped, addonID)
		}
	}

	logger.Info("Seeding complete",
		zap.Int("installed", len(report.Installed)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (s *Seeder) seedOne(ctx context.Context, path string, seeded map[string]string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	manifest, err := s.pipeline.inspector.Inspect(data)
	if err != nil {
		return "", false, err
	}

	enable := true
	current, err := s.pipeline.store.GetInstalledAddon(ctx, manifest.ID)
	switch {
	case errors.Is(err, types.ErrNotInstalled):
		if _, before := seeded[manifest.ID]; before {
			// seeded once and uninstalled since
			return manifest.ID, false, nil
		}
	case err != nil:
		return manifest.ID, false, err
	case !newer(manifest.Version, current.Manifest.Version):
		seeded[manifest.ID] = current.Manifest.Version
		return manifest.ID, false, nil
	default:
		enable = current.Enabled
	}

	if _, err := s.pipeline.Install(ctx, data, AutoApprove, enable); err != nil {
		return manifest.ID, false, err
	}
	seeded[manifest.ID] = manifest.Version
	return manifest.ID, true, nil
}

// readLedger returns addon id -> seeded version. A missing file is empty.
func (s *Seeder) readLedger() (map[string]string, error) {
	seeded := make(map[string]string)
	data, err := os.ReadFile(s.ledger)
	if errors.Is(err, os.ErrNotExist) {
		return seeded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seed ledger: %w", err)
	}
	if err := sonic.Unmarshal(data, &seeded); err != nil {
		return nil, fmt.Errorf("failed to parse seed ledger: %w", err)
	}
	return seeded, nil
}

func (s *Seeder) writeLedger(seeded map[string]string) error {
	data, err := sonic.ConfigStd.MarshalIndent(seeded, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.ledger), ".seeded-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.ledger)
}

// newer reports whether candidate is a strictly higher semver than installed
func newer(candidate, installed string) bool {
	c, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	i, err := semver.NewVersion(installed)
	if err != nil {
		return true
	}
	return c.GreaterThan(i)
}
