package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/inspector"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/risk"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/staging"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Runtime is the part of the runtime registry the pipeline drives
type Runtime interface {
	Load(ctx context.Context, addon *types.InstalledAddon) (*runtime.Handle, error)
	Unload(ctx context.Context, addonID string) bool
	Toggle(ctx context.Context, addonID string, enabled bool) error
	ReloadAll(ctx context.Context) *runtime.ReloadReport
}

// Downloader fetches package bytes for a store listing
type Downloader interface {
	DownloadForReview(ctx context.Context, listingID string) ([]byte, error)
}

// Observer receives attempt outcomes
type Observer interface {
	AttemptFinished(outcome Outcome)
	StagedChanged(count int)
}

// Review is what the user sees before consenting
type Review struct {
	Attempt  Attempt               `json:"attempt"`
	Manifest *types.AddonManifest  `json:"manifest"`
	Tier     types.RiskTier        `json:"tier"`
	Summary  risk.Summary          `json:"summary"`
	Staged   *types.StagedAddon    `json:"staged"`
	Update   bool                  `json:"update"`
	Current  *types.InstalledAddon `json:"current,omitempty"`
}

// Pipeline orchestrates review, consent, persistence and loading of add-ons.
// At most one operation per add-on id runs at a time; a concurrent request
// fails fast with types.ErrAlreadyInProgress. A reload excludes every per-id
// operation and the other way round.
type Pipeline struct {
	inspector  *inspector.Inspector
	classifier *risk.Classifier
	area       *staging.Area
	store      runtime.Store
	runtime    Runtime
	layout     paths.Layout
	downloader Downloader
	observer   Observer
	logger     *zap.Logger

	mu        sync.Mutex
	inFlight  map[string]struct{}
	reloading bool
	attempts  *attempts
}

// Options bundles pipeline collaborators
type Options struct {
	Inspector  *inspector.Inspector
	Classifier *risk.Classifier
	Staging    *staging.Area
	Store      runtime.Store
	Runtime    Runtime
	Layout     paths.Layout
	Downloader Downloader
	Observer   Observer
	Logger     *zap.Logger
}

// New creates an install pipeline
func New(opts Options) (*Pipeline, error) {
	if opts.Inspector == nil || opts.Staging == nil || opts.Store == nil || opts.Runtime == nil {
		return nil, errors.New("pipeline requires inspector, staging, store and runtime")
	}
	if opts.Layout.Root == "" {
		return nil, errors.New("pipeline requires a data layout")
	}
	if opts.Classifier == nil {
		opts.Classifier = risk.NewClassifier(nil)
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		inspector:  opts.Inspector,
		classifier: opts.Classifier,
		area:       opts.Staging,
		store:      opts.Store,
		runtime:    opts.Runtime,
		layout:     opts.Layout,
		downloader: opts.Downloader,
		observer:   opts.Observer,
		logger:     opts.Logger,
		inFlight:   make(map[string]struct{}),
		attempts:   newAttempts(),
	}, nil
}

// acquire marks addonID busy or fails with ErrAlreadyInProgress
func (p *Pipeline) acquire(addonID string) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reloading {
		return nil, fmt.Errorf("%w: reload running", types.ErrAlreadyInProgress)
	}
	if _, busy := p.inFlight[addonID]; busy {
		return nil, fmt.Errorf("%w: %s", types.ErrAlreadyInProgress, addonID)
	}
	p.inFlight[addonID] = struct{}{}
	return func() {
		p.mu.Lock()
		delete(p.inFlight, addonID)
		p.mu.Unlock()
	}, nil
}

// acquireAll marks a reload running or fails with ErrAlreadyInProgress
func (p *Pipeline) acquireAll() (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reloading || len(p.inFlight) > 0 {
		return nil, fmt.Errorf("%w: reload", types.ErrAlreadyInProgress)
	}
	p.reloading = true
	return func() {
		p.mu.Lock()
		p.reloading = false
		p.mu.Unlock()
	}, nil
}

// InProgress reports whether an operation on addonID is running
func (p *Pipeline) InProgress(addonID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.inFlight[addonID]
	return busy
}

// Attempt returns the latest attempt for addonID
func (p *Pipeline) Attempt(addonID string) (Attempt, bool) {
	return p.attempts.get(addonID)
}

// Pending lists staged packages awaiting consent
func (p *Pipeline) Pending() []*types.StagedAddon {
	return p.area.List()
}

// Review inspects, classifies and stages an uploaded package. Nothing
// persistent is changed.
func (p *Pipeline) Review(ctx context.Context, data []byte) (*Review, error) {
	return p.reviewFrom(ctx, data, types.SourceFile)
}

func (p *Pipeline) reviewFrom(ctx context.Context, data []byte, source types.Source) (*Review, error) {
	manifest, err := p.inspector.Inspect(data)
	if err != nil {
		p.observer.AttemptFinished(OutcomeRejected)
		return nil, err
	}
	release, err := p.acquire(manifest.ID)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.review(ctx, manifest, data, source)
}

// review runs with addonID held
func (p *Pipeline) review(ctx context.Context, manifest *types.AddonManifest, data []byte, source types.Source) (*Review, error) {
	addonID := manifest.ID
	attempt := p.attempts.begin(addonID, manifest.Version, source)

	staged, err := p.area.Stage(ctx, addonID, data)
	if err != nil {
		p.attempts.transition(addonID, StateFailed, err)
		p.observer.AttemptFinished(OutcomeRejected)
		return nil, err
	}
	p.observer.StagedChanged(p.area.Count())

	current, err := p.store.GetInstalledAddon(ctx, addonID)
	switch {
	case errors.Is(err, types.ErrNotInstalled):
		current = nil
	case err != nil:
		p.discard(ctx, addonID, StateFailed, err)
		return nil, err
	}

	rv := &Review{
		Attempt:  attempt,
		Manifest: staged.Manifest,
		Tier:     p.classifier.Classify(staged.Capabilities),
		Summary:  p.classifier.Summarize(staged.Capabilities),
		Staged:   staged,
		Update:   current != nil,
		Current:  current,
	}
	p.logger.Info("Reviewing add-on package",
		zap.String("addon_id", addonID),
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("version", staged.Manifest.Version),
		zap.Stringer("risk", rv.Tier),
		zap.Bool("update", rv.Update))
	return rv, nil
}

// Approve installs the staged package of addonID with the capabilities the
// user just reviewed and optionally enables it. On failure the previous
// state is restored and the error is returned as is. Staging is always
// cleared before Approve returns.
func (p *Pipeline) Approve(ctx context.Context, addonID string, enable bool) (*types.InstalledAddon, error) {
	release, err := p.acquire(addonID)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.approve(ctx, addonID, enable)
}

// installTxn tracks what approve changed so it can be undone
type installTxn struct {
	addonID   string
	prev      *types.InstalledAddon
	wasLoaded bool
	backup    string
	promoted  bool
	saved     bool
}

func (p *Pipeline) approve(ctx context.Context, addonID string, enable bool) (*types.InstalledAddon, error) {
	staged, ok := p.area.Get(addonID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotStaged, addonID)
	}
	source := types.SourceFile
	if at, ok := p.attempts.pending(addonID); ok && at.Source != "" {
		source = at.Source
	}
	p.attempts.transition(addonID, StateApproved, nil)

	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := p.area.Clear(addonID); err != nil {
			p.logger.Warn("Failed to clear staging", zap.String("addon_id", addonID), zap.Error(err))
		}
		p.observer.StagedChanged(p.area.Count())
	}()

	txn := &installTxn{addonID: addonID}
	record, err := p.persist(ctx, txn, staged, source)
	if err == nil && enable {
		err = p.runtime.Toggle(ctx, addonID, true)
	}
	if err != nil {
		if rbErr := p.rollback(cleanupCtx, txn); rbErr != nil {
			p.logger.Error("Rollback incomplete", zap.String("addon_id", addonID), zap.Error(rbErr))
		}
		p.attempts.transition(addonID, StateFailed, err)
		p.observer.AttemptFinished(OutcomeFailed)
		p.logger.Warn("Add-on install failed",
			zap.String("addon_id", addonID),
			zap.Bool("update", txn.prev != nil),
			zap.Error(err))
		return nil, err
	}

	if txn.backup != "" {
		if err := os.RemoveAll(txn.backup); err != nil {
			p.logger.Warn("Failed to remove backup", zap.String("path", txn.backup), zap.Error(err))
		}
	}
	record.Enabled = enable
	p.attempts.transition(addonID, StateLoaded, nil)
	p.observer.AttemptFinished(OutcomeInstalled)
	p.logger.Info("Installed add-on",
		zap.String("addon_id", addonID),
		zap.String("version", record.Manifest.Version),
		zap.Bool("enabled", enable),
		zap.Bool("update", txn.prev != nil))
	return record, nil
}

// persist promotes staged files and writes the disabled record
func (p *Pipeline) persist(ctx context.Context, txn *installTxn, staged *types.StagedAddon, source types.Source) (*types.InstalledAddon, error) {
	addonID := txn.addonID
	p.attempts.transition(addonID, StatePersisting, nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev, err := p.store.GetInstalledAddon(ctx, addonID)
	switch {
	case errors.Is(err, types.ErrNotInstalled):
	case err != nil:
		return nil, err
	default:
		txn.prev = prev
	}

	dest := p.layout.AddonDir(addonID)
	now := time.Now()
	installedAt := now
	if txn.prev != nil {
		installedAt = txn.prev.InstalledAt
		// the old version is gone before the new one loads
		txn.wasLoaded = p.runtime.Unload(ctx, addonID)
		backup, err := p.backup(addonID, dest)
		if err != nil {
			return nil, err
		}
		txn.backup = backup
	} else if err := os.RemoveAll(dest); err != nil {
		return nil, &types.StagingError{AddonID: addonID, Op: "promote", Err: err}
	}

	if err := p.area.Promote(addonID, dest); err != nil {
		return nil, err
	}
	txn.promoted = true

	record := &types.InstalledAddon{
		Manifest:             staged.Manifest,
		ApprovedCapabilities: staged.Capabilities,
		Enabled:              false,
		InstalledAt:          installedAt,
		UpdatedAt:            now,
		Digest:               staged.Digest,
		Source:               source,
		Dir:                  dest,
	}
	txn.saved = true
	if err := p.store.SaveInstalledAddon(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// backup moves the installed files of addonID aside. A missing directory
// yields no backup.
func (p *Pipeline) backup(addonID, dir string) (string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", nil
	}
	if err := os.MkdirAll(p.layout.BackupsDir(), 0o755); err != nil {
		return "", &types.StagingError{AddonID: addonID, Op: "backup", Err: err}
	}
	dest, err := os.MkdirTemp(p.layout.BackupsDir(), addonID+"-")
	if err != nil {
		return "", &types.StagingError{AddonID: addonID, Op: "backup", Err: err}
	}
	// MkdirTemp reserves the name; rename needs it absent
	if err := os.Remove(dest); err != nil {
		return "", &types.StagingError{AddonID: addonID, Op: "backup", Err: err}
	}
	if err := os.Rename(dir, dest); err != nil {
		return "", &types.StagingError{AddonID: addonID, Op: "backup", Err: err}
	}
	return dest, nil
}

// rollback undoes txn in reverse order
func (p *Pipeline) rollback(ctx context.Context, txn *installTxn) error {
	addonID := txn.addonID
	dest := p.layout.AddonDir(addonID)
	var errs error

	// the new version may have been loaded before a later step failed
	p.runtime.Unload(ctx, addonID)

	if txn.saved {
		if txn.prev != nil {
			errs = multierr.Append(errs, p.store.SaveInstalledAddon(ctx, txn.prev))
		} else {
			errs = multierr.Append(errs, p.store.DeleteInstalledAddon(ctx, addonID))
		}
	}
	if txn.promoted {
		if err := os.RemoveAll(dest); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if txn.backup != "" {
		if err := os.Rename(txn.backup, dest); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restore files: %w", err))
		}
	}
	if txn.prev != nil && txn.wasLoaded {
		if _, err := p.runtime.Load(ctx, txn.prev); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reload previous version: %w", err))
			// enabled must not outlive the handle
			if setErr := p.store.SetEnabled(ctx, addonID, false); setErr != nil {
				errs = multierr.Append(errs, setErr)
			}
		}
	}
	return errs
}

// Cancel discards the staged package of addonID. Cancelling when nothing
// is staged is not an error.
func (p *Pipeline) Cancel(ctx context.Context, addonID string) error {
	release, err := p.acquire(addonID)
	if err != nil {
		return err
	}
	defer release()
	return p.cancel(ctx, addonID)
}

func (p *Pipeline) cancel(ctx context.Context, addonID string) error {
	_, pending := p.attempts.pending(addonID)
	err := p.discard(ctx, addonID, StateCancelled, nil)
	if pending {
		p.observer.AttemptFinished(OutcomeCancelled)
	}
	p.logger.Info("Cancelled add-on review", zap.String("addon_id", addonID))
	return err
}

// discard clears staging and closes the current attempt
func (p *Pipeline) discard(_ context.Context, addonID string, state State, cause error) error {
	err := p.area.Clear(addonID)
	p.attempts.transition(addonID, state, cause)
	p.observer.StagedChanged(p.area.Count())
	return err
}

// Install reviews data, asks prompter for consent, then approves or cancels
func (p *Pipeline) Install(ctx context.Context, data []byte, prompter Prompter, enable bool) (*types.InstalledAddon, error) {
	return p.installFrom(ctx, data, types.SourceFile, prompter, enable)
}

// ReinstallFromStore downloads fresh bytes for listingID and runs a full
// review, even if the add-on is already installed, before consent.
func (p *Pipeline) ReinstallFromStore(ctx context.Context, listingID string, prompter Prompter, enable bool) (*types.InstalledAddon, error) {
	if p.downloader == nil {
		return nil, &types.StoreUnavailableError{Op: "download", Err: errors.New("store client not configured")}
	}
	data, err := p.downloader.DownloadForReview(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return p.installFrom(ctx, data, types.StoreSource(listingID), prompter, enable)
}

// ReviewFromStore downloads listingID and stages it for consent
func (p *Pipeline) ReviewFromStore(ctx context.Context, listingID string) (*Review, error) {
	if p.downloader == nil {
		return nil, &types.StoreUnavailableError{Op: "download", Err: errors.New("store client not configured")}
	}
	data, err := p.downloader.DownloadForReview(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return p.reviewFrom(ctx, data, types.StoreSource(listingID))
}

func (p *Pipeline) installFrom(ctx context.Context, data []byte, source types.Source, prompter Prompter, enable bool) (*types.InstalledAddon, error) {
	if prompter == nil {
		return nil, errors.New("install requires a prompter")
	}
	manifest, err := p.inspector.Inspect(data)
	if err != nil {
		p.observer.AttemptFinished(OutcomeRejected)
		return nil, err
	}
	release, err := p.acquire(manifest.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	rv, err := p.review(ctx, manifest, data, source)
	if err != nil {
		return nil, err
	}
	approved, err := prompter.ConfirmInstall(ctx, rv.Manifest, rv.Tier, rv.Staged.Capabilities)
	if err == nil && !approved {
		err = fmt.Errorf("%w: %s", types.ErrCancelled, manifest.ID)
	}
	if err != nil {
		if cerr := p.cancel(context.WithoutCancel(ctx), manifest.ID); cerr != nil {
			p.logger.Warn("Failed to clear staging", zap.String("addon_id", manifest.ID), zap.Error(cerr))
		}
		return nil, err
	}
	return p.approve(ctx, manifest.ID, enable)
}

// Toggle enables or disables addonID. It is refused while another
// operation on the same add-on, or a reload, is running.
func (p *Pipeline) Toggle(ctx context.Context, addonID string, enabled bool) error {
	release, err := p.acquire(addonID)
	if err != nil {
		return err
	}
	defer release()
	return p.runtime.Toggle(ctx, addonID, enabled)
}

// ReloadAll reloads every enabled add-on. It is refused while any per-id
// operation is running, and per-id operations are refused while it runs.
func (p *Pipeline) ReloadAll(ctx context.Context) (*runtime.ReloadReport, error) {
	release, err := p.acquireAll()
	if err != nil {
		return nil, err
	}
	defer release()
	return p.runtime.ReloadAll(ctx), nil
}

// Uninstall unloads addonID, deletes its record and removes its files
func (p *Pipeline) Uninstall(ctx context.Context, addonID string) error {
	release, err := p.acquire(addonID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := p.store.GetInstalledAddon(ctx, addonID)
	if err != nil {
		return err
	}
	p.runtime.Unload(ctx, addonID)
	if err := p.store.DeleteInstalledAddon(ctx, addonID); err != nil {
		if rec.Enabled {
			if _, loadErr := p.runtime.Load(context.WithoutCancel(ctx), rec); loadErr != nil {
				p.logger.Error("Failed to restore add-on after uninstall failure",
					zap.String("addon_id", addonID), zap.Error(loadErr))
			}
		}
		return err
	}

	dir := rec.Dir
	if dir == "" || !paths.Within(p.layout.InstalledDir(), dir) {
		dir = p.layout.AddonDir(addonID)
	}
	if err := os.RemoveAll(filepath.Clean(dir)); err != nil {
		p.logger.Warn("Failed to remove add-on files", zap.String("addon_id", addonID), zap.Error(err))
	}
	if err := p.area.Clear(addonID); err != nil {
		p.logger.Warn("Failed to clear staging", zap.String("addon_id", addonID), zap.Error(err))
	}
	p.observer.StagedChanged(p.area.Count())

	p.logger.Info("Uninstalled add-on", zap.String("addon_id", addonID))
	return nil
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(Outcome) {}
func (nopObserver) StagedChanged(int)       {}
