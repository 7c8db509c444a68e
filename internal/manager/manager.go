// Package manager drives installs and updates of game instances: it plans
// the delta patch sequence, checkpoints the install manifest after every
// step, swaps online patches around official updates and installs the
// shared runtime.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
	"github.com/IkyMax/EML-Lib-v2-sub000/patchtool"
)

// PatchTool applies vendor delta patches.
type PatchTool interface {
	EnsureInstalled(ctx context.Context) (string, error)
	Apply(ctx context.Context, patchFile, signatureFile, targetDir, stagingDir string, sink models.Sink) error
}

// RuntimeProvider makes the shared runtime available.
type RuntimeProvider interface {
	Ensure(ctx context.Context, platform utils.Platform, sink models.Sink) (string, error)
}

// ProcessChecker reports whether an executable is currently running.
type ProcessChecker func(ctx context.Context, executable string) (bool, error)

// Options configures a Manager. Zero values get defaults.
type Options struct {
	Paths              *utils.Paths
	Endpoints          utils.Endpoints
	Fetcher            *utils.Fetcher
	Logger             *utils.Logger
	Platform           utils.Platform
	RuntimeManifestURL string
	// Sink receives every event, throttled to ProgressInterval.
	Sink             models.Sink
	ProgressInterval time.Duration
	AuxConcurrency   int
	// AuxToken is sent as a bearer token with auxiliary file downloads only.
	AuxToken string

	Tool         PatchTool
	Runtime      RuntimeProvider
	ProcessCheck ProcessChecker
}

// Manager orchestrates installs for any number of instances. Operations on
// the same instance must not overlap; that is left to the caller.
type Manager struct {
	Paths     *utils.Paths
	Endpoints utils.Endpoints
	Fetcher   *utils.Fetcher
	Logger    *utils.Logger
	Platform  utils.Platform

	Tool    PatchTool
	Runtime RuntimeProvider
	Online  *OnlinePatcher
	Checker *Checker
	Store   *ManifestStore

	processCheck   ProcessChecker
	auxConcurrency int
	auxToken       string
	sink           models.Sink
	progress       *progressTracker
	now            func() time.Time
}

// New builds a Manager from opts.
func New(opts Options) *Manager {
	if opts.Paths == nil {
		opts.Paths = utils.NewPaths(".")
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewDiscardLogger()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = utils.NewFetcher()
	}
	if opts.Platform == (utils.Platform{}) {
		opts.Platform = utils.CurrentPlatform()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 100 * time.Millisecond
	}
	if opts.AuxConcurrency <= 0 {
		opts.AuxConcurrency = 4
	}
	if opts.Tool == nil {
		opts.Tool = patchtool.New(opts.Logger, opts.Paths, opts.Endpoints, opts.Fetcher, opts.Platform)
	}
	if opts.Runtime == nil {
		opts.Runtime = NewRuntimeInstaller(opts.Paths, opts.Fetcher, opts.Logger, opts.RuntimeManifestURL)
	}
	if opts.ProcessCheck == nil {
		opts.ProcessCheck = executableRunning
	}

	store := NewManifestStore(opts.Paths)
	online := NewOnlinePatcher(opts.Fetcher, opts.Logger)
	progress := newProgressTracker()
	return &Manager{
		Paths:          opts.Paths,
		Endpoints:      opts.Endpoints,
		Fetcher:        opts.Fetcher,
		Logger:         opts.Logger,
		Platform:       opts.Platform,
		Tool:           opts.Tool,
		Runtime:        opts.Runtime,
		Online:         online,
		Store:          store,
		Checker:        &Checker{Paths: opts.Paths, Store: store, Online: online, Platform: opts.Platform},
		processCheck:   opts.ProcessCheck,
		auxConcurrency: opts.AuxConcurrency,
		auxToken:       opts.AuxToken,
		sink:           models.Multi(progress, models.Throttled(opts.Sink, opts.ProgressInterval)),
		progress:       progress,
		now:            time.Now,
	}
}

// ProgressSnapshot returns the latest progress of every component.
func (m *Manager) ProgressSnapshot() UpdateProgressSnapshot {
	return m.progress.snapshot()
}

// ClientTarget returns the online patch target of an instance's client.
func (m *Manager) ClientTarget(id string) PatchTarget {
	return clientTarget(m.Paths, id, m.Platform)
}

// ServerTarget returns the online patch target of an instance's server.
func (m *Manager) ServerTarget(id string) PatchTarget {
	return serverTarget(m.Paths, id)
}

// run carries the per-invocation context shared by the install steps.
type run struct {
	id   string
	op   string
	cfg  models.LoaderConfig
	log  *utils.Logger
	sink models.Sink
}

func (m *Manager) newRun(id string, cfg models.LoaderConfig) *run {
	op := uuid.NewString()
	return &run{
		id:   id,
		op:   op,
		cfg:  cfg,
		log:  m.Logger.WithFields(logrus.Fields{"instance": id, "op": op}),
		sink: models.Tagged(m.sink, id, op, ""),
	}
}

// Install brings instance id to the build described by cfg, choosing between
// a fresh install, an incremental upgrade, a downgrade or a no-op repair.
// The manifest is persisted after every completed patch step so an
// interrupted run resumes from the last finished build.
func (m *Manager) Install(ctx context.Context, id string, cfg models.LoaderConfig) (*models.InstallManifest, error) {
	if err := utils.ValidateInstanceID(id); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := m.Platform.Validate(); err != nil {
		return nil, err
	}

	m.progress.begin()
	defer m.progress.end()
	r := m.newRun(id, cfg)
	start := m.now()

	if err := m.ensureNotRunning(ctx, id); err != nil {
		return nil, err
	}
	if err := m.Paths.DeployInstance(id, r.log); err != nil {
		return nil, err
	}
	if _, err := m.Tool.EnsureInstalled(ctx); err != nil {
		return nil, fmt.Errorf("ensure patch tool: %w", err)
	}

	manifest, found, err := m.Store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	current := 0
	if found {
		current = manifest.BuildIndex
	}
	filesPresent := utils.FileExists(m.Paths.ClientExecutable(id, m.Platform))
	plan, err := NewPlan(current, cfg.BuildIndex, filesPresent)
	if err != nil {
		return nil, err
	}
	r.log.Infof("install plan: %s from build %d to %d (%d steps)", plan.Flow, current, plan.Target, len(plan.Steps))

	switch plan.Flow {
	case FlowDowngrade:
		if err := m.wipeGame(id, true); err != nil {
			return nil, fmt.Errorf("wipe for downgrade: %w", err)
		}
		manifest, err = m.freshInstall(ctx, r, plan)
	case FlowFresh:
		manifest, err = m.freshInstall(ctx, r, plan)
	case FlowUpgrade:
		manifest, err = m.upgrade(ctx, r, manifest, plan)
	default:
		manifest, err = m.reconcile(ctx, r, manifest)
	}
	if err != nil {
		r.log.Errorf("install failed: %v", err)
		return nil, err
	}

	if len(cfg.AuxFiles) > 0 {
		m.downloadAux(ctx, r, cfg.AuxFiles)
	}
	r.log.Infof("install finished at build %d in %s", manifest.BuildIndex, m.now().Sub(start).Round(time.Millisecond))
	return manifest, nil
}

func (m *Manager) freshInstall(ctx context.Context, r *run, plan Plan) (*models.InstallManifest, error) {
	// stale files and patch caches belong to some other build
	if err := m.wipeGame(r.id, false); err != nil {
		return nil, err
	}
	step := plan.Steps[0]
	if err := m.applyStep(ctx, r, step); err != nil {
		return nil, err
	}
	manifest := &models.InstallManifest{
		BuildIndex:      step.To,
		VersionChannel:  r.cfg.VersionChannel,
		InstalledAt:     m.now().UTC(),
		ServerInstalled: utils.DirNonEmpty(m.Paths.ServerDir(r.id)),
	}
	if err := m.Store.Save(r.id, manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	return m.finish(ctx, r, manifest)
}

func (m *Manager) upgrade(ctx context.Context, r *run, manifest *models.InstallManifest, plan Plan) (*models.InstallManifest, error) {
	if err := m.restoreOriginals(ctx, r); err != nil {
		return nil, err
	}
	// the official executables are live again from the first checkpoint on
	manifest.ClientPatch = nil
	manifest.ServerPatch = nil
	for _, step := range plan.Steps {
		if err := m.applyStep(ctx, r, step); err != nil {
			return nil, err
		}
		manifest.BuildIndex = step.To
		manifest.VersionChannel = r.cfg.VersionChannel
		if err := m.Store.Save(r.id, manifest); err != nil {
			return nil, fmt.Errorf("save manifest at build %d: %w", step.To, err)
		}
		r.log.Infof("checkpoint: build %d", step.To)
	}
	manifest.ServerInstalled = utils.DirNonEmpty(m.Paths.ServerDir(r.id))
	return m.finish(ctx, r, manifest)
}

// reconcile handles a request for the build already installed: configured
// online patches are enabled again, which only hashes the live files when
// they are already patched, and the runtime is checked.
func (m *Manager) reconcile(ctx context.Context, r *run, manifest *models.InstallManifest) (*models.InstallManifest, error) {
	r.log.Infof("build %d already installed", manifest.BuildIndex)
	manifest.ServerInstalled = utils.DirNonEmpty(m.Paths.ServerDir(r.id))

	if cp := r.cfg.ClientPatch(m.Platform.OS); cp != nil {
		rec, err := m.enablePatch(ctx, r, m.ClientTarget(r.id), cp)
		if err != nil {
			return nil, err
		}
		manifest.ClientPatch = rec
	}
	if sp := r.cfg.ServerPatch; sp.Configured() && manifest.ServerInstalled {
		rec, err := m.enablePatch(ctx, r, m.ServerTarget(r.id), sp)
		if err != nil {
			return nil, err
		}
		manifest.ServerPatch = rec
	}
	if err := m.ensureRuntime(ctx, r, manifest); err != nil {
		return nil, err
	}
	if err := m.Store.Save(r.id, manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	return manifest, nil
}

// finish applies online patches once, installs the runtime and writes the
// final manifest.
func (m *Manager) finish(ctx context.Context, r *run, manifest *models.InstallManifest) (*models.InstallManifest, error) {
	manifest.ClientPatch = nil
	if cp := r.cfg.ClientPatch(m.Platform.OS); cp != nil {
		rec, err := m.enablePatch(ctx, r, m.ClientTarget(r.id), cp)
		if err != nil {
			return nil, err
		}
		manifest.ClientPatch = rec
	}
	manifest.ServerPatch = nil
	if sp := r.cfg.ServerPatch; sp.Configured() && manifest.ServerInstalled {
		rec, err := m.enablePatch(ctx, r, m.ServerTarget(r.id), sp)
		if err != nil {
			return nil, err
		}
		manifest.ServerPatch = rec
	}
	if err := m.Store.Save(r.id, manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}

	if err := m.ensureRuntime(ctx, r, manifest); err != nil {
		return nil, err
	}
	if err := m.Store.Save(r.id, manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	return manifest, nil
}

func (m *Manager) ensureRuntime(ctx context.Context, r *run, manifest *models.InstallManifest) error {
	version, err := m.Runtime.Ensure(ctx, m.Platform, r.sink)
	if err != nil {
		return fmt.Errorf("install runtime: %w", err)
	}
	manifest.RuntimeVersion = version
	return nil
}

func (m *Manager) enablePatch(ctx context.Context, r *run, target PatchTarget, cfg *models.PatchConfig) (*models.PatchRecord, error) {
	outcome, err := m.Online.Enable(ctx, target, PatchRequest{
		URL:         cfg.PatchURL,
		Hash:        cfg.PatchHash,
		OriginalURL: cfg.OriginalURL,
		BuildIndex:  r.cfg.BuildIndex,
	}, r.sink)
	if err != nil {
		return nil, fmt.Errorf("online patch %s: %w", target.Kind, err)
	}
	r.log.Infof("online patch %s: %s", target.Kind, outcome)
	if outcome == OutcomeSkipped {
		return nil, nil
	}
	return &models.PatchRecord{URL: cfg.PatchURL, Hash: strings.ToLower(cfg.PatchHash), AppliedAt: m.now().UTC()}, nil
}

// restoreOriginals puts official executables back before delta patching,
// since the vendor patches are computed against them.
func (m *Manager) restoreOriginals(ctx context.Context, r *run) error {
	var clientURL, clientHash string
	if cp := r.cfg.ClientPatch(m.Platform.OS); cp != nil {
		clientURL, clientHash = cp.OriginalURL, cp.OriginalHash
	}
	if err := m.Online.RestoreOriginal(ctx, m.ClientTarget(r.id), clientURL, clientHash, r.sink); err != nil {
		return fmt.Errorf("restore client: %w", err)
	}

	server := m.ServerTarget(r.id)
	var serverURL, serverHash string
	if sp := r.cfg.ServerPatch; sp != nil {
		serverURL, serverHash = sp.OriginalURL, sp.OriginalHash
	}
	if serverURL == "" && !utils.FileExists(server.originalPath()) {
		return nil
	}
	if err := m.Online.RestoreOriginal(ctx, server, serverURL, serverHash, r.sink); err != nil {
		return fmt.Errorf("restore server: %w", err)
	}
	return nil
}

// applyStep downloads and applies one patch. Temporary files are removed
// whether or not the tool succeeds; the manifest is not touched here.
func (m *Manager) applyStep(ctx context.Context, r *run, step Step) error {
	patchURL := m.Endpoints.IncrementalPatch(m.Platform, r.cfg.VersionChannel, step.From, step.To)
	if step.From == 0 {
		patchURL = m.Endpoints.FreshPatch(m.Platform, r.cfg.VersionChannel, step.To)
	}
	sigURL := m.Endpoints.Signature(patchURL)

	tmp := m.Paths.TempDir(r.id)
	patchFile := filepath.Join(tmp, fmt.Sprintf("%d-%d%s", step.From, step.To, utils.PatchExt))
	sigFile := patchFile + utils.SignatureSuffix
	defer func() {
		_ = os.Remove(patchFile)
		_ = os.Remove(sigFile)
	}()

	r.log.Infof("applying patch %s", step)
	sink := models.Tagged(r.sink, r.id, r.op, models.ComponentPatchDownload)
	if _, err := m.Fetcher.Fetch(ctx, utils.FetchRequest{URL: patchURL, Dest: patchFile, Component: models.ComponentPatchDownload, Sink: sink}); err != nil {
		return fmt.Errorf("download patch %s: %w", step, err)
	}
	if _, err := m.Fetcher.Fetch(ctx, utils.FetchRequest{URL: sigURL, Dest: sigFile, Component: models.ComponentPatchDownload, Sink: sink}); err != nil {
		return fmt.Errorf("download signature %s: %w", step, err)
	}
	if err := m.Tool.Apply(ctx, patchFile, sigFile, m.Paths.GameDir(r.id), m.Paths.StagingDir(r.id), r.sink); err != nil {
		return fmt.Errorf("apply patch %s: %w", step, err)
	}
	return nil
}

// wipeGame empties the game and patch-state folders. With manifest set the
// install manifest is deleted first, so a crash mid-wipe is seen as a fresh
// install on the next run.
func (m *Manager) wipeGame(id string, manifest bool) error {
	var errs *multierror.Error
	if manifest {
		errs = multierror.Append(errs, m.Store.Remove(id))
	}
	for _, dir := range []string{m.Paths.GameDir(id), m.Paths.PatchStateDir(id), m.Paths.StagingDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, dir := range []string{m.Paths.GameDir(id), m.Paths.PatchStateDir(id)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Wipe removes everything installed for an instance: manifest, game files,
// staging and temporary files and the online patch cache. Auxiliary data is
// kept.
func (m *Manager) Wipe(ctx context.Context, id string) error {
	if err := utils.ValidateInstanceID(id); err != nil {
		return err
	}
	if err := m.ensureNotRunning(ctx, id); err != nil {
		return err
	}
	var errs *multierror.Error
	errs = multierror.Append(errs, m.Store.Remove(id))
	for _, dir := range []string{m.Paths.GameDir(id), m.Paths.StagingDir(id), m.Paths.TempDir(id), m.Paths.PatchStateDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	m.Logger.Infof("instance %s wiped", id)
	return nil
}

// DownloadAuxFiles fetches instance files into the data folder. Failures are
// logged and counted, never returned, so they cannot block a launch.
func (m *Manager) DownloadAuxFiles(ctx context.Context, id string, files []models.AuxFile) int {
	if err := utils.ValidateInstanceID(id); err != nil {
		m.Logger.Warnf("aux files: %v", err)
		return len(files)
	}
	return m.downloadAux(ctx, m.newRun(id, models.LoaderConfig{}), files)
}

func (m *Manager) downloadAux(ctx context.Context, r *run, files []models.AuxFile) int {
	var (
		g      errgroup.Group
		failed = make([]bool, len(files))
	)
	g.SetLimit(m.auxConcurrency)
	dataDir := m.Paths.DataDir(r.id)
	var header http.Header
	if m.auxToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + m.auxToken}}
	}
	for i, f := range files {
		g.Go(func() error {
			var dest string
			err := f.Validate()
			if err == nil {
				dest, err = utils.SecureJoin(dataDir, f.Path)
			}
			if err == nil && dest == filepath.Clean(dataDir) {
				err = fmt.Errorf("empty aux file path")
			}
			if err == nil {
				_, err = m.Fetcher.Fetch(ctx, utils.FetchRequest{
					URL:       f.URL,
					Dest:      dest,
					SHA256:    f.SHA256,
					Component: models.ComponentAuxDownload,
					Sink:      r.sink,
					Header:    header,
				})
			}
			if err != nil {
				failed[i] = true
				r.log.Warnf("aux file %s not downloaded: %v", f.Path, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}

func (m *Manager) ensureNotRunning(ctx context.Context, id string) error {
	exe := m.Paths.ClientExecutable(id, m.Platform)
	if !utils.FileExists(exe) {
		return nil
	}
	running, err := m.processCheck(ctx, exe)
	if err != nil {
		m.Logger.Warnf("process check for %s failed: %v", exe, err)
		return nil
	}
	if running {
		return &models.Error{Kind: models.KindInstall, Op: "check running", Path: exe, Detail: "the game is running; close it before updating"}
	}
	return nil
}

// executableRunning looks for a live process started from executable.
func executableRunning(ctx context.Context, executable string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	want := filepath.Clean(executable)
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		if filepath.Clean(exe) == want {
			return true, nil
		}
	}
	return false, nil
}

// IsMissingBackup reports whether err is the fatal missing-backup error of a revert.
func IsMissingBackup(err error) bool {
	return errors.Is(err, models.ErrMissingFile)
}
