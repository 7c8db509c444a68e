package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

// RuntimeInstaller installs the shared language runtime every instance uses.
type RuntimeInstaller struct {
	Paths       *utils.Paths
	Fetcher     *utils.Fetcher
	Logger      *utils.Logger
	ManifestURL string

	mu sync.Mutex
}

// NewRuntimeInstaller returns an installer reading the runtime manifest at manifestURL.
func NewRuntimeInstaller(paths *utils.Paths, fetcher *utils.Fetcher, logger *utils.Logger, manifestURL string) *RuntimeInstaller {
	return &RuntimeInstaller{Paths: paths, Fetcher: fetcher, Logger: logger, ManifestURL: manifestURL}
}

// InstalledVersion returns the version recorded for platform, or "".
func (r *RuntimeInstaller) InstalledVersion(platform utils.Platform) string {
	data, err := os.ReadFile(r.Paths.RuntimeVersionFile(platform))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Ensure makes the runtime published in the manifest available for platform
// and returns its version. Nothing is downloaded when the recorded version
// matches and the java binary is present.
func (r *RuntimeInstaller) Ensure(ctx context.Context, platform utils.Platform, sink models.Sink) (string, error) {
	sink = models.OrDiscard(sink)
	r.mu.Lock()
	defer r.mu.Unlock()

	sink.Emit(models.Event{Component: models.ComponentRuntimeCheck, Phase: models.PhaseStart, Stage: "checking"})
	var manifest models.RuntimeManifest
	if err := r.Fetcher.GetJSON(ctx, r.ManifestURL, &manifest); err != nil {
		sink.Emit(models.Event{Component: models.ComponentRuntimeCheck, Phase: models.PhaseEnd, Stage: "failed", Err: err.Error()})
		return "", err
	}
	dl, ok := manifest.Lookup(platform.OS, platform.Arch)
	if !ok {
		err := &models.Error{Kind: models.KindUnsupportedPlatform, Op: "resolve runtime", Detail: "no runtime published for " + platform.String()}
		sink.Emit(models.Event{Component: models.ComponentRuntimeCheck, Phase: models.PhaseEnd, Stage: "failed", Err: err.Error()})
		return "", err
	}

	installed := r.InstalledVersion(platform)
	if sameVersion(installed, manifest.Version) && utils.FileExists(r.Paths.RuntimeJava(platform)) {
		sink.Emit(models.Event{Component: models.ComponentRuntimeCheck, Phase: models.PhaseEnd, Stage: "up to date", Message: installed, Percent: 100})
		return installed, nil
	}
	sink.Emit(models.Event{Component: models.ComponentRuntimeCheck, Phase: models.PhaseEnd, Stage: "update required", Message: manifest.Version})
	if strings.TrimSpace(dl.SHA256) == "" {
		return "", &models.Error{Kind: models.KindHash, Op: "install runtime", Path: dl.URL, Detail: "runtime manifest has no sha256"}
	}

	if err := r.install(ctx, platform, manifest.Version, dl, sink); err != nil {
		sink.Emit(models.Event{Component: models.ComponentRuntimeInstall, Phase: models.PhaseEnd, Stage: "failed", Err: err.Error()})
		return "", err
	}
	r.Logger.Write(fmt.Sprintf("Runtime %s installed for %s", manifest.Version, platform))
	return manifest.Version, nil
}

func (r *RuntimeInstaller) install(ctx context.Context, platform utils.Platform, version string, dl models.RuntimeDownload, sink models.Sink) error {
	dest := r.Paths.RuntimeDir(platform)
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	work, err := os.MkdirTemp(parent, ".runtime-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	archive := filepath.Join(work, "runtime.archive")
	if _, err := r.Fetcher.Fetch(ctx, utils.FetchRequest{
		URL:       dl.URL,
		Dest:      archive,
		SHA256:    dl.SHA256,
		Component: models.ComponentRuntimeDownload,
		Sink:      sink,
	}); err != nil {
		return err
	}

	sink.Emit(models.Event{Component: models.ComponentRuntimeInstall, Phase: models.PhaseStart, Stage: "extracting"})
	extracted := filepath.Join(work, "runtime")
	if err := os.MkdirAll(extracted, 0o755); err != nil {
		return err
	}
	if err := utils.Extract(archive, extracted); err != nil {
		return &models.Error{Kind: models.KindInstall, Op: "extract runtime", Path: dl.URL, Err: err}
	}
	if err := utils.FlattenSingleDirectory(extracted); err != nil {
		return err
	}
	if err := utils.LiftMacOSHome(extracted); err != nil {
		return err
	}

	java := filepath.Join(extracted, "bin", filepath.Base(r.Paths.RuntimeJava(platform)))
	if !utils.FileExists(java) {
		return &models.Error{Kind: models.KindMissingFile, Op: "install runtime", Path: java, Detail: "runtime archive has no java binary"}
	}
	if platform.OS != "windows" {
		if err := utils.SetExecutable(java); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(extracted, filepath.Base(r.Paths.RuntimeVersionFile(platform))), []byte(version+"\n"), 0o644); err != nil {
		return err
	}
	if err := utils.ReplaceDir(extracted, dest); err != nil {
		if sameVersion(r.InstalledVersion(platform), version) && utils.FileExists(r.Paths.RuntimeJava(platform)) {
			return nil
		}
		return &models.Error{Kind: models.KindInstall, Op: "install runtime", Path: dest, Err: err}
	}
	sink.Emit(models.Event{Component: models.ComponentRuntimeInstall, Phase: models.PhaseEnd, Stage: "installed", Message: version, Percent: 100})
	return nil
}

// sameVersion compares runtime versions semantically when both parse and
// as trimmed strings otherwise.
func sameVersion(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Equal(vb)
	}
	return a == b
}
