package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

// Outcome reports what an online patch operation did.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeAlreadyApplied  Outcome = "already-applied"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeReverted        Outcome = "reverted"
	OutcomeAlreadyReverted Outcome = "already-reverted"
)

// PatchTarget is one swappable executable and the folder holding its
// cached copies and state.
type PatchTarget struct {
	Kind     string
	Live     string
	StateDir string
}

func (t PatchTarget) name() string         { return filepath.Base(t.Live) }
func (t PatchTarget) originalPath() string { return filepath.Join(t.StateDir, "original_"+t.name()) }
func (t PatchTarget) patchedPath() string  { return filepath.Join(t.StateDir, "patched_"+t.name()) }
func (t PatchTarget) statePath() string    { return filepath.Join(t.StateDir, "state_"+t.name()+".json") }

// PatchRequest identifies the online patch to enable. Hash may be empty for
// server patches, which are not published with digests.
type PatchRequest struct {
	URL         string
	Hash        string
	OriginalURL string
	BuildIndex  int
}

// OnlinePatcher swaps executables between their official and patched form.
type OnlinePatcher struct {
	Fetcher *utils.Fetcher
	Logger  *utils.Logger
	now     func() time.Time
}

// NewOnlinePatcher returns a patcher downloading through fetcher.
func NewOnlinePatcher(fetcher *utils.Fetcher, logger *utils.Logger) *OnlinePatcher {
	return &OnlinePatcher{Fetcher: fetcher, Logger: logger, now: time.Now}
}

// LoadState returns the persisted state of target, or nil when none exists.
func (p *OnlinePatcher) LoadState(target PatchTarget) (*models.OnlinePatchState, error) {
	var st models.OnlinePatchState
	found, err := readJSON(target.statePath(), &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

func (p *OnlinePatcher) saveState(target PatchTarget, st *models.OnlinePatchState) error {
	st.UpdatedAt = p.now().UTC()
	return writeJSON(target.statePath(), st)
}

// Enable installs the patched executable over the live one.
func (p *OnlinePatcher) Enable(ctx context.Context, target PatchTarget, req PatchRequest, sink models.Sink) (Outcome, error) {
	sink = models.OrDiscard(sink)
	if strings.TrimSpace(req.URL) == "" {
		return OutcomeSkipped, nil
	}
	want := strings.ToLower(strings.TrimSpace(req.Hash))
	state, err := p.LoadState(target)
	if err != nil {
		return "", err
	}

	liveHash := ""
	if utils.FileExists(target.Live) {
		if liveHash, err = utils.HashFile(target.Live); err != nil {
			return "", err
		}
	}

	if want != "" {
		if liveHash == want {
			p.Logger.Infof("online patch for %s already applied", target.Kind)
			return OutcomeAlreadyApplied, nil
		}
	} else if state != nil && state.Enabled && state.PatchURL == req.URL && liveHash != "" {
		if cached, herr := utils.HashFile(target.patchedPath()); herr == nil && cached == liveHash {
			p.Logger.Infof("online patch for %s already applied", target.Kind)
			return OutcomeAlreadyApplied, nil
		}
	}

	patchedHash, err := p.ensurePatchedCache(ctx, target, req, want, state, sink)
	if err != nil {
		return "", err
	}

	sink.Emit(models.Event{Component: models.ComponentOnlinePatchApply, Phase: models.PhaseStart, Stage: "applying", Message: target.Kind})
	// A live file that differs from the patch is the official one, unless a
	// previous patch is still applied over it.
	previousApplied := state != nil && state.Enabled && utils.FileExists(target.originalPath())
	if liveHash != "" && liveHash != patchedHash && !previousApplied {
		if err := utils.CopyFile(target.Live, target.originalPath(), 0o755); err != nil {
			return "", fmt.Errorf("back up %s: %w", target.Kind, err)
		}
	}
	if err := utils.CopyFile(target.patchedPath(), target.Live, 0o755); err != nil {
		return "", fmt.Errorf("install patched %s: %w", target.Kind, err)
	}
	if err := utils.SetExecutable(target.Live); err != nil {
		return "", err
	}

	if err := p.saveState(target, &models.OnlinePatchState{
		Enabled:    true,
		PatchURL:   req.URL,
		PatchHash:  want,
		BuildIndex: req.BuildIndex,
	}); err != nil {
		return "", fmt.Errorf("save patch state: %w", err)
	}
	sink.Emit(models.Event{Component: models.ComponentOnlinePatchApply, Phase: models.PhaseEnd, Stage: "applied", Message: target.Kind, Percent: 100})
	p.Logger.Infof("online patch for %s applied from %s", target.Kind, req.URL)
	return OutcomeApplied, nil
}

// ensurePatchedCache makes sure patched_<name> holds the requested patch and
// returns its digest. Hashed patches are verified while downloading;
// unhashed ones are reused whenever a cached copy from the same URL exists.
func (p *OnlinePatcher) ensurePatchedCache(ctx context.Context, target PatchTarget, req PatchRequest, want string, state *models.OnlinePatchState, sink models.Sink) (string, error) {
	cache := target.patchedPath()
	if utils.FileExists(cache) {
		if want != "" {
			if h, err := utils.HashFile(cache); err == nil && h == want {
				return h, nil
			}
		} else if state == nil || state.PatchURL == req.URL {
			return utils.HashFile(cache)
		}
	}

	if err := os.MkdirAll(target.StateDir, 0o755); err != nil {
		return "", err
	}
	res, err := p.Fetcher.Fetch(ctx, utils.FetchRequest{
		URL:       req.URL,
		Dest:      cache,
		SHA256:    want,
		Component: models.ComponentOnlinePatchDownload,
		Sink:      sink,
	})
	if err != nil {
		return "", err
	}
	return res.SHA256, nil
}

// Disable puts the backed up official executable back.
func (p *OnlinePatcher) Disable(ctx context.Context, target PatchTarget, sink models.Sink) (Outcome, error) {
	sink = models.OrDiscard(sink)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	state, err := p.LoadState(target)
	if err != nil {
		return "", err
	}
	if state == nil {
		return OutcomeSkipped, nil
	}
	if !state.Enabled {
		return OutcomeAlreadyReverted, nil
	}
	if !utils.FileExists(target.originalPath()) {
		return "", &models.Error{
			Kind:   models.KindMissingFile,
			Op:     "revert online patch",
			Path:   target.originalPath(),
			Detail: "no backup of the official " + target.Kind + " executable",
		}
	}

	sink.Emit(models.Event{Component: models.ComponentOnlinePatchRevert, Phase: models.PhaseStart, Stage: "reverting", Message: target.Kind})
	if err := utils.CopyFile(target.originalPath(), target.Live, 0o755); err != nil {
		return "", fmt.Errorf("restore %s: %w", target.Kind, err)
	}
	state.Enabled = false
	if err := p.saveState(target, state); err != nil {
		return "", fmt.Errorf("save patch state: %w", err)
	}
	sink.Emit(models.Event{Component: models.ComponentOnlinePatchRevert, Phase: models.PhaseEnd, Stage: "reverted", Message: target.Kind, Percent: 100})
	return OutcomeReverted, nil
}

// RestoreOriginal returns the live executable to its official form before
// delta patching. A fresh original is downloaded when originalURL is set,
// otherwise the local backup is used. When the patch is not currently
// applied the live file is already official and nothing is touched.
func (p *OnlinePatcher) RestoreOriginal(ctx context.Context, target PatchTarget, originalURL, originalHash string, sink models.Sink) error {
	sink = models.OrDiscard(sink)
	state, err := p.LoadState(target)
	if err != nil {
		return err
	}
	if state == nil || !state.Enabled {
		p.Logger.Debugf("no online patch applied to %s; nothing to restore", target.Kind)
		return nil
	}

	sink.Emit(models.Event{Component: models.ComponentOnlinePatchRevert, Phase: models.PhaseStart, Stage: "restoring", Message: target.Kind})
	switch {
	case strings.TrimSpace(originalURL) != "":
		if _, err := p.Fetcher.Fetch(ctx, utils.FetchRequest{
			URL:       originalURL,
			Dest:      target.originalPath(),
			SHA256:    originalHash,
			Component: models.ComponentOnlinePatchDownload,
			Sink:      sink,
		}); err != nil {
			return err
		}
		if err := utils.CopyFile(target.originalPath(), target.Live, 0o755); err != nil {
			return fmt.Errorf("restore %s: %w", target.Kind, err)
		}
	case utils.FileExists(target.originalPath()):
		if err := utils.CopyFile(target.originalPath(), target.Live, 0o755); err != nil {
			return fmt.Errorf("restore %s: %w", target.Kind, err)
		}
	default:
		p.Logger.Warnf("no original %s executable available; continuing with the live file", target.Kind)
		sink.Emit(models.Event{Component: models.ComponentOnlinePatchRevert, Phase: models.PhaseEnd, Stage: "nothing to restore", Message: target.Kind})
		return nil
	}

	state.Enabled = false
	if err := p.saveState(target, state); err != nil {
		return fmt.Errorf("save patch state: %w", err)
	}
	sink.Emit(models.Event{Component: models.ComponentOnlinePatchRevert, Phase: models.PhaseEnd, Stage: "restored", Message: target.Kind, Percent: 100})
	return nil
}
