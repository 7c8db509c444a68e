package manager

import (
	"strings"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

// Checker inspects instances without modifying them.
type Checker struct {
	Paths    *utils.Paths
	Store    *ManifestStore
	Online   *OnlinePatcher
	Platform utils.Platform
}

// CheckInstallation reports presence and staleness. It never hashes files.
func (c *Checker) CheckInstallation(id string, expected *int) (models.CheckResult, error) {
	res := models.CheckResult{ExpectedBuild: expected}
	if err := utils.ValidateInstanceID(id); err != nil {
		return res, err
	}
	manifest, found, err := c.Store.Load(id)
	if err != nil {
		return res, err
	}
	if found {
		res.ManifestFound = true
		res.InstalledBuild = manifest.BuildIndex
	}

	client := c.Paths.ClientExecutable(id, c.Platform)
	res.ClientPresent = utils.FileExists(client)
	res.ClientExecutable = res.ClientPresent && utils.IsExecutable(client)
	res.RuntimePresent = utils.FileExists(c.Paths.RuntimeJava(c.Platform))
	res.ServerPresent = utils.DirNonEmpty(c.Paths.ServerDir(id))
	res.Complete = res.ClientPresent && res.RuntimePresent
	if expected != nil {
		res.NeedsUpdate = res.InstalledBuild != *expected
	}
	return res, nil
}

// PatchHealth hashes the live client and classifies it against the expected
// build and client hash. expectedClientHash may be empty, in which case only
// the build index and the online patch are considered.
func (c *Checker) PatchHealth(id string, expected int, expectedClientHash string) (models.PatchHealth, error) {
	health := models.PatchHealth{
		Status:        models.HealthNotInstalled,
		ExpectedBuild: expected,
		ExpectedHash:  strings.ToLower(strings.TrimSpace(expectedClientHash)),
		OnlinePatch:   models.OnlinePatchNone,
	}
	if err := utils.ValidateInstanceID(id); err != nil {
		return health, err
	}
	manifest, found, err := c.Store.Load(id)
	if err != nil {
		return health, err
	}
	client := c.Paths.ClientExecutable(id, c.Platform)
	if !found || !utils.FileExists(client) {
		return health, nil
	}
	health.InstalledBuild = manifest.BuildIndex

	hash, err := utils.HashFile(client)
	if err != nil {
		return health, err
	}
	health.ClientHash = hash

	state, err := c.Online.LoadState(clientTarget(c.Paths, id, c.Platform))
	if err != nil {
		return health, err
	}
	health.OnlinePatch = classifyOnlinePatch(state, manifest.ClientPatch, hash)

	switch {
	case manifest.BuildIndex != expected:
		health.Status = models.HealthOutdated
	case health.ExpectedHash == "" || hash == health.ExpectedHash || health.OnlinePatch == models.OnlinePatchIntact:
		health.Status = models.HealthHealthy
	default:
		health.Status = models.HealthNeedsRepair
	}
	return health, nil
}

func classifyOnlinePatch(state *models.OnlinePatchState, record *models.PatchRecord, liveHash string) models.OnlinePatchStatus {
	if state == nil {
		if record == nil {
			return models.OnlinePatchNone
		}
		if record.Hash != "" && record.Hash == liveHash {
			return models.OnlinePatchIntact
		}
		return models.OnlinePatchModified
	}
	if !state.Enabled {
		return models.OnlinePatchReverted
	}
	want := state.PatchHash
	if want == "" && record != nil {
		want = record.Hash
	}
	if want == "" || want == liveHash {
		return models.OnlinePatchIntact
	}
	return models.OnlinePatchModified
}

func clientTarget(paths *utils.Paths, id string, platform utils.Platform) PatchTarget {
	return PatchTarget{Kind: "client", Live: paths.ClientExecutable(id, platform), StateDir: paths.PatchStateDir(id)}
}

func serverTarget(paths *utils.Paths, id string) PatchTarget {
	return PatchTarget{Kind: "server", Live: paths.ServerExecutable(id), StateDir: paths.PatchStateDir(id)}
}
