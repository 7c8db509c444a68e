package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	paths := utils.NewPaths(t.TempDir())
	store := NewManifestStore(paths)
	online := NewOnlinePatcher(utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger())
	return &Checker{Paths: paths, Store: store, Online: online, Platform: linuxAMD64}
}

func writeClient(t *testing.T, c *Checker, body string) {
	t.Helper()
	client := c.Paths.ClientExecutable(instance, c.Platform)
	require.NoError(t, os.MkdirAll(filepath.Dir(client), 0o755))
	require.NoError(t, os.WriteFile(client, []byte(body), 0o755))
}

func TestCheckInstallationEmpty(t *testing.T) {
	c := newTestChecker(t)
	res, err := c.CheckInstallation(instance, nil)
	require.NoError(t, err)
	assert.Equal(t, models.CheckResult{}, res)

	expected := 2
	res, err = c.CheckInstallation(instance, &expected)
	require.NoError(t, err)
	assert.True(t, res.NeedsUpdate)
	assert.False(t, res.Complete)
}

func TestCheckInstallationPresence(t *testing.T) {
	c := newTestChecker(t)
	require.NoError(t, c.Store.Save(instance, &models.InstallManifest{BuildIndex: 2}))
	writeClient(t, c, "client")

	res, err := c.CheckInstallation(instance, nil)
	require.NoError(t, err)
	assert.True(t, res.ManifestFound)
	assert.True(t, res.ClientPresent)
	assert.False(t, res.RuntimePresent)
	assert.False(t, res.Complete, "runtime is required")

	java := c.Paths.RuntimeJava(c.Platform)
	require.NoError(t, os.MkdirAll(filepath.Dir(java), 0o755))
	require.NoError(t, os.WriteFile(java, []byte("java"), 0o755))
	jar := c.Paths.ServerExecutable(instance)
	require.NoError(t, os.MkdirAll(filepath.Dir(jar), 0o755))
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))

	expected := 2
	res, err = c.CheckInstallation(instance, &expected)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.True(t, res.ServerPresent)
	assert.False(t, res.NeedsUpdate)
	assert.Equal(t, 2, res.InstalledBuild)
}

func TestCheckInstallationRejectsBadID(t *testing.T) {
	c := newTestChecker(t)
	_, err := c.CheckInstallation("../other", nil)
	assert.Error(t, err)
}

func TestPatchHealth(t *testing.T) {
	official := "official client"

	t.Run("not installed", func(t *testing.T) {
		c := newTestChecker(t)
		h, err := c.PatchHealth(instance, 3, "")
		require.NoError(t, err)
		assert.Equal(t, models.HealthNotInstalled, h.Status)
	})

	t.Run("healthy by hash", func(t *testing.T) {
		c := newTestChecker(t)
		require.NoError(t, c.Store.Save(instance, &models.InstallManifest{BuildIndex: 3}))
		writeClient(t, c, official)
		h, err := c.PatchHealth(instance, 3, sha([]byte(official)))
		require.NoError(t, err)
		assert.Equal(t, models.HealthHealthy, h.Status)
		assert.Equal(t, sha([]byte(official)), h.ClientHash)
		assert.Equal(t, models.OnlinePatchNone, h.OnlinePatch)
	})

	t.Run("outdated", func(t *testing.T) {
		c := newTestChecker(t)
		require.NoError(t, c.Store.Save(instance, &models.InstallManifest{BuildIndex: 2}))
		writeClient(t, c, official)
		h, err := c.PatchHealth(instance, 3, sha([]byte(official)))
		require.NoError(t, err)
		assert.Equal(t, models.HealthOutdated, h.Status)
		assert.Equal(t, 2, h.InstalledBuild)
	})

	t.Run("needs repair", func(t *testing.T) {
		c := newTestChecker(t)
		require.NoError(t, c.Store.Save(instance, &models.InstallManifest{BuildIndex: 3}))
		writeClient(t, c, "corrupted")
		h, err := c.PatchHealth(instance, 3, sha([]byte(official)))
		require.NoError(t, err)
		assert.Equal(t, models.HealthNeedsRepair, h.Status)
	})

	t.Run("online patch intact", func(t *testing.T) {
		c := newTestChecker(t)
		require.NoError(t, c.Store.Save(instance, &models.InstallManifest{BuildIndex: 3}))
		writeClient(t, c, official)
		srv := newCDN(t)
		body := []byte("patched")
		_, err := c.Online.Enable(context.Background(), clientTarget(c.Paths, instance, c.Platform),
			PatchRequest{URL: srv.serve("/patch", body), Hash: sha(body)}, nil)
		require.NoError(t, err)

		h, err := c.PatchHealth(instance, 3, sha([]byte(official)))
		require.NoError(t, err)
		assert.Equal(t, models.OnlinePatchIntact, h.OnlinePatch)
		assert.Equal(t, models.HealthHealthy, h.Status)
	})
}

func TestClassifyOnlinePatch(t *testing.T) {
	live := sha([]byte("live"))
	other := sha([]byte("other"))
	tests := []struct {
		name   string
		state  *models.OnlinePatchState
		record *models.PatchRecord
		want   models.OnlinePatchStatus
	}{
		{"nothing", nil, nil, models.OnlinePatchNone},
		{"record matches", nil, &models.PatchRecord{Hash: live}, models.OnlinePatchIntact},
		{"record differs", nil, &models.PatchRecord{Hash: other}, models.OnlinePatchModified},
		{"reverted", &models.OnlinePatchState{Enabled: false, PatchHash: live}, nil, models.OnlinePatchReverted},
		{"enabled intact", &models.OnlinePatchState{Enabled: true, PatchHash: live}, nil, models.OnlinePatchIntact},
		{"enabled modified", &models.OnlinePatchState{Enabled: true, PatchHash: other}, nil, models.OnlinePatchModified},
		{"unhashed uses record", &models.OnlinePatchState{Enabled: true}, &models.PatchRecord{Hash: other}, models.OnlinePatchModified},
		{"unhashed without record", &models.OnlinePatchState{Enabled: true}, nil, models.OnlinePatchIntact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyOnlinePatch(tt.state, tt.record, live))
		})
	}
}
