package manager

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

func runtimeArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func serveRuntime(t *testing.T, c *cdn, version string, archive []byte, hash string) string {
	t.Helper()
	manifest := models.RuntimeManifest{
		Version: version,
		Downloads: map[string]map[string]models.RuntimeDownload{
			"linux": {"amd64": {URL: c.serve("/runtime/"+version+".tar.gz", archive), SHA256: hash}},
		},
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	return c.serve("/runtime.json", data)
}

func TestRuntimeEnsureInstallsOnce(t *testing.T) {
	c := newCDN(t)
	archive := runtimeArchive(t, map[string]string{
		"jdk-17.0.2/bin/java":       "#!/bin/sh\n",
		"jdk-17.0.2/lib/modules":    "modules",
		"jdk-17.0.2/release":        "JAVA_VERSION=17.0.2",
		"jdk-17.0.2/conf/net.props": "",
	})
	url := serveRuntime(t, c, "17.0.2", archive, sha(archive))
	paths := utils.NewPaths(t.TempDir())
	r := NewRuntimeInstaller(paths, utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger(), url)
	ctx := context.Background()

	version, err := r.Ensure(ctx, linuxAMD64, nil)
	require.NoError(t, err)
	assert.Equal(t, "17.0.2", version)
	assert.FileExists(t, paths.RuntimeJava(linuxAMD64))
	assert.Equal(t, "17.0.2", r.InstalledVersion(linuxAMD64))
	assert.True(t, utils.IsExecutable(paths.RuntimeJava(linuxAMD64)))

	version, err = r.Ensure(ctx, linuxAMD64, nil)
	require.NoError(t, err)
	assert.Equal(t, "17.0.2", version)
	assert.Equal(t, 1, c.hitCount("/runtime/17.0.2.tar.gz"))
	assert.Equal(t, 2, c.hitCount("/runtime.json"))
}

func TestRuntimeEnsureUpgrades(t *testing.T) {
	c := newCDN(t)
	paths := utils.NewPaths(t.TempDir())
	ctx := context.Background()

	old := runtimeArchive(t, map[string]string{"jdk/bin/java": "old"})
	r := NewRuntimeInstaller(paths, utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger(), serveRuntime(t, c, "17.0.1", old, sha(old)))
	_, err := r.Ensure(ctx, linuxAMD64, nil)
	require.NoError(t, err)

	next := runtimeArchive(t, map[string]string{"jdk/bin/java": "new"})
	serveRuntime(t, c, "17.0.2", next, sha(next))
	version, err := r.Ensure(ctx, linuxAMD64, nil)
	require.NoError(t, err)
	assert.Equal(t, "17.0.2", version)

	data, err := os.ReadFile(paths.RuntimeJava(linuxAMD64))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRuntimeEnsureErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported platform", func(t *testing.T) {
		c := newCDN(t)
		archive := runtimeArchive(t, map[string]string{"bin/java": "x"})
		r := NewRuntimeInstaller(utils.NewPaths(t.TempDir()), utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger(), serveRuntime(t, c, "17", archive, sha(archive)))
		_, err := r.Ensure(ctx, utils.Platform{OS: "darwin", Arch: "arm64"}, nil)
		assert.True(t, errors.Is(err, models.ErrUnsupportedPlatform))
	})

	t.Run("missing digest", func(t *testing.T) {
		c := newCDN(t)
		archive := runtimeArchive(t, map[string]string{"bin/java": "x"})
		r := NewRuntimeInstaller(utils.NewPaths(t.TempDir()), utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger(), serveRuntime(t, c, "17", archive, ""))
		_, err := r.Ensure(ctx, linuxAMD64, nil)
		assert.True(t, errors.Is(err, models.ErrHash))
		assert.Zero(t, c.hitCount("/runtime/17.tar.gz"))
	})

	t.Run("digest mismatch", func(t *testing.T) {
		c := newCDN(t)
		archive := runtimeArchive(t, map[string]string{"bin/java": "x"})
		paths := utils.NewPaths(t.TempDir())
		r := NewRuntimeInstaller(paths, utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger(), serveRuntime(t, c, "17", archive, sha([]byte("other"))))
		_, err := r.Ensure(ctx, linuxAMD64, nil)
		assert.True(t, errors.Is(err, models.ErrHash))
		assert.NoDirExists(t, paths.RuntimeDir(linuxAMD64))
	})

	t.Run("no java", func(t *testing.T) {
		c := newCDN(t)
		archive := runtimeArchive(t, map[string]string{"jdk/lib/modules": "x"})
		r := NewRuntimeInstaller(utils.NewPaths(t.TempDir()), utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger(), serveRuntime(t, c, "17", archive, sha(archive)))
		_, err := r.Ensure(ctx, linuxAMD64, nil)
		assert.True(t, errors.Is(err, models.ErrMissingFile))
	})

	t.Run("manifest unreachable", func(t *testing.T) {
		c := newCDN(t)
		r := NewRuntimeInstaller(utils.NewPaths(t.TempDir()), utils.NewFetcher(utils.WithDiskCheck(false)), utils.NewDiscardLogger(), c.srv.URL+"/nope.json")
		_, err := r.Ensure(ctx, linuxAMD64, nil)
		assert.True(t, errors.Is(err, models.ErrFetch))
	})
}

func TestSameVersion(t *testing.T) {
	assert.True(t, sameVersion("17.0.2", "v17.0.2"))
	assert.True(t, sameVersion(" 21 ", "21.0.0"))
	assert.True(t, sameVersion("17.0.2+8-custom", "17.0.2+8-custom"))
	assert.False(t, sameVersion("17.0.2", "17.0.3"))
	assert.False(t, sameVersion("", ""))
}
