package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
)

func TestPatchStateIsSiblingOfGameDir(t *testing.T) {
	p := NewPaths(t.TempDir())
	game := p.GameDir("main")
	state := p.PatchStateDir("main")

	assert.Equal(t, filepath.Dir(game), filepath.Dir(state))
	rel, err := filepath.Rel(game, state)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, ".."), "patch state %s must not live under %s", state, game)
}

func TestInstanceDirCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	p := NewPaths(root)
	for _, id := range []string{"../evil", "a/../../b", "", ".."} {
		dir := p.InstanceDir(id)
		rel, err := filepath.Rel(p.InstancesDir(), dir)
		require.NoError(t, err)
		assert.False(t, strings.HasPrefix(rel, ".."), "id %q resolved to %s", id, dir)
		assert.Error(t, ValidateInstanceID(id))
	}
	assert.NoError(t, ValidateInstanceID("survival-1"))
}

func TestClientExecutablePerPlatform(t *testing.T) {
	p := NewPaths("/data")
	assert.Equal(t, filepath.Join("Client", "GameClient.exe"), p.ClientRelPath(Platform{OS: "windows", Arch: "amd64"}))
	assert.Equal(t, filepath.Join("Client", "GameClient"), p.ClientRelPath(Platform{OS: "linux", Arch: "amd64"}))
	assert.Equal(t, filepath.Join("Client", "GameClient.app", "Contents", "MacOS", "GameClient"), p.ClientRelPath(Platform{OS: "darwin", Arch: "arm64"}))
	assert.Equal(t, filepath.Join(p.RuntimeDir(Platform{OS: "windows", Arch: "amd64"}), "bin", "java.exe"), p.RuntimeJava(Platform{OS: "windows", Arch: "amd64"}))
}

func TestResolveRootOverride(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg")
	t.Setenv("APPDATA", "/appdata")
	def, err := ResolveRoot("eml", "")
	require.NoError(t, err)
	custom, err := ResolveRoot("eml", "my-launcher")
	require.NoError(t, err)
	assert.Equal(t, "eml", filepath.Base(def))
	assert.Equal(t, "my-launcher", filepath.Base(custom))
	assert.Equal(t, filepath.Dir(def), filepath.Dir(custom))

	abs := filepath.Join(t.TempDir(), "portable")
	got, err := ResolveRoot("eml", abs)
	require.NoError(t, err)
	assert.Equal(t, abs, got)
}

func TestPlatformValidate(t *testing.T) {
	assert.NoError(t, Platform{OS: "linux", Arch: "arm64"}.Validate())
	err := Platform{OS: "freebsd", Arch: "amd64"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUnsupportedPlatform))
}

func TestIncrementalURLMatchesFreshPattern(t *testing.T) {
	e := NewEndpoints("https://patches.example.com/game/")
	platform := Platform{OS: "linux", Arch: "amd64"}
	for from := 1; from < 20; from++ {
		to := from + 1
		fresh := e.FreshPatch(platform, models.ChannelRelease, to)
		inc := e.IncrementalPatch(platform, models.ChannelRelease, from, to)
		assert.Equal(t, strings.Replace(fresh, "/0/", fmt.Sprintf("/%d/", from), 1), inc)
		assert.Equal(t, inc+".sig", e.Signature(inc))
	}
	assert.Equal(t,
		"https://patches.example.com/game/windows/arm64/pre-release/0/7.pwr",
		e.FreshPatch(Platform{OS: "windows", Arch: "arm64"}, models.ChannelPreRelease, 7))
	assert.Equal(t,
		"https://broth.itch.zone/butler/darwin-arm64/LATEST/archive/default",
		e.Tool(Platform{OS: "darwin", Arch: "arm64"}))
}
