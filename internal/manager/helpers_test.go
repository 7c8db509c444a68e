package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

var linuxAMD64 = utils.Platform{OS: "linux", Arch: "amd64"}

func sha(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// cdn serves fixed files and fabricates vendor patches for any .pwr path.
type cdn struct {
	srv   *httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	order []string
	files map[string][]byte
	auth  map[string]string
}

func newCDN(t *testing.T) *cdn {
	t.Helper()
	c := &cdn{hits: map[string]int{}, files: map[string][]byte{}, auth: map[string]string{}}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.hits[r.URL.Path]++
		c.order = append(c.order, r.URL.Path)
		c.auth[r.URL.Path] = r.Header.Get("Authorization")
		body, ok := c.files[r.URL.Path]
		c.mu.Unlock()
		switch {
		case ok:
			_, _ = w.Write(body)
		case strings.HasSuffix(r.URL.Path, utils.PatchExt), strings.HasSuffix(r.URL.Path, utils.PatchExt+utils.SignatureSuffix):
			_, _ = w.Write([]byte("patch " + r.URL.Path))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *cdn) serve(path string, body []byte) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = body
	return c.srv.URL + path
}

// drop stops serving path until it is served again.
func (c *cdn) drop(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, path)
}

func (c *cdn) hitCount(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func (c *cdn) requested() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *cdn) authFor(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth[path]
}

// fakeTool writes "official <kind> build N" files instead of patching. An
// incremental step refuses to run unless the client is the official build
// it starts from, the way a real signature check would.
type fakeTool struct {
	mu     sync.Mutex
	rel    string
	server bool
	failOn string
	steps  []string
	// dirty lists fresh steps that found a client already in place.
	dirty []string
}

func (f *fakeTool) EnsureInstalled(context.Context) (string, error) { return "butler", nil }

func (f *fakeTool) Apply(ctx context.Context, patchFile, signatureFile, targetDir, stagingDir string, sink models.Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	step := strings.TrimSuffix(filepath.Base(patchFile), utils.PatchExt)
	var from, to int
	if _, err := fmt.Sscanf(step, "%d-%d", &from, &to); err != nil {
		return err
	}
	if _, err := os.Stat(signatureFile); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if step == f.failOn {
		return &models.Error{Kind: models.KindInstall, Op: "apply patch", Detail: "patch rejected"}
	}
	client := filepath.Join(targetDir, f.rel)
	if from == 0 {
		if utils.FileExists(client) {
			f.dirty = append(f.dirty, step)
		}
	} else {
		got, err := os.ReadFile(client)
		if err != nil {
			return err
		}
		if string(got) != officialClient(from) {
			return &models.Error{Kind: models.KindInstall, Op: "apply patch", Detail: "signature mismatch: " + string(got)}
		}
	}

	if err := os.MkdirAll(filepath.Dir(client), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(client, []byte(officialClient(to)), 0o755); err != nil {
		return err
	}
	if f.server {
		jar := filepath.Join(targetDir, "Server", "GameServer.jar")
		if err := os.MkdirAll(filepath.Dir(jar), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(jar, []byte(fmt.Sprintf("official server build %d", to)), 0o644); err != nil {
			return err
		}
	}
	f.steps = append(f.steps, step)
	models.OrDiscard(sink).Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseEnd, Message: step})
	return nil
}

func (f *fakeTool) applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.steps...)
}

func officialClient(build int) string {
	return fmt.Sprintf("official client build %d", build)
}

// fakeRuntime drops a java binary in place and counts calls.
type fakeRuntime struct {
	paths *utils.Paths
	mu    sync.Mutex
	calls int
}

func (r *fakeRuntime) Ensure(_ context.Context, platform utils.Platform, _ models.Sink) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	java := r.paths.RuntimeJava(platform)
	if err := os.MkdirAll(filepath.Dir(java), 0o755); err != nil {
		return "", err
	}
	return "17.0.2", os.WriteFile(java, []byte("java"), 0o755)
}

type harness struct {
	m       *Manager
	cdn     *cdn
	tool    *fakeTool
	runtime *fakeRuntime
	events  *models.Recorder
	running bool
}

func newHarness(t *testing.T, tool *fakeTool, mutate ...func(*Options)) *harness {
	t.Helper()
	c := newCDN(t)
	paths := utils.NewPaths(t.TempDir())
	if tool == nil {
		tool = &fakeTool{}
	}
	tool.rel = paths.ClientRelPath(linuxAMD64)
	h := &harness{cdn: c, tool: tool, runtime: &fakeRuntime{paths: paths}, events: &models.Recorder{}}
	opts := Options{
		Paths:     paths,
		Endpoints: utils.NewEndpoints(c.srv.URL + "/patches"),
		Fetcher:   utils.NewFetcher(utils.WithDiskCheck(false)),
		Platform:  linuxAMD64,
		Sink:      h.events,
		Tool:      tool,
		Runtime:   h.runtime,
		ProcessCheck: func(context.Context, string) (bool, error) {
			return h.running, nil
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.m = New(opts)
	return h
}

// config returns a loader config for build with the default client patch.
func (h *harness) config(build int) models.LoaderConfig {
	body := []byte("patched client")
	url := h.cdn.serve("/online/client", body)
	return models.LoaderConfig{
		BuildIndex:     build,
		VersionChannel: models.ChannelRelease,
		Patches: map[string]models.PatchConfig{
			"linux": {PatchURL: url, PatchHash: sha(body)},
		},
	}
}

func (h *harness) readClient(t *testing.T, id string) string {
	t.Helper()
	data, err := os.ReadFile(h.m.Paths.ClientExecutable(id, linuxAMD64))
	if err != nil {
		t.Fatalf("read client: %v", err)
	}
	return string(data)
}

func patchPath(from, to int) string {
	return fmt.Sprintf("/patches/linux/amd64/release/%d/%d.pwr", from, to)
}
