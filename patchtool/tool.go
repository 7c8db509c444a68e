// Package patchtool wraps the external delta patch utility: it installs the
// tool on first use and runs its apply and verify subcommands, turning the
// tool's line-delimited JSON output into progress events.
package patchtool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

// maxStderr bounds how much diagnostic output is kept for error reporting.
const maxStderr = 64 << 10

// Tool runs the patch utility for one platform.
type Tool struct {
	Logger    *utils.Logger
	Paths     *utils.Paths
	Endpoints utils.Endpoints
	Fetcher   *utils.Fetcher
	Platform  utils.Platform
	// Executables are paths relative to the target directory whose execute
	// bit is restored after every apply.
	Executables []string

	installMu sync.Mutex
}

// New constructs a Tool. Executables default to the client binary of the layout.
func New(logger *utils.Logger, paths *utils.Paths, endpoints utils.Endpoints, fetcher *utils.Fetcher, platform utils.Platform) *Tool {
	if fetcher == nil {
		fetcher = utils.NewFetcher()
	}
	return &Tool{
		Logger:      logger,
		Paths:       paths,
		Endpoints:   endpoints,
		Fetcher:     fetcher,
		Platform:    platform,
		Executables: []string{paths.ClientRelPath(platform)},
	}
}

// EnsureInstalled returns the tool binary path, downloading and extracting
// the platform archive when the binary is missing.
func (t *Tool) EnsureInstalled(ctx context.Context) (string, error) {
	bin := t.Paths.ToolBinary(t.Platform)
	if utils.FileExists(bin) {
		return bin, nil
	}

	t.installMu.Lock()
	defer t.installMu.Unlock()
	if utils.FileExists(bin) {
		return bin, nil
	}

	toolsDir := t.Paths.ToolsDir()
	parent := filepath.Dir(toolsDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create tools dir: %w", err)
	}
	work, err := os.MkdirTemp(parent, ".tool-*")
	if err != nil {
		return "", fmt.Errorf("create tool workspace: %w", err)
	}
	defer os.RemoveAll(work)

	url := t.Endpoints.Tool(t.Platform)
	t.Logger.Write(fmt.Sprintf("Downloading patch tool from %s", url))
	archive := filepath.Join(work, "tool.zip")
	if _, err := t.Fetcher.Fetch(ctx, utils.FetchRequest{URL: url, Dest: archive, Component: models.ComponentTool}); err != nil {
		return "", err
	}

	extracted := filepath.Join(work, "extracted")
	if err := os.MkdirAll(extracted, 0o755); err != nil {
		return "", err
	}
	if err := utils.Extract(archive, extracted); err != nil {
		return "", &models.Error{Kind: models.KindInstall, Op: "extract patch tool", Path: archive, Err: err}
	}
	if err := utils.FlattenSingleDirectory(extracted); err != nil {
		return "", err
	}
	name := filepath.Base(bin)
	if !utils.FileExists(filepath.Join(extracted, name)) {
		return "", &models.Error{Kind: models.KindMissingFile, Op: "install patch tool", Path: name, Detail: "archive does not contain the tool binary"}
	}
	if t.Platform.OS != "windows" {
		if err := os.Chmod(filepath.Join(extracted, name), 0o755); err != nil {
			return "", err
		}
	}

	if err := utils.ReplaceDir(extracted, toolsDir); err != nil {
		// another process may have won the race
		if utils.FileExists(bin) {
			return bin, nil
		}
		return "", &models.Error{Kind: models.KindInstall, Op: "install patch tool", Path: toolsDir, Err: err}
	}
	t.Logger.Write("Patch tool installed at " + bin)
	return bin, nil
}

// Apply runs the tool's apply subcommand with signature verification. The
// staging directory is wiped first so a previous aborted run cannot leave
// stale state behind.
func (t *Tool) Apply(ctx context.Context, patchFile, signatureFile, targetDir, stagingDir string, sink models.Sink) error {
	sink = models.OrDiscard(sink)
	bin, err := t.safeToolExec()
	if err != nil {
		return err
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	args := []string{"apply", "--json", "--staging-dir", stagingDir, "--signature", signatureFile, patchFile, targetDir}
	if err := validateToolArgs(args); err != nil {
		return err
	}

	sink.Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseStart, Stage: "applying", Message: filepath.Base(patchFile)})
	stderr, err := t.run(ctx, bin, args, sink)
	if err != nil {
		sink.Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseEnd, Stage: "failed", Err: err.Error()})
		if ctx.Err() != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(patchFile), ctx.Err())
		}
		return &models.Error{Kind: models.KindInstall, Op: "apply patch", Path: patchFile, Detail: stderr, Err: err}
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		t.Logger.Warnf("remove staging dir %s: %v", stagingDir, err)
	}
	if t.Platform.OS != "windows" {
		for _, rel := range t.Executables {
			p := filepath.Join(targetDir, rel)
			if !utils.FileExists(p) {
				continue
			}
			if err := utils.SetExecutable(p); err != nil {
				return fmt.Errorf("restore exec bit on %s: %w", p, err)
			}
		}
	}
	sink.Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseEnd, Stage: "applied", Percent: 100})
	return nil
}

// Verify checks targetDir against a signature. A failed verification is a
// normal false result; only failing to run the tool is an error.
func (t *Tool) Verify(ctx context.Context, signatureFile, targetDir string) (bool, error) {
	bin, err := t.safeToolExec()
	if err != nil {
		return false, err
	}
	args := []string{"verify", "--json", signatureFile, targetDir}
	if err := validateToolArgs(args); err != nil {
		return false, err
	}
	stderr, err := t.run(ctx, bin, args, nil)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		t.Logger.Warnf("verification of %s failed: %s", targetDir, strings.TrimSpace(stderr))
		return false, nil
	}
	return false, &models.Error{Kind: models.KindVerify, Op: "run verify", Path: targetDir, Err: err}
}

// run executes the tool, forwarding parsed stdout lines to sink and
// returning the captured stderr.
func (t *Tool) run(ctx context.Context, bin string, args []string, sink models.Sink) (string, error) {
	sink = models.OrDiscard(sink)
	t.Logger.Write(fmt.Sprintf("Executing command: %s %s", bin, strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, bin, args...)
	setProcAttr(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	stderrR, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", err
	}

	var wg sync.WaitGroup
	var stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.forward(stdout, sink)
	}()
	go func() {
		defer wg.Done()
		capture := &limitedBuffer{buf: &stderrBuf, max: maxStderr}
		t.Logger.LogPipe(io.TeeReader(stderrR, capture), logrus.WarnLevel)
		_, _ = io.Copy(capture, stderrR)
	}()
	wg.Wait()
	err = cmd.Wait()
	return stderrBuf.String(), err
}

func (t *Tool) forward(r io.Reader, sink models.Sink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := ParseLine(scanner.Text())
		switch line.Kind {
		case LineProgress:
			sink.Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseProgress, Stage: "applying", Percent: line.Percent})
		case LineLog:
			if line.Level == "debug" {
				t.Logger.Debugf("patch tool: %s", line.Message)
				sink.Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseDebug, Message: line.Message})
				continue
			}
			t.Logger.Write("patch tool: " + line.Message)
			sink.Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseLog, Message: line.Message})
		default:
			if line.Text != "" {
				t.Logger.Debugf("patch tool: %s", line.Text)
				sink.Emit(models.Event{Component: models.ComponentPatchApply, Phase: models.PhaseDebug, Message: line.Text})
			}
		}
	}
	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
