// Package utils contains path resolution, logging, downloads, archive
// extraction and other filesystem helpers used throughout the engine.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
)

// Layout names the game binaries inside an installed build.
type Layout struct {
	ClientName string `json:"client_name"`
	ServerJar  string `json:"server_jar"`
	ToolName   string `json:"tool_name"`
}

// DefaultLayout matches the vendor's published build tree.
var DefaultLayout = Layout{
	ClientName: "GameClient",
	ServerJar:  "GameServer.jar",
	ToolName:   "butler",
}

// Paths resolves every filesystem location used by the engine. All methods
// are pure joins off RootPath.
type Paths struct {
	RootPath string `json:"root_path"`
	Layout   Layout `json:"layout"`
}

// NewPaths constructs Paths rooted at the specified directory.
func NewPaths(rootPath string) *Paths {
	return &Paths{RootPath: rootPath, Layout: DefaultLayout}
}

// ResolveRoot returns the per-user application data directory for appName.
// A non-empty override replaces appName as the folder name, redirecting every
// path under a caller-chosen directory.
func ResolveRoot(appName, override string) (string, error) {
	name := strings.TrimSpace(appName)
	if o := strings.TrimSpace(override); o != "" {
		name = o
	}
	if name == "" {
		return "", fmt.Errorf("application name required")
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	base, err := dataHome()
	if err != nil {
		return "", err
	}
	return SecureJoin(base, name)
}

func dataHome() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("APPDATA"); v != "" {
			return v, nil
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			return v, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share"), nil
	}
	return os.UserConfigDir()
}

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateInstanceID rejects ids that could not be used as a single folder name.
func ValidateInstanceID(id string) error {
	if !instanceIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid instance id %q", id)
	}
	return nil
}

// InstancesDir returns the directory holding every instance.
func (p *Paths) InstancesDir() string {
	return filepath.Join(p.RootPath, "instances")
}

// InstanceDir returns the base directory for an instance.
func (p *Paths) InstanceDir(id string) string {
	dir, err := SecureJoin(p.InstancesDir(), id)
	if err != nil || dir == filepath.Clean(p.InstancesDir()) {
		// Callers validate ids first; fall back to a name that cannot collide.
		return filepath.Join(p.InstancesDir(), "_invalid")
	}
	return dir
}

// GameDir returns the folder the patch tool owns and verifies.
func (p *Paths) GameDir(id string) string {
	return filepath.Join(p.InstanceDir(id), "game")
}

// PatchStateDir holds online patch caches and state. It is a sibling of the
// game folder so signature verification of the game tree never sees it.
func (p *Paths) PatchStateDir(id string) string {
	return filepath.Join(p.InstanceDir(id), "patch-state")
}

// StagingDir returns the scratch folder handed to the patch tool.
func (p *Paths) StagingDir(id string) string {
	return filepath.Join(p.InstanceDir(id), "staging")
}

// TempDir returns where patch files and signatures are downloaded.
func (p *Paths) TempDir(id string) string {
	return filepath.Join(p.InstanceDir(id), "temp")
}

// DataDir returns the folder for auxiliary instance files.
func (p *Paths) DataDir(id string) string {
	return filepath.Join(p.InstanceDir(id), "data")
}

// ManifestFile returns the install manifest path.
func (p *Paths) ManifestFile(id string) string {
	return filepath.Join(p.InstanceDir(id), "install.json")
}

// ClientRelPath is the client executable relative to the game folder.
func (p *Paths) ClientRelPath(platform Platform) string {
	name := p.Layout.ClientName
	switch platform.OS {
	case "windows":
		return filepath.Join("Client", name+".exe")
	case "darwin":
		return filepath.Join("Client", name+".app", "Contents", "MacOS", name)
	default:
		return filepath.Join("Client", name)
	}
}

// ClientExecutable returns the live client executable path.
func (p *Paths) ClientExecutable(id string, platform Platform) string {
	return filepath.Join(p.GameDir(id), p.ClientRelPath(platform))
}

// ServerDir returns the server component folder inside the game tree.
func (p *Paths) ServerDir(id string) string {
	return filepath.Join(p.GameDir(id), "Server")
}

// ServerExecutable returns the live server jar path.
func (p *Paths) ServerExecutable(id string) string {
	return filepath.Join(p.ServerDir(id), p.Layout.ServerJar)
}

// RuntimeDir returns the shared runtime folder for a platform.
func (p *Paths) RuntimeDir(platform Platform) string {
	return filepath.Join(p.RootPath, "runtime", platform.String())
}

// RuntimeJava returns the java binary inside the shared runtime.
func (p *Paths) RuntimeJava(platform Platform) string {
	name := "java"
	if platform.OS == "windows" {
		name = "java.exe"
	}
	return filepath.Join(p.RuntimeDir(platform), "bin", name)
}

// RuntimeVersionFile records which runtime version was extracted.
func (p *Paths) RuntimeVersionFile(platform Platform) string {
	return filepath.Join(p.RuntimeDir(platform), "runtime.version")
}

// ToolsDir returns the shared patch tool folder.
func (p *Paths) ToolsDir() string {
	return filepath.Join(p.RootPath, "tools", p.Layout.ToolName)
}

// ToolBinary returns the patch tool executable path.
func (p *Paths) ToolBinary(platform Platform) string {
	name := p.Layout.ToolName
	if platform.OS == "windows" {
		name += ".exe"
	}
	return filepath.Join(p.ToolsDir(), name)
}

// LogsDir returns the global logs directory.
func (p *Paths) LogsDir() string {
	return filepath.Join(p.RootPath, "logs")
}

// LogFile returns the main log file path.
func (p *Paths) LogFile() string {
	return filepath.Join(p.LogsDir(), "emlpatch.log")
}

// DeployInstance creates an instance's directory structure (idempotent).
func (p *Paths) DeployInstance(id string, logger *Logger) error {
	if err := ValidateInstanceID(id); err != nil {
		return err
	}
	for _, dir := range []string{p.InstanceDir(id), p.GameDir(id), p.PatchStateDir(id), p.TempDir(id), p.DataDir(id)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if logger != nil {
		logger.Debugf("instance %s deployed at %s", id, p.InstanceDir(id))
	}
	return nil
}

// Platform is an (OS, architecture) pair using Go's GOOS/GOARCH names.
type Platform struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// CurrentPlatform returns the platform of the running process.
func CurrentPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (p Platform) String() string {
	return p.OS + "-" + p.Arch
}

// Validate rejects platforms the vendor does not publish builds for.
func (p Platform) Validate() error {
	okOS := p.OS == "windows" || p.OS == "linux" || p.OS == "darwin"
	okArch := p.Arch == "amd64" || p.Arch == "arm64"
	if !okOS || !okArch {
		return &models.Error{Kind: models.KindUnsupportedPlatform, Op: "resolve platform", Detail: p.String()}
	}
	return nil
}
