// Package models holds the persisted and exchanged data types of the
// installation engine: install manifests, online patch state, loader
// configuration, health reports, typed errors and progress events.
package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// VersionChannel selects the official release track of the game.
type VersionChannel string

const (
	ChannelRelease    VersionChannel = "release"
	ChannelPreRelease VersionChannel = "pre-release"
)

// PatchRecord remembers the last online patch applied to one executable.
type PatchRecord struct {
	URL       string    `json:"url"`
	Hash      string    `json:"hash,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// InstallManifest is the per-instance record of what is on disk.
//
// BuildIndex is only ever advanced after the patch tool reports success for
// the step that produced it, so the manifest can be re-read after a crash and
// the update resumed from the last completed build.
type InstallManifest struct {
	BuildIndex      int            `json:"build_index"`
	VersionChannel  VersionChannel `json:"version_channel"`
	InstalledAt     time.Time      `json:"installed_at"`
	RuntimeVersion  string         `json:"runtime_version,omitempty"`
	ServerInstalled bool           `json:"server_installed"`
	ClientPatch     *PatchRecord   `json:"client_patch,omitempty"`
	ServerPatch     *PatchRecord   `json:"server_patch,omitempty"`
}

// OnlinePatchState is persisted next to the cached executables of one patch
// target, never inside the game folder.
type OnlinePatchState struct {
	Enabled    bool      `json:"enabled"`
	PatchURL   string    `json:"patch_url,omitempty"`
	PatchHash  string    `json:"patch_hash,omitempty"`
	BuildIndex int       `json:"build_index"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PatchConfig describes an online patch for one platform or for the server.
// An empty PatchURL means no patch is configured.
type PatchConfig struct {
	PatchURL     string `json:"patch_url,omitempty" validate:"omitempty,url"`
	PatchHash    string `json:"patch_hash,omitempty" validate:"omitempty,sha256hex"`
	OriginalURL  string `json:"original_url,omitempty" validate:"omitempty,url"`
	OriginalHash string `json:"original_hash,omitempty" validate:"omitempty,sha256hex"`
}

// Configured reports whether a patch URL is present.
func (p *PatchConfig) Configured() bool {
	return p != nil && strings.TrimSpace(p.PatchURL) != ""
}

// AuxFile is an instance-scoped file fetched outside of the patch flow.
type AuxFile struct {
	URL    string `json:"url" validate:"required,url"`
	Path   string `json:"path" validate:"required"`
	SHA256 string `json:"sha256,omitempty" validate:"omitempty,sha256hex"`
}

// LoaderConfig is supplied by the calling application, usually fetched from a
// remote control plane.
type LoaderConfig struct {
	BuildIndex     int                    `json:"build_index" validate:"gte=1"`
	VersionChannel VersionChannel         `json:"version_channel" validate:"required,oneof=release pre-release"`
	Patches        map[string]PatchConfig `json:"patches,omitempty" validate:"omitempty,dive"`
	ServerPatch    *PatchConfig           `json:"server_patch,omitempty" validate:"omitempty"`
	AuxFiles       []AuxFile              `json:"aux_files,omitempty"`
}

// ClientPatch returns the patch configured for the given OS, or nil.
func (c LoaderConfig) ClientPatch(goos string) *PatchConfig {
	if c.Patches == nil {
		return nil
	}
	p, ok := c.Patches[goos]
	if !ok || !p.Configured() {
		return nil
	}
	return &p
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("sha256hex", func(fl validator.FieldLevel) bool {
			return IsSHA256Hex(fl.Field().String())
		})
	})
	return validate
}

// Validate checks one aux file entry. Loader validation skips aux files:
// a bad entry is reported when it is downloaded and never fails an install.
func (f AuxFile) Validate() error {
	if err := validatorInstance().Struct(f); err != nil {
		return &Error{Kind: KindFetch, Op: "validate aux file", Err: err}
	}
	return nil
}

// Validate checks the loader configuration. Client patches must publish a
// hash; the server patch is allowed to be unhashed.
func (c LoaderConfig) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return &Error{Kind: KindInstall, Op: "validate loader config", Err: err}
	}
	for goos, p := range c.Patches {
		if p.Configured() && strings.TrimSpace(p.PatchHash) == "" {
			return &Error{
				Kind:   KindInstall,
				Op:     "validate loader config",
				Detail: fmt.Sprintf("client patch for %s has no patch_hash", goos),
			}
		}
	}
	return nil
}

// IsSHA256Hex reports whether s is a 64 character hex digest.
func IsSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// RuntimeDownload is one archive entry of the runtime manifest.
type RuntimeDownload struct {
	SHA256 string `json:"sha256"`
	URL    string `json:"url"`
}

// RuntimeManifest lists the shared language runtime per OS and architecture.
type RuntimeManifest struct {
	Version   string                                `json:"version"`
	Downloads map[string]map[string]RuntimeDownload `json:"download_url"`
}

// Lookup returns the archive for a platform.
func (m RuntimeManifest) Lookup(goos, goarch string) (RuntimeDownload, bool) {
	byArch, ok := m.Downloads[goos]
	if !ok {
		return RuntimeDownload{}, false
	}
	d, ok := byArch[goarch]
	if !ok || d.URL == "" {
		return RuntimeDownload{}, false
	}
	return d, true
}
