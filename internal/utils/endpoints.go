package utils

import (
	"fmt"
	"strings"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
)

const (
	// PatchExt is the extension of vendor delta patches.
	PatchExt = ".pwr"
	// SignatureSuffix is appended to a patch URL to locate its signature.
	SignatureSuffix = ".sig"
	// DefaultToolURL is the "latest" archive of the patch tool; it takes
	// the OS and architecture.
	DefaultToolURL = "https://broth.itch.zone/butler/%s-%s/LATEST/archive/default"
)

// Endpoints builds remote URLs for vendor patches.
type Endpoints struct {
	BaseURL string
	ToolURL string
}

// NewEndpoints returns endpoints rooted at baseURL using the default tool URL.
func NewEndpoints(baseURL string) Endpoints {
	return Endpoints{BaseURL: strings.TrimRight(baseURL, "/"), ToolURL: DefaultToolURL}
}

// FreshPatch returns the URL of the full patch taking an empty tree to build to.
func (e Endpoints) FreshPatch(platform Platform, channel models.VersionChannel, to int) string {
	return e.IncrementalPatch(platform, channel, 0, to)
}

// IncrementalPatch returns the URL of the patch from build from to build to.
// Callers only ever request adjacent builds; the pair is not checked here.
func (e Endpoints) IncrementalPatch(platform Platform, channel models.VersionChannel, from, to int) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/%d%s",
		strings.TrimRight(e.BaseURL, "/"), platform.OS, platform.Arch, channel, from, to, PatchExt)
}

// Signature returns the signature URL published next to a patch.
func (e Endpoints) Signature(patchURL string) string {
	return patchURL + SignatureSuffix
}

// Tool returns the patch tool archive URL for a platform.
func (e Endpoints) Tool(platform Platform) string {
	tmpl := e.ToolURL
	if tmpl == "" {
		tmpl = DefaultToolURL
	}
	return fmt.Sprintf(tmpl, platform.OS, platform.Arch)
}
