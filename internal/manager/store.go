package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

// ManifestStore reads and writes install manifests. It holds no lock:
// callers must not run two operations on the same instance at once.
type ManifestStore struct {
	paths *utils.Paths
}

// NewManifestStore returns a store rooted at paths.
func NewManifestStore(paths *utils.Paths) *ManifestStore {
	return &ManifestStore{paths: paths}
}

// Path returns the manifest file of an instance.
func (s *ManifestStore) Path(id string) string {
	return s.paths.ManifestFile(id)
}

// Load reads the manifest; a missing file is reported as (nil, false, nil).
func (s *ManifestStore) Load(id string) (*models.InstallManifest, bool, error) {
	var m models.InstallManifest
	found, err := readJSON(s.Path(id), &m)
	if err != nil || !found {
		return nil, found, err
	}
	return &m, true, nil
}

// Save writes the manifest atomically.
func (s *ManifestStore) Save(id string, m *models.InstallManifest) error {
	return writeJSON(s.Path(id), m)
}

// Remove deletes the manifest; a missing file is not an error.
func (s *ManifestStore) Remove(id string) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON writes v next to path and renames it into place so a crash
// never leaves a truncated document behind.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
