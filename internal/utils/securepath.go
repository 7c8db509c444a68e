package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a path resolves outside its root.
var ErrEscapesRoot = errors.New("path escapes root")

// SecureJoin joins root and userPath, ensuring the result stays within root.
// Absolute user paths are treated as relative to root. An empty userPath
// yields the cleaned root.
func SecureJoin(root, userPath string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("root required")
	}
	cleanRoot := filepath.Clean(root)
	if strings.TrimSpace(userPath) == "" {
		return cleanRoot, nil
	}
	up := filepath.Clean(filepath.FromSlash(userPath))
	if vol := filepath.VolumeName(up); vol != "" {
		up = strings.TrimPrefix(up, vol)
	}
	up = strings.TrimLeft(up, `/\`)
	candidate := filepath.Join(cleanRoot, up)
	if err := EnsureWithin(cleanRoot, candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

// EnsureWithin reports an error unless path is root or lies beneath it.
func EnsureWithin(root, path string) error {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s: %w", path, ErrEscapesRoot)
	}
	return nil
}

// EnsureRegularFile rejects symlinks and anything that is not a plain file.
func EnsureRegularFile(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("refusing symlinked executable: %s", path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	return info, nil
}
