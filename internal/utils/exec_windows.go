//go:build windows

package utils

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// IsExecutable reports whether path is an existing executable image.
func IsExecutable(path string) bool {
	if !FileExists(path) {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd", ".com":
		return true
	}
	return false
}

// SetExecutable is a no-op on Windows.
func SetExecutable(string) error { return nil }

// replaceFile renames src over dst. MoveFileEx is used so an existing dst
// is replaced in one call.
func replaceFile(src, dst string) error {
	from, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return err
	}
	if err := windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH); err != nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: err}
	}
	return nil
}
