//go:build !windows

package utils

import (
	"os"

	"golang.org/x/sys/unix"
)

// IsExecutable reports whether the current user may execute path.
func IsExecutable(path string) bool {
	if !FileExists(path) {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

// SetExecutable adds execute permission for everyone who can read path.
func SetExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	mode |= (mode & 0o444) >> 2
	mode |= 0o100
	return os.Chmod(path, mode)
}

func replaceFile(src, dst string) error {
	return os.Rename(src, dst)
}
