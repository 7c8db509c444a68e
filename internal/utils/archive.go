package utils

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks a zip or gzip-compressed tar archive into dest, detecting
// the format from the file header rather than the name.
func Extract(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	f.Close()
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return Unzip(src, dest)
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return Untar(src, dest)
	default:
		return fmt.Errorf("unrecognized archive format: %s", filepath.Base(src))
	}
}

func withinDest(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path: %s", target)
	}
	return target, nil
}

// Unzip extracts a zip archive into dest.
func Unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		fpath, err := withinDest(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			dirPerm := ensureOwnerWritable(f.Mode().Perm(), true)
			if err := os.MkdirAll(fpath, dirPerm); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}
		if f.Mode()&os.ModeSymlink != 0 {
			if err := extractZipSymlink(f, fpath, dest); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(fpath, rc, ensureOwnerWritable(f.Mode().Perm(), false))
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractZipSymlink(f *zip.File, fpath, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	target, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return err
	}
	return safeSymlink(string(target), fpath, dest)
}

// Untar extracts a gzip-compressed tar archive into dest.
func Untar(src, dest string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target, err := withinDest(dest, header.Name)
		if err != nil {
			if filepath.Clean(header.Name) == "." {
				continue
			}
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, ensureOwnerWritable(os.FileMode(header.Mode).Perm(), true)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, ensureOwnerWritable(os.FileMode(header.Mode).Perm(), false)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := safeSymlink(header.Linkname, target, dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// safeSymlink creates a relative symlink only when it resolves inside dest.
// Runtime archives for macOS ship such links inside their bundles.
func safeSymlink(linkname, target, dest string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("illegal symlink target: %s", linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), linkname)
	if _, err := withinDest(dest, mustRel(dest, resolved)); err != nil {
		return fmt.Errorf("illegal symlink target: %s", linkname)
	}
	_ = os.Remove(target)
	return os.Symlink(linkname, target)
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(filepath.Clean(base), target)
	if err != nil {
		return ".."
	}
	return rel
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if _, statErr := os.Stat(path); statErr == nil {
		if err := os.Chmod(path, perm); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(path, perm)
}

func ensureOwnerWritable(perm os.FileMode, isDir bool) os.FileMode {
	if perm&0o200 == 0 {
		perm |= 0o200
	}
	if perm&0o400 == 0 {
		perm |= 0o400
	}
	if isDir && perm&0o100 == 0 {
		perm |= 0o100
	}
	return perm
}

// FlattenSingleDirectory moves the contents of base's only child directory
// up into base. It is a no-op when base holds anything else.
func FlattenSingleDirectory(base string) error {
	entries, err := os.ReadDir(base)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	return liftDirectory(base, filepath.Join(base, entries[0].Name()))
}

// LiftMacOSHome replaces base's contents with Contents/Home when the
// extracted runtime is a macOS bundle.
func LiftMacOSHome(base string) error {
	home := filepath.Join(base, "Contents", "Home")
	info, err := os.Stat(home)
	if err != nil || !info.IsDir() {
		return nil
	}
	tmp := base + ".home"
	_ = os.RemoveAll(tmp)
	if err := os.Rename(home, tmp); err != nil {
		return err
	}
	if err := os.RemoveAll(base); err != nil {
		return err
	}
	return os.Rename(tmp, base)
}

func liftDirectory(base, root string) error {
	inner, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	var aside string
	for _, entry := range inner {
		src := filepath.Join(root, entry.Name())
		dst := filepath.Join(base, entry.Name())
		if dst == root {
			// child shares the parent's name; move it aside first
			aside = root + ".lift"
			if err := os.Rename(src, aside); err != nil {
				return err
			}
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	if aside != "" {
		if err := os.Rename(aside, root); err != nil {
			return fmt.Errorf("move %s back into place: %w", filepath.Base(root), err)
		}
	}
	return nil
}

// ReplaceDir swaps dst for src. The previous dst is moved aside and only
// removed once src is in place, so a failed swap leaves the old contents.
func ReplaceDir(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	old := dst + ".old"
	_ = os.RemoveAll(old)
	hadOld := false
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("move aside %s: %w", dst, err)
		}
		hadOld = true
	}
	if err := os.Rename(src, dst); err != nil {
		if hadOld {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("install %s: %w", dst, err)
	}
	if hadOld {
		_ = os.RemoveAll(old)
	}
	return nil
}
