package scanner

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// ExtractZip expands zipPath into dest. Entries that would land outside dest
// are rejected.
func ExtractZip(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", zipPath, err)
	}
	defer r.Close()

	if err := util.EnsureDir(dest); err != nil {
		return err
	}
	cleanDest := filepath.Clean(dest) + string(os.PathSeparator)

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, cleanDest) {
			return fmt.Errorf("zip entry %q escapes %s", f.Name, dest)
		}
		if f.FileInfo().IsDir() {
			if err := util.EnsureDir(target); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s from %s: %w", f.Name, filepath.Base(zipPath), err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := util.EnsureDir(filepath.Dir(target)); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// CopyPackage copies the package directory src into dest, keeping its base
// name, and returns the path of the copy. Symbolic links are not copied.
func CopyPackage(src, dest string) (string, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dest, filepath.Base(abs))
	if err := os.CopyFS(target, os.DirFS(abs)); err != nil {
		return "", fmt.Errorf("copy %s: %w", filepath.Base(abs), err)
	}
	return target, nil
}

// expandUnitZip extracts a sync-session zip found in a talking book
// directory. It extracts into a hidden staging directory that is always
// removed, and only moves the result into tbDir when extraction succeeded.
func expandUnitZip(zipPath, tbDir string) error {
	stage, err := os.MkdirTemp(tbDir, ".unzip-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	if err := ExtractZip(zipPath, stage); err != nil {
		return err
	}

	entries, err := os.ReadDir(stage)
	if err != nil {
		return err
	}
	for _, e := range entries {
		target := filepath.Join(tbDir, e.Name())
		if err := os.RemoveAll(target); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(stage, e.Name()), target); err != nil {
			return err
		}
	}
	return nil
}
