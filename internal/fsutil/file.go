// Package fsutil provides file system helpers for output naming,
// download-root containment and scoped temp directories.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrOutsideRoot is returned when a path escapes the permitted root.
var ErrOutsideRoot = errors.New("path is outside the download root")

var invalidTitleChars = regexp.MustCompile(`[\\/*?:"<>|\x00-\x1f]`)

// SanitizeTitle strips characters that are invalid in file names and
// replaces whitespace runs with underscores.
func SanitizeTitle(title string) string {
	title = invalidTitleChars.ReplaceAllString(title, "")
	title = strings.Join(strings.Fields(title), "_")
	title = strings.Trim(title, "._")
	return title
}

// TimestampLayout is used for fallback output names.
const TimestampLayout = "20060102_150405"

// OutputName picks the output file name inside dir. A usable title wins;
// otherwise a timestamp name is generated, with a counter suffix added
// until it no longer collides with an existing file.
func OutputName(dir, title, ext string, now time.Time) string {
	if name := SanitizeTitle(title); name != "" {
		return name + ext
	}

	base := now.Format(TimestampLayout)
	name := base + ext
	for i := 1; exists(filepath.Join(dir, name)); i++ {
		name = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	return name
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// WithinRoot resolves dir and checks that it lies inside root.
// Symlinks in the existing part of either path are followed.
// It returns the cleaned absolute dir.
func WithinRoot(root, dir string) (string, error) {
	absRoot, err := resolve(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	absDir, err := resolve(dir)
	if err != nil {
		return "", fmt.Errorf("resolve dir: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, dir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s not under %s", ErrOutsideRoot, absDir, absRoot)
	}
	return absDir, nil
}

// resolve returns an absolute path with symlinks evaluated for the
// longest prefix that exists.
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	existing, rest := abs, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(real, rest), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// TempDir creates a uniquely named scratch directory inside parent.
func TempDir(parent string) (string, error) {
	dir := filepath.Join(parent, "temp_"+uuid.NewString())
	if err := os.Mkdir(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// SegmentPath returns a unique temp file path for a segment.
func SegmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("seg_%05d_%s.ts", index, uuid.NewString()[:8]))
}
