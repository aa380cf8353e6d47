package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"My Video", "My_Video"},
		{`a/b\c:d*e?f"g<h>i|j`, "abcdefghij"},
		{"  spaced   out  ", "spaced_out"},
		{"../../etc/passwd", "etcpasswd"},
		{"...", ""},
		{"", ""},
		{"第一集 预告", "第一集_预告"},
	}

	for _, tt := range tests {
		result := SanitizeTitle(tt.input)
		if result != tt.expected {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestOutputNameUsesTitle(t *testing.T) {
	dir := t.TempDir()
	got := OutputName(dir, "Episode 1", ".mp4", time.Now())
	if got != "Episode_1.mp4" {
		t.Errorf("OutputName() = %q, want %q", got, "Episode_1.mp4")
	}
}

func TestOutputNameFallbackCounter(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 19, 12, 30, 5, 0, time.UTC)

	first := OutputName(dir, "", ".mp4", now)
	if first != "20261019_123005.mp4" {
		t.Fatalf("OutputName() = %q", first)
	}
	if err := os.WriteFile(filepath.Join(dir, first), nil, 0644); err != nil {
		t.Fatal(err)
	}

	second := OutputName(dir, "???", ".mp4", now)
	if second != "20261019_123005_1.mp4" {
		t.Errorf("OutputName() after collision = %q", second)
	}
	if err := os.WriteFile(filepath.Join(dir, second), nil, 0644); err != nil {
		t.Fatal(err)
	}

	third := OutputName(dir, "", ".mp4", now)
	if third != "20261019_123005_2.mp4" {
		t.Errorf("OutputName() after two collisions = %q", third)
	}
}

func TestWithinRoot(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"root itself", root, false},
		{"existing child", filepath.Join(root, "a"), false},
		{"missing nested child", filepath.Join(root, "x", "y", "z"), false},
		{"parent", filepath.Dir(root), true},
		{"dotdot escape", filepath.Join(root, "a", "..", "..", "elsewhere"), true},
		{"sibling prefix", root + "-other", true},
	}
	if err := os.Mkdir(filepath.Join(root, "a"), 0755); err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WithinRoot(root, tt.dir)
			if tt.wantErr {
				if !errors.Is(err, ErrOutsideRoot) {
					t.Errorf("WithinRoot(%q) error = %v, want ErrOutsideRoot", tt.dir, err)
				}
				return
			}
			if err != nil {
				t.Errorf("WithinRoot(%q) error = %v", tt.dir, err)
			}
		})
	}
}

func TestWithinRootSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	if _, err := WithinRoot(root, filepath.Join(link, "videos")); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("WithinRoot() through symlink error = %v, want ErrOutsideRoot", err)
	}
}

func TestTempDir(t *testing.T) {
	parent := t.TempDir()
	dir, err := TempDir(parent)
	if err != nil {
		t.Fatalf("TempDir() error = %v", err)
	}
	if filepath.Dir(dir) != parent {
		t.Errorf("TempDir() parent = %q, want %q", filepath.Dir(dir), parent)
	}
	if !strings.HasPrefix(filepath.Base(dir), "temp_") {
		t.Errorf("TempDir() name = %q, want temp_ prefix", filepath.Base(dir))
	}

	other, err := TempDir(parent)
	if err != nil {
		t.Fatal(err)
	}
	if other == dir {
		t.Error("TempDir() returned the same path twice")
	}
}

func TestSegmentPathUnique(t *testing.T) {
	a := SegmentPath("/tmp/x", 7)
	b := SegmentPath("/tmp/x", 7)
	if a == b {
		t.Errorf("SegmentPath() not unique: %q", a)
	}
	if !strings.HasPrefix(filepath.Base(a), "seg_00007_") {
		t.Errorf("SegmentPath() = %q", a)
	}
}
