package fileutil

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")

	content := []byte("verified copy content")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerified_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "nonexistent"), filepath.Join(dir, "dst.bin")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestTempPathKeepsExtension(t *testing.T) {
	got := TempPath("/snaps/front_door.jpg", "abc")
	if got != "/snaps/front_door.tmp-abc.jpg" {
		t.Fatalf("TempPath = %q", got)
	}
}

func TestPublishCreatesParentAndReplaces(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "capture.tmp.jpg")
	dst := filepath.Join(dir, "front", "2026-01-02", "10-00-00.jpg")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Publish(src, dst); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "new" {
		t.Fatalf("destination = %q, %v", got, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present: %v", err)
	}
}

func TestRemoveEmptyDirs(t *testing.T) {
	root := t.TempDir()
	empty := filepath.Join(root, "front", "2026-01-01")
	keep := filepath.Join(root, "front", "2026-01-02")
	for _, dir := range []string{empty, keep} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(keep, "a.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	lonely := filepath.Join(root, "back", "2026-01-01")
	if err := os.MkdirAll(lonely, 0o755); err != nil {
		t.Fatal(err)
	}

	removed := RemoveEmptyDirs(root, []string{empty, keep, lonely, lonely, "/etc"})
	slices.Sort(removed)
	want := []string{filepath.Join(root, "back"), lonely, empty}
	slices.Sort(want)
	if !slices.Equal(removed, want) {
		t.Fatalf("removed %v, want %v", removed, want)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("root was removed: %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("non-empty dir removed: %v", err)
	}
}
