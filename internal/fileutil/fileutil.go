package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// TempPath returns a sibling of target that keeps its extension, so tools
// that infer the output format from the name still work.
func TempPath(target, tag string) string {
	ext := filepath.Ext(target)
	return strings.TrimSuffix(target, ext) + ".tmp-" + tag + ext
}

// Publish moves src over dst. Readers never observe a partial dst: the rename
// is atomic on one filesystem, and across filesystems the data is copied to a
// temporary sibling first.
func Publish(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	staged := TempPath(dst, "xdev")
	if err := CopyFileVerified(src, staged); err != nil {
		_ = os.Remove(staged)
		return err
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.Remove(staged)
		return err
	}
	return os.Remove(src)
}

// RemoveEmptyDirs removes each directory in dirs that is empty, then walks up
// removing parents that became empty, stopping at root. Directories outside
// root are ignored. It returns the directories removed.
func RemoveEmptyDirs(root string, dirs []string) []string {
	root = filepath.Clean(root)
	candidates := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		dir = filepath.Clean(dir)
		if within(root, dir) {
			candidates[dir] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(candidates))
	for dir := range candidates {
		ordered = append(ordered, dir)
	}
	// Deepest first so children are gone before their parents are checked.
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], string(filepath.Separator)), strings.Count(ordered[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return ordered[i] < ordered[j]
	})

	var removed []string
	seen := make(map[string]struct{})
	for _, dir := range ordered {
		for dir != root && within(root, dir) {
			if _, done := seen[dir]; done {
				break
			}
			seen[dir] = struct{}{}
			if !isEmptyDir(dir) || os.Remove(dir) != nil {
				break
			}
			removed = append(removed, dir)
			dir = filepath.Dir(dir)
		}
	}
	return removed
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isEmptyDir(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return errors.Is(err, io.EOF)
}
