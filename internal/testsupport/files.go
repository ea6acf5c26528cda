package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// jpegStub is the smallest byte run ffprobe and image viewers still sniff as
// JPEG: start-of-image followed by end-of-image.
var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

// WriteSnapshot writes a stub JPEG at path, creating parent directories, and
// backdates its modification time by age.
func WriteSnapshot(t testing.TB, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, jpegStub, 0o644); err != nil {
		t.Fatalf("write snapshot %s: %v", path, err)
	}
	if age <= 0 {
		return
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// HistoryPath is where a history capture of camera taken at at lands for a
// time layout such as "2006-01-02/15-04-05".
func HistoryPath(base, camera, layout string, at time.Time) string {
	return filepath.Join(base, camera, filepath.FromSlash(at.Format(layout))+".jpg")
}
