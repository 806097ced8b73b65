package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type zipEntry struct {
	name string
	body string
}

func writeZip(t *testing.T, entries ...zipEntry) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	p := filepath.Join(t.TempDir(), "site.zip")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	return p
}

func expectRejected(t *testing.T, err error, fragment string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rejection containing %q", fragment)
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %T %v", err, err)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Fatalf("expected %q in %q", fragment, err.Error())
	}
}

func expectAbsent(t *testing.T, p string) {
	t.Helper()
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent, stat err=%v", p, err)
	}
}

func TestExtractValidSite(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"index.html", "<html></html>"},
		zipEntry{"css/site.css", "body{}"},
		zipEntry{"img/", ""},
		zipEntry{"__MACOSX/._index.html", "junk"},
		zipEntry{".env", "SECRET=1"},
		zipEntry{"assets/.cache/blob.bin", "x"},
	)
	dest := filepath.Join(t.TempDir(), "out")

	meta, err := NewValidator(0, 0).Extract(zipPath, dest)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if meta.FileCount != 2 {
		t.Fatalf("expected 2 files, got %d", meta.FileCount)
	}
	if meta.TotalSize != int64(len("<html></html>")+len("body{}")) {
		t.Fatalf("unexpected total size %d", meta.TotalSize)
	}
	if _, err := os.Stat(filepath.Join(dest, "css", "site.css")); err != nil {
		t.Fatalf("expected css file: %v", err)
	}
	expectAbsent(t, filepath.Join(dest, ".env"))
	expectAbsent(t, filepath.Join(dest, "__MACOSX"))
}

func TestExtractRejectsDisallowedExtensionWithoutWriting(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"index.html", "<html></html>"},
		zipEntry{"run.sh", "rm -rf /"},
	)
	dest := filepath.Join(t.TempDir(), "out")

	_, err := NewValidator(0, 0).Extract(zipPath, dest)
	expectRejected(t, err, ".sh")
	expectRejected(t, err, "run.sh")
	expectAbsent(t, dest)
}

func TestExtractRejectsOversizeDuringScan(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"index.html", strings.Repeat("a", 600)},
		zipEntry{"big.txt", strings.Repeat("b", 600)},
	)
	dest := filepath.Join(t.TempDir(), "out")

	_, err := Validator{MaxArchiveBytes: DefaultMaxArchiveBytes, MaxExtractedBytes: 1000}.Extract(zipPath, dest)
	expectRejected(t, err, "Extracted size exceeds")
	expectAbsent(t, dest)
}

func TestExtractRejectsLargeArchive(t *testing.T) {
	zipPath := writeZip(t, zipEntry{"index.html", strings.Repeat("x", 4096)})
	_, err := Validator{MaxArchiveBytes: 10, MaxExtractedBytes: DefaultMaxExtractedBytes}.Extract(zipPath, filepath.Join(t.TempDir(), "out"))
	expectRejected(t, err, "ZIP file exceeds")
}

func TestExtractRejectsNonZip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "site.zip")
	if err := os.WriteFile(p, []byte("definitely not a zip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewValidator(0, 0).Extract(p, filepath.Join(t.TempDir(), "out"))
	expectRejected(t, err, "not a valid ZIP")
}

func TestExtractRejectsTraversal(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"index.html", "<html></html>"},
		zipEntry{"../../etc/evil.html", "x"},
	)
	dest := filepath.Join(t.TempDir(), "out")
	_, err := NewValidator(0, 0).Extract(zipPath, dest)
	expectRejected(t, err, "Path traversal")
	expectAbsent(t, dest)
}

func TestExtractRejectsAbsolutePath(t *testing.T) {
	zipPath := writeZip(t, zipEntry{"/abs/index.html", "x"})
	_, err := NewValidator(0, 0).Extract(zipPath, filepath.Join(t.TempDir(), "out"))
	expectRejected(t, err, "Absolute path")
}

func TestExtractRejectsEmptyArchive(t *testing.T) {
	zipPath := writeZip(t, zipEntry{"folder/", ""}, zipEntry{".DS_Store", "x"})
	dest := filepath.Join(t.TempDir(), "out")
	_, err := NewValidator(0, 0).Extract(zipPath, dest)
	expectRejected(t, err, "empty")
	expectAbsent(t, dest)
}

func TestExtractHoistsNestedIndex(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"my-site/index.html", "<html></html>"},
		zipEntry{"my-site/js/app.js", "console.log(1)"},
	)
	dest := filepath.Join(t.TempDir(), "out")

	if _, err := NewValidator(0, 0).Extract(zipPath, dest); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "index.html")); err != nil {
		t.Fatalf("expected hoisted index.html: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "js", "app.js")); err != nil {
		t.Fatalf("expected hoisted js/app.js: %v", err)
	}
	expectAbsent(t, filepath.Join(dest, "my-site"))
}

func TestExtractHoistsFolderContainingSameName(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"site/index.html", "<html></html>"},
		zipEntry{"site/site/readme.txt", "nested"},
	)
	dest := filepath.Join(t.TempDir(), "out")
	if _, err := NewValidator(0, 0).Extract(zipPath, dest); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "site", "readme.txt")); err != nil {
		t.Fatalf("expected site/readme.txt after hoist: %v", err)
	}
}

func TestExtractRequiresIndexAndCleansUp(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"a/b/index.html", "<html></html>"},
		zipEntry{"readme.md", "# hi"},
	)
	dest := filepath.Join(t.TempDir(), "out")
	_, err := NewValidator(0, 0).Extract(zipPath, dest)
	expectRejected(t, err, "No index.html")
	expectAbsent(t, dest)
}

func TestExtractSkipsHiddenFilesButKeepsHiddenDirs(t *testing.T) {
	zipPath := writeZip(t,
		zipEntry{"index.html", "<html></html>"},
		zipEntry{".well-known/security.txt", "Contact: mailto:sec@example.com"},
		zipEntry{"css/.hidden.css", "body{}"},
		zipEntry{"__MACOSX/._index.html", "meta"},
	)
	dest := filepath.Join(t.TempDir(), "out")

	meta, err := NewValidator(0, 0).Extract(zipPath, dest)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if meta.FileCount != 2 {
		t.Fatalf("expected 2 files, got %d", meta.FileCount)
	}
	if _, err := os.Stat(filepath.Join(dest, ".well-known", "security.txt")); err != nil {
		t.Fatalf("expected .well-known/security.txt: %v", err)
	}
	expectAbsent(t, filepath.Join(dest, "css", ".hidden.css"))
	expectAbsent(t, filepath.Join(dest, "__MACOSX"))
}
