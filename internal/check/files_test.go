package check

import (
	"strings"
	"testing"
)

func TestTextFilesSkipsBinaryAndTruncates(t *testing.T) {
	dir := writeSite(t, map[string]string{
		"index.html":     "<h1>hi</h1>",
		"img/logo.png":   "\x89PNG",
		"js/big.js":      strings.Repeat("a", maxTextChars+10),
		"css/styles.css": "body{}",
	})
	files, err := TextFiles(dir)
	if err != nil {
		t.Fatalf("TextFiles: %v", err)
	}
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	if got := strings.Join(paths, ","); got != "css/styles.css,index.html,js/big.js" {
		t.Fatalf("unexpected files %s", got)
	}
	if !strings.HasSuffix(files[2].Content, truncatedMark) {
		t.Fatal("expected large file to be truncated")
	}
}

func TestMetadata(t *testing.T) {
	dir := writeSite(t, map[string]string{
		"index.html": "12345",
		"a.js":       "123",
		"b.js":       "1",
	})
	meta, err := Metadata(dir)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.FileCount != 3 || meta.TotalSizeBytes != 9 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if meta.FileTypes[".js"] != 2 || meta.FileTypes[".html"] != 1 {
		t.Fatalf("unexpected file types %v", meta.FileTypes)
	}
}
