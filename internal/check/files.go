package check

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxTextChars  = 50_000
	truncatedMark = "\n... [truncated]"
)

var textExtensions = map[string]struct{}{
	".html": {}, ".htm": {}, ".css": {}, ".js": {}, ".json": {},
	".txt": {}, ".md": {}, ".xml": {}, ".svg": {},
}

// SourceFile is a text file of a deployment, path relative to its root.
type SourceFile struct {
	Path    string
	Content string
}

// Ext returns the lower-cased extension of the file.
func (f SourceFile) Ext() string {
	return strings.ToLower(filepath.Ext(f.Path))
}

// TextFiles reads every analysable text file under dir. Contents longer than
// the analysis limit are truncated.
func TextFiles(dir string) ([]SourceFile, error) {
	var files []SourceFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := textExtensions[strings.ToLower(filepath.Ext(p))]; !ok {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, SourceFile{Path: filepath.ToSlash(rel), Content: truncate(strings.ToValidUTF8(string(data), "�"))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxTextChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxTextChars]) + truncatedMark
}

// FileMetadata describes a deployment without its contents.
type FileMetadata struct {
	FileCount      int            `json:"file_count"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	FileTypes      map[string]int `json:"file_types"`
}

// Metadata summarises every file under dir.
func Metadata(dir string) (FileMetadata, error) {
	meta := FileMetadata{FileTypes: map[string]int{}}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == "" {
			ext = "(no ext)"
		}
		meta.FileTypes[ext]++
		meta.TotalSizeBytes += info.Size()
		meta.FileCount++
		return nil
	})
	if err != nil {
		return FileMetadata{}, fmt.Errorf("walk %s: %w", dir, err)
	}
	return meta, nil
}

func formatFiles(files []SourceFile) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", f.Path, f.Content)
	}
	return b.String()
}
