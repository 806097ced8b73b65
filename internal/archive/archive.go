// Package archive validates uploaded site bundles and extracts them into a
// deployment directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Default limits for uploads.
const (
	DefaultMaxArchiveBytes   int64 = 50 << 20
	DefaultMaxExtractedBytes int64 = 100 << 20
)

var allowedExtensions = map[string]struct{}{
	".html": {}, ".htm": {}, ".css": {}, ".js": {}, ".json": {}, ".txt": {}, ".md": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
	".xml": {}, ".webmanifest": {}, ".map": {}, ".pdf": {},
}

// AllowedExtensions returns the sorted extension allow-list.
func AllowedExtensions() []string {
	out := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ValidationError is a user-visible rejection of an archive.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func rejectf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a rejection of the archive itself.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Metadata summarises a successful extraction.
type Metadata struct {
	FileCount int
	TotalSize int64
}

// Validator checks and extracts zip archives.
type Validator struct {
	MaxArchiveBytes   int64
	MaxExtractedBytes int64
}

// NewValidator returns a Validator with the given limits; non-positive values
// fall back to the defaults.
func NewValidator(maxArchive, maxExtracted int64) Validator {
	if maxArchive <= 0 {
		maxArchive = DefaultMaxArchiveBytes
	}
	if maxExtracted <= 0 {
		maxExtracted = DefaultMaxExtractedBytes
	}
	return Validator{MaxArchiveBytes: maxArchive, MaxExtractedBytes: maxExtracted}
}

type entry struct {
	file *zip.File
	name string
}

// Extract validates zipPath and writes its files under dest. dest is created
// only once the archive passed every scan rule; any later failure removes it.
func (v Validator) Extract(zipPath, dest string) (Metadata, error) {
	info, err := os.Stat(zipPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("stat archive: %w", err)
	}
	if info.Size() > v.MaxArchiveBytes {
		return Metadata{}, rejectf("ZIP file exceeds %s limit", formatLimit(v.MaxArchiveBytes))
	}

	reader, err := zip.OpenReader(zipPath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return Metadata{}, rejectf("File is not a valid ZIP archive")
	}
	defer reader.Close()

	entries, meta, err := v.scan(reader.File)
	if err != nil {
		return Metadata{}, err
	}

	if err := writeEntries(entries, dest); err != nil {
		_ = os.RemoveAll(dest)
		return Metadata{}, err
	}
	if err := ensureIndex(dest); err != nil {
		_ = os.RemoveAll(dest)
		return Metadata{}, err
	}
	return meta, nil
}

// scan applies every per-entry rule without touching the filesystem.
func (v Validator) scan(files []*zip.File) ([]entry, Metadata, error) {
	var (
		entries []entry
		meta    Metadata
	)
	for _, f := range files {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if f.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			continue
		}
		if skipped(name) {
			continue
		}
		if path.IsAbs(name) || filepath.IsAbs(name) || hasVolume(name) {
			return nil, Metadata{}, rejectf("Absolute path not allowed: %s", f.Name)
		}
		for _, segment := range strings.Split(name, "/") {
			if segment == ".." {
				return nil, Metadata{}, rejectf("Path traversal detected: %s", f.Name)
			}
		}
		ext := strings.ToLower(path.Ext(name))
		if _, ok := allowedExtensions[ext]; !ok {
			shown := ext
			if shown == "" {
				shown = "(no extension)"
			}
			return nil, Metadata{}, rejectf("Disallowed file type: %s (%s). Allowed: %s",
				shown, f.Name, strings.Join(AllowedExtensions(), ", "))
		}
		size := int64(f.UncompressedSize64)
		if size < 0 || meta.TotalSize+size > v.MaxExtractedBytes {
			return nil, Metadata{}, rejectf("Extracted size exceeds %s limit", formatLimit(v.MaxExtractedBytes))
		}
		meta.TotalSize += size
		meta.FileCount++
		entries = append(entries, entry{file: f, name: path.Clean(name)})
	}
	if meta.FileCount == 0 {
		return nil, Metadata{}, rejectf("ZIP archive is empty")
	}
	return entries, meta, nil
}

// skipped reports OS metadata and hidden files. Hidden directories such as
// .well-known are kept.
func skipped(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), ".")
}

func hasVolume(name string) bool {
	return len(name) >= 2 && name[1] == ':'
}

func writeEntries(entries []entry, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	for _, e := range entries {
		target := filepath.Join(dest, filepath.FromSlash(e.name))
		rel, err := filepath.Rel(dest, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return rejectf("Path traversal detected: %s", e.file.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", e.name, err)
		}
		if err := writeFile(e.file, target); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return rejectf("Corrupt ZIP entry: %s", f.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	declared := int64(f.UncompressedSize64)
	n, copyErr := io.Copy(dst, io.LimitReader(src, declared+1))
	closeErr := dst.Close()
	if copyErr != nil {
		return rejectf("Corrupt ZIP entry: %s", f.Name)
	}
	if n > declared {
		return rejectf("ZIP entry %s is larger than its declared size", f.Name)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", target, closeErr)
	}
	return nil
}

// ensureIndex requires index.html at dest, hoisting a single wrapping folder.
func ensureIndex(dest string) error {
	if fileExists(filepath.Join(dest, "index.html")) {
		return nil
	}
	children, err := os.ReadDir(dest)
	if err != nil {
		return fmt.Errorf("read destination: %w", err)
	}
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		nested := filepath.Join(dest, child.Name())
		if !fileExists(filepath.Join(nested, "index.html")) {
			continue
		}
		return hoist(dest, nested)
	}
	return rejectf("No index.html found in ZIP root (or first subfolder)")
}

func hoist(dest, nested string) error {
	// Move the folder aside first so its children cannot collide with it.
	staging := nested + ".hoist"
	if err := os.Rename(nested, staging); err != nil {
		return fmt.Errorf("stage %s: %w", nested, err)
	}
	items, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("read %s: %w", staging, err)
	}
	for _, item := range items {
		target := filepath.Join(dest, item.Name())
		if _, err := os.Lstat(target); err == nil {
			return rejectf("Cannot flatten archive: %s exists at the root and in the subfolder", item.Name())
		}
		if err := os.Rename(filepath.Join(staging, item.Name()), target); err != nil {
			return fmt.Errorf("hoist %s: %w", item.Name(), err)
		}
	}
	return os.Remove(staging)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func formatLimit(bytes int64) string {
	if bytes >= 1<<20 && bytes%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", bytes>>20)
	}
	return fmt.Sprintf("%d bytes", bytes)
}
