package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrIsDirectory is returned when a file read targets a directory
var ErrIsDirectory = errors.New("path is a directory")

// hiddenNames are never listed or served: VCS metadata and scanner artifacts
var hiddenNames = map[string]struct{}{
	".git":                     {},
	".scannerwork":             {},
	"sonar-project.properties": {},
}

// Entry is one item of a directory listing
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// File is the (possibly truncated) content of one workspace file
type File struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// Browser exposes read-only access to a checkout. Every path is resolved
// inside the checkout, symlinks included.
type Browser struct {
	maxFileBytes int
}

// NewBrowser creates a browser returning at most maxFileBytes per file
func NewBrowser(maxFileBytes int) *Browser {
	return &Browser{maxFileBytes: maxFileBytes}
}

// Stat reports whether rel names a directory inside dir
func (b *Browser) Stat(dir, rel string) (os.FileInfo, error) {
	full, err := b.resolve(dir, rel)
	if err != nil {
		return nil, err
	}
	return os.Stat(full)
}

// resolve joins rel onto dir, symlinks included, and refuses hidden paths
func (b *Browser) resolve(dir, rel string) (string, error) {
	full, err := securejoin.SecureJoin(dir, rel)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
	}
	inside, err := filepath.Rel(dir, full)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
	}
	for _, part := range strings.Split(filepath.ToSlash(inside), "/") {
		if _, ok := hiddenNames[part]; ok {
			return "", &fs.PathError{Op: "open", Path: rel, Err: fs.ErrNotExist}
		}
	}
	return full, nil
}

// List returns the entries of a directory, directories first
func (b *Browser) List(dir, rel string) ([]Entry, error) {
	full, err := b.resolve(dir, rel)
	if err != nil {
		return nil, err
	}

	items, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}

	base, _ := filepath.Rel(dir, full)
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if _, ok := hiddenNames[item.Name()]; ok {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		entry := Entry{
			Name:  item.Name(),
			Path:  filepath.ToSlash(filepath.Join(base, item.Name())),
			IsDir: item.IsDir(),
		}
		if !item.IsDir() {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Read returns the content of one file, truncated to the browser's limit
func (b *Browser) Read(dir, rel string) (*File, error) {
	full, err := b.resolve(dir, rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	limit := int64(b.maxFileBytes)
	if limit <= 0 {
		limit = info.Size()
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	rel, _ = filepath.Rel(dir, full)
	return &File{
		Path:      filepath.ToSlash(rel),
		Size:      info.Size(),
		Content:   trimPartialRune(string(data)),
		Truncated: info.Size() > int64(len(data)),
	}, nil
}
