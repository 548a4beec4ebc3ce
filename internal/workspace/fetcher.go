// Package workspace manages local checkouts of candidate repositories.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/terra-clan/skillscout/internal/faults"
)

var (
	// ErrInvalidURL is returned for empty or malformed repository URLs
	ErrInvalidURL = errors.New("invalid repository url")

	scpLike = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^/].*$`)
)

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"git":   true,
	"ssh":   true,
	"file":  true,
}

// Fetcher clones repositories into a root directory
type Fetcher struct {
	root    string
	gitPath string
	timeout time.Duration
}

// NewFetcher creates a fetcher that places checkouts under root
func NewFetcher(root string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		root:    root,
		gitPath: "git",
		timeout: timeout,
	}
}

// Root returns the directory holding all workspaces
func (f *Fetcher) Root() string {
	return f.root
}

// Fetch performs a shallow clone of rawURL into <root>/<key>/<basename> and
// checks out HEAD. An existing checkout at that location is replaced.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, key string) (string, error) {
	name, err := ValidateURL(rawURL)
	if err != nil {
		return "", faults.Wrap(faults.KindInvalidInput, err, rawURL)
	}
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", faults.New(faults.KindInvalidInput, "invalid workspace key %q", key)
	}

	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", faults.Wrap(faults.KindCloneFailed, err, "failed to resolve workspace root")
	}
	dir := filepath.Join(root, key, name)

	if err := Remove(dir); err != nil {
		return "", faults.Wrap(faults.KindCloneFailed, err, "failed to clear previous checkout")
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", faults.Wrap(faults.KindCloneFailed, err, "failed to create workspace")
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	slog.Info("cloning repository", "url", rawURL, "dir", dir)

	if err := f.git(ctx, "",
		"clone",
		"--depth=1",
		"--no-checkout",
		"--config", "core.fileMode=false",
		"--config", "core.symlinks=false",
		rawURL, dir,
	); err != nil {
		_ = Remove(dir)
		return "", err
	}

	if err := f.git(ctx, dir, "checkout", "HEAD", "--", "."); err != nil {
		_ = Remove(dir)
		return "", err
	}

	return dir, nil
}

func (f *Fetcher) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, f.gitPath, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		details := strings.TrimSpace(stderr.String())
		if ctx.Err() != nil {
			details = fmt.Sprintf("git %s timed out: %s", args[0], details)
		}
		if details == "" {
			details = "git " + args[0] + " failed"
		}
		return faults.Wrap(faults.KindCloneFailed, err, details)
	}
	return nil
}

// ValidateURL checks that rawURL can be handed to git clone and returns the
// repository basename without a trailing .git.
func ValidateURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if strings.HasPrefix(rawURL, "-") || strings.ContainsAny(rawURL, " \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	var repoPath string
	if scpLike.MatchString(rawURL) {
		repoPath = rawURL[strings.Index(rawURL, ":")+1:]
	} else {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		if !allowedSchemes[u.Scheme] {
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
		}
		if u.Scheme != "file" && u.Host == "" {
			return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
		}
		repoPath = u.Path
	}

	name := Basename(repoPath)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: missing repository name", ErrInvalidURL)
	}
	return name, nil
}

// Basename returns the last path element of a repository URL or path,
// without a trailing .git
func Basename(repoPath string) string {
	repoPath = strings.TrimRight(repoPath, "/")
	if repoPath == "" {
		return ""
	}
	return strings.TrimSuffix(path.Base(repoPath), ".git")
}

// Remove deletes a checkout, forcing write permission on everything inside
// first so read-only objects do not block removal. A missing path is not an error.
func Remove(dir string) error {
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		mode := os.FileMode(0o600)
		if d.IsDir() {
			mode = 0o700
		}
		_ = os.Chmod(p, mode)
		return nil
	})

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", dir, err)
	}
	return nil
}
