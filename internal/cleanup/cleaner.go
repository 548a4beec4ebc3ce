package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/workspace"
)

// DefaultGracePeriod protects checkouts of repositories linked moments ago
const DefaultGracePeriod = 10 * time.Minute

// RepositoryLister lists linked repositories
type RepositoryLister interface {
	ListRepositories(ctx context.Context, filters models.ListFilters) ([]*models.Repository, error)
}

// Cleaner periodically removes workspace directories that no longer belong
// to a linked repository
type Cleaner struct {
	store    RepositoryLister
	root     string
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

// NewCleaner creates a new cleanup worker
func NewCleaner(store RepositoryLister, root string, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	return &Cleaner{
		store:    store,
		root:     root,
		interval: interval,
		grace:    DefaultGracePeriod,
		now:      time.Now,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "root", c.root)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) {
	slog.Debug("running cleanup cycle")

	removed, err := c.Sweep(ctx)
	if err != nil {
		slog.Error("cleanup cycle failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("orphaned workspaces removed", "count", removed)
	}
}

// Sweep removes every directory under the workspace root whose name is not
// the ID of a linked repository and returns how many were removed
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read workspace root: %w", err)
	}

	repos, err := c.store.ListRepositories(ctx, models.ListFilters{})
	if err != nil {
		return 0, fmt.Errorf("failed to list repositories: %w", err)
	}
	linked := make(map[string]struct{}, len(repos))
	for _, repo := range repos {
		linked[repo.ID] = struct{}{}
	}

	cutoff := c.now().Add(-c.grace)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := linked[entry.Name()]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		dir := filepath.Join(c.root, entry.Name())
		slog.Info("removing orphaned workspace", "dir", dir, "modified_at", info.ModTime())
		if err := workspace.Remove(dir); err != nil {
			slog.Error("failed to remove orphaned workspace", "error", err, "dir", dir)
			continue
		}
		removed++
	}

	return removed, nil
}
