package payload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

// Sweeper removes external payload files that no part row references
// any more. Write's OnCommit/OnRollback hooks handle the common case
// immediately; Sweeper exists for the files a crash leaves behind
// between "file written" and "hook registered", and is watched live
// with fsnotify so a stray write shows up in logs as it happens rather
// than only at the next periodic pass.
type Sweeper struct {
	store   *Store
	driver  *driver.Driver
	log     *slog.Logger
	grace   time.Duration
	watcher *fsnotifyWatcher
}

// NewSweeper returns a Sweeper for st, logging through log. grace is
// how old an untracked file must be before Sweep removes it, so a file
// mid-write by a concurrent Write call is never mistaken for an orphan.
func NewSweeper(st *Store, d *driver.Driver, log *slog.Logger, grace time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: st, driver: d, log: log, grace: grace}
}

// Sweep scans dataDir once, removing any file not referenced by a part
// row and older than grace. It returns the number of files removed.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	referenced, err := sw.referencedPaths(ctx)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(sw.store.dataDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := time.Now().Add(-sw.grace)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(sw.store.dataDir, entry.Name())
		if referenced[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue // too recent; might still be mid-write
		}
		if err := os.Remove(path); err != nil {
			sw.log.Warn("sweeper: failed to remove orphaned payload file", "path", path, "error", err)
			continue
		}
		sw.log.Info("sweeper: removed orphaned payload file", "path", path)
		removed++
	}
	return removed, nil
}

func (sw *Sweeper) referencedPaths(ctx context.Context) (map[string]bool, error) {
	b := querybuilder.New(querybuilder.Select, "part_table").
		Select("file_path").
		Where(querybuilder.Leaf("external", querybuilder.OpEq, true))
	rows, err := b.Query(ctx, sw.driver, sw.driver.DB())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var path *string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if path != nil {
			out[*path] = true
		}
	}
	return out, rows.Err()
}

// Run calls Sweep once at startup and then every interval until ctx is
// cancelled, logging a warning (and continuing) on any single pass's
// error rather than exiting the loop.
func (sw *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if _, err := sw.Sweep(ctx); err != nil {
		sw.log.Warn("sweeper: startup sweep failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sw.Sweep(ctx); err != nil {
				sw.log.Warn("sweeper: sweep pass failed", "error", err)
			}
		}
	}
}
