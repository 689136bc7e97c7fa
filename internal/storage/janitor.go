package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"omnichat/internal/observability"
)

const (
	DefaultUploadTTL     = 24 * time.Hour
	DefaultCleanInterval = time.Hour
)

// StartJanitor removes uploaded files older than ttl every interval until ctx ends.
func (l *LocalFiles) StartJanitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	if interval <= 0 {
		interval = DefaultCleanInterval
	}
	go l.cleanupLoop(ctx, ttl, interval)
}

func (l *LocalFiles) cleanupLoop(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := l.CleanupExpired(time.Now().Add(-ttl)); err != nil {
				observability.Logger().Error("cleanup uploads failed", "error", err)
			} else if n > 0 {
				observability.Logger().Info("cleaned up uploads", "removed", n)
			}
		}
	}
}

// CleanupExpired removes files modified before cutoff and prunes the
// directories left empty. It returns the number of removed files.
func (l *LocalFiles) CleanupExpired(cutoff time.Time) (int, error) {
	var (
		removed int
		dirs    []string
	)
	err := filepath.WalkDir(l.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != l.base {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				observability.Logger().Warn("remove upload failed", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})
	// deepest first so parents empty out
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
	return removed, err
}
