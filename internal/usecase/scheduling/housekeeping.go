package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ScratchFile returns a fresh path inside dir keyed by a ULID, creating dir
// if needed. The caller owns the file and should remove it after use.
func ScratchFile(dir, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(dir, NewID()+ext), nil
}

// CleanScratch removes regular files in dir last modified more than ttl
// before now. A missing dir is not an error.
func CleanScratch(dir string, ttl time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= ttl {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// ScratchCleanupTask adapts CleanScratch to a scheduler task.
func ScratchCleanupTask(dir string, ttl time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	return func(context.Context) error {
		n, err := CleanScratch(dir, ttl, time.Now())
		if n > 0 {
			logger.Info("scratch files removed", "dir", dir, "count", n)
		}
		return err
	}
}
