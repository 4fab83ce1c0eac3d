// Package backup snapshots the production artifact into timestamped sibling
// files, restores from a snapshot, and prunes old snapshots.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/fileutil"
)

const (
	marker      = ".backup."
	stampLayout = "20060102T150405.000000000Z"
)

var now = time.Now

// Name returns the snapshot file name for path taken at ts.
func Name(path string, ts time.Time) string {
	return filepath.Join(filepath.Dir(path), filepath.Base(path)+marker+ts.UTC().Format(stampLayout))
}

// Snapshot copies path to a new timestamped sibling and returns its location.
// The copy is verified and fsynced before Snapshot returns.
func Snapshot(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	ts := now()
	for attempt := 0; attempt < 100; attempt++ {
		dst := Name(path, ts)
		err := fileutil.CopyFileVerified(path, dst)
		if err == nil {
			return dst, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("snapshot %s: %w", path, err)
		}
		ts = ts.Add(time.Nanosecond)
	}
	return "", fmt.Errorf("snapshot %s: could not find a free backup name", path)
}

// Restore atomically replaces path with the contents of backupPath and
// verifies the result matches byte for byte.
func Restore(backupPath, path string) error {
	if err := fileutil.CopyFileAtomic(backupPath, path); err != nil {
		return fmt.Errorf("restore %s from %s: %w", path, backupPath, err)
	}
	want, err := fileutil.Digest(backupPath)
	if err != nil {
		return fmt.Errorf("verify restore: %w", err)
	}
	got, err := fileutil.Digest(path)
	if err != nil {
		return fmt.Errorf("verify restore: %w", err)
	}
	if want != got {
		return fmt.Errorf("verify restore: %s does not match %s", path, backupPath)
	}
	return nil
}

// List returns the snapshots of path, newest first.
func List(path string) ([]string, error) {
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + marker
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, err := time.Parse(stampLayout, strings.TrimPrefix(name, prefix)); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = filepath.Join(dir, name)
	}
	return out, nil
}

// Timestamp parses the snapshot time from a backup path.
func Timestamp(backupPath string) (time.Time, bool) {
	name := filepath.Base(backupPath)
	idx := strings.LastIndex(name, marker)
	if idx < 0 {
		return time.Time{}, false
	}
	ts, err := time.Parse(stampLayout, name[idx+len(marker):])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Prune deletes all but the keep newest snapshots of path and returns the
// removed paths. keep below one is treated as one.
func Prune(path string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	all, err := List(path)
	if err != nil {
		return nil, err
	}
	if len(all) <= keep {
		return nil, nil
	}
	var removed []string
	var errs []error
	for _, p := range all[keep:] {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("prune backups: %w", errors.Join(errs...))
	}
	return removed, nil
}
