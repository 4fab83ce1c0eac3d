package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/config"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/deps"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/history"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lock"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckArtifact verifies that the production artifact is a writable file and
// that snapshots can be created beside it.
func CheckArtifact(path string) Result {
	const name = "Production artifact"

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not writable: %v)", path, err)}
	}
	if err := unix.Access(filepath.Dir(path), unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot write backups beside it: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d bytes)", path, info.Size())}
}

// CheckLock reports whether an import lock is present. A lock held by a live
// process passes with a note, even past its lease. A corrupt, orphaned or
// reclaimable lock fails.
func CheckLock(path string) Result {
	const name = "Import lock"

	st, err := lock.Inspect(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	switch {
	case !st.Exists:
		return Result{Name: name, Passed: true, Detail: "free"}
	case st.Corrupt:
		return Result{Name: name, Detail: fmt.Sprintf("corrupt descriptor at %s; run `stage unlock`", path)}
	case st.Holder == lock.HolderDead:
		return Result{Name: name, Detail: fmt.Sprintf("held by %s (pid %d no longer running); next import reclaims it", st.Descriptor.LockedBy, st.Descriptor.PID)}
	case st.Reclaimable:
		return Result{Name: name, Detail: fmt.Sprintf("stale lock held by %s for %s; next import reclaims it", st.Descriptor.LockedBy, st.Age.Round(time.Second))}
	case st.Stale:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("held by %s for %s; lease expired but pid %d is still running", st.Descriptor.LockedBy, st.Age.Round(time.Second), st.Descriptor.PID)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("held by %s for %s", st.Descriptor.LockedBy, st.Age.Round(time.Second))}
	}
}

// CheckHistory opens the import ledger if it exists. A missing ledger passes;
// it is created by the first import.
func CheckHistory(ctx context.Context, path string) Result {
	const name = "Import history"

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Result{Name: name, Passed: true, Detail: "not created yet"}
	}
	store, err := history.Open(ctx, path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer store.Close()
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckCollaborators reports whether the programs behind the configured
// commands are on PATH.
func CheckCollaborators(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	requirements := []deps.Requirement{
		deps.FromArgv("Merge", "Folds a unit into the production artifact", cfg.Commands.Merge, false),
		deps.FromArgv("Build", "Build verification after merge", cfg.Commands.Build, len(cfg.Commands.Build) == 0),
		deps.FromArgv("Test", "Test verification after merge", cfg.Commands.Test, len(cfg.Commands.Test) == 0),
	}
	for i, step := range cfg.Commands.Commit {
		requirements = append(requirements, deps.FromArgv(fmt.Sprintf("Commit step %d", i+1), "Records the import in version control", step, false))
	}
	gates := []struct {
		name string
		argv []string
	}{
		{"Structural gate", cfg.Gates.Structural},
		{"Linguistic gate", cfg.Gates.Linguistic},
		{"Integration gate", cfg.Gates.Integration},
		{"QA gate", cfg.Gates.QA},
	}
	for _, gate := range gates {
		if len(gate.argv) == 0 {
			continue
		}
		requirements = append(requirements, deps.FromArgv(gate.name, "Validation gate command", gate.argv, true))
	}
	return deps.CheckBinaries(requirements)
}
