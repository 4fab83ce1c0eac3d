// Package artifact is the only write path to the production artifact. A
// Session pairs the import lock with a fresh snapshot so that every write can
// be rolled back to the last known-good content.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/backup"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lock"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
)

var (
	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("artifact session closed")
	// ErrSnapshot marks a Begin failure that happened after the lock was taken.
	ErrSnapshot = errors.New("artifact snapshot failed")
)

// Guard hands out write sessions for one artifact.
type Guard struct {
	path     string
	lockPath string
	lockOpts lock.Options
	logger   *slog.Logger
}

// NewGuard returns a guard for the artifact at path, serialized by the lock at lockPath.
func NewGuard(path, lockPath string, opts lock.Options, logger *slog.Logger) *Guard {
	logger = logging.NewComponentLogger(logger, "artifact")
	opts.Logger = logger
	return &Guard{path: path, lockPath: lockPath, lockOpts: opts, logger: logger}
}

// Path returns the artifact path.
func (g *Guard) Path() string { return g.path }

// LockPath returns the lock descriptor path.
func (g *Guard) LockPath() string { return g.lockPath }

// Begin acquires the lock as owner and snapshots the artifact. The lock is
// released again if the snapshot fails.
func (g *Guard) Begin(ctx context.Context, owner string) (*Session, error) {
	opts := g.lockOpts
	if owner != "" {
		opts.Owner = owner
	}
	handle, err := lock.Acquire(ctx, g.lockPath, opts)
	if err != nil {
		return nil, err
	}
	backupPath, err := backup.Snapshot(g.path)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSnapshot, err)
		if relErr := handle.Release(); relErr != nil {
			return nil, errors.Join(err, relErr)
		}
		return nil, err
	}
	logging.WithContext(ctx, g.logger).Info("artifact snapshot taken",
		logging.String("artifact_path", g.path),
		logging.String("backup_path", backupPath),
	)
	return &Session{guard: g, handle: handle, backupPath: backupPath}, nil
}

// Session is an exclusive write window on the artifact.
type Session struct {
	guard      *Guard
	handle     *lock.Handle
	backupPath string
	closed     bool
}

// Path returns the artifact path writers may modify during the session.
func (s *Session) Path() string { return s.guard.path }

// BackupPath returns the snapshot taken when the session began.
func (s *Session) BackupPath() string { return s.backupPath }

// Lock returns the descriptor written for this session.
func (s *Session) Lock() lock.Descriptor { return s.handle.Descriptor() }

// Rollback restores the artifact from the session snapshot.
func (s *Session) Rollback() error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := backup.Restore(s.backupPath, s.guard.path); err != nil {
		return fmt.Errorf("rollback artifact: %w", err)
	}
	return nil
}

// Prune removes all but the keep newest snapshots.
func (s *Session) Prune(keep int) ([]string, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return backup.Prune(s.guard.path, keep)
}

// Close releases the lock. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handle.Release()
}
