package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
)

const (
	// DefaultTimeout is how long Acquire waits when Options.Timeout is zero.
	DefaultTimeout = 5 * time.Minute
	// DefaultPollInterval is the retry interval when Options.PollInterval is zero.
	DefaultPollInterval = time.Second
	// DefaultStaleAfter is the lease recorded when Options.StaleAfter is zero.
	DefaultStaleAfter = time.Hour

	guardSuffix     = ".guard"
	guardRetryDelay = 10 * time.Millisecond
)

// ErrNotHeld is returned by Handle.Release when the descriptor on disk belongs
// to a different holder.
var ErrNotHeld = errors.New("lock is held by another owner")

var now = time.Now

// Descriptor is the on-disk lock content. TimeoutMS is the holder's lease,
// not how long the holder was prepared to wait.
type Descriptor struct {
	LockedBy   string    `json:"locked_by"`
	LockedAt   time.Time `json:"locked_at"`
	TimeoutMS  int64     `json:"timeout_ms"`
	AcquiredAt int64     `json:"acquired_at"`
	PID        int       `json:"pid,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	Token      string    `json:"token,omitempty"`
}

// Age returns how long ago the descriptor was acquired.
func (d Descriptor) Age(at time.Time) time.Duration {
	return at.Sub(time.UnixMilli(d.AcquiredAt))
}

// Stale reports whether the descriptor has outlived its own timeout.
func (d Descriptor) Stale(at time.Time) bool {
	return d.Age(at) > time.Duration(d.TimeoutMS)*time.Millisecond
}

// Options configures Acquire. Timeout bounds the wait for another holder.
// StaleAfter is the lease written into the descriptor; it must cover the
// whole batch the lock protects.
type Options struct {
	Owner        string
	Timeout      time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Owner) == "" {
		o.Owner = "unknown"
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// TimeoutError is returned when the lock stays held for the caller's whole timeout.
type TimeoutError struct {
	Path   string
	Waited time.Duration
	Holder *Descriptor
}

func (e *TimeoutError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("lock %s not acquired after %s: held by %s since %s",
			e.Path, e.Waited.Round(time.Millisecond), e.Holder.LockedBy, e.Holder.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("lock %s not acquired after %s", e.Path, e.Waited.Round(time.Millisecond))
}

// Handle is a held lock.
type Handle struct {
	path       string
	descriptor Descriptor
}

// Path returns the descriptor path.
func (h *Handle) Path() string { return h.path }

// Descriptor returns the content written when the lock was acquired.
func (h *Handle) Descriptor() Descriptor { return h.descriptor }

// Release removes the descriptor if it still carries this handle's token.
// Releasing an already removed lock is not an error.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	current, _, err := read(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("release %s: %w", h.path, err)
	}
	if current.Token != h.descriptor.Token {
		return fmt.Errorf("release %s: %w (%s)", h.path, ErrNotHeld, current.LockedBy)
	}
	return Release(h.path)
}

// Acquire takes the lock at path, waiting up to opts.Timeout. A holder that is
// reclaimable (see Status.Reclaimable) is removed and the create retried
// immediately. A holder whose process is still running on this host is never
// removed, however old its lease.
func Acquire(ctx context.Context, path string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	logger := opts.Logger

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	start := now()
	deadline := start.Add(opts.Timeout)
	waitLogged := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acquiredAt := now()
		desc := Descriptor{
			LockedBy:   opts.Owner,
			LockedAt:   acquiredAt.UTC(),
			TimeoutMS:  opts.StaleAfter.Milliseconds(),
			AcquiredAt: acquiredAt.UnixMilli(),
			PID:        os.Getpid(),
			Hostname:   hostname,
			Token:      uuid.NewString(),
		}
		err := create(path, desc)
		if err == nil {
			logger.Debug("lock acquired",
				logging.String("owner", opts.Owner),
				logging.String("lock_path", path),
				logging.Duration("waited", now().Sub(start)),
			)
			return &Handle{path: path, descriptor: desc}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("acquire %s: %w", path, err)
		}

		reclaimed, holder, err := reclaimIfStale(ctx, path, opts.StaleAfter, logger)
		if err != nil {
			return nil, err
		}
		if reclaimed {
			continue
		}

		remaining := deadline.Sub(now())
		if remaining <= 0 {
			return nil, &TimeoutError{Path: path, Waited: now().Sub(start), Holder: holder}
		}
		if !waitLogged && holder != nil {
			logger.Info("waiting for import lock",
				logging.String("owner", holder.LockedBy),
				logging.String("locked_at", holder.LockedAt.Format(time.RFC3339)),
				logging.Duration("timeout", opts.Timeout),
			)
			waitLogged = true
		}

		wait := min(opts.PollInterval, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release deletes the descriptor at path. It is idempotent.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release %s: %w", path, err)
	}
	return nil
}

// IsLocked reports whether a descriptor exists at path.
func IsLocked(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func create(path string, desc Descriptor) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write lock: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("sync lock: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close lock: %w", err)
	}
	return nil
}

// read returns the parsed descriptor along with the raw bytes. A descriptor
// that exists but cannot be parsed is reported with errCorrupt.
func read(path string) (Descriptor, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, nil, err
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil || desc.AcquiredAt == 0 {
		return Descriptor{}, data, errCorrupt
	}
	return desc, data, nil
}

var errCorrupt = errors.New("lock descriptor is corrupt")

// reclaimable reports whether desc may be removed by a waiter. A live holder
// on this host keeps the lock past its lease, a dead one loses it at once,
// and a holder on another host loses it when the lease runs out.
func reclaimable(desc Descriptor, at time.Time) bool {
	switch holderLiveness(desc) {
	case HolderAlive:
		return false
	case HolderDead:
		return true
	default:
		return desc.Stale(at)
	}
}

// reclaimIfStale removes the descriptor at path when it is reclaimable. It
// returns the current holder when the lock is kept. An unparsable descriptor
// is reclaimed once its mtime is older than lease.
func reclaimIfStale(ctx context.Context, path string, lease time.Duration, logger *slog.Logger) (bool, *Descriptor, error) {
	desc, raw, err := read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return true, nil, nil
	case errors.Is(err, errCorrupt):
		info, statErr := os.Stat(path)
		if statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) {
				return true, nil, nil
			}
			return false, nil, fmt.Errorf("stat lock: %w", statErr)
		}
		if now().Sub(info.ModTime()) <= lease {
			return false, nil, nil
		}
	case err != nil:
		return false, nil, fmt.Errorf("read lock: %w", err)
	default:
		if !reclaimable(desc, now()) {
			return false, &desc, nil
		}
	}

	guard := flock.New(path + guardSuffix)
	locked, err := guard.TryLockContext(ctx, guardRetryDelay)
	if err != nil {
		return false, nil, fmt.Errorf("lock guard: %w", err)
	}
	if !locked {
		return false, nil, nil
	}
	defer func() { _ = guard.Unlock() }()

	current, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil, nil
		}
		return false, nil, fmt.Errorf("re-read lock: %w", err)
	}
	if !bytes.Equal(current, raw) {
		// Another waiter reclaimed and a new holder took the lock.
		return false, nil, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, nil, fmt.Errorf("remove stale lock: %w", err)
	}

	attrs := []logging.Attr{
		logging.String("lock_path", path),
		logging.String(logging.FieldImpact, "previous holder's lock was discarded"),
		logging.String(logging.FieldErrorHint, "check whether the previous import finished cleanly"),
	}
	if desc.AcquiredAt != 0 {
		attrs = append(attrs,
			logging.String("owner", desc.LockedBy),
			logging.String("holder", holderLiveness(desc)),
			logging.Duration("age", desc.Age(now())),
		)
	} else {
		attrs = append(attrs, logging.Alert("corrupt lock descriptor"))
	}
	logging.WarnWithContext(logger, "stale lock reclaimed", "lock_reclaimed", attrs...)
	return true, nil, nil
}
