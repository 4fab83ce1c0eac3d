package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Holder liveness as seen from this host.
const (
	HolderAlive   = "alive"
	HolderDead    = "dead"
	HolderUnknown = "unknown"
)

// Status is a read-only view of the lock at a path.
type Status struct {
	Path       string
	Exists     bool
	Corrupt    bool
	Descriptor Descriptor
	Age        time.Duration
	Stale      bool
	Holder     string
	// Reclaimable is set when the next Acquire would remove this lock. It is
	// never set for a corrupt descriptor, whose reclaim depends on the
	// caller's lease.
	Reclaimable bool
}

// Inspect reports the lock state without modifying it.
func Inspect(path string) (Status, error) {
	st := Status{Path: path, Holder: HolderUnknown}
	desc, _, err := read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return st, nil
	case errors.Is(err, errCorrupt):
		st.Exists = true
		st.Corrupt = true
		if info, statErr := os.Stat(path); statErr == nil {
			st.Age = now().Sub(info.ModTime())
		}
		return st, nil
	case err != nil:
		return st, fmt.Errorf("inspect %s: %w", path, err)
	}

	st.Exists = true
	st.Descriptor = desc
	st.Age = desc.Age(now())
	st.Stale = desc.Stale(now())
	st.Holder = holderLiveness(desc)
	st.Reclaimable = reclaimable(desc, now())
	return st, nil
}

func holderLiveness(desc Descriptor) string {
	if desc.PID <= 0 || desc.Hostname == "" {
		return HolderUnknown
	}
	hostname, err := os.Hostname()
	if err != nil || hostname != desc.Hostname {
		return HolderUnknown
	}
	switch err := unix.Kill(desc.PID, 0); {
	case err == nil, errors.Is(err, unix.EPERM):
		return HolderAlive
	case errors.Is(err, unix.ESRCH):
		return HolderDead
	default:
		return HolderUnknown
	}
}
