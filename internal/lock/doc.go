// Package lock implements the advisory import lock that serializes writers of
// the production artifact across processes.
//
// The lock is a JSON descriptor created with O_EXCL. Its timeout_ms is the
// holder's lease, independent of how long any waiter is willing to wait. A
// holder whose process is still running on this host keeps the lock past its
// lease; one whose process is gone is reclaimed at once. When liveness cannot
// be checked, a descriptor older than its lease is stale and is reclaimed by
// the next waiter. Otherwise waiters poll until their own timeout expires.
// Reclaiming runs under a short
// gofrs/flock guard on <path>.guard and re-reads the descriptor before
// deleting it, so two waiters cannot both reclaim and then remove each
// other's fresh lock.
//
// The lock is cooperative only. Processes that write the artifact without
// calling Acquire are not excluded, and the guard offers no protection on
// network filesystems without working flock semantics.
package lock
