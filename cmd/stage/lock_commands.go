package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lock"
)

type lockView struct {
	Path      string `json:"path"`
	Locked    bool   `json:"locked"`
	Corrupt   bool   `json:"corrupt,omitempty"`
	Stale     bool   `json:"stale,omitempty"`
	Holder    string `json:"holder,omitempty"`
	LockedBy  string `json:"locked_by,omitempty"`
	LockedAt  string `json:"locked_at,omitempty"`
	AgeMS     int64  `json:"age_ms,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

func newLockView(st lock.Status) lockView {
	view := lockView{Path: st.Path, Locked: st.Exists, Corrupt: st.Corrupt}
	if !st.Exists || st.Corrupt {
		return view
	}
	view.Stale = st.Stale
	view.Holder = st.Holder
	view.LockedBy = st.Descriptor.LockedBy
	view.LockedAt = st.Descriptor.LockedAt.UTC().Format(time.RFC3339)
	view.AgeMS = st.Age.Milliseconds()
	view.TimeoutMS = st.Descriptor.TimeoutMS
	view.PID = st.Descriptor.PID
	view.Hostname = st.Descriptor.Hostname
	return view
}

// renderLockLine summarises the import lock as one status line.
func renderLockLine(st lock.Status, colorize bool) string {
	switch {
	case !st.Exists:
		return renderStatusLine("Import lock", statusOK, "free", colorize)
	case st.Corrupt:
		return renderStatusLine("Import lock", statusError, "unreadable descriptor; run `stage unlock`", colorize)
	case st.Holder == lock.HolderDead:
		return renderStatusLine("Import lock", statusWarn, fmt.Sprintf("held by %s (pid %d no longer running)", st.Descriptor.LockedBy, st.Descriptor.PID), colorize)
	case st.Reclaimable:
		return renderStatusLine("Import lock", statusWarn, fmt.Sprintf("stale, held by %s for %s", st.Descriptor.LockedBy, st.Age.Round(time.Second)), colorize)
	case st.Stale:
		return renderStatusLine("Import lock", statusInfo, fmt.Sprintf("held by %s for %s, past its lease", st.Descriptor.LockedBy, st.Age.Round(time.Second)), colorize)
	default:
		return renderStatusLine("Import lock", statusInfo, fmt.Sprintf("held by %s for %s", st.Descriptor.LockedBy, st.Age.Round(time.Second)), colorize)
	}
}

func newLockCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Inspect the import lock without changing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := lock.Inspect(cfg.LockPath())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, newLockView(st))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderLockLine(st, shouldColorize(out)))
			if !st.Exists || st.Corrupt {
				return nil
			}
			view := newLockView(st)
			rows := [][]string{
				{"Path", view.Path},
				{"Locked by", view.LockedBy},
				{"Locked at", view.LockedAt},
				{"Age", st.Age.Round(time.Second).String()},
				{"Timeout", (time.Duration(view.TimeoutMS) * time.Millisecond).String()},
				{"Stale", yesNo(view.Stale)},
				{"Holder", fmt.Sprintf("%s (pid %d on %s)", view.Holder, view.PID, view.Hostname)},
			}
			printTable(out, []string{"Field", "Value"}, rows, nil)
			return nil
		},
	}
}

func newUnlockCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Force-release the import lock (emergency only)",
		Long: `Force-release the import lock.

Only use this when an import was killed and left its lock behind. Removing the
lock of a running import lets a second import write the artifact concurrently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			previous, err := lock.Inspect(cfg.LockPath())
			if err != nil {
				return err
			}
			if err := lock.Release(cfg.LockPath()); err != nil {
				return err
			}
			if previous.Exists {
				logger.Warn("import lock force-released",
					"event_type", "lock_force_release",
					"lock_path", cfg.LockPath(),
					"locked_by", previous.Descriptor.LockedBy,
					"holder", previous.Holder,
				)
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"released": previous.Exists, "previous": newLockView(previous)})
			}
			out := cmd.OutOrStdout()
			switch {
			case !previous.Exists:
				fmt.Fprintln(out, "Import lock was not held")
			case previous.Corrupt:
				fmt.Fprintln(out, "Removed unreadable import lock")
			default:
				fmt.Fprintf(out, "Released import lock held by %s (%s)\n", previous.Descriptor.LockedBy, previous.Holder)
				if previous.Holder == lock.HolderAlive {
					fmt.Fprintln(out, "Warning: the holder process is still running")
				}
			}
			return nil
		},
	}
}
