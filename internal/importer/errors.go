package importer

import (
	"errors"
	"fmt"
	"strings"
)

// Step names one phase of an import run.
type Step string

const (
	StepResolve  Step = "resolve"
	StepLock     Step = "lock"
	StepBackup   Step = "backup"
	StepMerge    Step = "merge"
	StepBuild    Step = "build"
	StepTest     Step = "test"
	StepArchive  Step = "archive"
	StepPrune    Step = "prune"
	StepCommit   Step = "commit"
	StepRollback Step = "rollback"
)

var (
	ErrNotApproved       = errors.New("unit is not approved")
	ErrMerge             = errors.New("merge failed")
	ErrBuildVerification = errors.New("build verification failed")
	ErrTestVerification  = errors.New("test verification failed")
	ErrArchive           = errors.New("archive failed")
	ErrCommit            = errors.New("commit failed")
	ErrRollback          = errors.New("rollback failed")
)

// StepError reports a failed import run. When RolledBack is set the artifact
// was restored from BackupPath.
type StepError struct {
	Step       Step
	IDs        []string
	BackupPath string
	RolledBack bool
	// Unrestored lists units that could not be returned to approved.
	Unrestored []string
	Err        error
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "import failed at %s", e.Step)
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " (units: %s)", strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.RolledBack && e.BackupPath != "" {
		fmt.Fprintf(&b, "; artifact restored from %s", e.BackupPath)
	}
	if len(e.Unrestored) > 0 {
		fmt.Fprintf(&b, "; not returned to approved: %s", strings.Join(e.Unrestored, ", "))
	}
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }

// RollbackError is the terminal failure where restoring the snapshot itself
// failed. The artifact may be partially merged and must be restored by hand.
type RollbackError struct {
	Step         Step
	IDs          []string
	BackupPath   string
	ArtifactPath string
	Cause        error
	Err          error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("CRITICAL: %v after %s failure (%v); %s", ErrRollback, e.Step, e.Cause, e.Instructions())
}

// Unwrap exposes both the original step failure and the restore failure.
func (e *RollbackError) Unwrap() []error {
	return []error{ErrRollback, e.Cause, e.Err}
}

// Instructions returns the manual recovery command.
func (e *RollbackError) Instructions() string {
	if e.BackupPath == "" {
		return "restore the artifact manually from version control"
	}
	return fmt.Sprintf("restore manually with: cp %q %q", e.BackupPath, e.ArtifactPath)
}

// FailedStep extracts the failed step from an import error.
func FailedStep(err error) (Step, bool) {
	var rollbackErr *RollbackError
	if errors.As(err, &rollbackErr) {
		return StepRollback, true
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}

// IsCritical reports whether err requires manual recovery.
func IsCritical(err error) bool {
	var rollbackErr *RollbackError
	return errors.As(err, &rollbackErr)
}
