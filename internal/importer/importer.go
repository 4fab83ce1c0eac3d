package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/artifact"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/collab"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/history"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
)

const defaultKeep = 5

var newRunID = func() string { return uuid.NewString() }

// Request selects the units to import. An empty IDs list means every
// approved unit.
type Request struct {
	IDs    []string
	DryRun bool
}

// PlannedUnit describes one unit a run would merge.
type PlannedUnit struct {
	ID    string `json:"id"`
	Path  string `json:"path,omitempty"`
	Bytes int    `json:"bytes"`
}

// Result summarizes an import run. It is returned alongside errors so callers
// can report the run id and backup path of a failed run.
type Result struct {
	RunID      string        `json:"runId"`
	DryRun     bool          `json:"dryRun"`
	Noop       bool          `json:"noop"`
	Planned    []PlannedUnit `json:"planned,omitempty"`
	Imported   []string      `json:"imported,omitempty"`
	BackupPath string        `json:"backupPath,omitempty"`
	Pruned     []string      `json:"pruned,omitempty"`
	FailedStep Step          `json:"failedStep,omitempty"`
	RolledBack bool          `json:"rolledBack"`
	Duration   time.Duration `json:"duration"`
}

// Deps are the collaborators of a Coordinator. Build, Test, Committer and
// History are optional; a nil collaborator skips its step.
type Deps struct {
	Store     *lifecycle.Store
	Guard     *artifact.Guard
	Merger    collab.Merger
	Build     collab.Verifier
	Test      collab.Verifier
	Committer collab.Committer
	History   *history.Store
	Logger    *slog.Logger
}

// Options tune a Coordinator.
type Options struct {
	// Owner is written into the lock descriptor.
	Owner string
	// Keep is the number of artifact snapshots retained after a successful run.
	Keep int
}

// Coordinator runs import batches.
type Coordinator struct {
	store     *lifecycle.Store
	guard     *artifact.Guard
	merger    collab.Merger
	build     collab.Verifier
	test      collab.Verifier
	committer collab.Committer
	history   *history.Store
	logger    *slog.Logger
	owner     string
	keep      int
}

// New validates deps and returns a Coordinator.
func New(deps Deps, opts Options) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("importer: lifecycle store is required")
	case deps.Guard == nil:
		return nil, errors.New("importer: artifact guard is required")
	case deps.Merger == nil:
		return nil, errors.New("importer: merger is required")
	}
	keep := opts.Keep
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Coordinator{
		store:     deps.Store,
		guard:     deps.Guard,
		merger:    deps.Merger,
		build:     deps.Build,
		test:      deps.Test,
		committer: deps.Committer,
		history:   deps.History,
		logger:    logging.NewComponentLogger(deps.Logger, "importer"),
		owner:     strings.TrimSpace(opts.Owner),
		keep:      keep,
	}, nil
}

// ImportApproved merges the requested approved units into the artifact. The
// returned Result is never nil.
func (c *Coordinator) ImportApproved(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	runID := newRunID()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, c.logger)
	result := &Result{RunID: runID, DryRun: req.DryRun}
	defer func() { result.Duration = time.Since(started) }()

	ids, err := c.resolve(ctx, req.IDs)
	if err != nil {
		result.FailedStep = StepResolve
		return result, &StepError{Step: StepResolve, IDs: dedupe(req.IDs), Err: err}
	}

	if len(ids) == 0 {
		result.Noop = true
		logger.Info("no approved units to import", logging.Bool("dry_run", req.DryRun))
		c.record(ctx, history.Run{ID: runID, Owner: c.owner, StartedAt: started, Status: history.StatusNoop, DryRun: req.DryRun})
		return result, nil
	}

	if req.DryRun {
		return c.plan(ctx, ids, result, started)
	}

	logger.Info("import started",
		logging.Strings("unit_ids", ids),
		logging.String("artifact_path", c.guard.Path()),
	)
	c.start(ctx, history.Run{ID: runID, Owner: c.owner, StartedAt: started, UnitIDs: ids})

	session, err := c.guard.Begin(ctx, c.owner)
	if err != nil {
		step := StepLock
		if errors.Is(err, artifact.ErrSnapshot) {
			step = StepBackup
		}
		result.FailedStep = step
		logging.ErrorWithContext(logger, "import could not start", "import_start_failed",
			logging.String(logging.FieldStep, string(step)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check `stage lock` for the current holder"),
		)
		c.finish(ctx, runID, history.Outcome{Status: history.StatusFailed, FailedStep: string(step), ErrorMessage: err.Error()})
		return result, &StepError{Step: step, IDs: ids, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			logging.WarnWithContext(logger, "lock release failed", "lock_release_failed",
				logging.String("lock_path", c.guard.LockPath()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run `stage unlock` once no import is running"),
			)
		}
	}()
	result.BackupPath = session.BackupPath()

	if step, err := c.apply(ctx, session, ids, result); err != nil {
		result.FailedStep = step
		return result, c.rollback(ctx, session, ids, step, err, result)
	}

	result.Imported = ids
	logger.Info("import succeeded",
		logging.Strings("unit_ids", ids),
		logging.String("backup_path", result.BackupPath),
		logging.Int("pruned", len(result.Pruned)),
		logging.Duration("duration", time.Since(started)),
	)
	c.finish(ctx, runID, history.Outcome{Status: history.StatusSucceeded, BackupPath: result.BackupPath})
	return result, nil
}

// resolve returns the deduplicated target ids. Explicit ids must all be approved.
func (c *Coordinator) resolve(ctx context.Context, requested []string) ([]string, error) {
	requested = dedupe(requested)
	if len(requested) == 0 {
		return c.store.ListUnits(ctx, lifecycle.Approved)
	}
	var problems []error
	for _, id := range requested {
		state, ok, err := c.store.CurrentState(ctx, id)
		switch {
		case err != nil:
			problems = append(problems, err)
		case !ok:
			problems = append(problems, fmt.Errorf("%s: %w", id, lifecycle.ErrUnitNotFound))
		case state != lifecycle.Approved:
			problems = append(problems, fmt.Errorf("%w: %s is %s", ErrNotApproved, id, state))
		}
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return requested, nil
}

// plan reports what a run would do without locking or writing anything.
func (c *Coordinator) plan(ctx context.Context, ids []string, result *Result, started time.Time) (*Result, error) {
	logger := logging.WithContext(ctx, c.logger)
	for _, id := range ids {
		payload, err := c.store.Payload(ctx, id)
		if err != nil {
			result.FailedStep = StepResolve
			return result, &StepError{Step: StepResolve, IDs: ids, Err: err}
		}
		path, _ := c.store.PayloadPath(ctx, id)
		result.Planned = append(result.Planned, PlannedUnit{ID: id, Path: path, Bytes: len(payload)})
		logger.Info("would merge unit",
			logging.String(logging.FieldUnitID, id),
			logging.Int("bytes", len(payload)),
		)
	}
	logger.Info("dry run complete",
		logging.Int("unit_count", len(ids)),
		logging.String("artifact_path", c.guard.Path()),
	)
	c.record(ctx, history.Run{ID: result.RunID, Owner: c.owner, StartedAt: started, Status: history.StatusDryRun, DryRun: true, UnitIDs: ids})
	return result, nil
}

// apply runs every mutating step. It returns the step that failed.
func (c *Coordinator) apply(ctx context.Context, session *artifact.Session, ids []string, result *Result) (Step, error) {
	logger := logging.WithContext(ctx, c.logger)

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return StepMerge, fmt.Errorf("%w: %w", ErrMerge, err)
		}
		unitCtx := logging.WithStep(logging.WithUnitID(ctx, id), string(StepMerge))
		payload, err := c.store.Payload(unitCtx, id)
		if err != nil {
			return StepMerge, fmt.Errorf("%w: %s: %w", ErrMerge, id, err)
		}
		unitPath, _ := c.store.PayloadPath(unitCtx, id)
		in := collab.MergeInput{ID: id, Payload: payload, UnitPath: unitPath, ArtifactPath: session.Path()}
		if err := c.merger.Merge(unitCtx, in); err != nil {
			return StepMerge, fmt.Errorf("%w: %s: %w", ErrMerge, id, err)
		}
		logging.WithContext(unitCtx, c.logger).Info("unit merged",
			logging.Int("position", i+1),
			logging.Int("total", len(ids)),
		)
	}

	if c.build != nil {
		if err := c.build.Verify(logging.WithStep(ctx, string(StepBuild)), session.Path()); err != nil {
			return StepBuild, fmt.Errorf("%w: %w", ErrBuildVerification, err)
		}
		logger.Info("build verification passed")
	} else {
		logger.Debug("build verification skipped")
	}
	if c.test != nil {
		if err := c.test.Verify(logging.WithStep(ctx, string(StepTest)), session.Path()); err != nil {
			return StepTest, fmt.Errorf("%w: %w", ErrTestVerification, err)
		}
		logger.Info("test verification passed")
	} else {
		logger.Debug("test verification skipped")
	}

	for _, id := range ids {
		if err := c.store.Move(ctx, id, lifecycle.Approved, lifecycle.Archived); err != nil {
			return StepArchive, fmt.Errorf("%w: %s: %w", ErrArchive, id, err)
		}
	}

	pruned, err := session.Prune(c.keep)
	if err != nil {
		logging.WarnWithContext(logger, "backup prune failed", "backup_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old artifact snapshots remain on disk"),
			logging.String(logging.FieldErrorHint, "remove stale .backup files beside the artifact"),
		)
	}
	result.Pruned = pruned

	if c.committer != nil {
		if err := c.committer.Commit(logging.WithStep(ctx, string(StepCommit)), CommitMessage(ids)); err != nil {
			return StepCommit, fmt.Errorf("%w: %w", ErrCommit, err)
		}
		logger.Info("import committed")
	}
	return "", nil
}

// rollback restores the artifact and returns the units to approved. It runs
// detached from ctx so a cancelled run still unwinds.
func (c *Coordinator) rollback(ctx context.Context, session *artifact.Session, ids []string, step Step, cause error, result *Result) error {
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, c.logger)
	logger.Warn("import failed; rolling back",
		logging.String(logging.FieldStep, string(step)),
		logging.Error(cause),
		logging.String("backup_path", session.BackupPath()),
	)

	if err := session.Rollback(); err != nil {
		rbErr := &RollbackError{
			Step:         step,
			IDs:          ids,
			BackupPath:   session.BackupPath(),
			ArtifactPath: session.Path(),
			Cause:        cause,
			Err:          err,
		}
		logging.ErrorWithContext(logger, "rollback failed", "import_rollback_failed",
			logging.String(logging.FieldStep, string(step)),
			logging.Error(err),
			logging.String("backup_path", session.BackupPath()),
			logging.Alert("manual_recovery_required"),
			logging.String(logging.FieldErrorHint, rbErr.Instructions()),
		)
		c.finish(ctx, result.RunID, history.Outcome{
			Status:       history.StatusCritical,
			BackupPath:   session.BackupPath(),
			FailedStep:   string(step),
			ErrorMessage: rbErr.Error(),
		})
		return rbErr
	}
	result.RolledBack = true

	var unrestored []string
	for _, id := range ids {
		state, ok, err := c.store.CurrentState(ctx, id)
		if err == nil && ok && state == lifecycle.Approved {
			continue
		}
		if err == nil && ok {
			err = c.store.Reinstate(ctx, id, lifecycle.Approved)
		} else if err == nil {
			err = lifecycle.ErrUnitNotFound
		}
		if err != nil {
			unrestored = append(unrestored, id)
			logging.WarnWithContext(logger, "unit not returned to approved", "import_unit_restore_failed",
				logging.String(logging.FieldUnitID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "unit is outside approved after rollback"),
				logging.String(logging.FieldErrorHint, "move the unit file back into approved/ by hand"),
			)
		}
	}

	stepErr := &StepError{
		Step:       step,
		IDs:        ids,
		BackupPath: session.BackupPath(),
		RolledBack: true,
		Unrestored: unrestored,
		Err:        cause,
	}
	logger.Info("rollback complete",
		logging.String("backup_path", session.BackupPath()),
		logging.Strings("unit_ids", ids),
	)
	c.finish(ctx, result.RunID, history.Outcome{
		Status:       history.StatusRolledBack,
		BackupPath:   session.BackupPath(),
		FailedStep:   string(step),
		ErrorMessage: cause.Error(),
	})
	return stepErr
}

// CommitMessage lists the imported ids.
func CommitMessage(ids []string) string {
	noun := "units"
	if len(ids) == 1 {
		noun = "unit"
	}
	return fmt.Sprintf("content: import %d %s (%s)", len(ids), noun, strings.Join(ids, ", "))
}

func (c *Coordinator) start(ctx context.Context, run history.Run) {
	if c.history == nil {
		return
	}
	if err := c.history.Start(ctx, run); err != nil {
		c.historyWarning(ctx, err)
	}
}

func (c *Coordinator) record(ctx context.Context, run history.Run) {
	if c.history == nil {
		return
	}
	if err := c.history.Record(ctx, run); err != nil {
		c.historyWarning(ctx, err)
	}
}

func (c *Coordinator) finish(ctx context.Context, runID string, outcome history.Outcome) {
	if c.history == nil {
		return
	}
	if err := c.history.Finish(context.WithoutCancel(ctx), runID, outcome); err != nil {
		c.historyWarning(ctx, err)
	}
}

func (c *Coordinator) historyWarning(ctx context.Context, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "import history not recorded", "history_write_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "run missing from `stage history`"),
	)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
