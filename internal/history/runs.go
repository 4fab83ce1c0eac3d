package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle status of an import run.
type Status string

const (
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusCritical   Status = "critical"
	StatusDryRun     Status = "dry_run"
	StatusNoop       Status = "noop"
)

// ErrRunNotFound is returned when no run matches the requested id.
var ErrRunNotFound = errors.New("import run not found")

// Run is one row of the ledger.
type Run struct {
	ID           string
	Owner        string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       Status
	DryRun       bool
	UnitIDs      []string
	BackupPath   string
	FailedStep   string
	ErrorMessage string
}

// Outcome is the terminal state written by Finish.
type Outcome struct {
	Status       Status
	BackupPath   string
	FailedStep   string
	ErrorMessage string
	FinishedAt   time.Time
}

const runColumns = "run_id, owner, started_at, finished_at, status, dry_run, unit_ids, backup_path, failed_step, error_message"

// Start inserts run. A zero Status is recorded as running.
func (s *Store) Start(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("history: run id is required")
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	ids, err := json.Marshal(nonNil(run.UnitIDs))
	if err != nil {
		return fmt.Errorf("encode unit ids: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO import_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		nullableString(run.Owner),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(run.FinishedAt),
		string(run.Status),
		boolToInt(run.DryRun),
		string(ids),
		nullableString(run.BackupPath),
		nullableString(run.FailedStep),
		nullableString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

// Record inserts a run that is already finished, such as a dry run.
func (s *Store) Record(ctx context.Context, run Run) error {
	if run.FinishedAt == nil {
		finished := time.Now()
		run.FinishedAt = &finished
	}
	return s.Start(ctx, run)
}

// Finish writes the terminal outcome of a run.
func (s *Store) Finish(ctx context.Context, runID string, outcome Outcome) error {
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE import_runs SET finished_at = ?, status = ?, backup_path = COALESCE(?, backup_path), failed_step = ?, error_message = ? WHERE run_id = ?`,
		outcome.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(outcome.Status),
		nullableString(outcome.BackupPath),
		nullableString(outcome.FailedStep),
		nullableString(outcome.ErrorMessage),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish import run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Get returns the run with id.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM import_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get import run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first. A limit of zero or less returns all runs.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import runs: %w", err)
	}
	return runs, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id          string
		owner       sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
		status      string
		dryRun      int
		unitIDs     string
		backupPath  sql.NullString
		failedStep  sql.NullString
		errMessage  sql.NullString
	)
	if err := scanner.Scan(&id, &owner, &startedRaw, &finishedRaw, &status, &dryRun, &unitIDs, &backupPath, &failedStep, &errMessage); err != nil {
		return nil, err
	}
	run := &Run{
		ID:           id,
		Owner:        owner.String,
		Status:       Status(status),
		DryRun:       dryRun != 0,
		BackupPath:   backupPath.String,
		FailedStep:   failedStep.String,
		ErrorMessage: errMessage.String,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	if err := json.Unmarshal([]byte(unitIDs), &run.UnitIDs); err != nil {
		return nil, fmt.Errorf("decode unit ids for %s: %w", id, err)
	}
	return run, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
