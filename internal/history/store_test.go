package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), ".staging", ".import-history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStartAndFinishRun(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.Start(ctx, history.Run{ID: "run-1", Owner: "import-agent", StartedAt: started, UnitIDs: []string{"a", "b"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	run, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != history.StatusRunning || run.FinishedAt != nil {
		t.Fatalf("unexpected running row %+v", run)
	}

	finished := started.Add(time.Minute)
	if err := store.Finish(ctx, "run-1", history.Outcome{
		Status:       history.StatusRolledBack,
		BackupPath:   "/repo/src/data.ts.backup.1",
		FailedStep:   "test",
		ErrorMessage: "test command failed (exit 1)",
		FinishedAt:   finished,
	}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	run, err = store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := &history.Run{
		ID:           "run-1",
		Owner:        "import-agent",
		StartedAt:    started,
		FinishedAt:   &finished,
		Status:       history.StatusRolledBack,
		UnitIDs:      []string{"a", "b"},
		BackupPath:   "/repo/src/data.ts.backup.1",
		FailedStep:   "test",
		ErrorMessage: "test command failed (exit 1)",
	}
	if diff := cmp.Diff(want, run); diff != "" {
		t.Fatalf("unexpected run (-want +got):\n%s", diff)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	store := openStore(t)
	err := store.Finish(context.Background(), "missing", history.Outcome{Status: history.StatusFailed})
	if !errors.Is(err, history.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, history.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from Get, got %v", err)
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := store.Record(ctx, history.Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute), Status: history.StatusDryRun, DryRun: true}); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	runs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if !runs[0].DryRun || runs[0].FinishedAt == nil || len(runs[0].UnitIDs) != 0 {
		t.Fatalf("unexpected dry run row: %+v", runs[0])
	}

	all, err := store.List(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("List(0) = %d rows, %v", len(all), err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Start(ctx, history.Run{ID: "r1"}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := history.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, "r1"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func rawLedger(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
}

func ledgerVersion(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	return version
}

func TestOpenMigratesUnversionedLedgerInPlace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	rawLedger(t, path,
		`CREATE TABLE import_runs (
			run_id TEXT PRIMARY KEY, owner TEXT, started_at TEXT NOT NULL, finished_at TEXT,
			status TEXT NOT NULL, dry_run INTEGER NOT NULL DEFAULT 0, unit_ids TEXT NOT NULL DEFAULT '[]',
			backup_path TEXT, failed_step TEXT, error_message TEXT)`,
		`INSERT INTO import_runs (run_id, started_at, status) VALUES ('legacy', '2026-01-02T03:04:05Z', 'success')`,
	)

	store, err := history.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Get(ctx, "legacy"); err != nil {
		t.Fatalf("existing run lost during migration: %v", err)
	}
	_ = store.Close()
	if v := ledgerVersion(t, path); v != 1 {
		t.Fatalf("user_version = %d after migration", v)
	}

	reopened, err := history.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen migrated ledger: %v", err)
	}
	_ = reopened.Close()
}

func TestOpenRefusesNewerLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	rawLedger(t, path, "PRAGMA user_version = 99")

	_, err := history.Open(context.Background(), path)
	if !errors.Is(err, history.ErrLedgerTooNew) {
		t.Fatalf("expected ErrLedgerTooNew, got %v", err)
	}
}
