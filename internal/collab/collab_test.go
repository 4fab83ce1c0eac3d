package collab_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/collab"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
)

type recordedCall struct {
	dir  string
	argv []string
}

func fakeExecutor(calls *[]recordedCall, output []string, err error) collab.Executor {
	return collab.ExecutorFunc(func(_ context.Context, dir string, argv []string, onLine func(string)) error {
		*calls = append(*calls, recordedCall{dir: dir, argv: append([]string(nil), argv...)})
		for _, line := range output {
			onLine(line)
		}
		return err
	})
}

func TestExpandSubstitutesPlaceholders(t *testing.T) {
	got := collab.Expand(
		[]string{"git", "commit", "-m", "{message}", "--", "{artifact}", "{staging}/{id}.md"},
		collab.Vars{Artifact: "/repo/src/data.ts", Message: "content: import 2 units", ID: "u1", Staging: "/repo/.staging"},
	)
	want := []string{"git", "commit", "-m", "content: import 2 units", "--", "/repo/src/data.ts", "/repo/.staging/u1.md"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected expansion (-want +got):\n%s", diff)
	}
	if collab.Expand(nil, collab.Vars{}) != nil {
		t.Fatal("expected nil for empty template")
	}
}

func TestCommandMergerPassesUnitAndArtifact(t *testing.T) {
	var calls []recordedCall
	runner := collab.NewRunner("/repo", logging.NewNop(), collab.WithExecutor(fakeExecutor(&calls, nil, nil)))
	merger := &collab.CommandMerger{Runner: runner, Argv: []string{"merge-tool", "{unit}", "{artifact}", "{id}"}}

	err := merger.Merge(context.Background(), collab.MergeInput{
		ID:           "cafe-order",
		UnitPath:     "/repo/.staging/approved/cafe-order.md",
		ArtifactPath: "/repo/src/data.ts",
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := []recordedCall{{dir: "/repo", argv: []string{"merge-tool", "/repo/.staging/approved/cafe-order.md", "/repo/src/data.ts", "cafe-order"}}}
	if diff := cmp.Diff(want, calls, cmp.AllowUnexported(recordedCall{})); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
}

func TestCommandMergerWritesPayloadWhenNoPath(t *testing.T) {
	var seen string
	exec := collab.ExecutorFunc(func(_ context.Context, _ string, argv []string, _ func(string)) error {
		data, err := os.ReadFile(argv[1])
		if err != nil {
			return err
		}
		seen = string(data)
		return nil
	})
	runner := collab.NewRunner(t.TempDir(), logging.NewNop(), collab.WithExecutor(exec))
	merger := &collab.CommandMerger{Runner: runner, Argv: []string{"merge-tool", "{unit}"}}
	if err := merger.Merge(context.Background(), collab.MergeInput{ID: "u1", Payload: []byte("# body")}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if seen != "# body" {
		t.Fatalf("merge command saw %q", seen)
	}
}

func TestRunnerReportsMissingCommand(t *testing.T) {
	runner := collab.NewRunner(t.TempDir(), logging.NewNop())
	_, err := runner.Run(context.Background(), "merge", nil, collab.Vars{})
	var cmdErr *collab.CommandError
	if !errors.As(err, &cmdErr) || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestRunnerCapturesExitCodeAndTail(t *testing.T) {
	runner := collab.NewRunner(t.TempDir(), logging.NewNop())
	_, err := runner.Run(context.Background(), "test", []string{"sh", "-c", "echo first; echo 'assertion failed' 1>&2; exit 3"}, collab.Vars{})
	var cmdErr *collab.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", cmdErr.ExitCode)
	}
	if !strings.Contains(strings.Join(cmdErr.Tail, "\n"), "assertion failed") {
		t.Fatalf("tail missing stderr output: %v", cmdErr.Tail)
	}
}

func TestExecutorSurvivesOverlongOutputLine(t *testing.T) {
	script := `head -c 2000000 /dev/zero | tr '\0' a; echo; head -c 200000 /dev/zero | tr '\0' b; echo; echo done 1>&2`
	done := make(chan error, 1)
	go func() {
		done <- collab.DefaultExecutor().Run(context.Background(), t.TempDir(), []string{"sh", "-c", script}, func(string) {})
	}()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "scan output") {
			t.Fatalf("expected scan error for overlong line, got %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("executor hung after an overlong output line")
	}
}

func TestCommandCommitterRunsStepsInOrder(t *testing.T) {
	var calls []recordedCall
	runner := collab.NewRunner("/repo", logging.NewNop(), collab.WithExecutor(fakeExecutor(&calls, nil, nil)))
	committer := &collab.CommandCommitter{
		Runner: runner,
		Steps:  [][]string{{"git", "add", "-A"}, {"git", "commit", "-m", "{message}"}},
	}
	if err := committer.Commit(context.Background(), "content: import u1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(calls) != 2 || calls[1].argv[3] != "content: import u1" {
		t.Fatalf("unexpected calls: %+v", calls)
	}

	empty := &collab.CommandCommitter{Runner: runner}
	if err := empty.Commit(context.Background(), "x"); err == nil {
		t.Fatal("expected error when no commit steps configured")
	}
}

func TestCommandGateResults(t *testing.T) {
	tests := []struct {
		name       string
		output     []string
		err        error
		wantStatus report.Status
		wantErrors []string
	}{
		{name: "exit zero", wantStatus: report.StatusPass},
		{
			name:       "json result",
			output:     []string{`{"status":"FAIL","confidence":40,"errors":["tense mismatch"]}`},
			wantStatus: report.StatusFail,
			wantErrors: []string{"tense mismatch"},
		},
		{
			name:       "json pending",
			output:     []string{`{"status":"PENDING"}`},
			wantStatus: report.StatusPending,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls []recordedCall
			runner := collab.NewRunner(t.TempDir(), logging.NewNop(), collab.WithExecutor(fakeExecutor(&calls, tc.output, tc.err)))
			gate := &collab.CommandGate{Runner: runner, Argv: []string{"lint", "{unit}"}}
			got, err := gate.RunGate(context.Background(), collab.GateInput{Gate: report.GateLinguistic, ID: "u1", UnitPath: "/tmp/u1.md"})
			if err != nil {
				t.Fatalf("RunGate: %v", err)
			}
			if got.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tc.wantStatus)
			}
			if diff := cmp.Diff(tc.wantErrors, got.Errors); diff != "" {
				t.Fatalf("unexpected errors (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommandGateNonZeroExitFails(t *testing.T) {
	runner := collab.NewRunner(t.TempDir(), logging.NewNop())
	gate := &collab.CommandGate{Runner: runner, Argv: []string{"sh", "-c", "echo 'missing vocabulary'; exit 1"}}
	got, err := gate.RunGate(context.Background(), collab.GateInput{Gate: report.GateIntegration, ID: "u1", Payload: []byte("x")})
	if err != nil {
		t.Fatalf("RunGate: %v", err)
	}
	if got.Status != report.StatusFail || len(got.Errors) == 0 || got.Errors[0] != "missing vocabulary" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestCommandGateStartFailureIsError(t *testing.T) {
	runner := collab.NewRunner(t.TempDir(), logging.NewNop())
	gate := &collab.CommandGate{Runner: runner, Argv: []string{"/nonexistent/gate-binary"}}
	if _, err := gate.RunGate(context.Background(), collab.GateInput{Gate: report.GateQA, ID: "u1", UnitPath: "/tmp/u1.md"}); err == nil {
		t.Fatal("expected error when gate binary cannot start")
	}
}
