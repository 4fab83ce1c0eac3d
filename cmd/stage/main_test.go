package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/config"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/importer"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lock"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/testsupport"
)

var appendMerge = []string{"sh", "-c", "cat {unit} >> {artifact}"}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "stage.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", env.configPath, "--log-level", "error"}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (env *cliTestEnv) approve(t *testing.T, id, payload string) {
	t.Helper()
	store := testsupport.MustOpenStore(t, env.cfg)
	testsupport.PlaceUnit(t, store, id, []byte(payload), lifecycle.Approved)
}

func (env *cliTestEnv) stateOf(t *testing.T, id string) lifecycle.State {
	t.Helper()
	store := testsupport.MustOpenStore(t, env.cfg)
	state, ok, err := store.CurrentState(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("CurrentState(%s) = %v, %v", id, ok, err)
	}
	return state
}

func TestCreateTwiceFailsAndKeepsContent(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, stderr, code := env.run(t, "create", "--id", "demo"); code != exitOK {
		t.Fatalf("first create exit = %d, stderr = %s", code, stderr)
	}
	path := filepath.Join(env.cfg.Paths.StagingDir, "in-progress", "demo.md")
	original := testsupport.ReadFile(t, path)
	if !strings.Contains(original, "unitId: demo") {
		t.Fatalf("unit not created from template: %q", original)
	}

	other := filepath.Join(testsupport.BaseDir(env.cfg), "other.md")
	testsupport.WriteFile(t, other, []byte("replacement"))
	_, stderr, code := env.run(t, "create", "--id", "demo", "--from", other)
	if code != exitFailure {
		t.Fatalf("second create exit = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr, "already exists") {
		t.Fatalf("stderr = %q, want already exists", stderr)
	}
	if got := testsupport.ReadFile(t, path); got != original {
		t.Fatalf("content changed: %q", got)
	}
}

func TestSubmitRejectsIllegalMove(t *testing.T) {
	env := setupCLITestEnv(t)
	env.approve(t, "s1", "body")

	_, stderr, code := env.run(t, "submit", "--id", "s1")
	if code != exitFailure {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stderr, "approved") {
		t.Fatalf("stderr = %q", stderr)
	}
	if env.stateOf(t, "s1") != lifecycle.Approved {
		t.Fatal("unit moved")
	}
}

func TestStatusAndListApproved(t *testing.T) {
	env := setupCLITestEnv(t)
	env.approve(t, "s1", "one")
	env.approve(t, "s2", "two")

	stdout, stderr, code := env.run(t, "list-approved")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "- s1") || !strings.Contains(stdout, "- s2") {
		t.Fatalf("list-approved output = %q", stdout)
	}

	stdout, _, code = env.run(t, "--json", "status")
	if code != exitOK {
		t.Fatalf("status exit = %d", code)
	}
	var payload struct {
		Counts map[string]int `json:"counts"`
		Locked bool           `json:"locked"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("decode status: %v\n%s", err, stdout)
	}
	if payload.Counts["approved"] != 2 || payload.Locked {
		t.Fatalf("status = %+v", payload)
	}
}

func TestImportDryRunNeverLocksOrWrites(t *testing.T) {
	for _, tc := range []struct {
		name  string
		merge []string
	}{
		{name: "merge would succeed", merge: appendMerge},
		{name: "merge would fail", merge: []string{"sh", "-c", "exit 3"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setupCLITestEnv(t, testsupport.WithCommands(tc.merge, nil, nil, nil))
			env.approve(t, "s1", "unit one\n")

			stdout, stderr, code := env.run(t, "import", "--dry-run")
			if code != exitOK {
				t.Fatalf("exit = %d, stderr = %s", code, stderr)
			}
			if !strings.Contains(stdout, "1 unit(s) would be merged") {
				t.Fatalf("stdout = %q", stdout)
			}
			if _, err := os.Stat(env.cfg.LockPath()); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("lock file exists after dry run: %v", err)
			}
			if got := testsupport.ReadFile(t, env.cfg.Paths.ArtifactPath); got != testsupport.DefaultArtifact {
				t.Fatalf("artifact written: %q", got)
			}
			if env.stateOf(t, "s1") != lifecycle.Approved {
				t.Fatal("unit moved during dry run")
			}
		})
	}
}

func TestImportMergesAndArchives(t *testing.T) {
	const artifact = "export const units = [\n];\n"
	env := setupCLITestEnv(t,
		testsupport.WithArtifact(artifact),
		testsupport.WithCommands(appendMerge, []string{"true"}, []string{"true"}, nil),
	)
	env.approve(t, "s1", "unit one\n")

	stdout, stderr, code := env.run(t, "import")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "Imported 1 unit(s): s1") {
		t.Fatalf("stdout = %q", stdout)
	}
	if got := testsupport.ReadFile(t, env.cfg.Paths.ArtifactPath); got != artifact+"unit one\n" {
		t.Fatalf("artifact = %q", got)
	}
	if env.stateOf(t, "s1") != lifecycle.Archived {
		t.Fatal("unit not archived")
	}
	if _, err := os.Stat(env.cfg.LockPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock not released: %v", err)
	}

	stdout, _, code = env.run(t, "history")
	if code != exitOK || !strings.Contains(stdout, "succeeded") {
		t.Fatalf("history exit = %d, stdout = %q", code, stdout)
	}
}

func TestImportTestFailureRestoresArtifact(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithCommands(appendMerge, nil, []string{"sh", "-c", "exit 1"}, nil))
	env.approve(t, "s1", "unit one\n")

	stdout, stderr, code := env.run(t, "import")
	if code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stdout, "Step:   test") || !strings.Contains(stdout, "Units:  s1") {
		t.Fatalf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "Rolled back from: ") || !strings.Contains(stderr, "import failed at test") {
		t.Fatalf("stdout = %q, stderr = %q", stdout, stderr)
	}
	if got := testsupport.ReadFile(t, env.cfg.Paths.ArtifactPath); got != testsupport.DefaultArtifact {
		t.Fatalf("artifact not restored: %q", got)
	}
	if env.stateOf(t, "s1") != lifecycle.Approved {
		t.Fatal("unit should remain approved")
	}
}

func TestImportRequiresMergeCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithCommands(nil, nil, nil, nil))
	env.approve(t, "s1", "unit one\n")

	_, stderr, code := env.run(t, "import")
	if code != exitFailure || !strings.Contains(stderr, "commands.merge") {
		t.Fatalf("exit = %d, stderr = %q", code, stderr)
	}
}

func TestUnlockReleasesAndIsIdempotent(t *testing.T) {
	env := setupCLITestEnv(t)
	handle, err := lock.Acquire(context.Background(), env.cfg.LockPath(), lock.Options{Owner: "crashed-import"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = handle

	stdout, _, code := env.run(t, "lock")
	if code != exitOK || !strings.Contains(stdout, "crashed-import") {
		t.Fatalf("lock exit = %d, stdout = %q", code, stdout)
	}

	stdout, _, code = env.run(t, "unlock")
	if code != exitOK || !strings.Contains(stdout, "Released import lock held by crashed-import") {
		t.Fatalf("unlock exit = %d, stdout = %q", code, stdout)
	}
	if locked, err := lock.IsLocked(env.cfg.LockPath()); err != nil || locked {
		t.Fatalf("IsLocked = %v, %v", locked, err)
	}

	stdout, _, code = env.run(t, "unlock")
	if code != exitOK || !strings.Contains(stdout, "was not held") {
		t.Fatalf("second unlock exit = %d, stdout = %q", code, stdout)
	}
}

func TestDoctorReportsCollaborators(t *testing.T) {
	env := setupCLITestEnv(t,
		testsupport.WithCommands([]string{"npx", "tsx", "merge.ts"}, []string{"npm", "run", "build"}, nil, [][]string{{"git", "commit", "-m", "{message}"}}),
		testsupport.WithStubbedBinaries(),
	)
	stdout, stderr, code := env.run(t, "doctor")
	if code != exitOK {
		t.Fatalf("exit = %d, stdout = %q, stderr = %q", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "All checks passed") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestDoctorFailsWithoutMergeCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithCommands(nil, nil, nil, nil))
	stdout, stderr, code := env.run(t, "doctor")
	if code != exitFailure {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stdout, "command not configured") || !strings.Contains(stderr, "check(s) failed") {
		t.Fatalf("stdout = %q, stderr = %q", stdout, stderr)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "conf", "stage.toml")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"config", "init", "--path", target}, &stdout, &stderr); code != exitOK {
		t.Fatalf("init exit = %d, stderr = %s", code, stderr.String())
	}
	if got := testsupport.ReadFile(t, target); got != config.SampleConfig() {
		t.Fatal("sample config not written")
	}

	stderr.Reset()
	if code := run(context.Background(), []string{"config", "init", "--path", target}, &stdout, &stderr); code != exitFailure {
		t.Fatalf("second init exit = %d", code)
	}
	if !strings.Contains(stderr.String(), "already exists") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestExitCodeForCriticalRollback(t *testing.T) {
	err := &importer.RollbackError{Step: importer.StepTest, Cause: errors.New("tests failed"), Err: errors.New("restore failed")}
	if got := exitCode(err); got != exitCritical {
		t.Fatalf("exitCode = %d, want %d", got, exitCritical)
	}
	if got := exitCode(errors.New("plain")); got != exitFailure {
		t.Fatalf("exitCode = %d, want %d", got, exitFailure)
	}
}
