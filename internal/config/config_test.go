package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/config"
)

func TestLoadDefaultConfigExpandsRelativePaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	workDir := t.TempDir()
	t.Chdir(workDir)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected no config file in temp HOME or working dir")
	}
	if want := filepath.Join(tempHome, ".config", "stage", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}

	realWork, _ := filepath.EvalSymlinks(workDir)
	gotStaging, _ := filepath.EvalSymlinks(filepath.Dir(cfg.Paths.StagingDir))
	if gotStaging != realWork || filepath.Base(cfg.Paths.StagingDir) != ".staging" {
		t.Fatalf("unexpected staging dir %q for work dir %q", cfg.Paths.StagingDir, workDir)
	}
	if !filepath.IsAbs(cfg.Paths.ArtifactPath) {
		t.Fatalf("expected absolute artifact path, got %q", cfg.Paths.ArtifactPath)
	}
	if cfg.LockTimeout().Seconds() != 300 {
		t.Fatalf("unexpected lock timeout: %s", cfg.LockTimeout())
	}
	if cfg.LockPollInterval().Milliseconds() != 1000 {
		t.Fatalf("unexpected poll interval: %s", cfg.LockPollInterval())
	}
	if cfg.Backup.Keep != 5 {
		t.Fatalf("unexpected backup keep: %d", cfg.Backup.Keep)
	}
	if cfg.Lock.Owner != "import-agent" {
		t.Fatalf("unexpected lock owner: %q", cfg.Lock.Owner)
	}
	if len(cfg.Commands.Commit) != 2 {
		t.Fatalf("expected two default commit steps, got %v", cfg.Commands.Commit)
	}
	if cfg.LockPath() != filepath.Join(cfg.Paths.StagingDir, ".import.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
}

func TestLoadPrefersProjectConfigWhenUserConfigMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workDir := t.TempDir()
	t.Chdir(workDir)

	content := "[backup]\nkeep = 9\n"
	if err := os.WriteFile(filepath.Join(workDir, "stage.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || filepath.Base(resolved) != "stage.toml" {
		t.Fatalf("expected project config, got %q (exists=%v)", resolved, exists)
	}
	if cfg.Backup.Keep != 9 {
		t.Fatalf("expected keep=9 from project config, got %d", cfg.Backup.Keep)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `[paths]
staging_dir = "~/content/.staging"
artifact_path = "~/content/src/data.ts"

[lock]
timeout_seconds = 10
poll_interval_ms = 250
owner = "ci"

[commands]
merge = ["merge-tool", "{unit}", "{artifact}"]
commit = [["git", "commit", "-am", "{message}"], []]

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if want := filepath.Join(tempHome, "content", ".staging"); cfg.Paths.StagingDir != want {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, want)
	}
	if want := filepath.Join(tempHome, "content", "src", "data.ts"); cfg.Paths.ArtifactPath != want {
		t.Fatalf("unexpected artifact path: got %q want %q", cfg.Paths.ArtifactPath, want)
	}
	if cfg.WorkDir() != filepath.Join(tempHome, "content") {
		t.Fatalf("unexpected work dir: %q", cfg.WorkDir())
	}
	if cfg.Lock.Owner != "ci" || cfg.Lock.TimeoutSeconds != 10 || cfg.Lock.PollIntervalMillis != 250 {
		t.Fatalf("unexpected lock config: %+v", cfg.Lock)
	}
	if len(cfg.Commands.Merge) != 3 || cfg.Commands.Merge[0] != "merge-tool" {
		t.Fatalf("unexpected merge command: %v", cfg.Commands.Merge)
	}
	if len(cfg.Commands.Commit) != 1 {
		t.Fatalf("expected empty commit step to be dropped, got %v", cfg.Commands.Commit)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging to be lower-cased, got %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\nlibrary_dir = \"x\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestEnvOverridesArtifactPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	artifact := filepath.Join(t.TempDir(), "artifact.ts")
	t.Setenv("STAGE_ARTIFACT_PATH", artifact)

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.ArtifactPath != artifact {
		t.Fatalf("expected env artifact path %q, got %q", artifact, cfg.Paths.ArtifactPath)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.Paths.StagingDir = "/repo/.staging"
		cfg.Paths.ArtifactPath = "/repo/src/data.ts"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "missing artifact",
			mutate:  func(c *config.Config) { c.Paths.ArtifactPath = "" },
			wantErr: "paths.artifact_path must be set",
		},
		{
			name:    "artifact inside staging",
			mutate:  func(c *config.Config) { c.Paths.ArtifactPath = "/repo/.staging/data.ts" },
			wantErr: "must not live inside paths.staging_dir",
		},
		{
			name:    "zero lock timeout",
			mutate:  func(c *config.Config) { c.Lock.TimeoutSeconds = 0 },
			wantErr: "lock.timeout_seconds",
		},
		{
			name:    "poll interval exceeds timeout",
			mutate:  func(c *config.Config) { c.Lock.TimeoutSeconds = 1; c.Lock.PollIntervalMillis = 5000 },
			wantErr: "lock.poll_interval_ms must not exceed",
		},
		{
			name:    "negative lease",
			mutate:  func(c *config.Config) { c.Lock.StaleAfterSeconds = -1 },
			wantErr: "lock.stale_after_seconds must be zero",
		},
		{
			name:    "lease shorter than wait",
			mutate:  func(c *config.Config) { c.Lock.TimeoutSeconds = 300; c.Lock.StaleAfterSeconds = 60 },
			wantErr: "must not be shorter than lock.timeout_seconds",
		},
		{
			name:    "keep zero backups",
			mutate:  func(c *config.Config) { c.Backup.Keep = 0 },
			wantErr: "backup.keep",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}

	valid := base()
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLockLeaseCoversCommandTimeouts(t *testing.T) {
	cfg := config.Default()
	// wait + merge, build, test + two commit steps
	want := 300*time.Second + 5*900*time.Second
	if got := cfg.LockStaleAfter(); got != want {
		t.Fatalf("derived lease = %s, want %s", got, want)
	}
	if cfg.LockStaleAfter() <= cfg.LockTimeout()+cfg.CommandTimeout() {
		t.Fatal("lease must outlast a waiter's timeout plus a running command")
	}

	cfg.Lock.StaleAfterSeconds = 7200
	if got := cfg.LockStaleAfter(); got != 2*time.Hour {
		t.Fatalf("explicit lease = %s", got)
	}

	cfg.Lock.StaleAfterSeconds = 0
	cfg.Commands.TimeoutSeconds = 0
	if got := cfg.LockStaleAfter(); got != 0 {
		t.Fatalf("expected lock package default without command timeout, got %s", got)
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Backup.Keep != 5 {
		t.Fatalf("unexpected sample keep: %d", cfg.Backup.Keep)
	}
	if len(cfg.Commands.Merge) == 0 {
		t.Fatal("expected sample merge command")
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if string(data) != config.SampleConfig() {
		t.Fatal("written sample does not match embedded content")
	}
}

func TestEnsureDirectoriesCreatesStagingRoot(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(root, ".staging")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
