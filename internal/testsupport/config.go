// Package testsupport builds throwaway stage workspaces for tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/config"
)

// DefaultArtifact is the content NewConfig writes to the production artifact.
const DefaultArtifact = "export const units = [];\n"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t        testing.TB
	baseDir  string
	cfg      *config.Config
	artifact string
}

// NewConfig produces a config rooted in a fresh temp directory with a staging
// tree and a production artifact. Lock waits are shortened so contention
// tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, ".staging")
	cfgVal.Paths.ArtifactPath = filepath.Join(base, "src", "services", "staticData.ts")
	cfgVal.Lock.TimeoutSeconds = 1
	cfgVal.Lock.PollIntervalMillis = 10
	cfgVal.Lock.Owner = "test"

	builder := &configBuilder{
		t:        t,
		baseDir:  base,
		cfg:      &cfgVal,
		artifact: DefaultArtifact,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	WriteFile(t, builder.cfg.Paths.ArtifactPath, []byte(builder.artifact))
	return builder.cfg
}

// WithArtifact overrides the initial production artifact content.
func WithArtifact(content string) ConfigOption {
	return func(b *configBuilder) {
		b.artifact = content
	}
}

// WithCommands replaces the import collaborators.
func WithCommands(merge, build, test []string, commit [][]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Commands.Merge = merge
		b.cfg.Commands.Build = build
		b.cfg.Commands.Test = test
		b.cfg.Commands.Commit = commit
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the programs behind the default
// commands are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"npm", "npx", "git"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadFile returns the content of path or fails the test.
func ReadFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
