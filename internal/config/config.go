package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the staging tree and production artifact locations.
type Paths struct {
	StagingDir   string `toml:"staging_dir"`
	ArtifactPath string `toml:"artifact_path"`
	LogDir       string `toml:"log_dir"`
}

// Lock contains configuration for the import lock.
type Lock struct {
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	Owner              string `toml:"owner"`
	// StaleAfterSeconds is the lease written into the lock. Zero derives it
	// from the lock wait and the command timeouts.
	StaleAfterSeconds int `toml:"stale_after_seconds"`
}

// Backup contains configuration for artifact snapshots.
type Backup struct {
	// Keep is the number of most recent snapshots retained after a successful import.
	Keep int `toml:"keep"`
}

// Commands contains the external collaborators used by imports. Each entry
// is an argv array; placeholders such as {artifact}, {unit}, {id}, {staging}
// and {message} are substituted at run time.
type Commands struct {
	Merge          []string   `toml:"merge"`
	Build          []string   `toml:"build"`
	Test           []string   `toml:"test"`
	Commit         [][]string `toml:"commit"`
	TimeoutSeconds int        `toml:"timeout_seconds"`
}

// Gates contains the external commands backing the validation gates.
// Empty entries fall back to the built-in behaviour of each gate.
type Gates struct {
	Structural  []string `toml:"structural"`
	Linguistic  []string `toml:"linguistic"`
	Integration []string `toml:"integration"`
	QA          []string `toml:"qa"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for stage.
//
// Configuration sections by subsystem:
//   - Paths: staging tree, production artifact, optional log directory
//   - Lock: import lock timeout, poll interval, and owner label
//   - Backup: artifact snapshot retention
//   - Commands: merge/build/test/commit collaborators
//   - Gates: validation gate commands
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Lock     Lock     `toml:"lock"`
	Backup   Backup   `toml:"backup"`
	Commands Commands `toml:"commands"`
	Gates    Gates    `toml:"gates"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. It also reports the resolved path and whether
// that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(defaultProjectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the staging tree root and optional log directory.
// State subdirectories are created lazily by the lifecycle backend.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the path of the import lock descriptor.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StagingDir, ".import.lock")
}

// HistoryPath returns the path of the import history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StagingDir, defaultHistoryDatabaseName)
}

// LockTimeout returns the configured lock wait as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Lock.TimeoutSeconds) * time.Second
}

// LockStaleAfter returns the lease an import records in the lock. When unset
// it covers the lock wait plus one command timeout for each of merge, build,
// test and every commit step. Zero leaves the lock package default.
func (c *Config) LockStaleAfter() time.Duration {
	if c.Lock.StaleAfterSeconds > 0 {
		return time.Duration(c.Lock.StaleAfterSeconds) * time.Second
	}
	if c.Commands.TimeoutSeconds <= 0 {
		return 0
	}
	steps := 3 + len(c.Commands.Commit)
	return c.LockTimeout() + time.Duration(steps)*c.CommandTimeout()
}

// LockPollInterval returns the configured lock poll interval as a duration.
func (c *Config) LockPollInterval() time.Duration {
	return time.Duration(c.Lock.PollIntervalMillis) * time.Millisecond
}

// CommandTimeout returns the per-command timeout for external collaborators.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Commands.TimeoutSeconds) * time.Second
}

// WorkDir returns the directory external commands run in: the parent of the
// staging tree, which is normally the repository root.
func (c *Config) WorkDir() string {
	return filepath.Dir(c.Paths.StagingDir)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
