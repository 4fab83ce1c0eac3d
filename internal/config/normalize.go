package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLock()
	c.normalizeCommands()
	c.normalizeGates()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("STAGE_STAGING_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.StagingDir = value
	}
	if value, ok := os.LookupEnv("STAGE_ARTIFACT_PATH"); ok && strings.TrimSpace(value) != "" {
		c.Paths.ArtifactPath = value
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	var err error
	if c.Paths.StagingDir, err = expandPath(strings.TrimSpace(c.Paths.StagingDir)); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ArtifactPath, err = expandPath(strings.TrimSpace(c.Paths.ArtifactPath)); err != nil {
		return fmt.Errorf("paths.artifact_path: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLock() {
	c.Lock.Owner = strings.TrimSpace(c.Lock.Owner)
	if c.Lock.Owner == "" {
		c.Lock.Owner = defaultLockOwner
	}
}

func (c *Config) normalizeCommands() {
	c.Commands.Merge = trimArgv(c.Commands.Merge)
	c.Commands.Build = trimArgv(c.Commands.Build)
	c.Commands.Test = trimArgv(c.Commands.Test)
	steps := make([][]string, 0, len(c.Commands.Commit))
	for _, step := range c.Commands.Commit {
		if argv := trimArgv(step); len(argv) > 0 {
			steps = append(steps, argv)
		}
	}
	c.Commands.Commit = steps
}

func (c *Config) normalizeGates() {
	c.Gates.Structural = trimArgv(c.Gates.Structural)
	c.Gates.Linguistic = trimArgv(c.Gates.Linguistic)
	c.Gates.Integration = trimArgv(c.Gates.Integration)
	c.Gates.QA = trimArgv(c.Gates.QA)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// trimArgv drops surrounding whitespace from each element and returns nil
// when the program name is blank.
func trimArgv(argv []string) []string {
	if len(argv) == 0 {
		return nil
	}
	out := make([]string, len(argv))
	for i, arg := range argv {
		if i == 0 {
			out[i] = strings.TrimSpace(arg)
			continue
		}
		out[i] = arg
	}
	if out[0] == "" {
		return nil
	}
	return out
}
