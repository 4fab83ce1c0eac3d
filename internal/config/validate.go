package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := c.validateCommands(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.ArtifactPath == "" {
		return errors.New("paths.artifact_path must be set")
	}
	rel, err := filepath.Rel(c.Paths.StagingDir, c.Paths.ArtifactPath)
	if err == nil && !strings.HasPrefix(rel, "..") {
		return fmt.Errorf("paths.artifact_path %q must not live inside paths.staging_dir", c.Paths.ArtifactPath)
	}
	return nil
}

func (c *Config) validateLock() error {
	if c.Lock.TimeoutSeconds <= 0 {
		return errors.New("lock.timeout_seconds must be positive")
	}
	if c.Lock.PollIntervalMillis <= 0 {
		return errors.New("lock.poll_interval_ms must be positive")
	}
	if c.Lock.PollIntervalMillis > c.Lock.TimeoutSeconds*1000 {
		return errors.New("lock.poll_interval_ms must not exceed lock.timeout_seconds")
	}
	if c.Lock.StaleAfterSeconds < 0 {
		return errors.New("lock.stale_after_seconds must be zero or positive")
	}
	if c.Lock.StaleAfterSeconds > 0 && c.Lock.StaleAfterSeconds < c.Lock.TimeoutSeconds {
		return errors.New("lock.stale_after_seconds must not be shorter than lock.timeout_seconds")
	}
	return nil
}

func (c *Config) validateBackup() error {
	if c.Backup.Keep < 1 {
		return errors.New("backup.keep must be at least 1")
	}
	return nil
}

func (c *Config) validateCommands() error {
	if c.Commands.TimeoutSeconds < 0 {
		return errors.New("commands.timeout_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
