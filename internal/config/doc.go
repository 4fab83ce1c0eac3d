// Package config loads, normalizes, and validates stage configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STAGE_ARTIFACT_PATH. The Config type centralizes every knob the CLI needs:
// where the staging tree and production artifact live, how long to wait for
// the import lock, how many backups to retain, and which external commands
// perform merge, build, test, commit, and validation work.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
