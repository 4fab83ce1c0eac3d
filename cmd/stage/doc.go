// Package main hosts the stage CLI entrypoint and command graph.
//
// The Cobra-based command tree moves content units through the staging
// lifecycle, runs the validation gates, and imports approved units into the
// production artifact under the import lock. It centralizes configuration
// resolution and structured logging setup so subcommands can focus on output.
//
// Keep this package lean: behaviour lives in the internal packages and is
// surfaced here through dedicated commands or flags.
package main
