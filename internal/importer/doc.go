// Package importer merges approved content units into the production
// artifact as one all-or-nothing batch.
//
// A run takes the artifact lock, snapshots the artifact, merges each unit in
// turn through the configured merge collaborator, runs the build and test
// verifiers, archives the units, prunes old snapshots and commits. Any failure
// from the first merge onward restores the snapshot and returns the units to
// approved; a failed restore is reported as a RollbackError that tells the
// operator where the snapshot lives.
//
// Every run is identified by a UUID that is attached to log lines and recorded
// in the import history ledger.
package importer
