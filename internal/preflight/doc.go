// Package preflight provides readiness checks for the filesystem paths and
// external programs that stage depends on.
//
// These checks run in two contexts:
//   - `stage import` calls RunAll before taking the lock so that a missing
//     artifact or unwritable staging tree fails fast.
//   - `stage doctor` prints every check plus the collaborator binaries from
//     CheckCollaborators.
package preflight
