// Package collab wraps the external collaborators an import depends on:
// merging a unit into the artifact, build and test verification, committing
// the result, and running validation gates.
//
// Each collaborator is an interface with a Func adapter for tests and a
// process-backed implementation that runs a configured argv template through
// an Executor. Process results are judged by exit status only; the last lines
// of combined output are kept for error messages.
package collab
