// Package report models the four-gate validation report attached to a content
// unit and persists it as a JSON sidecar.
//
// Reports are values: WithGate and Finalize return updated copies and never
// mutate their receiver. Finalize derives the overall status and next-steps
// text from the gate results and is idempotent, so it is safe to call after
// every gate update.
package report
