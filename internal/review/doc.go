// Package review drives content units through the validation gates and the
// manual review transitions.
//
// Validate runs the structural, linguistic, integration and QA gates in order
// for units waiting in ready-for-review, stops at the first failing gate, and
// stores the finalized report beside the unit. A passing report moves the unit
// to approved, a failing one to rejected; a report still awaiting manual QA
// leaves the unit where it is until Approve or Reject is called.
//
// The structural gate is built in: it parses the YAML frontmatter and checks
// the required sections. The other gates are external commands, see
// internal/collab.
package review
