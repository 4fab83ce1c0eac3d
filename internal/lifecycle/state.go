package lifecycle

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// State is a lifecycle location for a content unit. The string value doubles
// as the directory name in the staging tree.
type State string

const (
	InProgress     State = "in-progress"
	ReadyForReview State = "ready-for-review"
	Approved       State = "approved"
	Rejected       State = "rejected"
	Archived       State = "archived"
)

// States lists every state in lifecycle order.
var States = []State{InProgress, ReadyForReview, Approved, Rejected, Archived}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, candidate := range States {
		if s == candidate {
			return true
		}
	}
	return false
}

// ParseState resolves a state from its name.
func ParseState(value string) (State, error) {
	s := State(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown state %q", value)
	}
	return s, nil
}

// Edge is a legal transition between two states.
type Edge struct {
	From               State
	To                 State
	Reversible         bool
	RequiresValidation bool
}

var edges = []Edge{
	{From: InProgress, To: ReadyForReview, Reversible: true},
	{From: ReadyForReview, To: Approved, RequiresValidation: true},
	{From: ReadyForReview, To: Rejected, RequiresValidation: true},
	{From: Rejected, To: ReadyForReview, Reversible: true},
	{From: Approved, To: Archived},
}

// Edges returns a copy of the transition table.
func Edges() []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Lookup returns the directed edge from one state to another.
func Lookup(from, to State) (Edge, bool) {
	for _, e := range edges {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

var (
	// ErrUnitExists is returned when creating a unit whose id is already present in any state.
	ErrUnitExists = errors.New("unit already exists")
	// ErrUnitNotFound is returned when a unit id is not present in any state.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrInvalidID is returned for ids that cannot be used as file names.
	ErrInvalidID = errors.New("invalid unit id")
	// ErrReportNotFound is returned when a unit has no validation report.
	ErrReportNotFound = errors.New("validation report not found")
)

// InvalidTransitionError reports a move that is not allowed.
type InvalidTransitionError struct {
	ID     string
	From   State
	To     State
	Actual State
}

func (e *InvalidTransitionError) Error() string {
	if e.Actual != "" && e.Actual != e.From {
		return fmt.Sprintf("invalid transition for %s: expected state %s but unit is %s", e.ID, e.From, e.Actual)
	}
	return fmt.Sprintf("invalid transition for %s: %s -> %s is not a legal edge", e.ID, e.From, e.To)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID rejects ids that are empty, hidden, or contain path separators.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if strings.HasSuffix(id, reportSuffix) {
		return fmt.Errorf("%w: %q ends with reserved suffix %s", ErrInvalidID, id, reportSuffix)
	}
	return nil
}

const (
	payloadExt   = ".md"
	reportSuffix = "-validation-report"
)
