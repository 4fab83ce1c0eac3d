// Package deps resolves the external programs stage shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement is the program behind one configured collaborator command.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// FromArgv builds a requirement for the program named by argv[0]. An empty
// argv yields a requirement with no command, reported as not configured.
func FromArgv(name, description string, argv []string, optional bool) Requirement {
	req := Requirement{Name: name, Description: description, Optional: optional}
	if len(argv) > 0 {
		req.Command = strings.TrimSpace(argv[0])
	}
	return req
}

// Status is the resolved availability of a requirement. Path is the
// executable found on PATH, empty when unavailable.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// Check resolves a single requirement.
func Check(req Requirement) Status {
	st := Status{Requirement: req}
	st.Description = strings.TrimSpace(req.Description)
	if req.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	path, err := exec.LookPath(req.Command)
	if err != nil {
		st.Detail = fmt.Sprintf("binary %q not found", req.Command)
		return st
	}
	st.Available = true
	st.Path = path
	return st
}

// CheckBinaries resolves each requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = Check(req)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, st := range statuses {
		if !st.Available && !st.Optional {
			out = append(out, st)
		}
	}
	return out
}
