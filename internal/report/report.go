package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/fileutil"
)

// Status is the outcome of a single gate or of the report as a whole.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusPending Status = "PENDING"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusPending:
		return true
	default:
		return false
	}
}

// Gate names one of the four validation gates. The string value is the JSON key.
type Gate string

const (
	GateStructural  Gate = "gate1_structural"
	GateLinguistic  Gate = "gate2_linguistic"
	GateIntegration Gate = "gate3_integration"
	GateQA          Gate = "gate4_qa"
)

// AllGates lists the gates in execution order.
var AllGates = []Gate{GateStructural, GateLinguistic, GateIntegration, GateQA}

// Label returns a human readable gate name.
func (g Gate) Label() string {
	switch g {
	case GateStructural:
		return "Structural"
	case GateLinguistic:
		return "Linguistic"
	case GateIntegration:
		return "Integration"
	case GateQA:
		return "QA Review"
	default:
		return string(g)
	}
}

// ParseGate resolves a gate from its JSON key or short name.
func ParseGate(value string) (Gate, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, g := range AllGates {
		if v == string(g) {
			return g, nil
		}
	}
	switch v {
	case "structural", "1":
		return GateStructural, nil
	case "linguistic", "2":
		return GateLinguistic, nil
	case "integration", "3":
		return GateIntegration, nil
	case "qa", "4":
		return GateQA, nil
	}
	return "", fmt.Errorf("unknown gate %q", value)
}

const (
	nextStepsStarting = "Starting validation..."
	nextStepsFail     = "Validation failed. Fix errors and resubmit."
	nextStepsPass     = "All gates passed. Ready for approval and import."
	nextStepsPending  = "Validation in progress. Awaiting remaining gates."
)

// GateResult records the outcome of one gate.
type GateResult struct {
	Status     Status    `json:"status"`
	Confidence *int      `json:"confidence,omitempty"`
	Errors     []string  `json:"errors"`
	Warnings   []string  `json:"warnings"`
	Timestamp  time.Time `json:"timestamp"`
}

// Gates holds one result per gate.
type Gates struct {
	Structural  GateResult `json:"gate1_structural"`
	Linguistic  GateResult `json:"gate2_linguistic"`
	Integration GateResult `json:"gate3_integration"`
	QA          GateResult `json:"gate4_qa"`
}

func (g *Gates) slot(gate Gate) *GateResult {
	switch gate {
	case GateStructural:
		return &g.Structural
	case GateLinguistic:
		return &g.Linguistic
	case GateIntegration:
		return &g.Integration
	case GateQA:
		return &g.QA
	default:
		return nil
	}
}

// Report is the validation report for one content unit.
type Report struct {
	UnitID        string            `json:"unitId"`
	Timestamp     time.Time         `json:"timestamp"`
	Gates         Gates             `json:"gates"`
	OverallStatus Status            `json:"overallStatus"`
	NextSteps     string            `json:"nextSteps"`
	Details       map[string]string `json:"details,omitempty"`
}

var now = func() time.Time { return time.Now().UTC() }

// New returns a report for unitID with every gate pending.
func New(unitID string) Report {
	ts := now()
	pending := GateResult{Status: StatusPending, Timestamp: ts}
	return Report{
		UnitID:    unitID,
		Timestamp: ts,
		Gates: Gates{
			Structural:  pending,
			Linguistic:  pending,
			Integration: pending,
			QA:          pending,
		},
		OverallStatus: StatusPending,
		NextSteps:     nextStepsStarting,
	}
}

// Gate returns the result recorded for gate.
func (r Report) Gate(gate Gate) GateResult {
	if slot := r.Gates.slot(gate); slot != nil {
		return *slot
	}
	return GateResult{}
}

// WithGate returns a copy of r with gate replaced by result, stamped with the
// current time. r itself is left untouched.
func (r Report) WithGate(gate Gate, result GateResult) (Report, error) {
	if !result.Status.Valid() {
		return r, fmt.Errorf("gate %s: invalid status %q", gate, result.Status)
	}
	out := r.clone()
	slot := out.Gates.slot(gate)
	if slot == nil {
		return r, fmt.Errorf("unknown gate %q", gate)
	}
	result.Errors = slices.Clone(result.Errors)
	result.Warnings = slices.Clone(result.Warnings)
	if result.Confidence != nil {
		c := *result.Confidence
		result.Confidence = &c
	}
	result.Timestamp = now()
	*slot = result
	return out, nil
}

// WithDetail returns a copy of r with details[key] set to value.
func (r Report) WithDetail(key, value string) Report {
	out := r.clone()
	if out.Details == nil {
		out.Details = make(map[string]string)
	}
	out.Details[key] = value
	return out
}

// Finalize derives OverallStatus and NextSteps from the gate results: FAIL if
// any gate failed, PASS if all four passed, PENDING otherwise.
func (r Report) Finalize() Report {
	out := r.clone()
	anyFail := false
	allPass := true
	for _, gate := range AllGates {
		switch out.Gate(gate).Status {
		case StatusFail:
			anyFail = true
			allPass = false
		case StatusPass:
		default:
			allPass = false
		}
	}
	switch {
	case anyFail:
		out.OverallStatus = StatusFail
		out.NextSteps = nextStepsFail
	case allPass:
		out.OverallStatus = StatusPass
		out.NextSteps = nextStepsPass
	default:
		out.OverallStatus = StatusPending
		out.NextSteps = nextStepsPending
	}
	return out
}

// HasFailure reports whether any gate recorded FAIL.
func (r Report) HasFailure() bool {
	for _, gate := range AllGates {
		if r.Gate(gate).Status == StatusFail {
			return true
		}
	}
	return false
}

// Errors flattens gate errors as "Gate: message" lines in gate order.
func (r Report) Errors() []string {
	var out []string
	for _, gate := range AllGates {
		for _, msg := range r.Gate(gate).Errors {
			out = append(out, gate.Label()+": "+msg)
		}
	}
	return out
}

func (r Report) clone() Report {
	out := r
	out.Details = maps.Clone(r.Details)
	return out
}

// Marshal encodes r as indented JSON.
func Marshal(r Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes and validates a report.
func Unmarshal(data []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	if strings.TrimSpace(r.UnitID) == "" {
		return Report{}, errors.New("decode report: unitId is required")
	}
	if !r.OverallStatus.Valid() {
		return Report{}, fmt.Errorf("decode report: invalid overallStatus %q", r.OverallStatus)
	}
	for _, gate := range AllGates {
		if status := r.Gate(gate).Status; status != "" && !status.Valid() {
			return Report{}, fmt.Errorf("decode report: %s has invalid status %q", gate, status)
		}
	}
	return r, nil
}

// Save writes r to path atomically, creating the parent directory.
func Save(r Report, path string) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("save report %s: %w", path, err)
	}
	return nil
}

// Load reads the report stored at path.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("load report %s: %w", path, err)
	}
	return Unmarshal(data)
}
