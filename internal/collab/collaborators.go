package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
)

// MergeInput describes one unit to integrate into the artifact.
type MergeInput struct {
	ID           string
	Payload      []byte
	UnitPath     string
	ArtifactPath string
}

// Merger integrates a single unit into the artifact in place.
type Merger interface {
	Merge(ctx context.Context, in MergeInput) error
}

// Verifier checks the artifact after merging, e.g. a build or test suite.
type Verifier interface {
	Verify(ctx context.Context, artifactPath string) error
}

// Committer records the imported artifact in version control.
type Committer interface {
	Commit(ctx context.Context, message string) error
}

// GateInput describes one unit submitted to a validation gate.
type GateInput struct {
	Gate     report.Gate
	ID       string
	Payload  []byte
	UnitPath string
}

// GateRunner evaluates one validation gate.
type GateRunner interface {
	RunGate(ctx context.Context, in GateInput) (report.GateResult, error)
}

// MergerFunc adapts a function to Merger.
type MergerFunc func(ctx context.Context, in MergeInput) error

func (f MergerFunc) Merge(ctx context.Context, in MergeInput) error { return f(ctx, in) }

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, artifactPath string) error

func (f VerifierFunc) Verify(ctx context.Context, artifactPath string) error {
	return f(ctx, artifactPath)
}

// CommitterFunc adapts a function to Committer.
type CommitterFunc func(ctx context.Context, message string) error

func (f CommitterFunc) Commit(ctx context.Context, message string) error { return f(ctx, message) }

// GateRunnerFunc adapts a function to GateRunner.
type GateRunnerFunc func(ctx context.Context, in GateInput) (report.GateResult, error)

func (f GateRunnerFunc) RunGate(ctx context.Context, in GateInput) (report.GateResult, error) {
	return f(ctx, in)
}

// CommandMerger runs a merge command once per unit.
type CommandMerger struct {
	Runner  *Runner
	Argv    []string
	Staging string
}

func (m *CommandMerger) Merge(ctx context.Context, in MergeInput) error {
	unitPath := in.UnitPath
	if unitPath == "" {
		tmp, cleanup, err := writeTemp(in.ID, in.Payload)
		if err != nil {
			return err
		}
		defer cleanup()
		unitPath = tmp
	}
	_, err := m.Runner.Run(ctx, "merge", m.Argv, Vars{
		Artifact: in.ArtifactPath,
		Unit:     unitPath,
		ID:       in.ID,
		Staging:  m.Staging,
	})
	return err
}

// CommandVerifier runs a build or test command against the artifact.
type CommandVerifier struct {
	Runner  *Runner
	Name    string
	Argv    []string
	Staging string
}

func (v *CommandVerifier) Verify(ctx context.Context, artifactPath string) error {
	_, err := v.Runner.Run(ctx, v.Name, v.Argv, Vars{Artifact: artifactPath, Staging: v.Staging})
	return err
}

// CommandCommitter runs each commit step in order, stopping at the first failure.
type CommandCommitter struct {
	Runner   *Runner
	Steps    [][]string
	Artifact string
	Staging  string
}

func (c *CommandCommitter) Commit(ctx context.Context, message string) error {
	if len(c.Steps) == 0 {
		return &CommandError{Name: "commit", Err: errors.New("command not configured")}
	}
	vars := Vars{Artifact: c.Artifact, Message: message, Staging: c.Staging}
	for _, step := range c.Steps {
		if _, err := c.Runner.Run(ctx, "commit", step, vars); err != nil {
			return err
		}
	}
	return nil
}

// CommandGate runs a gate command. Exit status zero is PASS and any other
// exit status is FAIL with the output tail as errors. A command that prints a
// JSON object with a status field reports its own result instead.
type CommandGate struct {
	Runner  *Runner
	Argv    []string
	Staging string
}

func (g *CommandGate) RunGate(ctx context.Context, in GateInput) (report.GateResult, error) {
	unitPath := in.UnitPath
	if unitPath == "" {
		tmp, cleanup, err := writeTemp(in.ID, in.Payload)
		if err != nil {
			return report.GateResult{}, err
		}
		defer cleanup()
		unitPath = tmp
	}
	out, err := g.Runner.Run(ctx, string(in.Gate), g.Argv, Vars{Unit: unitPath, ID: in.ID, Staging: g.Staging})
	if result, ok := parseGateOutput(out.Lines); ok {
		if err != nil && result.Status == report.StatusPass {
			result.Status = report.StatusFail
			result.Errors = append(result.Errors, err.Error())
		}
		return result, nil
	}
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
			errs := cmdErr.Tail
			if len(errs) == 0 {
				errs = []string{fmt.Sprintf("exit status %d", cmdErr.ExitCode)}
			}
			return report.GateResult{Status: report.StatusFail, Errors: errs}, nil
		}
		return report.GateResult{}, err
	}
	return report.GateResult{Status: report.StatusPass}, nil
}

type gateOutput struct {
	Status     report.Status `json:"status"`
	Confidence *int          `json:"confidence"`
	Errors     []string      `json:"errors"`
	Warnings   []string      `json:"warnings"`
}

func parseGateOutput(lines []string) (report.GateResult, bool) {
	body := strings.TrimSpace(strings.Join(lines, "\n"))
	if !strings.HasPrefix(body, "{") {
		return report.GateResult{}, false
	}
	var parsed gateOutput
	if err := json.Unmarshal([]byte(body), &parsed); err != nil || !parsed.Status.Valid() {
		return report.GateResult{}, false
	}
	return report.GateResult{
		Status:     parsed.Status,
		Confidence: parsed.Confidence,
		Errors:     parsed.Errors,
		Warnings:   parsed.Warnings,
	}, true
}

func writeTemp(id string, payload []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "stage-"+id+"-*.md")
	if err != nil {
		return "", nil, fmt.Errorf("stage unit payload: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("stage unit payload: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stage unit payload: %w", err)
	}
	return path, cleanup, nil
}
