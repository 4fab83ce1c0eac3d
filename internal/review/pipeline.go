package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/collab"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
)

var (
	// ErrGateFailed is returned when approving a unit whose report has a failing gate.
	ErrGateFailed = errors.New("validation gate failed")
	// ErrGatesPending is returned when approving a unit with gates that never ran.
	ErrGatesPending = errors.New("validation gates pending")
	// ErrReasonRequired is returned by Reject without a reason.
	ErrReasonRequired = errors.New("rejection reason is required")
)

// Outcome is the result of validating one unit.
type Outcome struct {
	ID     string          `json:"id"`
	Report report.Report   `json:"report"`
	State  lifecycle.State `json:"state"`
	Moved  bool            `json:"moved"`
}

// Pipeline runs validation and review transitions against a lifecycle store.
type Pipeline struct {
	store  *lifecycle.Store
	gates  map[report.Gate]collab.GateRunner
	logger *slog.Logger
}

// New returns a pipeline. runners supplies the external command for each gate;
// missing gates fall back to their built-in behaviour.
func New(store *lifecycle.Store, runners map[report.Gate]collab.GateRunner, logger *slog.Logger) *Pipeline {
	gates := make(map[report.Gate]collab.GateRunner, len(report.AllGates))
	for gate, runner := range runners {
		if runner != nil {
			gates[gate] = runner
		}
	}
	gates[report.GateStructural] = &StructuralGate{Command: runners[report.GateStructural]}
	return &Pipeline{store: store, gates: gates, logger: logging.NewComponentLogger(logger, "review")}
}

// Submit moves a unit from in-progress to ready-for-review.
func (p *Pipeline) Submit(ctx context.Context, id string) error {
	return p.store.Move(ctx, id, lifecycle.InProgress, lifecycle.ReadyForReview)
}

// Validate runs the gates for ids, or for every ready-for-review unit when
// ids is empty. A failure on one unit does not stop the others.
func (p *Pipeline) Validate(ctx context.Context, ids []string) ([]Outcome, error) {
	if len(ids) == 0 {
		var err error
		ids, err = p.store.ListUnits(ctx, lifecycle.ReadyForReview)
		if err != nil {
			return nil, err
		}
	}
	var (
		outcomes []Outcome
		problems []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, err := p.validateOne(logging.WithUnitID(ctx, id), id)
		if err != nil {
			problems = append(problems, fmt.Errorf("validate %s: %w", id, err))
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, errors.Join(problems...)
}

func (p *Pipeline) validateOne(ctx context.Context, id string) (Outcome, error) {
	logger := logging.WithContext(ctx, p.logger)
	state, ok, err := p.store.CurrentState(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, lifecycle.ErrUnitNotFound
	}
	if state != lifecycle.ReadyForReview {
		return Outcome{}, &lifecycle.InvalidTransitionError{ID: id, From: lifecycle.ReadyForReview, To: lifecycle.Approved, Actual: state}
	}
	payload, err := p.store.Payload(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	unitPath, _ := p.store.PayloadPath(ctx, id)

	r := report.New(id)
	for _, gate := range report.AllGates {
		result, err := p.runGate(ctx, collab.GateInput{Gate: gate, ID: id, Payload: payload, UnitPath: unitPath})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{}, ctxErr
			}
			result = report.GateResult{Status: report.StatusFail, Confidence: intPtr(0), Errors: []string{err.Error()}}
		}
		r, err = r.WithGate(gate, result)
		if err != nil {
			return Outcome{}, err
		}
		attrs := []logging.Attr{
			logging.String("gate", gate.Label()),
			logging.String("status", string(result.Status)),
		}
		if result.Confidence != nil {
			attrs = append(attrs, logging.Int("confidence", *result.Confidence))
		}
		if len(result.Errors) > 0 {
			attrs = append(attrs, logging.Strings("errors", result.Errors))
		}
		logger.Info("gate evaluated", logging.Args(attrs...)...)
		if result.Status == report.StatusFail {
			break
		}
	}
	r = r.Finalize()

	if err := p.store.SaveReport(ctx, r); err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{ID: id, Report: r, State: lifecycle.ReadyForReview}
	var target lifecycle.State
	switch r.OverallStatus {
	case report.StatusPass:
		target = lifecycle.Approved
	case report.StatusFail:
		target = lifecycle.Rejected
	default:
		logger.Info("awaiting manual QA", logging.String("next_steps", r.NextSteps))
		return outcome, nil
	}
	if err := p.store.Move(ctx, id, lifecycle.ReadyForReview, target); err != nil {
		return outcome, err
	}
	outcome.State = target
	outcome.Moved = true
	logger.Info("validation finished",
		logging.String("overall_status", string(r.OverallStatus)),
		logging.String(logging.FieldState, string(target)),
	)
	return outcome, nil
}

func (p *Pipeline) runGate(ctx context.Context, in collab.GateInput) (report.GateResult, error) {
	if runner, ok := p.gates[in.Gate]; ok {
		return runner.RunGate(logging.WithStep(ctx, string(in.Gate)), in)
	}
	if in.Gate == report.GateQA {
		return report.GateResult{Status: report.StatusPending, Warnings: []string{"Awaiting manual QA review"}}, nil
	}
	return report.GateResult{
		Status:   report.StatusPass,
		Warnings: []string{fmt.Sprintf("No %s validator configured", strings.ToLower(in.Gate.Label()))},
	}, nil
}

// Approve records a manual QA pass and moves the unit to approved. Every
// automated gate must already have passed.
func (p *Pipeline) Approve(ctx context.Context, id, reviewer string) (report.Report, error) {
	r, err := p.reviewable(ctx, id, lifecycle.Approved)
	if err != nil {
		return report.Report{}, err
	}
	if r.HasFailure() {
		return r, fmt.Errorf("%w: %s: %s", ErrGateFailed, id, strings.Join(r.Errors(), "; "))
	}
	result := report.GateResult{Status: report.StatusPass, Confidence: intPtr(100)}
	if reviewer = strings.TrimSpace(reviewer); reviewer != "" {
		r = r.WithDetail("approved_by", reviewer)
	}
	if r, err = r.WithGate(report.GateQA, result); err != nil {
		return report.Report{}, err
	}
	r = r.Finalize()
	if r.OverallStatus != report.StatusPass {
		var pending []string
		for _, gate := range report.AllGates {
			if r.Gate(gate).Status != report.StatusPass {
				pending = append(pending, gate.Label())
			}
		}
		return r, fmt.Errorf("%w: %s: %s", ErrGatesPending, id, strings.Join(pending, ", "))
	}
	return r, p.conclude(ctx, r, lifecycle.Approved)
}

// Reject records a manual QA failure with reason and moves the unit to rejected.
func (p *Pipeline) Reject(ctx context.Context, id, reason string) (report.Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return report.Report{}, ErrReasonRequired
	}
	r, err := p.reviewable(ctx, id, lifecycle.Rejected)
	if err != nil {
		return report.Report{}, err
	}
	if r, err = r.WithGate(report.GateQA, report.GateResult{Status: report.StatusFail, Confidence: intPtr(0), Errors: []string{reason}}); err != nil {
		return report.Report{}, err
	}
	r = r.Finalize()
	return r, p.conclude(ctx, r, lifecycle.Rejected)
}

// Resubmit moves a rejected unit back to ready-for-review.
func (p *Pipeline) Resubmit(ctx context.Context, id string) error {
	return p.store.Move(ctx, id, lifecycle.Rejected, lifecycle.ReadyForReview)
}

func (p *Pipeline) reviewable(ctx context.Context, id string, target lifecycle.State) (report.Report, error) {
	state, ok, err := p.store.CurrentState(ctx, id)
	if err != nil {
		return report.Report{}, err
	}
	if !ok {
		return report.Report{}, fmt.Errorf("%s: %w", id, lifecycle.ErrUnitNotFound)
	}
	if state != lifecycle.ReadyForReview {
		return report.Report{}, &lifecycle.InvalidTransitionError{ID: id, From: lifecycle.ReadyForReview, To: target, Actual: state}
	}
	return p.store.LoadReport(ctx, id)
}

// conclude stores the manual review result and moves the unit.
func (p *Pipeline) conclude(ctx context.Context, r report.Report, target lifecycle.State) error {
	if err := p.store.SaveReport(ctx, r); err != nil {
		return err
	}
	if err := p.store.Move(ctx, r.UnitID, lifecycle.ReadyForReview, target); err != nil {
		return err
	}
	logging.WithContext(logging.WithUnitID(ctx, r.UnitID), p.logger).Info("review recorded",
		logging.String("overall_status", string(r.OverallStatus)),
		logging.String(logging.FieldState, string(target)),
	)
	return nil
}
