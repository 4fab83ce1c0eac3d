package review_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/collab"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/review"
)

func newStore(t *testing.T) *lifecycle.Store {
	t.Helper()
	store, err := lifecycle.Open(context.Background(), lifecycle.NewMemoryBackend(), logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

// submitUnit creates id with payload and moves it to ready-for-review.
func submitUnit(t *testing.T, p *review.Pipeline, store *lifecycle.Store, id string, payload []byte) {
	t.Helper()
	ctx := context.Background()
	if err := store.Create(ctx, id, payload); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Submit(ctx, id); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func template(t *testing.T, id string) []byte {
	t.Helper()
	data, err := review.Template(id)
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	return data
}

func stateOf(t *testing.T, store *lifecycle.Store, id string) lifecycle.State {
	t.Helper()
	state, ok, err := store.CurrentState(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("CurrentState(%s) = %v, %v", id, ok, err)
	}
	return state
}

func TestTemplateParses(t *testing.T) {
	unit, err := review.ParseUnit(template(t, "demo"))
	if err != nil {
		t.Fatalf("ParseUnit: %v", err)
	}
	if unit.Frontmatter.UnitID != "demo" || unit.Frontmatter.Difficulty != "B2" {
		t.Fatalf("frontmatter = %+v", unit.Frontmatter)
	}
	if !unit.HasSection("# Dialogue") || !unit.HasSection("# Answers") {
		t.Fatalf("sections = %v", unit.Sections)
	}
}

func TestParseUnitErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "no frontmatter", payload: "# Dialogue\n", want: "missing YAML frontmatter"},
		{name: "unterminated", payload: "---\nunitId: a\n# Dialogue\n", want: "not closed"},
		{name: "bad yaml", payload: "---\nunitId: [a\n---\n", want: "invalid YAML"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := review.ParseUnit([]byte(tc.payload))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("ParseUnit error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestValidateWithoutQAWaitsForManualReview(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := review.New(store, nil, logging.NewNop())
	submitUnit(t, p, store, "demo", template(t, "demo"))

	outcomes, err := p.Validate(ctx, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Moved {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	r := outcomes[0].Report
	if r.OverallStatus != report.StatusPending {
		t.Fatalf("overall = %s, want PENDING", r.OverallStatus)
	}
	if got := r.Gate(report.GateStructural); got.Status != report.StatusPass || got.Confidence == nil || *got.Confidence != 80 {
		t.Fatalf("structural = %+v", got)
	}
	if got := r.Gate(report.GateQA).Status; got != report.StatusPending {
		t.Fatalf("qa = %s", got)
	}
	if stateOf(t, store, "demo") != lifecycle.ReadyForReview {
		t.Fatal("unit should wait in ready-for-review")
	}

	approved, err := p.Approve(ctx, "demo", "alex")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.OverallStatus != report.StatusPass || approved.Details["approved_by"] != "alex" {
		t.Fatalf("approved report = %+v", approved)
	}
	if stateOf(t, store, "demo") != lifecycle.Approved {
		t.Fatal("unit not approved")
	}
	stored, err := store.LoadReport(ctx, "demo")
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if stored.OverallStatus != report.StatusPass {
		t.Fatalf("stored report = %+v", stored)
	}
}

func TestValidateStructuralFailureRejects(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	linguisticCalls := 0
	p := review.New(store, map[report.Gate]collab.GateRunner{
		report.GateLinguistic: collab.GateRunnerFunc(func(context.Context, collab.GateInput) (report.GateResult, error) {
			linguisticCalls++
			return report.GateResult{Status: report.StatusPass}, nil
		}),
	}, logging.NewNop())
	submitUnit(t, p, store, "broken", []byte("---\nunitId: other\n---\n# Dialogue\n"))

	outcomes, err := p.Validate(ctx, []string{"broken"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	r := outcomes[0].Report
	if r.OverallStatus != report.StatusFail || r.NextSteps != "Validation failed. Fix errors and resubmit." {
		t.Fatalf("report = %+v", r)
	}
	errs := strings.Join(r.Gate(report.GateStructural).Errors, "\n")
	if !strings.Contains(errs, `"# Answers"`) || !strings.Contains(errs, `does not match "broken"`) {
		t.Fatalf("structural errors = %q", errs)
	}
	if linguisticCalls != 0 {
		t.Fatal("later gates ran after a structural failure")
	}
	if r.Gate(report.GateLinguistic).Status != report.StatusPending {
		t.Fatal("skipped gate should stay PENDING")
	}
	if stateOf(t, store, "broken") != lifecycle.Rejected {
		t.Fatal("unit not rejected")
	}
	if _, err := store.LoadReport(ctx, "broken"); err != nil {
		t.Fatalf("report did not move with unit: %v", err)
	}

	if err := p.Resubmit(ctx, "broken"); err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if stateOf(t, store, "broken") != lifecycle.ReadyForReview {
		t.Fatal("resubmit did not return unit to ready-for-review")
	}
}

func TestValidateAllGatesPassApproves(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pass := collab.GateRunnerFunc(func(context.Context, collab.GateInput) (report.GateResult, error) {
		return report.GateResult{Status: report.StatusPass}, nil
	})
	p := review.New(store, map[report.Gate]collab.GateRunner{
		report.GateLinguistic:  pass,
		report.GateIntegration: pass,
		report.GateQA:          pass,
	}, logging.NewNop())
	submitUnit(t, p, store, "good", template(t, "good"))

	outcomes, err := p.Validate(ctx, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !outcomes[0].Moved || outcomes[0].State != lifecycle.Approved {
		t.Fatalf("outcome = %+v", outcomes[0])
	}
	if stateOf(t, store, "good") != lifecycle.Approved {
		t.Fatal("unit not approved")
	}
}

func TestGateErrorBecomesFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := review.New(store, map[report.Gate]collab.GateRunner{
		report.GateIntegration: collab.GateRunnerFunc(func(context.Context, collab.GateInput) (report.GateResult, error) {
			return report.GateResult{}, errors.New("npm: not found")
		}),
	}, logging.NewNop())
	submitUnit(t, p, store, "u1", template(t, "u1"))

	outcomes, err := p.Validate(ctx, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := outcomes[0].Report.Gate(report.GateIntegration)
	if got.Status != report.StatusFail || len(got.Errors) != 1 {
		t.Fatalf("integration = %+v", got)
	}
	if stateOf(t, store, "u1") != lifecycle.Rejected {
		t.Fatal("unit not rejected")
	}
}

func TestValidateReportsUnitsInWrongState(t *testing.T) {
	store := newStore(t)
	p := review.New(store, nil, logging.NewNop())
	if err := store.Create(context.Background(), "draft", template(t, "draft")); err != nil {
		t.Fatal(err)
	}
	_, err := p.Validate(context.Background(), []string{"draft"})
	var transitionErr *lifecycle.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestApproveRefusesFailedReport(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := review.New(store, nil, logging.NewNop())
	submitUnit(t, p, store, "u1", template(t, "u1"))
	r := report.New("u1")
	r, err := r.WithGate(report.GateLinguistic, report.GateResult{Status: report.StatusFail, Errors: []string{"tense"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveReport(ctx, r.Finalize()); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Approve(ctx, "u1", ""); !errors.Is(err, review.ErrGateFailed) {
		t.Fatalf("expected ErrGateFailed, got %v", err)
	}
	if stateOf(t, store, "u1") != lifecycle.ReadyForReview {
		t.Fatal("unit moved despite failing report")
	}
}

func TestApproveRequiresReport(t *testing.T) {
	store := newStore(t)
	p := review.New(store, nil, logging.NewNop())
	submitUnit(t, p, store, "u1", template(t, "u1"))
	if _, err := p.Approve(context.Background(), "u1", ""); !errors.Is(err, lifecycle.ErrReportNotFound) {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
}

func TestRejectRecordsReason(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := review.New(store, nil, logging.NewNop())
	submitUnit(t, p, store, "u1", template(t, "u1"))
	if _, err := p.Validate(ctx, nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := p.Reject(ctx, "u1", "  "); !errors.Is(err, review.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	r, err := p.Reject(ctx, "u1", "answers are ambiguous")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if r.OverallStatus != report.StatusFail {
		t.Fatalf("overall = %s", r.OverallStatus)
	}
	if got := r.Gate(report.GateQA).Errors; len(got) != 1 || got[0] != "answers are ambiguous" {
		t.Fatalf("qa errors = %v", got)
	}
	if stateOf(t, store, "u1") != lifecycle.Rejected {
		t.Fatal("unit not rejected")
	}
}
