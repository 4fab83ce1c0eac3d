package report

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = prev })
}

func TestNewStartsPending(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(t, ts)

	r := New("cafe-order")
	if r.OverallStatus != StatusPending {
		t.Fatalf("overall = %s, want PENDING", r.OverallStatus)
	}
	if r.NextSteps != "Starting validation..." {
		t.Fatalf("unexpected next steps %q", r.NextSteps)
	}
	for _, gate := range AllGates {
		if got := r.Gate(gate).Status; got != StatusPending {
			t.Fatalf("%s = %s, want PENDING", gate, got)
		}
	}
	if !r.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %s, want %s", r.Timestamp, ts)
	}
}

func TestWithGateDoesNotMutateReceiver(t *testing.T) {
	fixedClock(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	original := New("u1")

	later := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	fixedClock(t, later)
	errs := []string{"missing # Answers section"}
	updated, err := original.WithGate(GateStructural, GateResult{Status: StatusFail, Errors: errs})
	if err != nil {
		t.Fatalf("WithGate: %v", err)
	}
	errs[0] = "mutated by caller"

	if original.Gate(GateStructural).Status != StatusPending {
		t.Fatal("receiver was mutated")
	}
	got := updated.Gate(GateStructural)
	if got.Status != StatusFail || got.Errors[0] != "missing # Answers section" {
		t.Fatalf("unexpected gate result %+v", got)
	}
	if !got.Timestamp.Equal(later) {
		t.Fatalf("gate timestamp = %s, want %s", got.Timestamp, later)
	}
}

func TestWithGateRejectsUnknownInput(t *testing.T) {
	r := New("u1")
	if _, err := r.WithGate("gate9_magic", GateResult{Status: StatusPass}); err == nil {
		t.Fatal("expected unknown gate error")
	}
	if _, err := r.WithGate(GateQA, GateResult{Status: "MAYBE"}); err == nil {
		t.Fatal("expected invalid status error")
	}
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name      string
		statuses  map[Gate]Status
		want      Status
		wantSteps string
	}{
		{
			name:      "all pending",
			statuses:  map[Gate]Status{},
			want:      StatusPending,
			wantSteps: "Validation in progress. Awaiting remaining gates.",
		},
		{
			name: "all pass",
			statuses: map[Gate]Status{
				GateStructural: StatusPass, GateLinguistic: StatusPass,
				GateIntegration: StatusPass, GateQA: StatusPass,
			},
			want:      StatusPass,
			wantSteps: "All gates passed. Ready for approval and import.",
		},
		{
			name: "three pass one pending",
			statuses: map[Gate]Status{
				GateStructural: StatusPass, GateLinguistic: StatusPass, GateIntegration: StatusPass,
			},
			want:      StatusPending,
			wantSteps: "Validation in progress. Awaiting remaining gates.",
		},
		{
			name: "fail dominates",
			statuses: map[Gate]Status{
				GateStructural: StatusPass, GateLinguistic: StatusFail,
				GateIntegration: StatusPass, GateQA: StatusPass,
			},
			want:      StatusFail,
			wantSteps: "Validation failed. Fix errors and resubmit.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New("u1")
			for gate, status := range tc.statuses {
				var err error
				r, err = r.WithGate(gate, GateResult{Status: status})
				if err != nil {
					t.Fatalf("WithGate: %v", err)
				}
			}
			final := r.Finalize()
			if final.OverallStatus != tc.want {
				t.Fatalf("overall = %s, want %s", final.OverallStatus, tc.want)
			}
			if final.NextSteps != tc.wantSteps {
				t.Fatalf("next steps = %q, want %q", final.NextSteps, tc.wantSteps)
			}
			if diff := cmp.Diff(final, final.Finalize()); diff != "" {
				t.Fatalf("finalize is not idempotent (-first +second):\n%s", diff)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	confidence := 87
	r := New("cafe-order")
	r, err := r.WithGate(GateStructural, GateResult{Status: StatusPass, Warnings: []string{"long dialogue"}})
	if err != nil {
		t.Fatal(err)
	}
	r, err = r.WithGate(GateLinguistic, GateResult{Status: StatusPass, Confidence: &confidence, Errors: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	r = r.WithDetail("reviewer", "maria").Finalize()

	path := filepath.Join(t.TempDir(), "approved", "cafe-order-validation-report.json")
	if err := Save(r, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(r, loaded); diff != "" {
		t.Fatalf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestUnmarshalRejectsInvalidReports(t *testing.T) {
	cases := map[string]string{
		"not json":     "{",
		"missing unit": `{"overallStatus":"PASS"}`,
		"bad overall":  `{"unitId":"u1","overallStatus":"DONE"}`,
		"bad gate":     `{"unitId":"u1","overallStatus":"PENDING","gates":{"gate4_qa":{"status":"OK"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestParseGate(t *testing.T) {
	for input, want := range map[string]Gate{
		"gate1_structural": GateStructural,
		"linguistic":       GateLinguistic,
		"3":                GateIntegration,
		"QA":               GateQA,
	} {
		got, err := ParseGate(input)
		if err != nil || got != want {
			t.Fatalf("ParseGate(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseGate("five"); err == nil {
		t.Fatal("expected error for unknown gate")
	}
}
