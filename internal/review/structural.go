package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/collab"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
)

const (
	structuralConfidenceChecked  = 80
	structuralConfidenceVerified = 95
)

// StructuralGate checks the unit layout and then runs Command, if set, as an
// additional validator.
type StructuralGate struct {
	Command collab.GateRunner
}

// RunGate implements collab.GateRunner.
func (g *StructuralGate) RunGate(ctx context.Context, in collab.GateInput) (report.GateResult, error) {
	errs, warnings := checkStructure(in.ID, in.Payload)
	if len(errs) > 0 {
		return report.GateResult{Status: report.StatusFail, Confidence: intPtr(0), Errors: errs, Warnings: warnings}, nil
	}
	if g.Command == nil {
		warnings = append(warnings, "No structural validator configured; manual review recommended")
		return report.GateResult{Status: report.StatusPass, Confidence: intPtr(structuralConfidenceChecked), Warnings: warnings}, nil
	}
	result, err := g.Command.RunGate(ctx, in)
	if err != nil {
		return report.GateResult{}, err
	}
	if result.Confidence == nil && result.Status == report.StatusPass {
		result.Confidence = intPtr(structuralConfidenceVerified)
	}
	result.Warnings = append(warnings, result.Warnings...)
	return result, nil
}

func checkStructure(id string, payload []byte) (errs, warnings []string) {
	unit, err := ParseUnit(payload)
	if err != nil {
		return []string{capitalize(err.Error())}, nil
	}
	if !unit.HasSection(sectionDialogue) {
		errs = append(errs, fmt.Sprintf("Missing %q section", sectionDialogue))
	}
	if !unit.HasSection(sectionAnswers) {
		errs = append(errs, fmt.Sprintf("Missing %q section", sectionAnswers))
	}
	fm := unit.Frontmatter
	switch strings.TrimSpace(fm.UnitID) {
	case "":
		errs = append(errs, "Frontmatter unitId is required")
	case id:
	default:
		errs = append(errs, fmt.Sprintf("Frontmatter unitId %q does not match %q", fm.UnitID, id))
	}
	if level := strings.ToUpper(strings.TrimSpace(fm.Difficulty)); level != "" && !cefrLevels[level] {
		warnings = append(warnings, fmt.Sprintf("Difficulty %q is not a CEFR level", fm.Difficulty))
	}
	if strings.TrimSpace(fm.Topic) == "" {
		warnings = append(warnings, "Frontmatter topic is empty")
	}
	return errs, warnings
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func intPtr(v int) *int { return &v }
