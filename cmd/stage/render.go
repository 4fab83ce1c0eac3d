package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.English)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel renders "ready-for-review" as "Ready For Review".
func stateLabel(state lifecycle.State) string {
	return titleCaser.String(strings.ReplaceAll(string(state), "-", " "))
}

func reportStatusKind(status report.Status) statusKind {
	switch status {
	case report.StatusPass:
		return statusOK
	case report.StatusFail:
		return statusError
	default:
		return statusWarn
	}
}

// renderReport writes the gate-by-gate summary of r.
func renderReport(w io.Writer, r report.Report, colorize bool) {
	for _, line := range renderSectionHeader("Validation report: "+r.UnitID, colorize) {
		fmt.Fprintln(w, line)
	}
	for _, gate := range report.AllGates {
		result := r.Gate(gate)
		message := ""
		if result.Confidence != nil {
			message = fmt.Sprintf("%d%% confidence", *result.Confidence)
		}
		fmt.Fprintln(w, renderStatusLine(gate.Label(), reportStatusKind(result.Status), message, colorize))
		for _, msg := range result.Errors {
			fmt.Fprintf(w, "%s    - error: %s\n", statusIndent, msg)
		}
		for _, msg := range result.Warnings {
			fmt.Fprintf(w, "%s    - warning: %s\n", statusIndent, msg)
		}
	}
	fmt.Fprintln(w, renderStatusLine("Overall", reportStatusKind(r.OverallStatus), string(r.OverallStatus), colorize))
	fmt.Fprintf(w, "%sNext steps: %s\n", statusIndent, r.NextSteps)
}
