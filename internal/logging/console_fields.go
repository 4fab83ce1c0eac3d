package logging

import (
	"log/slog"
	"strings"
)

type infoField struct {
	label string
	value string
}

var infoHighlightKeys = []string{
	FieldAlert,
	FieldEventType,
	FieldState,
	"from_state",
	"to_state",
	"status",
	"error",
	FieldErrorHint,
	FieldImpact,
	"backup_path",
	"artifact_path",
	"unit_count",
	"owner",
	"command",
	"exit_code",
	"duration",
	"size_bytes",
	"reason",
}

// selectInfoFields orders attributes with highlight keys first. At info level
// long values and debug-only keys are counted as hidden instead of rendered.
func selectInfoFields(attrs []kv, includeDebug bool) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	used := make([]bool, len(attrs))
	result := make([]infoField, 0, len(attrs))
	hidden := 0

	take := func(idx int) {
		used[idx] = true
		attr := attrs[idx]
		if skipInfoKey(attr.key) {
			return
		}
		if !includeDebug && isDebugOnlyKey(attr.key) {
			hidden++
			return
		}
		val := formatValueForKey(attr.key, attr.value)
		if !includeDebug && shouldHideInfoValue(attr.key, val) {
			hidden++
			return
		}
		result = append(result, infoField{label: displayLabel(attr.key), value: val})
	}

	for _, key := range infoHighlightKeys {
		for idx, attr := range attrs {
			if !used[idx] && attr.key == key {
				take(idx)
				break
			}
		}
	}
	for idx := range attrs {
		if !used[idx] {
			take(idx)
		}
	}
	return result, hidden
}

func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}
	value := formatValue(v)
	if key == "error" && len(value) > 240 {
		value = value[:240] + "…"
	}
	return value
}

func skipInfoKey(key string) bool {
	switch key {
	case "", FieldComponent, FieldRunID, FieldUnitID, FieldStep:
		return true
	default:
		return false
	}
}

func isDebugOnlyKey(key string) bool {
	switch key {
	case "pid", "hostname", "token", "stdout_tail", "stderr_tail", "argv":
		return true
	}
	return strings.HasSuffix(key, "_dir")
}

func shouldHideInfoValue(key, value string) bool {
	switch key {
	case "error", "command", FieldErrorHint, "backup_path":
		return false
	}
	return len(value) > 120
}

func displayLabel(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldErrorHint:
		return "Hint"
	case "from_state":
		return "From"
	case "to_state":
		return "To"
	case "backup_path":
		return "Backup"
	case "artifact_path":
		return "Artifact"
	case "unit_count":
		return "Units"
	case "size_bytes":
		return "Size"
	default:
		return titleizeKey(key)
	}
}

func titleizeKey(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, part := range parts {
		lower := strings.ToLower(part)
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}
