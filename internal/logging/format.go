package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Console timestamps are local wall-clock time; backup names and the JSON
// handler use UTC.
const consoleTimestampLayout = "2006-01-02 15:04:05"

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(consoleTimestampLayout)
}

// attrString renders v without quoting, for subject fields in the header.
func attrString(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return plainValue(v)
}

// formatValue renders v for a key=value field, quoting when the text would
// not survive a whitespace split.
func formatValue(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		return quoteIfNeeded(v.String())
	}
	return quoteIfNeeded(plainValue(v))
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return roundDuration(v.Duration()).String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		switch val := v.Any().(type) {
		case error:
			return val.Error()
		case []string:
			// unit id batches read better as a list than as Go syntax
			return strings.Join(val, ",")
		default:
			return fmt.Sprint(val)
		}
	default:
		return v.String()
	}
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second)
	case d >= time.Second:
		return d.Round(10 * time.Millisecond)
	default:
		return d.Round(time.Microsecond)
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return strconv.Quote(s)
		}
	}
	return s
}
