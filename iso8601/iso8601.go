// Package iso8601 formats and parses the UTC ISO-8601 timestamps used
// throughout the ledger's canonical signing representation. Canonical
// signatures depend on a single, unchanging timestamp layout — this package
// is the one place that layout is defined.
package iso8601

import "time"

// layout is millisecond precision, always UTC, always "Z"-suffixed.
const layout = "2006-01-02T15:04:05.000Z"

// Format renders t in UTC at millisecond precision.
func Format(t time.Time) string {
	return t.UTC().Format(layout)
}

// Parse parses a timestamp produced by Format.
func Parse(s string) (time.Time, error) {
	return time.Parse(layout, s)
}
