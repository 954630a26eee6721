package protocol

import "time"

// isoLayout is RFC3339 truncated to whole seconds; Go's "Z07:00" directive
// renders a literal trailing "Z" for the UTC location, matching the
// ISO-8601 UTC contract used everywhere in this package (§9: the source
// intersperses local/UTC times for the same field — this repository uses
// UTC, second precision, trailing Z, with no exception).
const isoLayout = time.RFC3339

// NowISO returns the current instant normalized to the timestamp contract
// used for every persisted artifact: UTC, truncated to second precision.
func NowISO() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// FormatISO renders t per the timestamp contract regardless of its original
// location or sub-second precision.
func FormatISO(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(isoLayout)
}
