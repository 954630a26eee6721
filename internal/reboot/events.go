package reboot

import (
	"io"
	"log/slog"
	"os"
)

// discardLogger backs the ndjson.Decoder used to replay events.jsonl: a
// malformed line is surfaced as an error return, not a log line.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// openEventsLog opens path, returning a nil file (not an error) when the
// run folder has no events.jsonl yet — a node that never started before
// its orchestrator's earliest reboot has nothing to replay.
func openEventsLog(path string) (*os.File, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}
