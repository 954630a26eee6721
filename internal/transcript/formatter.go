// Package transcript formats Reporter progress calls for console display.
// It narrows the teacher's agent-command/event formatter down to the three
// calls a PVT-X Reporter makes (§4.9): a run plan, a node's start/finish,
// and the run's final status.
package transcript

import (
	"fmt"
	"strings"

	"github.com/pvt-x/pvtx/internal/reporter"
)

// Formatter formats Reporter calls for console output.
type Formatter struct{}

// NewFormatter creates a new transcript formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatRunPlanned formats an OnRunPlanned call.
func (f *Formatter) FormatRunPlanned(runID, runType string, plannedNodes []string) string {
	return fmt.Sprintf("[%s] planned %d node(s): %s", runID, len(plannedNodes), strings.Join(plannedNodes, ", "))
}

// FormatNodeStarted formats an OnNodeStarted call.
func (f *Formatter) FormatNodeStarted(runID, nodeID string) string {
	return fmt.Sprintf("[%s] %s started", runID, nodeID)
}

// FormatNodeFinished formats an OnNodeFinished call.
func (f *Formatter) FormatNodeFinished(runID string, result reporter.NodeResult) string {
	duration := result.EndTime.Sub(result.StartTime)
	details := fmt.Sprintf("%s in %s", result.Status, duration)
	if result.RetryCount > 0 {
		details += fmt.Sprintf(", retry %d", result.RetryCount)
	}
	if result.Message != "" {
		details += fmt.Sprintf(": %s", result.Message)
	}
	return fmt.Sprintf("[%s] %s finished (%s)", runID, result.NodeID, details)
}

// FormatRunFinished formats an OnRunFinished call.
func (f *Formatter) FormatRunFinished(runID, finalStatus string) string {
	return fmt.Sprintf("[%s] run finished: %s", runID, finalStatus)
}

// FormatSize formats a byte size in a human-readable form.
func (f *Formatter) FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
