package transcript

import (
	"testing"
	"time"

	"github.com/pvt-x/pvtx/internal/reporter"
	"github.com/stretchr/testify/require"
)

func TestFormatRunPlanned(t *testing.T) {
	f := NewFormatter()
	got := f.FormatRunPlanned("S-20260730-000000-ab12", "suite", []string{"node-1", "node-2"})
	require.Equal(t, "[S-20260730-000000-ab12] planned 2 node(s): node-1, node-2", got)
}

func TestFormatRunPlanned_Empty(t *testing.T) {
	f := NewFormatter()
	got := f.FormatRunPlanned("S-test", "suite", nil)
	require.Equal(t, "[S-test] planned 0 node(s): ", got)
}

func TestFormatNodeStarted(t *testing.T) {
	f := NewFormatter()
	got := f.FormatNodeStarted("S-test", "node-1")
	require.Equal(t, "[S-test] node-1 started", got)
}

func TestFormatNodeFinished(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	end := start.Add(2500 * time.Millisecond)

	tests := []struct {
		name     string
		result   reporter.NodeResult
		expected string
	}{
		{
			name:     "passed, no retry, no message",
			result:   reporter.NodeResult{NodeID: "node-1", Status: "Passed", StartTime: start, EndTime: end},
			expected: "[S-test] node-1 finished (Passed in 2.5s)",
		},
		{
			name:     "failed with retry and message",
			result:   reporter.NodeResult{NodeID: "node-2", Status: "Failed", StartTime: start, EndTime: end, RetryCount: 2, Message: "script exited with code 3"},
			expected: "[S-test] node-2 finished (Failed in 2.5s, retry 2: script exited with code 3)",
		},
	}

	f := NewFormatter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, f.FormatNodeFinished("S-test", tt.result))
		})
	}
}

func TestFormatRunFinished(t *testing.T) {
	f := NewFormatter()
	got := f.FormatRunFinished("S-test", "Passed")
	require.Equal(t, "[S-test] run finished: Passed", got)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{name: "bytes", bytes: 512, expected: "512 B"},
		{name: "kilobytes", bytes: 1432, expected: "1.4 KiB"},
		{name: "kilobytes rounded", bytes: 2048, expected: "2.0 KiB"},
		{name: "megabytes", bytes: 1536 * 1024, expected: "1.5 MiB"},
		{name: "gigabytes", bytes: 2 * 1024 * 1024 * 1024, expected: "2.0 GiB"},
		{name: "zero bytes", bytes: 0, expected: "0 B"},
		{name: "1 byte", bytes: 1, expected: "1 B"},
		{name: "exactly 1 KiB", bytes: 1024, expected: "1.0 KiB"},
		{name: "exactly 1 MiB", bytes: 1024 * 1024, expected: "1.0 MiB"},
		{name: "exactly 1 GiB", bytes: 1024 * 1024 * 1024, expected: "1.0 GiB"},
	}

	f := NewFormatter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, f.FormatSize(tt.bytes))
		})
	}
}
