//go:build windows

package cli

import "github.com/pvt-x/pvtx/internal/platform"

// defaultAdapter is the real schtasks/ExitWindowsEx adapter on Windows,
// the only OS pvtx actually reboots.
func defaultAdapter() platform.Adapter {
	return &platform.WindowsAdapter{}
}
