//go:build !windows

package cli

import "github.com/pvt-x/pvtx/internal/platform"

// defaultAdapter is CronAdapter everywhere but Windows: there is no
// autostart/reboot primitive this CLI can shell out to on other platforms,
// so a reboot-requiring run logs the request and stops rather than
// actually restarting the machine.
func defaultAdapter() platform.Adapter {
	return platform.NewCronAdapter()
}
