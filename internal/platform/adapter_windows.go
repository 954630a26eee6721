//go:build windows

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/windows"
)

// WindowsAdapter is the real Adapter on Windows: it shells out to schtasks
// to register the one-shot resume task and calls ExitWindowsEx (after
// acquiring SeShutdownPrivilege) to reboot, matching how PVT-X's host OS
// actually exposes both primitives to an unprivileged-by-default process.
type WindowsAdapter struct {
	// Executable is the path to the pvtx binary the scheduled task should
	// invoke; defaults to os.Executable() when empty.
	Executable string
	// TaskName is the schtasks /TN name; defaults to "PVTX-Resume-<runId>"
	// when empty.
	TaskName string
}

var _ Adapter = (*WindowsAdapter)(nil)

// ScheduleResume registers a one-shot (/SC ONCE) schtasks entry that runs
// at now+DelaySec. /F replaces an existing task of the same name; the task
// is not deleted after it fires (no /Z is passed).
func (a *WindowsAdapter) ScheduleResume(cmd ResumeCommand) error {
	exe := a.Executable
	if exe == "" {
		resolved, err := os.Executable()
		if err != nil {
			return fmt.Errorf("platform: resolve executable: %w", err)
		}
		exe = resolved
	}

	taskName := a.TaskName
	if taskName == "" {
		taskName = "PVTX-Resume-" + cmd.RunID
	}

	args := cmd.Args(exe)
	action := args[0]
	for _, a := range args[1:] {
		action += " " + a
	}

	startTime := windowsStartTime(delaySecOrDefault(cmd.DelaySec))
	out, err := exec.Command("schtasks", "/Create", "/TN", taskName, "/TR", action,
		"/SC", "ONCE", "/ST", startTime, "/F").CombinedOutput()
	if err != nil {
		return fmt.Errorf("platform: schtasks /Create failed: %w: %s", err, out)
	}
	return nil
}

// Reboot acquires SeShutdownPrivilege on the current process token and
// calls ExitWindowsEx to restart the machine.
func (a *WindowsAdapter) Reboot() error {
	if err := enableShutdownPrivilege(); err != nil {
		return fmt.Errorf("platform: enable shutdown privilege: %w", err)
	}
	if err := windows.ExitWindowsEx(windows.EWX_REBOOT, windows.SHTDN_REASON_MAJOR_APPLICATION|windows.SHTDN_REASON_MINOR_MAINTENANCE|windows.SHTDN_REASON_FLAG_PLANNED); err != nil {
		return fmt.Errorf("platform: ExitWindowsEx: %w", err)
	}
	return nil
}

// enableShutdownPrivilege adjusts the calling process's token to hold
// SeShutdownPrivilege, required before ExitWindowsEx will succeed.
func enableShutdownPrivilege() error {
	var token windows.Token
	proc := windows.CurrentProcess()
	if err := windows.OpenProcessToken(proc, windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		return err
	}
	defer token.Close()

	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, windows.StringToUTF16Ptr("SeShutdownPrivilege"), &luid); err != nil {
		return err
	}

	privileges := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{
			{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED},
		},
	}
	return windows.AdjustTokenPrivileges(token, false, &privileges, 0, nil, nil)
}

// windowsStartTime renders a schtasks /ST (HH:MM) value for "now plus
// delaySec"; schtasks interprets a time already past for today as
// tomorrow, so no date component is needed for delays under 24h.
func windowsStartTime(delaySec int) string {
	target := time.Now().Add(time.Duration(delaySec) * time.Second)
	return target.Format("15:04")
}
