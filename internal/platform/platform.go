// Package platform abstracts the OS-level reboot/autostart mechanism
// behind an Adapter interface. The engine core treats this as an external
// collaborator (spec §1 Out of scope): it never reboots a machine or
// registers a scheduled task itself, it only calls the interface injected
// into it, so orchestration logic stays testable against a deterministic
// fake without ever touching a real machine.
package platform

import "fmt"

// ResumeCommand is the CLI invocation a scheduled one-shot task must run
// after the delay elapses: "pvtx --resume --runId <id> --token <token>
// --runsRoot <path>" (§4.10 Autostart).
type ResumeCommand struct {
	RunID    string
	Token    string
	RunsRoot string
	DelaySec int
}

// Args renders the resume command as the flag argument vector the CLI's
// own flag parser expects, independent of how an Adapter invokes it
// (schtasks /TR, a cron callback, or a test double's recorder).
func (c ResumeCommand) Args(executable string) []string {
	return []string{
		executable,
		"--resume",
		"--runId", c.RunID,
		"--token", c.Token,
		"--runsRoot", c.RunsRoot,
	}
}

// Adapter registers a one-shot resume task and triggers the OS reboot. A
// top-level orchestrator calls ScheduleResume then Reboot, in that order,
// immediately before exiting the process (§4.10): the task must already be
// armed before the reboot happens, or a crash between the two calls would
// strand the run with no way to resume.
type Adapter interface {
	// ScheduleResume arms a one-shot task that runs cmd.Args after
	// cmd.DelaySec (default 10s if zero).
	ScheduleResume(cmd ResumeCommand) error
	// Reboot initiates the OS restart. It does not return on success on a
	// real adapter; test/deterministic adapters return nil and record the
	// call instead.
	Reboot() error
}

// delaySecOrDefault applies §4.10's "default 10s" when a caller leaves
// DelaySec unset.
func delaySecOrDefault(delaySec int) int {
	if delaySec <= 0 {
		return 10
	}
	return delaySec
}

// errUnsupported is returned by an adapter method with no implementation
// on the current GOOS.
func errUnsupported(op string) error {
	return fmt.Errorf("platform: %s is not supported on this platform", op)
}
