package platform

import (
	"testing"
	"time"
)

func TestResumeCommand_Args(t *testing.T) {
	cmd := ResumeCommand{RunID: "run-1", Token: "tok-abc", RunsRoot: "/var/pvtx/runs"}
	got := cmd.Args("/usr/local/bin/pvtx")
	want := []string{
		"/usr/local/bin/pvtx",
		"--resume",
		"--runId", "run-1",
		"--token", "tok-abc",
		"--runsRoot", "/var/pvtx/runs",
	}
	if len(got) != len(want) {
		t.Fatalf("Args() length = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Args()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDelaySecOrDefault(t *testing.T) {
	cases := map[int]int{0: 10, -5: 10, 3: 3, 60: 60}
	for in, want := range cases {
		if got := delaySecOrDefault(in); got != want {
			t.Errorf("delaySecOrDefault(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCronAdapter_ScheduleResumeFiresOnce(t *testing.T) {
	a := NewCronAdapter()
	defer a.Stop()

	fired := make(chan ResumeCommand, 2)
	a.OnResume = func(cmd ResumeCommand) { fired <- cmd }

	cmd := ResumeCommand{RunID: "run-42", Token: "tok-xyz", RunsRoot: "/runs", DelaySec: 1}
	if err := a.ScheduleResume(cmd); err != nil {
		t.Fatalf("ScheduleResume: %v", err)
	}

	select {
	case got := <-fired:
		if got.RunID != cmd.RunID || got.Token != cmd.Token {
			t.Fatalf("fired with %+v, want %+v", got, cmd)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("resume callback never fired")
	}

	select {
	case <-fired:
		t.Fatal("resume callback fired a second time, want exactly one")
	case <-time.After(2 * time.Second):
	}
}

func TestCronAdapter_RebootRecordsCallWithoutTouchingOS(t *testing.T) {
	a := NewCronAdapter()
	defer a.Stop()

	if err := a.Reboot(); err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	if err := a.Reboot(); err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	if got := a.RebootCount(); got != 2 {
		t.Fatalf("RebootCount() = %d, want 2", got)
	}
}

func TestCronAdapter_SatisfiesAdapter(t *testing.T) {
	var _ Adapter = NewCronAdapter()
}
