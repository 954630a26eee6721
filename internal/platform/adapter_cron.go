package platform

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CronAdapter is the deterministic Adapter used on non-Windows hosts (no
// real autostart/reboot primitive to shell out to) and directly in tests.
// ScheduleResume registers a genuine one-shot cron.Entry — not a bare
// timer — computed from "now plus DelaySec", so the scheduling itself
// still exercises a real scheduling library; the entry removes itself
// from the cron the moment it fires, giving a one-shot even though
// robfig/cron's native primitive is a repeating schedule. Reboot never
// touches the OS: it records the call so a test can assert on it.
type CronAdapter struct {
	mu        sync.Mutex
	cron      *cron.Cron
	OnResume  func(ResumeCommand)
	rebootLog []struct{}
}

// NewCronAdapter constructs a CronAdapter with its own running scheduler.
func NewCronAdapter() *CronAdapter {
	a := &CronAdapter{cron: cron.New(cron.WithSeconds())}
	a.cron.Start()
	return a
}

var _ Adapter = (*CronAdapter)(nil)

// ScheduleResume arms a one-shot cron entry at now+DelaySec. When it
// fires, OnResume (if set) is invoked with cmd, then the entry removes
// itself so a second tick never recurs.
func (a *CronAdapter) ScheduleResume(cmd ResumeCommand) error {
	target := time.Now().Add(time.Duration(delaySecOrDefault(cmd.DelaySec)) * time.Second)
	spec := cronSpecAt(target)

	var entryID cron.EntryID
	entryID, err := a.cron.AddFunc(spec, func() {
		if a.OnResume != nil {
			a.OnResume(cmd)
		}
		a.cron.Remove(entryID)
	})
	return err
}

// Reboot never reboots a real machine; it just records that the call
// happened, for assertions in tests that inject a CronAdapter.
func (a *CronAdapter) Reboot() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebootLog = append(a.rebootLog, struct{}{})
	return nil
}

// RebootCount reports how many times Reboot was called.
func (a *CronAdapter) RebootCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rebootLog)
}

// Stop halts the underlying cron scheduler; callers should defer it once
// no further ScheduleResume calls are expected.
func (a *CronAdapter) Stop() {
	a.cron.Stop()
}

// cronSpecAt renders a 6-field (seconds-enabled) cron expression that
// matches only the single instant t, modeling a one-shot as the
// intersection of its second/minute/hour/day/month fields.
func cronSpecAt(t time.Time) string {
	return t.Format("05 04 15 02 01 *")
}
