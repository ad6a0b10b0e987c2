package policy

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	p := Default()

	if p.JoinRequestRecheck != 6*time.Hour {
		t.Errorf("JoinRequestRecheck = %v, want 6h", p.JoinRequestRecheck)
	}
	if p.ErrorRetry != 30*time.Minute {
		t.Errorf("ErrorRetry = %v, want 30m", p.ErrorRetry)
	}
	if p.JoinedRefresh != 24*time.Hour {
		t.Errorf("JoinedRefresh = %v, want 24h", p.JoinedRefresh)
	}
	if p.LockRefresh != 30*time.Second {
		t.Errorf("LockRefresh = %v, want 30s", p.LockRefresh)
	}
	if p.AttemptCap != 8 {
		t.Errorf("AttemptCap = %d, want 8", p.AttemptCap)
	}
	if p.DialogPageLimit != 200 {
		t.Errorf("DialogPageLimit = %d, want 200", p.DialogPageLimit)
	}
	if p.FreshChannelLimit != 20 {
		t.Errorf("FreshChannelLimit = %d, want 20", p.FreshChannelLimit)
	}
	if p.BackfillPageCap != 2000 {
		t.Errorf("BackfillPageCap = %d, want 2000", p.BackfillPageCap)
	}
	if p.LastErrorLimit != 5000 {
		t.Errorf("LastErrorLimit = %d, want 5000", p.LastErrorLimit)
	}
}

func TestMergeNilKeepsDefaults(t *testing.T) {
	p := Default().Merge(nil)
	if p != Default() {
		t.Errorf("Merge(nil) changed policy: %+v", p)
	}
}

func TestMergeOverrides(t *testing.T) {
	hours := 12
	minutes := 45
	cap := 3

	p := Default().Merge(&FileConfig{
		JoinRequestRecheckHours: &hours,
		ErrorRetryMinutes:       &minutes,
		AttemptCap:              &cap,
	})

	if p.JoinRequestRecheck != 12*time.Hour {
		t.Errorf("JoinRequestRecheck = %v, want 12h", p.JoinRequestRecheck)
	}
	if p.ErrorRetry != 45*time.Minute {
		t.Errorf("ErrorRetry = %v, want 45m", p.ErrorRetry)
	}
	if p.AttemptCap != 3 {
		t.Errorf("AttemptCap = %d, want 3", p.AttemptCap)
	}

	// Untouched fields keep their defaults.
	if p.JoinedRefresh != 24*time.Hour {
		t.Errorf("JoinedRefresh = %v, want 24h", p.JoinedRefresh)
	}
	if p.BackfillPageCap != 2000 {
		t.Errorf("BackfillPageCap = %d, want 2000", p.BackfillPageCap)
	}
}
