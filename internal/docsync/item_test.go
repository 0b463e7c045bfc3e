package docsync

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ItemState
		want     bool
	}{
		{StateUnsynced, StateUploadPending, true},
		{StateUnsynced, StateDownloadPending, true},
		{StateUploadPending, StateUploading, true},
		{StateDownloadPending, StateUploading, false},
		{StateDownloadPending, StateDownloading, true},
		{StateUploadPending, StateDownloading, false},
		{StateUploading, StateSynced, true},
		{StateSynced, StateUnsynced, false},
		{StateSynced, StateDownloadPending, true},
		{StateConflicted, StateUploadPending, false},
		{StateConflicted, StateDeleted, true},
		{StateDeleted, StateSynced, false},
		{StateSynced, StateSynced, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := canTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestFileItem_Inputs(t *testing.T) {
	it := &fileItem{
		local:  &LocalDocument{Path: "a.txt", Manifest: Manifest{{Hash: "h1"}}},
		remote: &RemoteVersion{Path: "a.txt", VersionToken: "v1"},
	}
	before := it.inputs()

	it.remote = &RemoteVersion{Path: "a.txt", VersionToken: "v2"}
	if it.inputs() == before {
		t.Error("inputs() ignores the remote version")
	}
	it.remote = &RemoteVersion{Path: "a.txt", VersionToken: "v1"}
	if it.inputs() != before {
		t.Error("inputs() changed for identical observations")
	}
	it.local = &LocalDocument{Path: "a.txt", Manifest: Manifest{{Hash: "h2"}}}
	if it.inputs() == before {
		t.Error("inputs() ignores local content")
	}
}

func TestRetryState_Next(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, MaxAttempts: 3}
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	var r retryState
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		if !r.next(policy, now) {
			t.Fatalf("next() #%d gave up early", i+1)
		}
		if got := r.notUntil.Sub(now); got != want {
			t.Errorf("delay #%d = %v, want %v", i+1, got, want)
		}
	}
	if r.attempts != 3 {
		t.Errorf("attempts = %d, want 3", r.attempts)
	}
	if r.next(policy, now) {
		t.Error("next() continued past MaxAttempts")
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	if p != DefaultRetryPolicy() {
		t.Errorf("withDefaults() = %+v, want %+v", p, DefaultRetryPolicy())
	}
	p = RetryPolicy{BaseDelay: time.Millisecond, JitterPercent: 10}.withDefaults()
	if p.BaseDelay != time.Millisecond || p.JitterPercent != 10 || p.MaxAttempts != DefaultRetryPolicy().MaxAttempts {
		t.Errorf("withDefaults() = %+v", p)
	}
}

func TestAccountOptions_Defaults(t *testing.T) {
	o := AccountOptions{Mode: ModeAutomatic, MaxConcurrentTransfers: 1}.withDefaults()
	if o.Interval != DefaultInterval || o.MaxConcurrentTransfers != 1 || o.MaxPasses != DefaultMaxPasses {
		t.Errorf("withDefaults() = %+v", o)
	}
	if o.Host == "" || o.TransferTimeout != DefaultTransferTimeout || o.TempRetention != DefaultTempRetention {
		t.Errorf("withDefaults() = %+v", o)
	}
}
