package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"docsync-go/internal/docsync"
)

func TestCollector_Observe(t *testing.T) {
	c := NewCollector()

	c.Observe(docsync.Event{Type: docsync.EventTransferFinished, Account: "work", Transfer: docsync.TransferUpload, Result: "ok"})
	c.Observe(docsync.Event{Type: docsync.EventTransferFinished, Account: "work", Transfer: docsync.TransferUpload, Result: "ok"})
	c.Observe(docsync.Event{Type: docsync.EventTransferFinished, Account: "work", Transfer: docsync.TransferDownload, Result: "transient"})
	c.Observe(docsync.Event{Type: docsync.EventItemStateChanged, Account: "work", State: docsync.StateSynced})
	c.Observe(docsync.Event{Type: docsync.EventSyncError, Account: "work", ErrKind: docsync.KindAuth, Err: errors.New("401")})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"uploads ok", testutil.ToFloat64(c.transfersTotal.WithLabelValues("work", "upload", "ok")), 2},
		{"downloads transient", testutil.ToFloat64(c.transfersTotal.WithLabelValues("work", "download", "transient")), 1},
		{"synced transitions", testutil.ToFloat64(c.stateChangesTotal.WithLabelValues("work", docsync.StateSynced.String())), 1},
		{"auth errors", testutil.ToFloat64(c.syncErrorsTotal.WithLabelValues("work", "auth")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestCollector_Activity(t *testing.T) {
	c := NewCollector()
	activity := func(account string, act docsync.AccountActivity) {
		c.Observe(docsync.Event{Type: docsync.EventAccountActivityChanged, Account: account, Activity: act})
	}

	activity("work", docsync.ActivitySyncing)
	activity("home", docsync.ActivitySyncing)
	if got := testutil.ToFloat64(c.accountsSyncing); got != 2 {
		t.Errorf("syncing = %v, want 2", got)
	}

	activity("work", docsync.ActivityIdle)
	activity("home", docsync.ActivityPaused)
	activity("work", docsync.ActivitySyncing)
	if got := testutil.ToFloat64(c.accountsSyncing); got != 1 {
		t.Errorf("syncing = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.accountsPaused); got != 1 {
		t.Errorf("paused = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cyclesTotal.WithLabelValues("work")); got != 2 {
		t.Errorf("work cycles = %v, want 2", got)
	}

	c.Forget("home")
	if got := testutil.ToFloat64(c.accountsPaused); got != 0 {
		t.Errorf("paused after Forget = %v, want 0", got)
	}
}

func TestCollector_RunAndHandler(t *testing.T) {
	c := NewCollector()
	bus := docsync.NewEventBus(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, bus)
		close(done)
	}()

	// Wait until Run has subscribed, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.transfersTotal.WithLabelValues("work", "delete", "ok")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never observed")
		}
		bus.Publish(docsync.Event{Type: docsync.EventTransferFinished, Account: "work", Transfer: docsync.TransferDelete, Result: "ok"})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `docsync_transfers_total{account="work",kind="delete",result="ok"}`) {
		t.Errorf("metrics output missing transfer counter:\n%s", body)
	}
}
