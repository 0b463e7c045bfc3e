// Package metrics exposes Prometheus metrics derived from sync engine events.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docsync-go/internal/docsync"
)

// Collector turns bus events into metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	transfersTotal    *prometheus.CounterVec
	stateChangesTotal *prometheus.CounterVec
	syncErrorsTotal   *prometheus.CounterVec
	cyclesTotal       *prometheus.CounterVec
	accountsSyncing   prometheus.Gauge
	accountsPaused    prometheus.Gauge

	mu       sync.Mutex
	activity map[string]docsync.AccountActivity
}

// NewCollector creates a collector with Go runtime and process metrics
// registered next to the sync metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_transfers_total",
				Help: "Finished transfers by kind and result",
			},
			[]string{"account", "kind", "result"},
		),
		stateChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_item_state_changes_total",
				Help: "File item state transitions by target state",
			},
			[]string{"account", "state"},
		),
		syncErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_sync_errors_total",
				Help: "Sync errors by error kind",
			},
			[]string{"account", "kind"},
		),
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_sync_cycles_total",
				Help: "Sync cycles started",
			},
			[]string{"account"},
		),
		accountsSyncing: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsync_accounts_syncing",
				Help: "Accounts currently running a sync cycle",
			},
		),
		accountsPaused: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsync_accounts_paused",
				Help: "Accounts paused until their credentials are fixed",
			},
		),
		activity: make(map[string]docsync.AccountActivity),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe records one event.
func (c *Collector) Observe(ev docsync.Event) {
	switch ev.Type {
	case docsync.EventTransferFinished:
		c.transfersTotal.WithLabelValues(ev.Account, ev.Transfer.String(), ev.Result).Inc()
	case docsync.EventItemStateChanged:
		c.stateChangesTotal.WithLabelValues(ev.Account, ev.State.String()).Inc()
	case docsync.EventSyncError:
		c.syncErrorsTotal.WithLabelValues(ev.Account, ev.ErrKind.String()).Inc()
	case docsync.EventAccountActivityChanged:
		c.setActivity(ev.Account, ev.Activity)
	}
}

func (c *Collector) setActivity(account string, act docsync.AccountActivity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if act == docsync.ActivitySyncing && c.activity[account] != docsync.ActivitySyncing {
		c.cyclesTotal.WithLabelValues(account).Inc()
	}
	c.activity[account] = act

	var syncing, paused int
	for _, a := range c.activity {
		switch a {
		case docsync.ActivitySyncing:
			syncing++
		case docsync.ActivityPaused:
			paused++
		}
	}
	c.accountsSyncing.Set(float64(syncing))
	c.accountsPaused.Set(float64(paused))
}

// Forget drops the activity of a removed account.
func (c *Collector) Forget(account string) {
	c.setActivity(account, docsync.ActivityIdle)
	c.mu.Lock()
	delete(c.activity, account)
	c.mu.Unlock()
}

// Run consumes events from bus until ctx is done.
func (c *Collector) Run(ctx context.Context, bus *docsync.EventBus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}
