package docsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
)

// ScheduleMode controls when an account runs sync cycles.
type ScheduleMode int

const (
	// ModeNone turns sync requests into no-ops.
	ModeNone ScheduleMode = iota
	// ModeManual runs cycles only on explicit requests.
	ModeManual
	// ModeAutomatic also runs cycles on a timer and on local change
	// notifications.
	ModeAutomatic
)

func (m ScheduleMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeManual:
		return "manual"
	case ModeAutomatic:
		return "automatic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseScheduleMode parses "none", "manual" or "automatic".
func ParseScheduleMode(s string) (ScheduleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return ModeNone, nil
	case "", "manual":
		return ModeManual, nil
	case "automatic", "auto":
		return ModeAutomatic, nil
	default:
		return ModeNone, fmt.Errorf("unknown schedule mode %q", s)
	}
}

// AccountOptions tune one account agent. Zero values take defaults.
type AccountOptions struct {
	Mode     ScheduleMode
	Interval time.Duration

	MaxConcurrentTransfers int
	// MaxTransfersPerCycle caps the transfers one container plans per pass;
	// zero means no cap.
	MaxTransfersPerCycle int
	TransferTimeout      time.Duration
	Retry                RetryPolicy

	// TempRetention is how long abandoned remote upload copies are kept.
	TempRetention time.Duration
	// MaxPasses bounds the scan-plan-execute passes of one cycle.
	MaxPasses int
	// Host names this machine in conflict copies.
	Host string
}

const (
	DefaultInterval               = 5 * time.Minute
	DefaultMaxConcurrentTransfers = 4
	DefaultTransferTimeout        = 10 * time.Minute
	DefaultTempRetention          = 24 * time.Hour
	DefaultMaxPasses              = 4
)

func (o AccountOptions) withDefaults() AccountOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxConcurrentTransfers <= 0 {
		o.MaxConcurrentTransfers = DefaultMaxConcurrentTransfers
	}
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = DefaultTransferTimeout
	}
	if o.TempRetention <= 0 {
		o.TempRetention = DefaultTempRetention
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if o.Host == "" {
		o.Host = "unknown"
	}
	o.Retry = o.Retry.withDefaults()
	return o
}

// AccountConfig describes one remote account and its containers.
type AccountConfig struct {
	ID         string
	Containers []ContainerConfig
	Options    AccountOptions
}

// AccountAgent owns the schedule and serialized operation queue of one
// account. Container cycles of one account never overlap; transfers of a
// cycle run on a bounded pool.
type AccountAgent struct {
	id         string
	opts       AccountOptions
	env        *Env
	containers []*containerAgent
	byID       map[string]*containerAgent

	trigger chan struct{}
	jobs    chan func()

	mu          sync.Mutex
	waiters     []func(error)
	paused      bool
	activity    AccountActivity
	cycleCancel context.CancelFunc
	stop        context.CancelFunc
	done        chan struct{}
	lastErr     error
	lastSync    time.Time
}

// NewAccountAgent creates an agent. env.Conn, env.FS and env.Store are
// required; the other fields default to real implementations.
func NewAccountAgent(cfg AccountConfig, env Env) (*AccountAgent, error) {
	if cfg.ID == "" {
		return nil, errors.New("account id is required")
	}
	if env.Conn == nil || env.FS == nil || env.Store == nil {
		return nil, fmt.Errorf("account %s: connection, filesystem and snapshot store are required", cfg.ID)
	}
	if env.Clock == nil {
		env.Clock = clockwork.NewRealClock()
	}
	if env.IDs == nil {
		env.IDs = UUIDGenerator{}
	}
	if env.Logger == nil {
		env.Logger = NewNopLogger()
	}
	if env.Cache == nil {
		cache, err := NewHashCache(DefaultHashCacheEntries)
		if err != nil {
			return nil, err
		}
		env.Cache = cache
	}

	a := &AccountAgent{
		id:       cfg.ID,
		opts:     cfg.Options.withDefaults(),
		env:      &env,
		byID:     make(map[string]*containerAgent),
		trigger:  make(chan struct{}, 1),
		jobs:     make(chan func()),
		activity: ActivityIdle,
	}
	for _, cc := range cfg.Containers {
		if cc.ID == "" {
			return nil, fmt.Errorf("account %s: container id is required", cfg.ID)
		}
		if _, dup := a.byID[cc.ID]; dup {
			return nil, fmt.Errorf("account %s: duplicate container %s", cfg.ID, cc.ID)
		}
		c := newContainerAgent(cfg.ID, cc, a.env, &a.opts)
		a.containers = append(a.containers, c)
		a.byID[cc.ID] = c
	}
	return a, nil
}

// ID returns the account identifier.
func (a *AccountAgent) ID() string { return a.id }

// Mode returns the schedule mode.
func (a *AccountAgent) Mode() ScheduleMode { return a.opts.Mode }

// Start launches the account's loop. Cycles requested before Start run once
// the loop is up.
func (a *AccountAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return fmt.Errorf("account %s already started", a.id)
	}
	ctx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	a.done = make(chan struct{})

	var watch <-chan struct{}
	if a.opts.Mode == ModeAutomatic {
		watch = a.watch(ctx)
	}
	go a.loop(ctx, watch, a.done)
	a.env.Logger.Info("account started", "account", a.id, "mode", a.opts.Mode)
	return nil
}

// Stop cancels any running cycle and waits for the loop to exit. Pending sync
// requests complete with an error.
func (a *AccountAgent) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done

	a.mu.Lock()
	a.stop, a.done = nil, nil
	a.mu.Unlock()
	a.env.Logger.Info("account stopped", "account", a.id)
}

// RequestSync asks for a sync cycle and calls completion, if non-nil, with its
// outcome. Requests made while a cycle runs are coalesced into one more cycle
// after it. In ModeNone completion is called immediately with nil.
func (a *AccountAgent) RequestSync(completion func(error)) {
	if a.opts.Mode == ModeNone {
		if completion != nil {
			completion(nil)
		}
		return
	}
	if completion != nil {
		a.mu.Lock()
		a.waiters = append(a.waiters, completion)
		a.mu.Unlock()
	}
	a.poke()
}

// SyncNow requests a cycle and waits for it.
func (a *AccountAgent) SyncNow(ctx context.Context) error {
	done := make(chan error, 1)
	a.RequestSync(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the running cycle. In-flight transfers are cancelled and their
// items return to their pending states.
func (a *AccountAgent) Cancel() {
	a.mu.Lock()
	cancel := a.cycleCancel
	a.mu.Unlock()
	if cancel != nil {
		a.env.Logger.Info("cancelling sync", "account", a.id)
		cancel()
	}
}

// Resume clears a pause and requests a cycle.
func (a *AccountAgent) Resume() {
	a.mu.Lock()
	a.paused = false
	a.lastErr = nil
	a.mu.Unlock()
	a.setActivity(ActivityIdle)
	a.RequestSync(nil)
}

// Paused reports whether the automatic schedule is paused.
func (a *AccountAgent) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// RetryFailed clears the backoff and stalled state of all items and returns
// how many were reset.
func (a *AccountAgent) RetryFailed(ctx context.Context) (int, error) {
	n := 0
	err := a.do(ctx, func() {
		for _, c := range a.containers {
			n += c.retryFailed()
		}
	})
	return n, err
}

// Resolve records a conflict resolution for one document and runs a cycle to
// carry it out.
func (a *AccountAgent) Resolve(ctx context.Context, container string, id DocumentID, choice Resolution) error {
	return a.resolve(ctx, container, choice, func(*containerAgent) (DocumentID, error) {
		return id, nil
	})
}

// ResolvePath is Resolve for the document at a container-relative path.
// Documents created on both sides before their first sync get a new ID in
// every process, so their path is the only name that lasts.
func (a *AccountAgent) ResolvePath(ctx context.Context, container, rel string, choice Resolution) error {
	return a.resolve(ctx, container, choice, func(c *containerAgent) (DocumentID, error) {
		return c.itemAt(rel)
	})
}

func (a *AccountAgent) resolve(ctx context.Context, container string, choice Resolution, pick func(*containerAgent) (DocumentID, error)) error {
	var rerr error
	err := a.do(ctx, func() {
		c, ok := a.byID[container]
		if !ok {
			rerr = fmt.Errorf("unknown container %s", container)
			return
		}
		id, err := pick(c)
		if err != nil {
			rerr = err
			return
		}
		rerr = c.resolve(id, choice)
	})
	if err != nil {
		return err
	}
	if rerr != nil {
		return rerr
	}
	return a.SyncNow(ctx)
}

// Status returns a snapshot of the account's state.
func (a *AccountAgent) Status(ctx context.Context) (AccountStatus, error) {
	var st AccountStatus
	err := a.do(ctx, func() { st = a.status() })
	return st, err
}

// do runs fn on the loop goroutine, or inline when the loop is not running.
func (a *AccountAgent) do(ctx context.Context, fn func()) error {
	a.mu.Lock()
	running := a.done != nil
	a.mu.Unlock()
	if !running {
		fn()
		return nil
	}

	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		fn()
	}
	select {
	case a.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AccountAgent) poke() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

func (a *AccountAgent) loop(ctx context.Context, watch <-chan struct{}, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if a.opts.Mode == ModeAutomatic {
		ticker := a.env.Clock.NewTicker(a.opts.Interval)
		defer ticker.Stop()
		tick = ticker.Chan()
		a.poke()
	}

	var retryTimer clockwork.Timer
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	for {
		var retryC <-chan time.Time
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer = nil
		}
		if next := a.nextRetry(); !next.IsZero() && a.opts.Mode == ModeAutomatic && !a.Paused() {
			d := next.Sub(a.env.Clock.Now())
			if d < 0 {
				d = 0
			}
			retryTimer = a.env.Clock.NewTimer(d)
			retryC = retryTimer.Chan()
		}

		select {
		case <-ctx.Done():
			a.failWaiters(ctx.Err())
			return
		case <-a.trigger:
			a.mu.Lock()
			waiters := a.waiters
			a.waiters = nil
			a.mu.Unlock()
			err := a.runCycle(ctx, watch, len(waiters) > 0)
			for _, w := range waiters {
				w(err)
			}
		case job := <-a.jobs:
			job()
		case <-tick:
			a.runScheduled(ctx, watch, "timer")
		case _, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			a.runScheduled(ctx, watch, "local change")
		case <-retryC:
			a.runScheduled(ctx, watch, "retry")
		}
	}
}

func (a *AccountAgent) runScheduled(ctx context.Context, watch <-chan struct{}, reason string) {
	if a.Paused() {
		return
	}
	a.env.Logger.Debug("scheduled sync", "account", a.id, "reason", reason)
	if err := a.runCycle(ctx, watch, false); err != nil && !errors.Is(err, context.Canceled) {
		a.env.Logger.Warn("sync cycle failed", "account", a.id, "error", err)
	}
}

func (a *AccountAgent) failWaiters(err error) {
	a.mu.Lock()
	waiters := a.waiters
	a.waiters = nil
	a.mu.Unlock()
	for _, w := range waiters {
		w(err)
	}
}

// runCycle runs one sync cycle. explicit marks a caller request, which also
// runs while the account is paused and lifts the pause if it succeeds.
func (a *AccountAgent) runCycle(ctx context.Context, watch <-chan struct{}, explicit bool) error {
	if !explicit && a.Paused() {
		return ErrAccountPaused
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cycleCancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cycleCancel = nil
		a.mu.Unlock()
	}()

	start := a.env.Clock.Now()
	a.setActivity(ActivitySyncing)
	a.env.Logger.Info("sync cycle started", "account", a.id)

	err := a.passes(cycleCtx, watch)

	a.mu.Lock()
	a.lastSync = a.env.Clock.Now()
	a.lastErr = err
	a.mu.Unlock()

	if pausesAccount(err) {
		a.pause(err)
		return err
	}
	if explicit && err == nil {
		a.mu.Lock()
		a.paused = false
		a.mu.Unlock()
	}
	if a.Paused() {
		a.setActivity(ActivityPaused)
	} else {
		a.setActivity(ActivityIdle)
	}

	if err != nil {
		a.env.Logger.Info("sync cycle finished with errors", "account", a.id, "duration", a.env.Clock.Since(start), "error", err)
	} else {
		a.env.Logger.Info("sync cycle finished", "account", a.id, "duration", a.env.Clock.Since(start))
	}
	return err
}

// passes runs scan-plan-execute passes until no follow-up work remains.
func (a *AccountAgent) passes(ctx context.Context, watch <-chan struct{}) error {
	var errs []error
	for pass := 0; pass < a.opts.MaxPasses; pass++ {
		errs = errs[:0]
		var transfers []*Transfer
		more := false

		for _, c := range a.containers {
			ts, leftover, err := c.plan(ctx, a.opts.MaxTransfersPerCycle)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.lastErr = err
				a.env.Logger.Warn("container cycle failed", "account", a.id, "container", c.cfg.ID, "error", err)
				a.env.Bus.Publish(Event{
					Type:      EventSyncError,
					Time:      a.env.Clock.Now(),
					Account:   a.id,
					Container: c.cfg.ID,
					Err:       err,
					ErrKind:   Classify(err),
				})
				if Classify(err) == KindAuth {
					return err
				}
				errs = append(errs, fmt.Errorf("container %s: %w", c.cfg.ID, err))
				continue
			}
			c.lastErr = nil
			transfers = append(transfers, ts...)
			more = more || leftover
		}

		if len(transfers) == 0 {
			break
		}
		followUp, err := a.execute(ctx, transfers, watch)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !followUp && !more {
			break
		}
	}
	return errors.Join(errs...)
}

type transferDone struct {
	t   *Transfer
	res TransferResult
	err error
}

// execute runs transfers on a pool of at most MaxConcurrentTransfers
// goroutines. Completions are applied here, on the loop goroutine.
func (a *AccountAgent) execute(ctx context.Context, transfers []*Transfer, watch <-chan struct{}) (bool, error) {
	sem := semaphore.NewWeighted(int64(a.opts.MaxConcurrentTransfers))
	results := make(chan transferDone, len(transfers))
	queue := transfers
	running := 0
	followUp := false
	var accountErr error

	for {
		for len(queue) > 0 && ctx.Err() == nil && accountErr == nil && sem.TryAcquire(1) {
			t := queue[0]
			queue = queue[1:]
			if err := a.byID[t.Container].begin(t); err != nil {
				sem.Release(1)
				a.env.Logger.Error("cannot start transfer", "account", a.id, "transfer", t.String(), "error", err)
				continue
			}
			running++
			a.env.Logger.Debug("transfer started", "account", a.id, "container", t.Container, "document", t.Document, "transfer", t.String())
			go a.runTransfer(ctx, t, sem, results)
		}
		if ctx.Err() != nil || accountErr != nil {
			queue = nil
		}
		if running == 0 {
			break
		}

		select {
		case d := <-results:
			running--
			fu, err := a.finish(d)
			followUp = followUp || fu
			if err != nil && accountErr == nil {
				accountErr = err
				a.Cancel()
			}
		case job := <-a.jobs:
			job()
		case _, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			for _, c := range a.containers {
				c.cancelVanishedUploads()
			}
			a.poke()
		}
	}
	return followUp, accountErr
}

func (a *AccountAgent) runTransfer(ctx context.Context, t *Transfer, sem *semaphore.Weighted, results chan<- transferDone) {
	tctx, cancel := withClockTimeout(ctx, a.env.Clock, a.opts.TransferTimeout)
	res, err := t.Run(tctx, a.env)
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = NewSyncError(KindTransient, t.Kind.String(), t.Path, fmt.Errorf("timed out after %s: %w", a.opts.TransferTimeout, err))
	}
	cancel()
	sem.Release(1)
	results <- transferDone{t: t, res: res, err: err}
}

// finish applies one transfer outcome to its container.
func (a *AccountAgent) finish(d transferDone) (bool, error) {
	t := d.t
	result := "ok"
	switch {
	case d.err != nil:
		result = Classify(d.err).String()
	case d.res.Converged:
		result = "converged"
	}
	if d.err != nil {
		a.env.Logger.Warn("transfer failed", "account", a.id, "container", t.Container, "document", t.Document,
			"transfer", t.String(), "kind", Classify(d.err), "error", d.err)
	} else {
		a.env.Logger.Info("transfer finished", "account", a.id, "container", t.Container, "document", t.Document,
			"transfer", t.String(), "bytes", t.Bytes())
	}
	a.env.Bus.Publish(Event{
		Type:      EventTransferFinished,
		Time:      a.env.Clock.Now(),
		Account:   a.id,
		Container: t.Container,
		Document:  t.Document,
		Path:      t.Path,
		Transfer:  t.Kind,
		Result:    result,
		Err:       d.err,
	})
	return a.byID[t.Container].complete(t, d.res, d.err)
}

// pausesAccount reports whether err stops the automatic schedule: the
// credentials were rejected or the snapshot store cannot be written.
func pausesAccount(err error) bool {
	return err != nil && (Classify(err) == KindAuth || errors.Is(err, ErrStoreUnwritable))
}

func (a *AccountAgent) pause(err error) {
	a.mu.Lock()
	a.paused = true
	a.mu.Unlock()
	reason := "credentials need attention"
	if errors.Is(err, ErrStoreUnwritable) {
		reason = "snapshot store is not writable"
	}
	a.env.Logger.Error("account paused: "+reason, "account", a.id, "error", err)
	a.env.Bus.Publish(Event{
		Type:    EventSyncError,
		Time:    a.env.Clock.Now(),
		Account: a.id,
		Err:     err,
		ErrKind: Classify(err),
	})
	a.setActivity(ActivityPaused)
}

func (a *AccountAgent) setActivity(act AccountActivity) {
	a.mu.Lock()
	changed := a.activity != act
	a.activity = act
	a.mu.Unlock()
	if !changed {
		return
	}
	a.env.Bus.Publish(Event{
		Type:     EventAccountActivityChanged,
		Time:     a.env.Clock.Now(),
		Account:  a.id,
		Activity: act,
	})
}

func (a *AccountAgent) nextRetry() time.Time {
	var next time.Time
	now := a.env.Clock.Now()
	for _, c := range a.containers {
		if t := c.nextRetry(now); !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	return next
}

// watch merges the change notifications of all container folders.
func (a *AccountAgent) watch(ctx context.Context) <-chan struct{} {
	merged := make(chan struct{}, 1)
	for _, c := range a.containers {
		ch, err := a.env.FS.Watch(ctx, c.cfg.LocalPath)
		if err != nil {
			a.env.Logger.Warn("watching folder failed, relying on periodic scans", "account", a.id,
				"container", c.cfg.ID, "error", err)
			continue
		}
		go func() {
			for range ch {
				select {
				case merged <- struct{}{}:
				default:
				}
			}
		}()
	}
	return merged
}
