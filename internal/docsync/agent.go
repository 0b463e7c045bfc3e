package docsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Agent owns the registered accounts and fans requests out to them.
// Accounts run independently of each other.
type Agent struct {
	logger Logger

	mu       sync.RWMutex
	accounts map[string]*AccountAgent
	ctx      context.Context
	started  bool
}

// NewAgent creates an empty agent.
func NewAgent(logger Logger) *Agent {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Agent{
		logger:   logger,
		accounts: make(map[string]*AccountAgent),
	}
}

// AddAccount registers an account. If the agent is running, the account is
// started too.
func (g *Agent) AddAccount(a *AccountAgent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.accounts[a.ID()]; ok {
		return fmt.Errorf("account %s already registered", a.ID())
	}
	if g.started {
		if err := a.Start(g.ctx); err != nil {
			return err
		}
	}
	g.accounts[a.ID()] = a
	g.logger.Info("account registered", "account", a.ID())
	return nil
}

// RemoveAccount stops and unregisters an account.
func (g *Agent) RemoveAccount(id string) error {
	g.mu.Lock()
	a, ok := g.accounts[id]
	delete(g.accounts, id)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("account %s not registered", id)
	}
	a.Stop()
	g.logger.Info("account removed", "account", id)
	return nil
}

// Account returns a registered account.
func (g *Agent) Account(id string) (*AccountAgent, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.accounts[id]
	return a, ok
}

// Accounts returns the registered accounts ordered by ID.
func (g *Agent) Accounts() []*AccountAgent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*AccountAgent, 0, len(g.accounts))
	for _, a := range g.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Start starts every account.
func (g *Agent) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.New("agent already started")
	}
	for id, a := range g.accounts {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("starting account %s: %w", id, err)
		}
	}
	g.ctx = ctx
	g.started = true
	return nil
}

// Stop stops every account.
func (g *Agent) Stop() {
	g.mu.Lock()
	g.started = false
	g.ctx = nil
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range g.Accounts() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Stop()
		}()
	}
	wg.Wait()
}

// SyncAll runs a cycle on every account in parallel and waits for all of
// them.
func (g *Agent) SyncAll(ctx context.Context) error {
	accounts := g.Accounts()
	errs := make([]error, len(accounts))
	var wg sync.WaitGroup
	for i, a := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.SyncNow(ctx); err != nil {
				errs[i] = fmt.Errorf("account %s: %w", a.ID(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// RequestSyncAll asks every account for a cycle without waiting.
func (g *Agent) RequestSyncAll() {
	for _, a := range g.Accounts() {
		a.RequestSync(nil)
	}
}

// CancelAll cancels the running cycle of every account.
func (g *Agent) CancelAll() {
	for _, a := range g.Accounts() {
		a.Cancel()
	}
}

// Status reports every account.
func (g *Agent) Status(ctx context.Context) ([]AccountStatus, error) {
	var out []AccountStatus
	for _, a := range g.Accounts() {
		st, err := a.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.ID(), err)
		}
		out = append(out, st)
	}
	return out, nil
}
