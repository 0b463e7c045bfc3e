package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"docsync-go/internal/config"
	"docsync-go/internal/credentials"
	"docsync-go/internal/database"
	"docsync-go/internal/docsync"
	"docsync-go/internal/encryption"
	"docsync-go/internal/fs"
	"docsync-go/internal/metrics"
	"docsync-go/internal/remote"
	"docsync-go/internal/snapshot"
)

// ErrHistoryUnsupported is returned by History when the account's snapshot
// store does not keep an operation log.
var ErrHistoryUnsupported = errors.New("operation history requires the sqlite snapshot store")

// operationRecorder is implemented by snapshot stores that keep a log of CLI
// operations.
type operationRecorder interface {
	StartOperation(operation, parameters string) (int64, error)
	FinishOperation(id int64, status string) error
}

type operationHistory interface {
	ListOperations(limit int) ([]*database.Operation, error)
}

// DocSyncApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw identifiers, and releases every store on Close.
type DocSyncApp struct {
	cfg        *config.Config
	creds      docsync.CredentialStore
	fsmgr      *fs.Manager
	bus        *docsync.EventBus
	metrics    *metrics.Collector
	agent      *docsync.Agent
	logger     *slogAdapter
	clock      clockwork.Clock
	passphrase encryption.PassphraseFunc

	key       docsync.DocumentKey
	keyLoaded bool
	loaded    bool
	stores    map[string]docsync.SnapshotStore

	op      *SyncOperation
	opRows  map[string]int64
	logFile *os.File
}

// NewDocSyncApp creates a DocSyncApp from the given config. operation names
// the CLI command being run (e.g. "sync", "resolve"). passphrase is only
// called if an account needs the age key. The caller must call Close when
// done.
func NewDocSyncApp(cfg *config.Config, operation string, passphrase encryption.PassphraseFunc) (*DocSyncApp, error) {
	creds, err := credentials.NewStoreFromConfig(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("creating credential store: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	return &DocSyncApp{
		cfg:        cfg,
		creds:      creds,
		fsmgr:      fs.NewOSManager(cfg.Filesystem.Ignore, cfg.Filesystem.PackageExtensions),
		bus:        docsync.NewEventBus(256),
		metrics:    metrics.NewCollector(),
		agent:      docsync.NewAgent(adapter),
		logger:     adapter,
		clock:      clockwork.NewRealClock(),
		passphrase: passphrase,
		stores:     make(map[string]docsync.SnapshotStore),
		op:         NewSyncOperation(operation, ""),
		opRows:     make(map[string]int64),
		logFile:    logFile,
	}, nil
}

// Config returns the application config.
func (a *DocSyncApp) Config() *config.Config { return a.cfg }

// Bus returns the event bus shared by all accounts.
func (a *DocSyncApp) Bus() *docsync.EventBus { return a.bus }

// documentKey unlocks the configured key on first use.
func (a *DocSyncApp) documentKey() (docsync.DocumentKey, error) {
	if a.keyLoaded {
		return a.key, nil
	}
	key, err := encryption.NewKeyFromConfig(a.cfg.Encryption, a.passphrase)
	if err != nil {
		return nil, err
	}
	a.key, a.keyLoaded = key, true
	return key, nil
}

// accountOptions merges the global config and the account record.
func (a *DocSyncApp) accountOptions(rec *config.AccountRecord) (docsync.AccountOptions, error) {
	mode, err := docsync.ParseScheduleMode(rec.Mode)
	if err != nil {
		return docsync.AccountOptions{}, fmt.Errorf("account %s: %w", rec.ID, err)
	}
	interval := a.cfg.Schedule.Interval.Duration
	if rec.Interval.Duration > 0 {
		interval = rec.Interval.Duration
	}
	return docsync.AccountOptions{
		Mode:                   mode,
		Interval:               interval,
		MaxConcurrentTransfers: a.cfg.Transfers.MaxConcurrent,
		MaxTransfersPerCycle:   a.cfg.Transfers.MaxPerCycle,
		TransferTimeout:        a.cfg.Transfers.Timeout.Duration,
		Retry: docsync.RetryPolicy{
			BaseDelay:     a.cfg.Retry.BaseDelay.Duration,
			MaxDelay:      a.cfg.Retry.MaxDelay.Duration,
			MaxAttempts:   a.cfg.Retry.MaxAttempts,
			JitterPercent: uint64(a.cfg.Retry.JitterPercent),
		},
		TempRetention: a.cfg.Schedule.TempRetention.Duration,
		MaxPasses:     a.cfg.Schedule.MaxPasses,
		Host:          a.cfg.HostID,
	}, nil
}

// buildAccount wires one account record into an account agent.
func (a *DocSyncApp) buildAccount(ctx context.Context, rec *config.AccountRecord) (*docsync.AccountAgent, error) {
	opts, err := a.accountOptions(rec)
	if err != nil {
		return nil, err
	}

	var key docsync.DocumentKey
	if rec.Remote.Encrypt {
		if key, err = a.documentKey(); err != nil {
			return nil, fmt.Errorf("account %s: %w", rec.ID, err)
		}
	}
	conn, err := remote.NewConnectionFromConfig(ctx, rec.Remote, a.cfg.Transfers.Timeout.Duration,
		credentials.ForAccount(a.creds, rec.ID), key)
	if err != nil {
		return nil, fmt.Errorf("account %s: creating connection: %w", rec.ID, err)
	}

	store, err := snapshot.NewStoreFromConfig(a.cfg.SnapshotStore, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("account %s: opening snapshot store: %w", rec.ID, err)
	}

	cache, err := docsync.NewHashCache(a.cfg.Cache.HashEntries)
	if err != nil {
		store.Close()
		return nil, err
	}

	containers := make([]docsync.ContainerConfig, 0, len(rec.Containers))
	for _, c := range rec.Containers {
		containers = append(containers, docsync.ContainerConfig{ID: c.ID, LocalPath: c.LocalPath, RemotePath: c.RemotePath})
	}

	agent, err := docsync.NewAccountAgent(docsync.AccountConfig{
		ID:         rec.ID,
		Containers: containers,
		Options:    opts,
	}, docsync.Env{
		Conn:               conn,
		FS:                 a.fsmgr,
		Store:              store,
		Clock:              a.clock,
		IDs:                docsync.UUIDGenerator{},
		Logger:             a.logger,
		Bus:                a.bus,
		Cache:              cache,
		PackageParallelism: a.cfg.Transfers.PackageParallelism,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	a.stores[rec.ID] = store
	return agent, nil
}

// loadAccounts registers every stored account with the agent and starts
// their loops.
func (a *DocSyncApp) loadAccounts(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	recs, err := config.ListAccounts(a.cfg.AccountsDir)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		agent, err := a.buildAccount(ctx, rec)
		if err != nil {
			return err
		}
		if err := a.agent.AddAccount(agent); err != nil {
			return err
		}
	}
	if err := a.agent.Start(ctx); err != nil {
		return err
	}
	a.loaded = true
	return nil
}

// account returns the agent of one stored account.
func (a *DocSyncApp) account(ctx context.Context, id string) (*docsync.AccountAgent, error) {
	if err := a.loadAccounts(ctx); err != nil {
		return nil, err
	}
	acct, ok := a.agent.Account(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, config.ErrAccountNotFound)
	}
	return acct, nil
}

// selectAccounts returns the named accounts, or all of them.
func (a *DocSyncApp) selectAccounts(ctx context.Context, ids []string) ([]*docsync.AccountAgent, error) {
	if err := a.loadAccounts(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return a.agent.Accounts(), nil
	}
	out := make([]*docsync.AccountAgent, 0, len(ids))
	for _, id := range ids {
		acct, err := a.account(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// persistOperation records the running operation in the account's store, if
// that store keeps an operation log. It should only be called for commands
// that change sync state.
func (a *DocSyncApp) persistOperation(accountID string) error {
	if _, ok := a.opRows[accountID]; ok {
		return nil
	}
	rec, ok := a.stores[accountID].(operationRecorder)
	if !ok {
		return nil
	}
	id, err := rec.StartOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.opRows[accountID] = id
	a.op.ID = id
	return nil
}

// recordResult marks the operation failed when err is set.
func (a *DocSyncApp) recordResult(err error) error {
	if err != nil {
		a.op.Status = "error"
	}
	return err
}

// AddAccount validates and stores a new account record, and stores its
// credentials when a secret is given.
func (a *DocSyncApp) AddAccount(rec *config.AccountRecord, creds docsync.Credentials) error {
	if _, err := config.ReadAccount(a.cfg.AccountsDir, rec.ID); err == nil {
		return fmt.Errorf("account %s already exists", rec.ID)
	} else if !errors.Is(err, config.ErrAccountNotFound) {
		return err
	}
	if _, err := docsync.ParseScheduleMode(rec.Mode); err != nil {
		return err
	}
	if err := config.WriteAccount(a.cfg.AccountsDir, rec); err != nil {
		return fmt.Errorf("writing account: %w", err)
	}
	if creds.Secret != "" {
		if err := a.creds.SetCredentials(rec.ID, creds); err != nil {
			return fmt.Errorf("storing credentials: %w", err)
		}
	}
	a.logger.Info("account added", "account", rec.ID, "remote", rec.Remote.Type, "containers", len(rec.Containers))
	return nil
}

// SetCredentials replaces the credentials of an account and lifts an
// authentication pause.
func (a *DocSyncApp) SetCredentials(ctx context.Context, id string, creds docsync.Credentials) error {
	if _, err := config.ReadAccount(a.cfg.AccountsDir, id); err != nil {
		return err
	}
	if err := a.creds.SetCredentials(id, creds); err != nil {
		return err
	}
	if acct, ok := a.agent.Account(id); ok && acct.Paused() {
		acct.Resume()
	}
	return nil
}

// RemoveAccount deletes an account record and its credentials. Local folders
// and remote content are left alone.
func (a *DocSyncApp) RemoveAccount(id string) error {
	if err := config.DeleteAccount(a.cfg.AccountsDir, id); err != nil {
		return err
	}
	if err := a.creds.DeleteCredentials(id); err != nil && !errors.Is(err, credentials.ErrReadOnly) {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	if _, ok := a.agent.Account(id); ok {
		a.agent.RemoveAccount(id)
		a.metrics.Forget(id)
	}
	a.logger.Info("account removed", "account", id)
	return nil
}

// ListAccounts returns every stored account record.
func (a *DocSyncApp) ListAccounts() ([]*config.AccountRecord, error) {
	return config.ListAccounts(a.cfg.AccountsDir)
}

// Sync runs one cycle on the named accounts, or on all accounts, and waits
// for them.
func (a *DocSyncApp) Sync(ctx context.Context, ids ...string) error {
	accounts, err := a.selectAccounts(ctx, ids)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no accounts configured; run 'docsync account add'")
	}
	a.op.Parameters = describe(ids...)

	var errs []error
	for _, acct := range accounts {
		if err := a.persistOperation(acct.ID()); err != nil {
			return err
		}
	}
	results := make(chan error, len(accounts))
	for _, acct := range accounts {
		go func() {
			if err := acct.SyncNow(ctx); err != nil {
				results <- fmt.Errorf("account %s: %w", acct.ID(), err)
				return
			}
			results <- nil
		}()
	}
	for range accounts {
		if err := <-results; err != nil {
			errs = append(errs, err)
		}
	}
	return a.recordResult(errors.Join(errs...))
}

// Status reports the named accounts, or all accounts.
func (a *DocSyncApp) Status(ctx context.Context, ids ...string) ([]docsync.AccountStatus, error) {
	accounts, err := a.selectAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]docsync.AccountStatus, 0, len(accounts))
	for _, acct := range accounts {
		st, err := acct.Status(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Resolve settles a conflict. ref is the document's path in the container or
// its document ID. The account is synced first so conflicts detected since
// the last run are known.
func (a *DocSyncApp) Resolve(ctx context.Context, accountID, container, ref string, choice docsync.Resolution) error {
	acct, err := a.account(ctx, accountID)
	if err != nil {
		return err
	}
	a.op.Parameters = describe(accountID, container, ref, choice.String())
	if err := a.persistOperation(accountID); err != nil {
		return err
	}
	if err := acct.SyncNow(ctx); err != nil && docsync.Classify(err) == docsync.KindAuth {
		return a.recordResult(err)
	}
	err = acct.ResolvePath(ctx, container, ref, choice)
	if errors.Is(err, docsync.ErrUnknownDocument) {
		err = acct.Resolve(ctx, container, docsync.DocumentID(ref), choice)
	}
	return a.recordResult(err)
}

// RetryFailed clears backoff and stalled items, then syncs the account.
// It returns how many items were reset.
func (a *DocSyncApp) RetryFailed(ctx context.Context, accountID string) (int, error) {
	acct, err := a.account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	a.op.Parameters = describe(accountID)
	if err := a.persistOperation(accountID); err != nil {
		return 0, err
	}
	n, err := acct.RetryFailed(ctx)
	if err != nil {
		return 0, a.recordResult(err)
	}
	return n, a.recordResult(acct.SyncNow(ctx))
}

// History returns the most recent operations recorded for an account.
func (a *DocSyncApp) History(ctx context.Context, accountID string, limit int) ([]*database.Operation, error) {
	if _, err := a.account(ctx, accountID); err != nil {
		return nil, err
	}
	h, ok := a.stores[accountID].(operationHistory)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	return h.ListOperations(limit)
}

// Close finalizes the operation records and closes all stores.
func (a *DocSyncApp) Close() error {
	a.agent.Stop()

	var errs []error
	for id, row := range a.opRows {
		if rec, ok := a.stores[id].(operationRecorder); ok {
			if err := rec.FinishOperation(row, a.op.Status); err != nil {
				errs = append(errs, fmt.Errorf("finishing operation: %w", err))
			}
		}
	}
	for id, store := range a.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing snapshot store of %s: %w", id, err))
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// describe renders operation parameters.
func describe(parts ...string) string {
	return strings.Join(parts, " ")
}
