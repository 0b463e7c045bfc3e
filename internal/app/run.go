package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Run keeps every account running until ctx is done. Automatic accounts
// sync on their timers and on local changes; manual accounts sync once at
// startup. When metrics.listen_addr is set, metrics are served on /metrics.
func (a *DocSyncApp) Run(ctx context.Context) error {
	go a.metrics.Run(ctx, a.bus)

	if err := a.loadAccounts(ctx); err != nil {
		return err
	}
	accounts := a.agent.Accounts()
	if len(accounts) == 0 {
		return fmt.Errorf("no accounts configured; run 'docsync account add'")
	}
	for _, acct := range accounts {
		if err := a.persistOperation(acct.ID()); err != nil {
			return err
		}
	}

	var srv *http.Server
	errc := make(chan error, 1)
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return a.recordResult(fmt.Errorf("listening on %s: %w", addr, err))
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
		a.logger.Info("serving metrics", "addr", ln.Addr().String())
	}

	a.agent.RequestSyncAll()
	a.logger.Info("docsync running", "accounts", len(accounts))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		runErr = fmt.Errorf("metrics server: %w", err)
	}

	a.agent.CancelAll()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	a.logger.Info("docsync stopped")
	return a.recordResult(runErr)
}
