package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	portal "github.com/st-keller/portal-client"
	"github.com/st-keller/portal-client/events"
	"github.com/st-keller/portal-client/internal/config"
	"github.com/st-keller/portal-client/internal/i18n"
	"github.com/st-keller/portal-client/internal/logger"
	"github.com/st-keller/portal-client/internal/metrics"
	"github.com/st-keller/portal-client/netwatch"
	"github.com/st-keller/portal-client/probe"
	"github.com/st-keller/portal-client/standard"
	"github.com/st-keller/portal-client/types"
	"github.com/st-keller/portal-client/watchdog"
)

func newWatchCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Log in and keep the session alive",
		Long: `Log in once and then run the network watchdog until interrupted.

The watchdog logs in again 3 seconds after the network comes back and
whenever the external resolver stops answering (checked every 5 minutes).
After 3 consecutive failed logins it pauses until a login succeeds.

Examples:
  # Run in the foreground
  campusnet watch

  # Also serve Prometheus metrics
  campusnet watch --metrics-address 127.0.0.1:9310`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().String("metrics-address", "", "serve /metrics on this address")

	return cmd
}

// session performs logins for the watchdog and feeds its breaker.
type session struct {
	client *portal.Client
	store  config.Store
	bus    *events.Bus

	mu sync.Mutex
	wd *watchdog.Watchdog
}

// login loads fresh credentials, logs in and reports the outcome to the
// breaker. Missing credentials and a cancelled context are errors, not
// failed attempts.
func (s *session) login(ctx context.Context) (types.LoginOutcome, error) {
	creds, err := s.store.Load()
	if err != nil {
		return types.LoginOutcome{}, err
	}

	outcome := s.client.Login(ctx, creds.AccountID, creds.Password, creds.Operator)
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	s.mu.Lock()
	wd := s.wd
	s.mu.Unlock()

	if wd != nil {
		if outcome.Success {
			wd.ResetFailures()
		} else {
			wd.RecordFailure()
		}
	}
	return outcome, nil
}

// relogin implements types.ReloginFunc.
func (s *session) relogin(ctx context.Context, trigger types.Trigger) error {
	outcome, err := s.login(ctx)
	if err != nil {
		return err
	}
	s.bus.Publish(types.Status{
		Time:    time.Now(),
		Trigger: trigger,
		Message: outcome.Message,
	})
	return nil
}

func runWatch(cmd *cobra.Command, opts *options) error {
	cfg := opts.config
	out := cmd.OutOrStdout()

	if !cfg.Watchdog.Enabled {
		fmt.Fprintln(out, i18n.T("cli.watch_disabled"))
		return nil
	}

	log := logger.Get()
	tracker := standard.NewConnectivityTracker()

	var m *metrics.Metrics
	if cfg.Metrics.Address != "" {
		m = metrics.New()
	}

	client, err := newPortalClient(cfg, tracker, m)
	if err != nil {
		return err
	}

	statusLog := standard.NewStatusLog(100)
	bus := events.New(log.Logger)
	if err := bus.Subscribe("log", statusLog.Record); err != nil {
		return err
	}
	var outMu sync.Mutex
	if err := bus.Subscribe("printer", func(s types.Status) {
		outMu.Lock()
		defer outMu.Unlock()
		printStatus(out, s)
	}); err != nil {
		return err
	}

	source, err := netwatch.New(netwatch.Config{Logger: log.Logger})
	if err != nil {
		return err
	}

	s := &session{
		client: client,
		store:  config.FileStore{ConfigFile: opts.configFile},
		bus:    bus,
	}

	wd, err := watchdog.New(watchdog.Config{
		Relogin:   s.relogin,
		Prober:    probe.New(probe.Config{Tracker: tracker, Logger: log.Logger}),
		Source:    source,
		OnStatus:  bus.Publish,
		ProbeHost: cfg.Watchdog.ProbeHost,
		Logger:    log.Logger,
		Metrics:   m,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.wd = wd
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var srv *http.Server
	if m != nil {
		srv = serveMetrics(cfg.Metrics.Address, m, cancel)
		fmt.Fprintln(out, i18n.T("cli.metrics_listening", map[string]any{"Address": cfg.Metrics.Address}))
	}

	outcome, err := s.login(ctx)
	switch {
	case err != nil:
		fmt.Fprintln(out, i18n.T("cli.auto_login_failed", map[string]any{"Message": err.Error()}))
	case outcome.Success:
		fmt.Fprintln(out, i18n.T("cli.auto_login_ok", map[string]any{"Message": outcome.Message}))
	default:
		fmt.Fprintln(out, i18n.T("cli.auto_login_failed", map[string]any{"Message": outcome.Message}))
	}

	source.Start(ctx)
	wd.Start()
	fmt.Fprintln(out, i18n.T("cli.watch_started", map[string]any{
		"Heartbeat": watchdog.HeartbeatInterval.String(),
		"Host":      cfg.Watchdog.ProbeHost,
	}))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Shutdown signal received")
	case <-ctx.Done():
	}
	signal.Stop(sigChan)

	_ = wd.Close()
	source.Stop()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.ErrorWithErr("Metrics server shutdown failed", err)
		}
	}

	printSummary(out, tracker, statusLog)
	fmt.Fprintln(out, i18n.T("cli.watch_stopped"))
	return nil
}

// serveMetrics starts the /metrics endpoint. A listener failure stops the watch.
func serveMetrics(addr string, m *metrics.Metrics, stop context.CancelFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().ErrorWithErr("Metrics server failed", err, "address", addr)
			stop()
		}
	}()
	return srv
}

func printSummary(w io.Writer, tracker *standard.ConnectivityTracker, statusLog *standard.StatusLog) {
	if stats := tracker.Snapshot(); len(stats) > 0 {
		fmt.Fprintln(w, i18n.T("cli.stats_header"))
		printStats(w, stats)
	}
	if entries := statusLog.Entries(); len(entries) > 0 {
		fmt.Fprintln(w, i18n.T("cli.status_header"))
		for _, e := range entries {
			printStatus(w, e)
		}
	}
}
