package commands

import (
	"fmt"
	"io"

	portal "github.com/st-keller/portal-client"
	"github.com/st-keller/portal-client/internal/config"
	"github.com/st-keller/portal-client/internal/logger"
	"github.com/st-keller/portal-client/standard"
	"github.com/st-keller/portal-client/types"
)

// newPortalClient builds a client from the loaded configuration.
func newPortalClient(cfg config.Config, tracker *standard.ConnectivityTracker, metrics portal.Metrics) (*portal.Client, error) {
	return portal.New(portal.Config{
		BaseURL: cfg.Portal.BaseURL,
		Timeout: cfg.Portal.Timeout,
		Logger:  logger.Get().Logger,
		Tracker: tracker,
		Metrics: metrics,
	})
}

// printOutcome writes the outcome message and maps failure to ErrFailed.
func printOutcome(w io.Writer, outcome types.LoginOutcome) error {
	fmt.Fprintln(w, outcome.Message)
	if !outcome.Success {
		return ErrFailed
	}
	return nil
}

// printStats writes the call statistics table.
func printStats(w io.Writer, stats []standard.TargetStats) {
	for _, s := range stats {
		fmt.Fprintf(w, "  %-7s %-9s %3d calls  %5.1f%%  p50=%s p95=%s\n",
			s.Name, s.Status, s.Total, s.SuccessRate*100, s.P50, s.P95)
		for _, e := range s.RecentErrors {
			fmt.Fprintf(w, "          %s\n", e)
		}
	}
}

// printStatus writes one watchdog notification.
func printStatus(w io.Writer, s types.Status) {
	mark := " "
	if s.Fault {
		mark = "!"
	}
	fmt.Fprintf(w, "%s %s %s\n", s.Time.Format("15:04:05"), mark, s.Message)
}
