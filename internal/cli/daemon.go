package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/sync/remote"
	"github.com/kimhsiao/fitsync/backend/internal/sync/scheduler"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Sync on a schedule and whenever the server comes back",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		probeInterval, _ := cmd.Flags().GetDuration("probe-interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sched := scheduler.NewScheduler(a.engine, &scheduler.SchedulerConfig{
			Schedule: cfg.Sync.Schedule,
			OwnerID:  owner,
			Timeout:  timeout,
		})
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		PrintSuccess("Sync daemon started (" + cfg.Sync.Schedule + ")")
		logging.Info("Sync daemon running", map[string]interface{}{
			"owner":         owner,
			"server":        cfg.Remote.BaseURL,
			"schedule":      cfg.Sync.Schedule,
			"probeInterval": probeInterval.String(),
		})

		probe(ctx, a.remote, sched, probeInterval)

		PrintInfo("Shutting down")
		return nil
	},
}

// probe pings the server every interval and reports reachability to the
// scheduler until ctx is done.
func probe(ctx context.Context, client *remote.Client, sched *scheduler.Scheduler, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := client.Ping(pingCtx)
			cancel()
			if ctx.Err() != nil {
				return
			}
			online := err == nil
			if online != sched.IsOnline() {
				if online {
					logging.Info("Server reachable again")
				} else {
					logging.Warn("Server unreachable", map[string]interface{}{"error": err.Error()})
				}
			}
			sched.SetOnlineStatus(online)
		}
	}
}

func init() {
	daemonCmd.Flags().Duration("probe-interval", 30*time.Second, "How often to check server reachability (0 disables)")
	daemonCmd.Flags().Duration("timeout", 5*time.Minute, "Upper bound for one sync pass")
	rootCmd.AddCommand(daemonCmd)
}
