package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/sync/queue"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox",
	Short:   "Inspect and retry queued changes",
	GroupID: "sync",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations in push order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			ops, err := a.store.Outbox().Drain(ctx)
			if err != nil {
				return err
			}
			stats, err := a.store.Outbox().GetStats(ctx)
			if err != nil {
				return err
			}

			if ok, err := structured(struct {
				Stats      *queue.Stats               `json:"stats"`
				Operations []*models.OfflineOperation `json:"operations"`
			}{stats, ops}); ok {
				return err
			}

			if len(ops) == 0 {
				PrintSuccess("Outbox is empty")
				return nil
			}
			PrintHeader(fmt.Sprintf("%d queued operation(s)", stats.Total))
			for _, op := range ops {
				line := fmt.Sprintf("%-6s %-16s %s  tries %d/%d  %s",
					op.Type, op.EntityKind, op.LocalID, op.RetryCount, op.MaxRetries, op.Timestamp.Format(time.RFC3339))
				if op.Exhausted() {
					PrintWarning(line + "  (retries used up, still attempted: " + op.LastError + ")")
					continue
				}
				PrintInfo(line)
			}
			if stats.Exhausted > 0 {
				PrintDim(fmt.Sprintf("%d operation(s) used up their retries; they are still pushed each sync, 'outbox retry' resets the counters", stats.Exhausted))
			}
			return nil
		})
	},
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset retry counters of exhausted operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			n, err := a.store.ResetFailed(ctx)
			if err != nil {
				return err
			}
			if ok, err := structured(map[string]int{"reset": n}); ok {
				return err
			}
			if n == 0 {
				PrintInfo("No exhausted operations")
				return nil
			}
			PrintSuccess(fmt.Sprintf("Reset %d operation(s) to pending", n))
			return nil
		})
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "Show recent pull-time conflict resolutions",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(ctx context.Context, a *app) error {
			entries, err := a.store.ListConflicts(ctx, limit)
			if err != nil {
				return err
			}
			if ok, err := structured(entries); ok {
				return err
			}
			if len(entries) == 0 {
				PrintInfo("No conflicts recorded")
				return nil
			}
			for _, c := range entries {
				PrintInfo(fmt.Sprintf("%s  %-16s %s  %-14s local %s  remote %s",
					c.DetectedAt.Format(time.RFC3339), c.EntityKind, c.LocalID, c.Resolution,
					c.LocalTimestamp.Format(time.RFC3339), c.RemoteTimestamp.Format(time.RFC3339)))
			}
			return nil
		})
	},
}

func init() {
	conflictsCmd.Flags().Int("limit", 20, "Maximum number of entries to show")

	outboxCmd.AddCommand(outboxListCmd, outboxRetryCmd)
	rootCmd.AddCommand(outboxCmd, conflictsCmd)
}
