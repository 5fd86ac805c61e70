package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Run one push-then-pull pass against the server",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result := a.engine.Sync(ctx, owner)
		if err := printSyncResult(result); err != nil {
			return err
		}
		if !result.Success {
			return apperrors.Newf(apperrors.ErrSyncFailed, "sync finished with %d error(s)", result.Errors)
		}
		return nil
	},
}

func printSyncResult(result *syncpkg.SyncResult) error {
	if ok, err := structured(result); ok {
		return err
	}
	if result.Success {
		PrintSuccess("Sync completed")
	} else {
		PrintWarning("Sync completed with errors")
	}
	PrintField("Pushed", result.Pushed)
	PrintField("Pulled", result.Pulled)
	PrintField("Conflicts", result.Conflicts)
	PrintField("Skipped", result.Skipped)
	PrintField("Errors", result.Errors)
	PrintField("Duration", result.Duration.Round(time.Millisecond))
	if result.Error != "" {
		PrintField("Last error", result.Error)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show pending changes and the pull checkpoint",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			pending, err := a.engine.PendingChanges(ctx)
			if err != nil {
				return err
			}
			checkpoint, err := a.store.Checkpoint(ctx, syncpkg.CheckpointKey(owner))
			if err != nil {
				return err
			}

			view := map[string]interface{}{
				"ownerId": owner,
				"pending": pending,
				"server":  cfg.Remote.BaseURL,
			}
			if checkpoint != nil {
				view["lastPull"] = checkpoint.Value
			}
			if ok, err := structured(view); ok {
				return err
			}

			PrintHeader("Sync status")
			PrintField("Owner", owner)
			PrintField("Server", cfg.Remote.BaseURL)
			PrintField("Pending", pending)
			if checkpoint != nil {
				PrintField("Last pull", checkpoint.Value)
			} else {
				PrintField("Last pull", "never")
			}
			if pending > 0 {
				PrintDim(fmt.Sprintf("Run 'sync' to push %d pending change(s)", pending))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, statusCmd)
}
