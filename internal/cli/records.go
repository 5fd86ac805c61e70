package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// recordView is the structured output shape of one record.
type recordView struct {
	Kind   models.EntityKind `json:"kind"`
	Meta   *models.SyncMeta  `json:"meta"`
	Fields models.Record     `json:"fields"`
}

func viewOf(rec models.Record) recordView {
	return recordView{Kind: rec.Kind(), Meta: rec.Meta(), Fields: rec}
}

// summary picks a short human label for a record.
func summary(rec models.Record) string {
	switch r := rec.(type) {
	case *models.Exercise:
		return r.Name
	case *models.Template:
		return fmt.Sprintf("%s (%d exercises)", r.Name, len(r.Exercises))
	case *models.Workout:
		return fmt.Sprintf("%s [%s]", r.Name, r.Status)
	case *models.WorkoutExercise:
		return fmt.Sprintf("exercise %s in workout %s", r.ExerciseID, r.WorkoutID)
	case *models.WorkoutSet:
		return fmt.Sprintf("set %d: %d x %g", r.SetNumber, r.Reps, r.Weight)
	}
	return ""
}

func printRecord(rec models.Record) error {
	if ok, err := structured(viewOf(rec)); ok {
		return err
	}

	meta := rec.Meta()
	PrintHeader(fmt.Sprintf("%s %s", rec.Kind(), meta.LocalID))
	PrintField("Server ID", orDash(meta.ServerID))
	PrintField("Owner", meta.OwnerID)
	PrintField("Status", meta.SyncStatus)
	PrintField("Needs sync", meta.NeedsSync)
	PrintField("Updated", meta.UpdatedAt.Format(time.RFC3339))
	if meta.ServerUpdatedAt != nil {
		PrintField("Server updated", meta.ServerUpdatedAt.Format(time.RFC3339))
	}
	if meta.Deleted {
		PrintField("Deleted", "pending server confirmation")
	}

	data, err := json.MarshalIndent(rec, "  ", "  ")
	if err != nil {
		return err
	}
	PrintInfo("  " + string(data))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var listCmd = &cobra.Command{
	Use:     "list <kind>",
	Short:   "List live records of a kind",
	Long:    "List the records of a kind owned by the configured owner. Kind is " + kindNames() + ".",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		owner, err := requireOwner()
		if err != nil {
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			records, err := a.store.List(ctx, kind, owner)
			if err != nil {
				return err
			}

			views := make([]recordView, 0, len(records))
			for _, rec := range records {
				views = append(views, viewOf(rec))
			}
			if ok, err := structured(views); ok {
				return err
			}

			if len(records) == 0 {
				PrintInfo(fmt.Sprintf("No %s records", kind))
				return nil
			}
			for _, rec := range records {
				meta := rec.Meta()
				PrintInfo(fmt.Sprintf("%s  %-8s %s", meta.LocalID, meta.SyncStatus, summary(rec)))
			}
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:     "get <kind> <localId>",
	Short:   "Show one record with its sync state",
	GroupID: "records",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			rec, err := a.store.Get(ctx, kind, args[1])
			if err != nil {
				return err
			}
			return printRecord(rec)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <kind> <localId>",
	Short:   "Delete a record locally and queue the delete",
	GroupID: "records",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.store.MarkForDeletion(ctx, kind, args[1]); err != nil {
				return err
			}
			if ok, err := structured(map[string]string{"deleted": args[1], "kind": string(kind)}); ok {
				return err
			}
			PrintSuccess(fmt.Sprintf("Deleted %s %s (queued for sync)", kind, args[1]))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd, getCmd, deleteCmd)
}
