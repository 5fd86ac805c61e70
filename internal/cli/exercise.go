package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

var exerciseCmd = &cobra.Command{
	Use:     "exercise",
	Short:   "Create and edit exercises",
	GroupID: "records",
}

var exerciseAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an exercise",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		patch := &models.ExercisePatch{}
		stringFlag(cmd, "name", &patch.Name)
		stringFlag(cmd, "muscle-group", &patch.MuscleGroup)
		stringFlag(cmd, "description", &patch.Description)
		return createRecord(models.KindExercise, owner, patch)
	},
}

var exerciseUpdateCmd = &cobra.Command{
	Use:   "update <localId>",
	Short: "Change an exercise; only the given flags are updated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := &models.ExercisePatch{}
		stringFlag(cmd, "name", &patch.Name)
		stringFlag(cmd, "muscle-group", &patch.MuscleGroup)
		stringFlag(cmd, "description", &patch.Description)
		return updateRecord(models.KindExercise, args[0], patch)
	},
}

var templateCmd = &cobra.Command{
	Use:     "template",
	Short:   "Create workout templates",
	GroupID: "records",
}

var templateAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a template",
	Long: `Create a template. Each --item is exerciseLocalId:sets:reps[:weight],
in the order the exercises should be performed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		patch := &models.TemplatePatch{}
		stringFlag(cmd, "name", &patch.Name)
		stringFlag(cmd, "description", &patch.Description)
		stringFlag(cmd, "notes", &patch.Notes)

		items, _ := cmd.Flags().GetStringArray("item")
		exercises := make([]models.TemplateExercise, 0, len(items))
		for i, item := range items {
			te, err := parseTemplateItem(item)
			if err != nil {
				return err
			}
			te.Order = i
			exercises = append(exercises, te)
		}
		patch.Exercises = &exercises
		return createRecord(models.KindTemplate, owner, patch)
	},
}

// parseTemplateItem reads exerciseId:sets:reps[:weight].
func parseTemplateItem(s string) (models.TemplateExercise, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return models.TemplateExercise{}, apperrors.Newf(apperrors.ErrValidation, "bad --item %q, want exerciseId:sets:reps[:weight]", s)
	}
	te := models.TemplateExercise{ExerciseID: parts[0]}
	var err error
	if te.Sets, err = strconv.Atoi(parts[1]); err != nil {
		return te, apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("bad sets in %q", s), err)
	}
	if te.Reps, err = strconv.Atoi(parts[2]); err != nil {
		return te, apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("bad reps in %q", s), err)
	}
	if len(parts) == 4 {
		w, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return te, apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("bad weight in %q", s), err)
		}
		te.Weight = &w
	}
	return te, nil
}

// stringFlag sets *dst when the flag was given.
func stringFlag(cmd *cobra.Command, name string, dst **string) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, _ := cmd.Flags().GetString(name)
	*dst = &v
}

func intFlag(cmd *cobra.Command, name string, dst **int) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, _ := cmd.Flags().GetInt(name)
	*dst = &v
}

func floatFlag(cmd *cobra.Command, name string, dst **float64) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, _ := cmd.Flags().GetFloat64(name)
	*dst = &v
}

func createRecord(kind models.EntityKind, owner string, patch models.Payload) error {
	return withApp(func(ctx context.Context, a *app) error {
		id, err := a.store.Create(ctx, kind, owner, patch)
		if err != nil {
			return err
		}
		if ok, err := structured(map[string]string{"kind": string(kind), "localId": id}); ok {
			return err
		}
		PrintSuccess(fmt.Sprintf("Created %s %s", kind, id))
		return nil
	})
}

func updateRecord(kind models.EntityKind, localID string, patch models.Payload) error {
	return withApp(func(ctx context.Context, a *app) error {
		if err := a.store.Update(ctx, kind, localID, patch); err != nil {
			return err
		}
		rec, err := a.store.Get(ctx, kind, localID)
		if err != nil {
			return err
		}
		return printRecord(rec)
	})
}

func init() {
	for _, c := range []*cobra.Command{exerciseAddCmd, exerciseUpdateCmd} {
		c.Flags().String("name", "", "Exercise name")
		c.Flags().String("muscle-group", "", "Primary muscle group")
		c.Flags().String("description", "", "Free-form description")
	}
	exerciseCmd.AddCommand(exerciseAddCmd, exerciseUpdateCmd)

	templateAddCmd.Flags().String("name", "", "Template name")
	templateAddCmd.Flags().String("description", "", "Free-form description")
	templateAddCmd.Flags().String("notes", "", "Notes")
	templateAddCmd.Flags().StringArray("item", nil, "Planned exercise as exerciseId:sets:reps[:weight] (repeatable)")
	templateCmd.AddCommand(templateAddCmd)

	rootCmd.AddCommand(exerciseCmd, templateCmd)
}
