package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/backend/internal/models"
)

var workoutCmd = &cobra.Command{
	Use:     "workout",
	Short:   "Log workouts, their exercises and sets",
	GroupID: "records",
}

var workoutStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a workout now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		status := models.WorkoutInProgress
		patch := &models.WorkoutPatch{
			StartedAt: models.Ptr(time.Now().UTC()),
			Status:    &status,
		}
		stringFlag(cmd, "name", &patch.Name)
		stringFlag(cmd, "template", &patch.TemplateID)
		stringFlag(cmd, "notes", &patch.Notes)
		return createRecord(models.KindWorkout, owner, patch)
	},
}

var workoutFinishCmd = &cobra.Command{
	Use:   "finish <workoutLocalId>",
	Short: "Mark a workout completed (or cancelled with --cancel)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := models.WorkoutCompleted
		if cancel, _ := cmd.Flags().GetBool("cancel"); cancel {
			status = models.WorkoutCancelled
		}
		patch := &models.WorkoutPatch{
			CompletedAt: models.Ptr(time.Now().UTC()),
			Status:      &status,
		}
		stringFlag(cmd, "notes", &patch.Notes)
		return updateRecord(models.KindWorkout, args[0], patch)
	},
}

var workoutAddExerciseCmd = &cobra.Command{
	Use:   "add-exercise <workoutLocalId> <exerciseLocalId>",
	Short: "Add an exercise to a workout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		patch := &models.WorkoutExercisePatch{
			WorkoutID:  models.Ptr(args[0]),
			ExerciseID: models.Ptr(args[1]),
		}
		intFlag(cmd, "order", &patch.Order)
		stringFlag(cmd, "notes", &patch.Notes)
		return createRecord(models.KindWorkoutExercise, owner, patch)
	},
}

var workoutLogSetCmd = &cobra.Command{
	Use:   "log-set <workoutExerciseLocalId>",
	Short: "Record a performed set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requireOwner()
		if err != nil {
			return err
		}
		patch := &models.WorkoutSetPatch{
			WorkoutExerciseID: models.Ptr(args[0]),
			Completed:         models.Ptr(true),
		}
		intFlag(cmd, "set", &patch.SetNumber)
		intFlag(cmd, "order", &patch.Order)
		intFlag(cmd, "reps", &patch.Reps)
		floatFlag(cmd, "weight", &patch.Weight)
		floatFlag(cmd, "rpe", &patch.RPE)
		return createRecord(models.KindWorkoutSet, owner, patch)
	},
}

func init() {
	workoutStartCmd.Flags().String("name", "", "Workout name")
	workoutStartCmd.Flags().String("template", "", "Local id of the template it follows")
	workoutStartCmd.Flags().String("notes", "", "Notes")

	workoutFinishCmd.Flags().Bool("cancel", false, "Mark the workout cancelled instead of completed")
	workoutFinishCmd.Flags().String("notes", "", "Notes")

	workoutAddExerciseCmd.Flags().Int("order", 0, "Position within the workout")
	workoutAddExerciseCmd.Flags().String("notes", "", "Notes")

	workoutLogSetCmd.Flags().Int("set", 1, "Set number")
	workoutLogSetCmd.Flags().Int("order", 0, "Position within the exercise")
	workoutLogSetCmd.Flags().Int("reps", 0, "Repetitions")
	workoutLogSetCmd.Flags().Float64("weight", 0, "Weight")
	workoutLogSetCmd.Flags().Float64("rpe", 0, "Rate of perceived exertion")

	workoutCmd.AddCommand(workoutStartCmd, workoutFinishCmd, workoutAddExerciseCmd, workoutLogSetCmd)
	rootCmd.AddCommand(workoutCmd)
}
