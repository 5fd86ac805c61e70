package models

// WorkoutExercise places an exercise inside a workout.
// WorkoutID and ExerciseID hold local ids.
type WorkoutExercise struct {
	SyncMeta   `json:"-"`
	WorkoutID  string `json:"workoutId"`
	ExerciseID string `json:"exerciseId"`
	Order      int    `json:"order"`
	Notes      string `json:"notes,omitempty"`
}

func (*WorkoutExercise) Kind() EntityKind { return KindWorkoutExercise }

func (we *WorkoutExercise) Apply(p Payload) error {
	patch, ok := p.(*WorkoutExercisePatch)
	if !ok {
		return payloadMismatch(KindWorkoutExercise, p)
	}
	if patch.WorkoutID != nil {
		we.WorkoutID = *patch.WorkoutID
	}
	if patch.ExerciseID != nil {
		we.ExerciseID = *patch.ExerciseID
	}
	if patch.Order != nil {
		we.Order = *patch.Order
	}
	if patch.Notes != nil {
		we.Notes = *patch.Notes
	}
	return nil
}

func (we *WorkoutExercise) Snapshot() Payload {
	return &WorkoutExercisePatch{
		WorkoutID:  Ptr(we.WorkoutID),
		ExerciseID: Ptr(we.ExerciseID),
		Order:      Ptr(we.Order),
		Notes:      Ptr(we.Notes),
	}
}

// WorkoutExercisePatch carries workout exercise fields to create or change.
type WorkoutExercisePatch struct {
	WorkoutID  *string `json:"workoutId,omitempty"`
	ExerciseID *string `json:"exerciseId,omitempty"`
	Order      *int    `json:"order,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

func (*WorkoutExercisePatch) Kind() EntityKind { return KindWorkoutExercise }

func (p *WorkoutExercisePatch) Validate() error {
	return firstError(
		nonEmpty(KindWorkoutExercise, "workoutId", p.WorkoutID),
		nonEmpty(KindWorkoutExercise, "exerciseId", p.ExerciseID),
		nonNegativeInt(KindWorkoutExercise, "order", p.Order),
	)
}

func (p *WorkoutExercisePatch) validateCreate() error {
	return firstError(
		requireString(KindWorkoutExercise, "workoutId", p.WorkoutID),
		requireString(KindWorkoutExercise, "exerciseId", p.ExerciseID),
	)
}
