package models

// WorkoutSet is one performed set of a workout exercise.
// WorkoutExerciseID holds a local id.
type WorkoutSet struct {
	SyncMeta          `json:"-"`
	WorkoutExerciseID string   `json:"workoutExerciseId"`
	Order             int      `json:"order"`
	SetNumber         int      `json:"setNumber"`
	Weight            float64  `json:"weight"`
	Reps              int      `json:"reps"`
	RPE               *float64 `json:"rpe,omitempty"`
	Completed         bool     `json:"completed"`
}

func (*WorkoutSet) Kind() EntityKind { return KindWorkoutSet }

func (s *WorkoutSet) Apply(p Payload) error {
	patch, ok := p.(*WorkoutSetPatch)
	if !ok {
		return payloadMismatch(KindWorkoutSet, p)
	}
	if patch.WorkoutExerciseID != nil {
		s.WorkoutExerciseID = *patch.WorkoutExerciseID
	}
	if patch.Order != nil {
		s.Order = *patch.Order
	}
	if patch.SetNumber != nil {
		s.SetNumber = *patch.SetNumber
	}
	if patch.Weight != nil {
		s.Weight = *patch.Weight
	}
	if patch.Reps != nil {
		s.Reps = *patch.Reps
	}
	if patch.RPE != nil {
		v := *patch.RPE
		s.RPE = &v
	}
	if patch.Completed != nil {
		s.Completed = *patch.Completed
	}
	return nil
}

func (s *WorkoutSet) Snapshot() Payload {
	p := &WorkoutSetPatch{
		WorkoutExerciseID: Ptr(s.WorkoutExerciseID),
		Order:             Ptr(s.Order),
		SetNumber:         Ptr(s.SetNumber),
		Weight:            Ptr(s.Weight),
		Reps:              Ptr(s.Reps),
		Completed:         Ptr(s.Completed),
	}
	if s.RPE != nil {
		p.RPE = Ptr(*s.RPE)
	}
	return p
}

// WorkoutSetPatch carries set fields to create or change.
type WorkoutSetPatch struct {
	WorkoutExerciseID *string  `json:"workoutExerciseId,omitempty"`
	Order             *int     `json:"order,omitempty"`
	SetNumber         *int     `json:"setNumber,omitempty"`
	Weight            *float64 `json:"weight,omitempty"`
	Reps              *int     `json:"reps,omitempty"`
	RPE               *float64 `json:"rpe,omitempty"`
	Completed         *bool    `json:"completed,omitempty"`
}

func (*WorkoutSetPatch) Kind() EntityKind { return KindWorkoutSet }

func (p *WorkoutSetPatch) Validate() error {
	if p.RPE != nil && (*p.RPE < 0 || *p.RPE > 10) {
		return validationf("workout_set rpe must be between 0 and 10")
	}
	return firstError(
		nonEmpty(KindWorkoutSet, "workoutExerciseId", p.WorkoutExerciseID),
		nonNegativeInt(KindWorkoutSet, "order", p.Order),
		nonNegativeInt(KindWorkoutSet, "setNumber", p.SetNumber),
		nonNegativeFloat(KindWorkoutSet, "weight", p.Weight),
		nonNegativeInt(KindWorkoutSet, "reps", p.Reps),
	)
}

func (p *WorkoutSetPatch) validateCreate() error {
	return requireString(KindWorkoutSet, "workoutExerciseId", p.WorkoutExerciseID)
}
