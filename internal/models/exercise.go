package models

// Exercise is a user-defined movement that workouts and templates reference.
type Exercise struct {
	SyncMeta    `json:"-"`
	Name        string `json:"name"`
	MuscleGroup string `json:"muscleGroup"`
	Description string `json:"description,omitempty"`
}

func (*Exercise) Kind() EntityKind { return KindExercise }

func (e *Exercise) Apply(p Payload) error {
	patch, ok := p.(*ExercisePatch)
	if !ok {
		return payloadMismatch(KindExercise, p)
	}
	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.MuscleGroup != nil {
		e.MuscleGroup = *patch.MuscleGroup
	}
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	return nil
}

func (e *Exercise) Snapshot() Payload {
	return &ExercisePatch{
		Name:        Ptr(e.Name),
		MuscleGroup: Ptr(e.MuscleGroup),
		Description: Ptr(e.Description),
	}
}

// ExercisePatch carries exercise fields to create or change.
type ExercisePatch struct {
	Name        *string `json:"name,omitempty"`
	MuscleGroup *string `json:"muscleGroup,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (*ExercisePatch) Kind() EntityKind { return KindExercise }

func (p *ExercisePatch) Validate() error {
	return nonEmpty(KindExercise, "name", p.Name)
}

func (p *ExercisePatch) validateCreate() error {
	return requireString(KindExercise, "name", p.Name)
}
