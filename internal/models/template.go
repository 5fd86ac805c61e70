package models

// TemplateExercise is one planned exercise inside a template.
// ExerciseID holds the exercise's local id.
type TemplateExercise struct {
	ExerciseID  string   `json:"exerciseId"`
	Order       int      `json:"order"`
	Sets        int      `json:"sets"`
	Reps        int      `json:"reps"`
	Weight      *float64 `json:"weight,omitempty"`
	RestSeconds *int     `json:"restSeconds,omitempty"`
}

// Template is a reusable workout plan.
type Template struct {
	SyncMeta    `json:"-"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	Exercises   []TemplateExercise `json:"exercises"`
}

func (*Template) Kind() EntityKind { return KindTemplate }

func (t *Template) Apply(p Payload) error {
	patch, ok := p.(*TemplatePatch)
	if !ok {
		return payloadMismatch(KindTemplate, p)
	}
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Notes != nil {
		t.Notes = *patch.Notes
	}
	if patch.Exercises != nil {
		t.Exercises = append([]TemplateExercise(nil), (*patch.Exercises)...)
	}
	if t.Exercises == nil {
		t.Exercises = []TemplateExercise{}
	}
	return nil
}

func (t *Template) Snapshot() Payload {
	exercises := append([]TemplateExercise{}, t.Exercises...)
	return &TemplatePatch{
		Name:        Ptr(t.Name),
		Description: Ptr(t.Description),
		Notes:       Ptr(t.Notes),
		Exercises:   &exercises,
	}
}

// TemplatePatch carries template fields to create or change.
// Exercises replaces the whole list when set.
type TemplatePatch struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	Notes       *string             `json:"notes,omitempty"`
	Exercises   *[]TemplateExercise `json:"exercises,omitempty"`
}

func (*TemplatePatch) Kind() EntityKind { return KindTemplate }

func (p *TemplatePatch) Validate() error {
	if err := nonEmpty(KindTemplate, "name", p.Name); err != nil {
		return err
	}
	if p.Exercises == nil {
		return nil
	}
	for i, ex := range *p.Exercises {
		if ex.ExerciseID == "" {
			return validationf("template exercise %d requires exerciseId", i)
		}
		if ex.Order < 0 || ex.Sets < 0 || ex.Reps < 0 {
			return validationf("template exercise %d has negative order, sets or reps", i)
		}
		if err := firstError(
			nonNegativeFloat(KindTemplate, "exercise weight", ex.Weight),
			nonNegativeInt(KindTemplate, "exercise restSeconds", ex.RestSeconds),
		); err != nil {
			return err
		}
	}
	return nil
}

func (p *TemplatePatch) validateCreate() error {
	return requireString(KindTemplate, "name", p.Name)
}
