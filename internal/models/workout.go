package models

import "time"

// WorkoutStatus is the lifecycle state of a workout session.
type WorkoutStatus string

const (
	WorkoutInProgress WorkoutStatus = "in_progress"
	WorkoutCompleted  WorkoutStatus = "completed"
	WorkoutCancelled  WorkoutStatus = "cancelled"
)

// Valid reports whether s is a known workout status.
func (s WorkoutStatus) Valid() bool {
	switch s {
	case WorkoutInProgress, WorkoutCompleted, WorkoutCancelled:
		return true
	}
	return false
}

// Workout is one training session. TemplateID holds the template's local id.
type Workout struct {
	SyncMeta    `json:"-"`
	TemplateID  string        `json:"templateId,omitempty"`
	Name        string        `json:"name"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Status      WorkoutStatus `json:"status"`
	Notes       string        `json:"notes,omitempty"`
}

func (*Workout) Kind() EntityKind { return KindWorkout }

// ConflictTime falls back to StartedAt for workouts that were never touched locally.
func (w *Workout) ConflictTime() time.Time {
	if w.UpdatedAt.IsZero() {
		return w.StartedAt
	}
	return w.UpdatedAt
}

func (w *Workout) Apply(p Payload) error {
	patch, ok := p.(*WorkoutPatch)
	if !ok {
		return payloadMismatch(KindWorkout, p)
	}
	if patch.TemplateID != nil {
		w.TemplateID = *patch.TemplateID
	}
	if patch.Name != nil {
		w.Name = *patch.Name
	}
	if patch.StartedAt != nil {
		w.StartedAt = *patch.StartedAt
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		w.CompletedAt = &t
	}
	if patch.Status != nil {
		w.Status = *patch.Status
	}
	if patch.Notes != nil {
		w.Notes = *patch.Notes
	}
	return nil
}

func (w *Workout) Snapshot() Payload {
	p := &WorkoutPatch{
		TemplateID: Ptr(w.TemplateID),
		Name:       Ptr(w.Name),
		StartedAt:  Ptr(w.StartedAt),
		Status:     Ptr(w.Status),
		Notes:      Ptr(w.Notes),
	}
	if w.CompletedAt != nil {
		p.CompletedAt = Ptr(*w.CompletedAt)
	}
	return p
}

// WorkoutPatch carries workout fields to create or change.
type WorkoutPatch struct {
	TemplateID  *string        `json:"templateId,omitempty"`
	Name        *string        `json:"name,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Status      *WorkoutStatus `json:"status,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
}

func (*WorkoutPatch) Kind() EntityKind { return KindWorkout }

func (p *WorkoutPatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return validationf("unknown workout status %q", *p.Status)
	}
	if p.StartedAt != nil && p.CompletedAt != nil && p.CompletedAt.Before(*p.StartedAt) {
		return validationf("workout completedAt is before startedAt")
	}
	return nil
}
