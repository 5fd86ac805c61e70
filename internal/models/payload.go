package models

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
)

// Payload is the typed body of an outbox entry. Create and update entries
// carry the per-kind patch type; delete entries carry a *Tombstone.
// Unset (nil) patch fields mean "unchanged".
type Payload interface {
	Kind() EntityKind
	Validate() error
}

// creatable is implemented by patches that have fields required at creation.
type creatable interface {
	validateCreate() error
}

// Tombstone is the payload of a delete operation.
type Tombstone struct {
	Entity  EntityKind `json:"-"`
	LocalID string     `json:"localId"`
}

func (t *Tombstone) Kind() EntityKind { return t.Entity }

func (t *Tombstone) Validate() error {
	if t.LocalID == "" {
		return apperrors.New(apperrors.ErrValidation, "tombstone requires localId")
	}
	return nil
}

// NewPayload returns an empty patch for kind k.
func NewPayload(k EntityKind) (Payload, error) {
	switch k {
	case KindExercise:
		return &ExercisePatch{}, nil
	case KindTemplate:
		return &TemplatePatch{}, nil
	case KindWorkout:
		return &WorkoutPatch{}, nil
	case KindWorkoutExercise:
		return &WorkoutExercisePatch{}, nil
	case KindWorkoutSet:
		return &WorkoutSetPatch{}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", k)
}

// DecodePayload re-hydrates a stored payload for an operation of type typ on kind k.
func DecodePayload(typ OperationType, k EntityKind, data []byte) (Payload, error) {
	if typ == OperationDelete {
		t := &Tombstone{Entity: k}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("failed to decode tombstone: %w", err)
		}
		return t, nil
	}
	p, err := NewPayload(k)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", k, err)
	}
	return p, nil
}

// CheckPayload validates that p is the right shape for an operation of type typ on kind k.
func CheckPayload(typ OperationType, k EntityKind, p Payload) error {
	if !typ.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown operation type %q", typ)
	}
	if !k.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", k)
	}
	if p == nil {
		return apperrors.Newf(apperrors.ErrValidation, "%s %s requires a payload", typ, k)
	}
	if p.Kind() != k {
		return apperrors.Newf(apperrors.ErrValidation, "%s payload enqueued for %s", p.Kind(), k)
	}
	_, isTombstone := p.(*Tombstone)
	if (typ == OperationDelete) != isTombstone {
		return apperrors.Newf(apperrors.ErrValidation, "%s operation cannot carry %T", typ, p)
	}
	return p.Validate()
}

// ValidateCreate checks p as the full field set of a new record.
func ValidateCreate(p Payload) error {
	if p == nil {
		return apperrors.New(apperrors.ErrValidation, "create requires a payload")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if c, ok := p.(creatable); ok {
		return c.validateCreate()
	}
	return nil
}

// MergePayloads overlays later onto earlier field by field; later values win.
func MergePayloads(earlier, later Payload) (Payload, error) {
	if earlier.Kind() != later.Kind() {
		return nil, apperrors.Newf(apperrors.ErrValidation, "cannot merge %s payload into %s", later.Kind(), earlier.Kind())
	}
	if _, ok := earlier.(*Tombstone); ok {
		return nil, apperrors.New(apperrors.ErrValidation, "cannot merge into a tombstone")
	}
	if _, ok := later.(*Tombstone); ok {
		return nil, apperrors.New(apperrors.ErrValidation, "cannot merge a tombstone")
	}

	base, err := fieldMap(earlier)
	if err != nil {
		return nil, err
	}
	over, err := fieldMap(later)
	if err != nil {
		return nil, err
	}
	for k, v := range over {
		base[k] = v
	}

	data, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged payload: %w", err)
	}
	return DecodePayload(OperationUpdate, earlier.Kind(), data)
}

func fieldMap(p Payload) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Kind(), err)
	}
	m := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload fields: %w", p.Kind(), err)
	}
	return m, nil
}

func validationf(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ErrValidation, format, args...)
}

func requireString(kind EntityKind, field string, v *string) error {
	if v == nil || *v == "" {
		return validationf("%s requires %s", kind, field)
	}
	return nil
}

func nonEmpty(kind EntityKind, field string, v *string) error {
	if v != nil && *v == "" {
		return validationf("%s %s must not be empty", kind, field)
	}
	return nil
}

func nonNegativeInt(kind EntityKind, field string, v *int) error {
	if v != nil && *v < 0 {
		return validationf("%s %s must not be negative", kind, field)
	}
	return nil
}

func nonNegativeFloat(kind EntityKind, field string, v *float64) error {
	if v != nil && *v < 0 {
		return validationf("%s %s must not be negative", kind, field)
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
