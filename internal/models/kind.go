// Package models provides data model definitions for the fitsync local store and outbox.
package models

import (
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
)

// EntityKind names one synchronized domain entity type.
type EntityKind string

const (
	KindExercise        EntityKind = "exercise"
	KindTemplate        EntityKind = "template"
	KindWorkout         EntityKind = "workout"
	KindWorkoutExercise EntityKind = "workout_exercise"
	KindWorkoutSet      EntityKind = "workout_set"
)

// Kinds lists every entity kind, parents before children.
var Kinds = []EntityKind{
	KindExercise,
	KindTemplate,
	KindWorkout,
	KindWorkoutExercise,
	KindWorkoutSet,
}

type kindInfo struct {
	table      string // local SQLite table
	collection string // REST collection segment under /api/
	wireKey    string // key in the pull response
}

var kindInfos = map[EntityKind]kindInfo{
	KindExercise:        {"exercises", "exercises", "exercises"},
	KindTemplate:        {"templates", "templates", "templates"},
	KindWorkout:         {"workouts", "workouts", "workouts"},
	KindWorkoutExercise: {"workout_exercises", "workout-exercises", "workoutExercises"},
	KindWorkoutSet:      {"workout_sets", "workout-sets", "workoutSets"},
}

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	_, ok := kindInfos[k]
	return ok
}

// Table returns the local table name for k.
func (k EntityKind) Table() string { return kindInfos[k].table }

// Collection returns the REST collection segment for k.
func (k EntityKind) Collection() string { return kindInfos[k].collection }

// WireKey returns the pull-response key carrying entities of kind k.
func (k EntityKind) WireKey() string { return kindInfos[k].wireKey }

// ParseKind accepts a kind name, table name or wire key.
func ParseKind(s string) (EntityKind, error) {
	for k, info := range kindInfos {
		if s == string(k) || s == info.table || s == info.collection || s == info.wireKey {
			return k, nil
		}
	}
	return "", apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", s)
}

// SyncStatus tracks whether a record diverged from the last known server state.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// OperationType is the kind of mutation an outbox entry carries.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}
