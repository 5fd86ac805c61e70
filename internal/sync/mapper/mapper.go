// Package mapper translates between local records and the remote API's wire shape.
//
// Local → wire renames fields, swaps local reference ids for server ids and
// formats timestamps. Wire → local reverses the renames, coerces loosely typed
// values and fills defaults the server may omit.
package mapper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// TimeLayout is the ISO-8601 form sent to the server.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// IDResolver finds the server id of a locally stored record.
// It returns "" when the record has none yet.
type IDResolver interface {
	ServerID(ctx context.Context, kind models.EntityKind, localID string) (string, error)
}

type fieldType int

const (
	fieldString fieldType = iota
	fieldNumber
	fieldBool
	fieldTime
	fieldRef
	fieldTemplateExercises
)

// field maps one local payload key to its wire key.
type field struct {
	local string
	wire  string
	typ   fieldType
	ref   models.EntityKind
}

var fields = map[models.EntityKind][]field{
	models.KindExercise: {
		{local: "name", wire: "name"},
		{local: "muscleGroup", wire: "muscleGroup"},
		{local: "description", wire: "description"},
	},
	models.KindTemplate: {
		{local: "name", wire: "name"},
		{local: "description", wire: "description"},
		{local: "notes", wire: "notes"},
		{local: "exercises", wire: "exercises", typ: fieldTemplateExercises},
	},
	models.KindWorkout: {
		{local: "templateId", wire: "templateId", typ: fieldRef, ref: models.KindTemplate},
		{local: "name", wire: "name"},
		{local: "startedAt", wire: "startedAt", typ: fieldTime},
		{local: "completedAt", wire: "completedAt", typ: fieldTime},
		{local: "status", wire: "status"},
		{local: "notes", wire: "notes"},
	},
	models.KindWorkoutExercise: {
		{local: "workoutId", wire: "workoutId", typ: fieldRef, ref: models.KindWorkout},
		{local: "exerciseId", wire: "exerciseId", typ: fieldRef, ref: models.KindExercise},
		{local: "order", wire: "orderIndex", typ: fieldNumber},
		{local: "notes", wire: "notes"},
	},
	models.KindWorkoutSet: {
		{local: "workoutExerciseId", wire: "workoutExerciseId", typ: fieldRef, ref: models.KindWorkoutExercise},
		{local: "order", wire: "orderIndex", typ: fieldNumber},
		{local: "setNumber", wire: "setNumber", typ: fieldNumber},
		{local: "weight", wire: "weight", typ: fieldNumber},
		{local: "reps", wire: "reps", typ: fieldNumber},
		{local: "rpe", wire: "rpe", typ: fieldNumber},
		{local: "completed", wire: "isComplete", typ: fieldBool},
	},
}

var templateExerciseFields = []field{
	{local: "exerciseId", wire: "exerciseId", typ: fieldRef, ref: models.KindExercise},
	{local: "order", wire: "orderIndex", typ: fieldNumber},
	{local: "sets", wire: "sets", typ: fieldNumber},
	{local: "reps", wire: "reps", typ: fieldNumber},
	{local: "weight", wire: "targetWeight", typ: fieldNumber},
	{local: "restSeconds", wire: "restSeconds", typ: fieldNumber},
}

// Mapper converts outbox operations to request bodies and pulled entities to records.
type Mapper struct {
	ids IDResolver
}

// New creates a Mapper resolving reference ids through ids.
func New(ids IDResolver) *Mapper {
	return &Mapper{ids: ids}
}

// ToWire builds the request body for op. meta is the bookkeeping of the
// record op targets.
func (m *Mapper) ToWire(ctx context.Context, op *models.OfflineOperation, meta *models.SyncMeta) (map[string]interface{}, error) {
	body := map[string]interface{}{"localId": op.LocalID}
	if meta.ServerID != "" {
		body["id"] = meta.ServerID
	}
	if op.Type == models.OperationDelete {
		return body, nil
	}

	local, err := toMap(op.Payload)
	if err != nil {
		return nil, err
	}
	for _, f := range fields[op.EntityKind] {
		v, ok := local[f.local]
		if !ok {
			continue
		}
		out, err := m.valueToWire(ctx, f, v)
		if err != nil {
			return nil, err
		}
		body[f.wire] = out
	}
	if meta.OwnerID != "" {
		body["userId"] = meta.OwnerID
	}
	if op.Type == models.OperationCreate {
		delete(body, "id")
	}
	return body, nil
}

func (m *Mapper) valueToWire(ctx context.Context, f field, v interface{}) (interface{}, error) {
	switch f.typ {
	case fieldRef:
		localID, _ := v.(string)
		return m.resolve(ctx, f.ref, localID)

	case fieldTime:
		t, err := toTime(v)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("bad %s", f.local), err)
		}
		return FormatTime(t), nil

	case fieldTemplateExercises:
		items, _ := v.([]interface{})
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			mapped := make(map[string]interface{}, len(obj))
			for _, sub := range templateExerciseFields {
				sv, ok := obj[sub.local]
				if !ok {
					continue
				}
				wv, err := m.valueToWire(ctx, sub, sv)
				if err != nil {
					return nil, err
				}
				mapped[sub.wire] = wv
			}
			out = append(out, mapped)
		}
		return out, nil
	}
	return v, nil
}

// resolve swaps a local reference for the server id when one is known.
func (m *Mapper) resolve(ctx context.Context, kind models.EntityKind, localID string) (string, error) {
	if localID == "" || m.ids == nil {
		return localID, nil
	}
	serverID, err := m.ids.ServerID(ctx, kind, localID)
	if err != nil {
		return "", err
	}
	if serverID == "" {
		return localID, nil
	}
	return serverID, nil
}

// Ref names a record that a payload points at by local id.
type Ref struct {
	Kind    models.EntityKind
	LocalID string
}

// References lists the records op's payload refers to, template items included.
// Delete operations carry no references.
func References(op *models.OfflineOperation) ([]Ref, error) {
	if op.Type == models.OperationDelete {
		return nil, nil
	}
	local, err := toMap(op.Payload)
	if err != nil {
		return nil, err
	}
	var refs []Ref
	for _, f := range fields[op.EntityKind] {
		v, ok := local[f.local]
		if !ok {
			continue
		}
		switch f.typ {
		case fieldRef:
			if id, _ := v.(string); id != "" {
				refs = append(refs, Ref{Kind: f.ref, LocalID: id})
			}
		case fieldTemplateExercises:
			items, _ := v.([]interface{})
			for _, item := range items {
				obj, _ := item.(map[string]interface{})
				if id, _ := obj["exerciseId"].(string); id != "" {
					refs = append(refs, Ref{Kind: models.KindExercise, LocalID: id})
				}
			}
		}
	}
	return refs, nil
}

// RemoteEntity is one entity from a pull response.
type RemoteEntity struct {
	Kind      models.EntityKind
	ServerID  string
	LocalID   string
	UpdatedAt time.Time
	Deleted   bool
	// Record holds the remote domain fields in local shape, with defaults filled.
	Record models.Record
}

// Snapshot encodes the remote record's domain fields in local shape.
func (e *RemoteEntity) Snapshot() (json.RawMessage, error) {
	data, err := json.Marshal(e.Record.Snapshot())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, fmt.Sprintf("cannot encode %s %s", e.Kind, e.ServerID), err)
	}
	return data, nil
}

// FromWire decodes one pulled entity of kind.
func FromWire(kind models.EntityKind, raw json.RawMessage) (*RemoteEntity, error) {
	if !kind.Valid() {
		return nil, apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", kind)
	}
	wire, err := decodeObject(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("malformed %s entity", kind), err)
	}

	e := &RemoteEntity{Kind: kind}
	if e.ServerID, err = toString(wire["id"]); err != nil || e.ServerID == "" {
		return nil, apperrors.Newf(apperrors.ErrValidation, "%s entity without id", kind)
	}
	if v, ok := wire["localId"]; ok && v != nil {
		e.LocalID, _ = toString(v)
	}
	if e.UpdatedAt, err = toTime(wire["updatedAt"]); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("%s %s has no usable updatedAt", kind, e.ServerID), err)
	}
	if v, ok := wire["isDeleted"]; ok && v != nil {
		if e.Deleted, err = toBool(v); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "bad isDeleted", err)
		}
	}

	local := make(map[string]interface{})
	for _, f := range fields[kind] {
		v, ok := wire[f.wire]
		if !ok || v == nil {
			continue
		}
		local[f.local] = renameFromWire(f, v)
	}
	fillDefaults(kind, local, e.UpdatedAt)

	patch, err := models.NewPayload(kind)
	if err != nil {
		return nil, err
	}
	if err := decodeLoose(local, patch); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("cannot coerce %s %s", kind, e.ServerID), err)
	}

	rec, err := models.NewRecord(kind)
	if err != nil {
		return nil, err
	}
	if err := rec.Apply(patch); err != nil {
		return nil, err
	}

	meta := rec.Meta()
	meta.LocalID = e.LocalID
	meta.ServerID = e.ServerID
	meta.OwnerID, _ = toString(wire["userId"])
	meta.UpdatedAt = e.UpdatedAt
	meta.CreatedAt = e.UpdatedAt
	if v, ok := wire["createdAt"]; ok && v != nil {
		if t, err := toTime(v); err == nil {
			meta.CreatedAt = t
		}
	}
	meta.MarkSynced(&e.UpdatedAt)
	meta.Deleted = e.Deleted

	e.Record = rec
	return e, nil
}

func renameFromWire(f field, v interface{}) interface{} {
	if f.typ != fieldTemplateExercises {
		return v
	}
	items, _ := v.([]interface{})
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		mapped := make(map[string]interface{}, len(obj))
		for _, sub := range templateExerciseFields {
			if sv, ok := obj[sub.wire]; ok && sv != nil {
				mapped[sub.local] = sv
			}
		}
		out = append(out, mapped)
	}
	return out
}

// fillDefaults supplies fields the server may leave out.
func fillDefaults(kind models.EntityKind, local map[string]interface{}, updatedAt time.Time) {
	switch kind {
	case models.KindWorkout:
		if _, ok := local["startedAt"]; !ok {
			local["startedAt"] = updatedAt
		}
		if _, ok := local["status"]; !ok {
			local["status"] = string(models.WorkoutCompleted)
		}
	case models.KindTemplate:
		if _, ok := local["exercises"]; !ok {
			local["exercises"] = []interface{}{}
		}
	}
}

// decodeLoose decodes a local-shaped map into a patch, accepting numeric
// strings, 0/1 booleans, numeric ids and ISO-8601 or epoch-millis timestamps.
func decodeLoose(in map[string]interface{}, out models.Payload) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       timeHook,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

var timeType = reflect.TypeOf(time.Time{})

func timeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != timeType || from == timeType {
		return data, nil
	}
	return toTime(data)
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return time.Time{}, err
			}
			ms = int64(f)
		}
		return time.UnixMilli(ms).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		parsed, err := cast.ToTimeE(t)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %T", v)
}

func toString(v interface{}) (string, error) {
	if n, ok := v.(json.Number); ok {
		return n.String(), nil
	}
	return cast.ToStringE(v)
}

func toBool(v interface{}) (bool, error) {
	if n, ok := v.(json.Number); ok {
		return cast.ToBoolE(n.String())
	}
	return cast.ToBoolE(v)
}

// Ack is the server's answer to a create or update.
type Ack struct {
	ServerID  string
	UpdatedAt *time.Time
}

// DecodeAck reads {id, updatedAt} from a push response. An empty body
// yields an empty Ack; a missing or unparsable updatedAt is left nil.
func DecodeAck(raw json.RawMessage) (*Ack, error) {
	ack := &Ack{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return ack, nil
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "malformed push response", err)
	}
	if v, ok := obj["id"]; ok && v != nil {
		ack.ServerID, _ = toString(v)
	}
	if v, ok := obj["updatedAt"]; ok && v != nil {
		if t, err := toTime(v); err == nil {
			ack.UpdatedAt = &t
		}
	}
	return ack, nil
}

// FormatTime renders t the way the server expects.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func toMap(p models.Payload) (map[string]interface{}, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Kind(), err)
	}
	return decodeObject(data)
}

func decodeObject(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return m, nil
}
