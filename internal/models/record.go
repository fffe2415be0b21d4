// Package models defines the records the client and the server exchange:
// the generic Record, its typed Vehicle and ServiceRecord views, the
// Collection names and the ChangeEvent carried by realtime subscriptions.
//
// A Record is flat when serialised. The reserved keys id, user_id,
// created_at and updated_at sit next to the domain fields:
//
//	{"id":"…","user_id":"…","created_at":"2024-05-01T10:00:00Z",
//	 "updated_at":"2024-05-02T08:30:00.000001Z","make":"Volvo","year":1972}
package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// Reserved record keys.
const (
	FieldID        = "id"
	FieldUserID    = "user_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Record is one row of a collection: identity, ownership, the two clocks and
// the remaining named fields.
type Record struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Fields    map[string]any
}

// Map returns the flat representation of r. Timestamps are RFC 3339 strings.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.Fields)+4)
	maps.Copy(m, r.Fields)
	m[FieldID] = r.ID
	m[FieldUserID] = r.UserID
	m[FieldCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	m[FieldUpdatedAt] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return m
}

// RecordFromMap is the inverse of Map. The reserved keys are lifted out and
// every other key becomes a field.
func RecordFromMap(m map[string]any) (*Record, error) {
	r := &Record{Fields: make(map[string]any, len(m))}

	for k, v := range m {
		switch k {
		case FieldID:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("record %s must be a string, got %T", k, v)
			}
			r.ID = s
		case FieldUserID:
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("record %s must be a string, got %T", k, v)
			}
			r.UserID = s
		case FieldCreatedAt, FieldUpdatedAt:
			t, err := parseTime(v)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", k, err)
			}
			if k == FieldCreatedAt {
				r.CreatedAt = t
			} else {
				r.UpdatedAt = t
			}
		default:
			r.Fields[k] = v
		}
	}

	if r.ID == "" {
		return nil, fmt.Errorf("record has no %s", FieldID)
	}
	return r, nil
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, err
		}
		return timex.Normalize(parsed), nil
	case time.Time:
		return timex.Normalize(t), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	parsed, err := RecordFromMap(m)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// Clone returns a copy whose field map can be modified independently.
// Nested values are shared.
func (r *Record) Clone() *Record {
	c := *r
	c.Fields = maps.Clone(r.Fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	return &c
}

// String returns the field value under key, or "" when absent or not a string.
func (r *Record) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// Float returns the numeric field value under key.
func (r *Record) Float(key string) (float64, bool) {
	switch v := r.Fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// NewRecord converts a typed view (Vehicle, ServiceRecord) to a Record
// through its JSON form.
func NewRecord(v any) (*Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	r := &Record{}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("failed to convert %T to record: %w", v, err)
	}
	return r, nil
}

// Decode fills a typed view from r.
func (r *Record) Decode(v any) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
