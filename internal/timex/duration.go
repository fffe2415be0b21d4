// Package timex has small time helpers: a JSON-friendly Duration and the
// microsecond-precision clock that every persisted timestamp goes through.
package timex

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration unmarshals from either a Go duration string ("3s", "5m") or an
// integer number of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

// Precision is the resolution of every stored timestamp. Both SQLite integer
// columns and PostgreSQL timestamptz hold microseconds.
const Precision = time.Microsecond

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Now is the default Clock: UTC truncated to Precision.
func Now() time.Time {
	return Normalize(time.Now())
}

// Normalize converts t to UTC at storage precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}
