package state

import (
	"encoding/json"
	"fmt"
)

// TriState carries a field value that is either present (including an
// explicit false or empty value) or absent. Absence must never be
// conflated with a falsy value; every check goes through the explicit
// present flag, never truthiness.
type TriState struct {
	value   any
	present bool
}

// Absent returns the absent TriState.
func Absent() TriState {
	return TriState{}
}

// Of returns a present TriState holding v. Passing a boolean false is
// valid and yields present-false, not absent.
func Of(v any) TriState {
	return TriState{value: v, present: true}
}

// Present reports whether the value is explicitly present.
func (t TriState) Present() bool {
	return t.present
}

// Value returns the held value and whether it is present.
func (t TriState) Value() (any, bool) {
	return t.value, t.present
}

// String returns the value as a string when present and of string type.
func (t TriState) String() (string, bool) {
	if !t.present {
		return "", false
	}
	s, ok := t.value.(string)
	return s, ok
}

// Bool returns the value as a bool when present and of bool type.
func (t TriState) Bool() (bool, bool) {
	if !t.present {
		return false, false
	}
	b, ok := t.value.(bool)
	return b, ok
}

// Float returns the value as a float64 when present and numeric.
func (t TriState) Float() (float64, bool) {
	if !t.present {
		return 0, false
	}
	switch v := t.value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

type triStateJSON struct {
	Present bool `json:"present"`
	Value   any  `json:"value,omitempty"`
}

// MarshalJSON keeps the present flag on the wire so a persisted
// present-false survives the round trip.
func (t TriState) MarshalJSON() ([]byte, error) {
	return json.Marshal(triStateJSON{Present: t.present, Value: t.value})
}

func (t *TriState) UnmarshalJSON(b []byte) error {
	var raw triStateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("unmarshal tristate: %w", err)
	}
	t.present = raw.Present
	t.value = raw.Value
	return nil
}
