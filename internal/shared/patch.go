package shared

import (
	"bytes"
	"encoding/json"
)

// Nullable distinguishes the three PATCH states of an optional field: absent
// (leave unchanged), explicit null (clear), and a value (set). A plain
// pointer cannot express the clear state.
type Nullable[T any] struct {
	Set   bool
	Valid bool
	Value T
}

// NullableOf builds a set, non-null value. Test and service-side helper.
func NullableOf[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Valid: true, Value: v}
}

// NullableNull builds an explicit null, the clear request.
func NullableNull[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// UnmarshalJSON records field presence; a JSON null leaves Valid false.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// MarshalJSON round-trips the value; absent and null both render as null.
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Set || !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Ptr returns the value as a pointer, nil when absent or null.
func (n Nullable[T]) Ptr() *T {
	if !n.Set || !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}
