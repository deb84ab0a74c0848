package models

import (
	"bytes"
	"encoding/json"
)

// Opt is a tagged optional distinguishing three mutation states for a field:
// absent from the payload (leave unchanged), explicit JSON null (clear), or a
// concrete value (set). Plain pointers cannot express the first case, so every
// mutable record field is declared as an Opt.
type Opt[T any] struct {
	set   bool
	null  bool
	value T
}

// SetValue returns an Opt carrying a concrete value.
func SetValue[T any](v T) Opt[T] {
	return Opt[T]{set: true, value: v}
}

// SetNull returns an Opt representing an explicit null.
func SetNull[T any]() Opt[T] {
	return Opt[T]{set: true, null: true}
}

// IsSet reports whether the field appeared in the payload at all.
func (o Opt[T]) IsSet() bool {
	return o.set
}

// IsNull reports whether the field was an explicit null.
func (o Opt[T]) IsNull() bool {
	return o.set && o.null
}

// Value returns the concrete value and whether one is present.
func (o Opt[T]) Value() (T, bool) {
	if !o.set || o.null {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Ptr returns the value as a nullable pointer, mapping explicit null to nil.
func (o Opt[T]) Ptr() *T {
	if v, ok := o.Value(); ok {
		return &v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. It is only invoked for keys
// present in the payload, so absence is represented by the zero Opt.
func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	o.set = true
	if bytes.Equal(data, []byte("null")) {
		o.null = true
		var zero T
		o.value = zero
		return nil
	}
	o.null = false
	return json.Unmarshal(data, &o.value)
}

// MarshalJSON implements json.Marshaler.
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.set || o.null {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
