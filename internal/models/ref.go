package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Identified is anything that can be referenced by a bare identifier.
type Identified interface {
	Identity() string
}

// Ref is either a bare identifier or a populated value. Clients may send
// `"abc"` or `{"id":"abc",...}` for the same field; both decode into a Ref
// and ID() is the same in either case.
type Ref[T Identified] struct {
	id    string
	value *T
}

func RefID[T Identified](id string) Ref[T] {
	return Ref[T]{id: id}
}

func Populated[T Identified](v T) Ref[T] {
	return Ref[T]{id: v.Identity(), value: &v}
}

func (r Ref[T]) ID() string {
	return r.id
}

// Value returns the populated value, if the reference carried one.
func (r Ref[T]) Value() (T, bool) {
	if r.value == nil {
		var zero T
		return zero, false
	}
	return *r.value, true
}

func (r Ref[T]) IsZero() bool {
	return r.id == "" && r.value == nil
}

func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = Ref[T]{}
		return nil
	case data[0] == '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Ref[T]{id: id}
		return nil
	case data[0] == '{':
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*r = Populated(v)
		return nil
	}
	return fmt.Errorf("reference must be a string or an object, got %s", data)
}

func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.value != nil {
		return json.Marshal(r.value)
	}
	if r.id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.id)
}
