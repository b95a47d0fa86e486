// Package tuple defines tuples, templates and the matching rule of the space.
//
// A template is a Tuple that may hold type wildcards (IntType, StringType,
// AnyType, ...) in place of values. A tuple stored in the space must be
// concrete. The untyped wildcard AnyType matches any concrete field; fields
// can never be null, so there is no null case to decide.
package tuple

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned for ill-typed tuples and templates
var ErrMalformed = errors.New("malformed tuple")

// Tuple is an ordered sequence of fields. Tuples are treated as immutable:
// holders that need to keep one past a call boundary take a Clone.
type Tuple []Field

// New builds a tuple from Go values and Field wildcards
func New(values ...any) (Tuple, error) {
	t := make(Tuple, 0, len(values))
	for i, v := range values {
		f, err := fieldOf(v)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		t = append(t, f)
	}
	return t, nil
}

// MustNew is New for literals known to be valid; it panics otherwise
func MustNew(values ...any) Tuple {
	t, err := New(values...)
	if err != nil {
		panic(err)
	}
	return t
}

// Wildcard returns an all-?any template of the given arity
func Wildcard(arity int) Tuple {
	t := make(Tuple, arity)
	for i := range t {
		t[i] = AnyType
	}
	return t
}

// Matches reports whether t matches template tmpl: equal arity and, per
// position, a wildcard of the same kind (or ?any) or an equal value.
func Matches(t, tmpl Tuple) bool {
	if len(t) != len(tmpl) {
		return false
	}
	for i := range tmpl {
		if !tmpl[i].accepts(t[i]) {
			return false
		}
	}
	return true
}

// Matches is the method form of Matches(t, tmpl)
func (t Tuple) Matches(tmpl Tuple) bool { return Matches(t, tmpl) }

// Equal reports pairwise field equality
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !t[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (t Tuple) Clone() Tuple {
	if t == nil {
		return nil
	}
	c := make(Tuple, len(t))
	for i, f := range t {
		c[i] = f.clone()
	}
	return c
}

// Concrete reports whether the tuple holds no wildcards
func (t Tuple) Concrete() bool {
	for _, f := range t {
		if f.Wild {
			return false
		}
	}
	return true
}

// Validate checks every field is well formed. Templates may carry wildcards.
func (t Tuple) Validate() error {
	for i, f := range t {
		if !f.valid() {
			return fmt.Errorf("%w: field %d has invalid kind %v", ErrMalformed, i, f.Kind)
		}
	}
	return nil
}

// ValidateConcrete is Validate plus the no-wildcard rule for stored tuples
func (t Tuple) ValidateConcrete() error {
	if err := t.Validate(); err != nil {
		return err
	}
	for i, f := range t {
		if f.Wild {
			return fmt.Errorf("%w: field %d is a wildcard (?%v)", ErrMalformed, i, f.Kind)
		}
	}
	return nil
}
