package tls

import (
	"github.com/niubaoshu/gotiny"
)

// Var is a typed thread-local variable.
//
// The value is kept in its slot as gotiny-encoded bytes: Get decodes the
// calling thread's copy and Set encodes into it. T must be a type gotiny
// can encode (numbers, strings, slices, maps, and structs of them).
type Var[T any] struct {
	eng *Engine
	id  ID
}

// NewVar declares a lazy thread-local variable on the default engine whose
// value on every thread starts as def.
func NewVar[T any](def T, opts ...Option) (*Var[T], error) {
	return newVar(Default(), def, opts, 1)
}

// NewVarIn is NewVar on engine e.
func NewVarIn[T any](e *Engine, def T, opts ...Option) (*Var[T], error) {
	return newVar(e, def, opts, 1)
}

// MustVar is like NewVar but panics on error.
func MustVar[T any](def T, opts ...Option) *Var[T] {
	v, err := newVar(Default(), def, opts, 1)
	if err != nil {
		panic(err)
	}
	return v
}

func newVar[T any](e *Engine, def T, opts []Option, skip int) (*Var[T], error) {
	enc := gotiny.Marshal(&def)
	// Encodings are variable-length, so the slot must accept any size.
	opts = append(opts[:len(opts):len(opts)], Resizable())
	id, err := declare(e, len(enc), enc, Lazy, opts, skip+1)
	if err != nil {
		return nil, err
	}
	return &Var[T]{eng: e, id: id}, nil
}

// ID returns the variable's slot.
func (v *Var[T]) ID() ID {
	return v.id
}

// Get returns the calling thread's value.
func (v *Var[T]) Get() (T, error) {
	var out T
	c, err := v.eng.Access(v.id)
	if err != nil {
		return out, err
	}
	b, err := c.Load()
	if err != nil {
		return out, err
	}
	gotiny.Unmarshal(b, &out)
	return out, nil
}

// Set replaces the calling thread's value.
func (v *Var[T]) Set(val T) error {
	c, err := v.eng.Access(v.id)
	if err != nil {
		return err
	}
	return c.Store(gotiny.Marshal(&val))
}

// Update applies fn to the calling thread's value and stores the result.
func (v *Var[T]) Update(fn func(T) T) error {
	cur, err := v.Get()
	if err != nil {
		return err
	}
	return v.Set(fn(cur))
}
