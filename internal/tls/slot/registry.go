// Package slot implements the process-wide thread-local slot registry.
//
// The registry assigns each declared thread-local variable a stable ID and
// keeps its immutable Descriptor. Registrations are serialized by a mutex;
// lookups read an atomically published table and never block, which keeps
// them off the lock on the access hot path.
//
// The table is append-only. A published slice header is never modified
// after it is stored, and appends only write past every published length,
// so a reader holding an older header keeps a consistent prefix.
package slot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/barkimedes/go-deepcopy"

	"github.com/kolkov/threadlocal/internal/tls/sitedepot"
)

// DefaultMaxSlots is the slot ID space used when none is configured.
const DefaultMaxSlots = 1 << 16

var (
	// ErrRegistrationExhausted is returned when every slot ID has been handed out.
	ErrRegistrationExhausted = errors.New("slot: registration exhausted")

	// ErrInvalidSpec is returned for a Spec that cannot describe a slot.
	ErrInvalidSpec = errors.New("slot: invalid spec")
)

// Registry maps slot IDs to descriptors.
type Registry struct {
	// mu serializes Register. Readers never take it.
	mu sync.Mutex

	// table holds descriptors in ID order: table[i].ID == i+1.
	table atomic.Pointer[[]*Descriptor]

	maxSlots uint32
}

// NewRegistry creates an empty registry handing out at most maxSlots IDs.
// maxSlots <= 0 selects DefaultMaxSlots.
func NewRegistry(maxSlots int) *Registry {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}
	r := &Registry{maxSlots: uint32(maxSlots)}
	empty := make([]*Descriptor, 0, 16)
	r.table.Store(&empty)
	return r
}

// Register assigns the next slot ID to spec.
//
// The default bytes are copied, so later changes to spec.Default are not
// observed. Safe for concurrent use; concurrent callers receive distinct IDs.
func (r *Registry) Register(spec Spec) (*Descriptor, error) {
	return r.register(spec, 1)
}

// RegisterAt is Register with the declaration site taken skip frames above
// the caller. Facades use it so reports point at user code.
func (r *Registry) RegisterAt(spec Spec, skip int) (*Descriptor, error) {
	return r.register(spec, skip+1)
}

func (r *Registry) register(spec Spec, skip int) (*Descriptor, error) {
	if err := validate(&spec); err != nil {
		return nil, err
	}

	def := make([]byte, spec.Size)
	copy(def, spec.Default)
	spec.Default = def

	site := sitedepot.Capture(skip + 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.table.Load()
	if uint32(len(cur)) >= r.maxSlots {
		return nil, fmt.Errorf("%w: %d slots in use", ErrRegistrationExhausted, len(cur))
	}

	d := &Descriptor{
		ID:   ID(len(cur) + 1),
		Spec: spec,
		Site: site,
	}

	// append writes past len(cur); readers of cur never look there.
	next := append(cur, d)
	r.table.Store(&next)
	return d, nil
}

func validate(spec *Spec) error {
	if spec.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidSpec, spec.Size)
	}
	if spec.Default != nil && len(spec.Default) != spec.Size {
		return fmt.Errorf("%w: default is %d bytes, size is %d", ErrInvalidSpec, len(spec.Default), spec.Size)
	}
	switch spec.Policy {
	case Lazy, Eager:
	default:
		return fmt.Errorf("%w: unknown policy %d", ErrInvalidSpec, spec.Policy)
	}
	switch spec.Reentry {
	case ReentryUnset, ReentryFatal, ReentryReturnDefault:
	default:
		return fmt.Errorf("%w: unknown reentry policy %d", ErrInvalidSpec, spec.Reentry)
	}
	return nil
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id ID) (*Descriptor, bool) {
	t := *r.table.Load()
	if id == Invalid || uint64(id) > uint64(len(t)) {
		return nil, false
	}
	return t[id-1], true
}

// Len returns the number of registered slots. It is also the highest ID.
func (r *Registry) Len() int {
	return len(*r.table.Load())
}

// Snapshot returns the descriptor table as of now, in ID order.
//
// The slice is shared and must not be modified.
func (r *Registry) Snapshot() []*Descriptor {
	return *r.table.Load()
}

// Since returns descriptors with IDs greater than n, in ID order.
func (r *Registry) Since(n int) []*Descriptor {
	t := *r.table.Load()
	if n >= len(t) {
		return nil
	}
	return t[n:]
}

// MaxSlots returns the size of the ID space.
func (r *Registry) MaxSlots() int {
	return int(r.maxSlots)
}

// Infos returns deep copies of every registered descriptor's data.
func (r *Registry) Infos() []Info {
	t := *r.table.Load()
	infos := make([]Info, len(t))
	for i, d := range t {
		infos[i] = d.Info()
	}
	return deepcopy.MustAnything(infos).([]Info)
}
