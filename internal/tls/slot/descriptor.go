package slot

import "fmt"

// ID is the logical identifier of one thread-local variable.
//
// IDs are assigned monotonically from 1 and are never reused for the
// lifetime of a Registry. The zero ID is never assigned.
type ID uint32

// Invalid is the zero slot ID.
const Invalid ID = 0

// Policy selects when a slot's default is materialized in a thread's block.
type Policy uint8

const (
	// Lazy materializes the default the first time a thread touches the slot.
	Lazy Policy = iota
	// Eager materializes the default when the thread's block is created.
	Eager
)

// String returns the string representation of a Policy.
func (p Policy) String() string {
	switch p {
	case Lazy:
		return "lazy"
	case Eager:
		return "eager"
	default:
		return "unknown"
	}
}

// Reentry selects what happens when a thread touches a slot while that
// same slot's initializer is still running on it.
type Reentry uint8

const (
	// ReentryUnset defers to the engine-wide default.
	ReentryUnset Reentry = iota
	// ReentryFatal treats re-entrant access as a contract violation.
	ReentryFatal
	// ReentryReturnDefault returns the cell, which holds the default
	// bytes until the initializer returns.
	ReentryReturnDefault
)

// String returns the string representation of a Reentry policy.
func (r Reentry) String() string {
	switch r {
	case ReentryUnset:
		return "unset"
	case ReentryFatal:
		return "fatal"
	case ReentryReturnDefault:
		return "default"
	default:
		return "unknown"
	}
}

// ParseReentry parses the names printed by Reentry.String.
func ParseReentry(s string) (Reentry, error) {
	switch s {
	case "fatal":
		return ReentryFatal, nil
	case "default":
		return ReentryReturnDefault, nil
	case "", "unset":
		return ReentryUnset, nil
	}
	return ReentryUnset, fmt.Errorf("unknown reentry policy %q", s)
}

// Spec is the caller's description of a thread-local variable.
type Spec struct {
	// Name is used in logs and reports only. May be empty.
	Name string

	// Size is the number of bytes of the slot's default value.
	Size int

	// Default is the byte pattern every thread observes before its first
	// write. nil means Size zero bytes; otherwise len(Default) must equal Size.
	Default []byte

	Policy  Policy
	Reentry Reentry

	// Resizable allows Store with a length other than Size. Typed
	// variables with variable-length encodings need this.
	Resizable bool

	// Inherit copies the parent thread's value into threads it spawns.
	Inherit bool

	// Init, if set, runs once per thread on dst, a copy of Default that
	// becomes the thread's value when Init returns. It runs on the owning
	// thread.
	Init func(dst []byte)

	// Finalize, if set, runs once per thread at thread exit for cells that
	// were materialized. It runs on the exiting thread after its storage
	// is marked dead, so it must not access thread-local storage.
	Finalize func(data []byte)
}

// Descriptor is a registered slot. Immutable after registration.
type Descriptor struct {
	ID ID
	Spec

	// Site is the sitedepot key of the declaration.
	Site uint64
}

// Info is the data-only view of a Descriptor handed out for diagnostics.
type Info struct {
	ID        ID
	Name      string
	Size      int
	Default   []byte
	Policy    Policy
	Reentry   Reentry
	Resizable bool
	Inherit   bool
	HasInit   bool
	Site      uint64
}

// Info returns the descriptor's data-only view. The returned Default
// aliases the descriptor; Registry.Infos returns deep copies.
func (d *Descriptor) Info() Info {
	return Info{
		ID:        d.ID,
		Name:      d.Name,
		Size:      d.Size,
		Default:   d.Default,
		Policy:    d.Policy,
		Reentry:   d.Reentry,
		Resizable: d.Resizable,
		Inherit:   d.Inherit,
		HasInit:   d.Init != nil,
		Site:      d.Site,
	}
}

// String returns "name(id)" or "slot(id)" for unnamed slots.
func (d *Descriptor) String() string {
	if d.Name == "" {
		return fmt.Sprintf("slot(%d)", d.ID)
	}
	return fmt.Sprintf("%s(%d)", d.Name, d.ID)
}
