package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kolkov/threadlocal/internal/tls/handle"
	"github.com/kolkov/threadlocal/internal/tls/slot"
)

var (
	// ErrNotAttached is returned by Access from a goroutine that is not a thread.
	ErrNotAttached = errors.New("engine: goroutine is not an attached thread")

	// ErrUnknownSlot is returned for a slot ID the registry never assigned.
	ErrUnknownSlot = errors.New("engine: unknown slot")
)

// Sentinels matched by errors.Is against a *ContractViolation of that kind.
var (
	ErrUseAfterThreadExit      = errors.New("use after thread exit")
	ErrForeignThreadAccess     = errors.New("foreign thread access")
	ErrReentrantInitialization = errors.New("re-entrant initialization")
	ErrDoubleExit              = errors.New("double thread exit")
)

// ViolationKind classifies a contract violation.
type ViolationKind uint8

const (
	// UseAfterThreadExit is an access to storage of a thread that has exited.
	UseAfterThreadExit ViolationKind = iota + 1
	// ForeignThreadAccess is an access to a thread's storage from another goroutine.
	ForeignThreadAccess
	// ReentrantInitialization is an access to a slot from inside its own
	// initializer, on a slot whose reentry policy is fatal.
	ReentrantInitialization
	// DoubleExit is a second exit signal for the same thread.
	DoubleExit
)

// String returns the string representation of a ViolationKind.
func (k ViolationKind) String() string {
	switch k {
	case UseAfterThreadExit:
		return "use after thread exit"
	case ForeignThreadAccess:
		return "foreign thread access"
	case ReentrantInitialization:
		return "re-entrant initialization"
	case DoubleExit:
		return "double thread exit"
	default:
		return "unknown violation"
	}
}

func (k ViolationKind) sentinel() error {
	switch k {
	case UseAfterThreadExit:
		return ErrUseAfterThreadExit
	case ForeignThreadAccess:
		return ErrForeignThreadAccess
	case ReentrantInitialization:
		return ErrReentrantInitialization
	case DoubleExit:
		return ErrDoubleExit
	}
	return nil
}

// ContractViolation is a misuse of thread-local storage that is
// unreachable in a correct program.
//
// The engine hands every violation to Config.OnViolation, which by default
// prints a report and panics. The same value is returned from the
// operation that detected it when the handler returns.
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type ContractViolation struct {
	Kind ViolationKind

	// Slot is Invalid for violations not tied to one slot (DoubleExit).
	Slot     slot.ID
	SlotName string
	// DeclSite is the sitedepot key of the slot declaration.
	DeclSite uint64

	Thread      handle.Handle
	Incarnation uuid.UUID
	// StartSite is the sitedepot key of the thread start.
	StartSite uint64

	OwnerGoid  int64
	CallerGoid int64

	// Site is the sitedepot key of the offending call.
	Site uint64
}

// Error implements the error interface.
//
// Format: kind: slot name(id) on thread index#gen [by goroutine N, owner M]
func (v *ContractViolation) Error() string {
	msg := v.Kind.String() + ":"
	if v.Slot != slot.Invalid {
		if v.SlotName != "" {
			msg += fmt.Sprintf(" slot %s(%d)", v.SlotName, v.Slot)
		} else {
			msg += fmt.Sprintf(" slot %d", v.Slot)
		}
	}
	msg += " on thread " + v.Thread.String()
	if v.CallerGoid != v.OwnerGoid {
		msg += fmt.Sprintf(" by goroutine %d, owner %d", v.CallerGoid, v.OwnerGoid)
	}
	return msg
}

// Is reports whether target is the sentinel for the violation's kind.
func (v *ContractViolation) Is(target error) bool {
	return target != nil && target == v.Kind.sentinel()
}

// ThreadFault is a panic on a thread: in the body or an initializer of a
// thread started by Run, or in a finalizer during Exit.
//
// The thread's block was destroyed before the fault was returned.
type ThreadFault struct {
	Thread handle.Handle
	Value  any
	Stack  []byte
}

// Error implements the error interface.
func (f *ThreadFault) Error() string {
	return fmt.Sprintf("thread %v faulted: %v", f.Thread, f.Value)
}

// Unwrap returns the panic value if it is an error.
func (f *ThreadFault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}
