// Package initdispatch materializes slot defaults in thread blocks.
//
// Every (thread, slot) pair moves through three states exactly once:
//
//	Uninitialized --touch/eager--> Initializing --default written, Init done--> Initialized
//
// The cell holds a copy of the default while Init runs on a scratch copy
// of its own; the scratch bytes are installed when Init returns. A
// re-entrant touch from inside Init therefore observes the default, and a
// re-entrant store cannot change what Init produces. Whether such a
// touch is allowed is the slot's Reentry policy; the dispatcher only
// reports it and leaves the decision to the caller.
//
// No locks are taken: a block is only ever touched by its owning thread,
// so the Initializing state can only be observed through re-entrance on
// that same thread, never through interleaving with another one.
package initdispatch

import (
	"errors"
	"sync/atomic"

	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/slot"
)

// ErrReentrant is returned by Materialize for a cell whose initializer is running.
var ErrReentrant = errors.New("initdispatch: re-entrant initialization")

// materializations counts completed materializations process-wide.
var materializations atomic.Int64

// Outcome describes what Materialize did.
type Outcome uint8

const (
	// Ready means the cell was already initialized; nothing ran.
	Ready Outcome = iota
	// Materialized means this call initialized the cell.
	Materialized
	// Reentered means the cell is mid-initialization on this thread.
	Reentered
)

// Materialize initializes c if it is Uninitialized.
//
// On an Initializing cell it returns Reentered and ErrReentrant without
// touching the cell; the caller applies the slot's Reentry policy.
func Materialize(c *block.Cell) (Outcome, error) {
	switch c.State() {
	case block.Initialized:
		return Ready, nil
	case block.Initializing:
		return Reentered, ErrReentrant
	}

	d := c.Descriptor()
	c.Fill(d.Default)
	c.SetState(block.Initializing)
	if d.Init != nil {
		// A panic in Init leaves the cell Initializing. The thread is
		// faulting, and exit destroys the block without finalizing it.
		scratch := make([]byte, len(c.Data()))
		copy(scratch, c.Data())
		d.Init(scratch)
		c.Fill(scratch)
	}
	c.SetState(block.Initialized)
	materializations.Add(1)
	return Materialized, nil
}

// Inherit initializes c from a parent thread's value instead of its default.
//
// Init is not run. A cell that is not Uninitialized is left alone.
func Inherit(c *block.Cell, parent []byte) bool {
	if c.State() != block.Uninitialized {
		return false
	}
	c.Fill(parent)
	c.SetState(block.Initialized)
	materializations.Add(1)
	return true
}

// Eager materializes every eager-policy cell in cells, in ID order.
// It returns the number of cells it initialized.
func Eager(cells []*block.Cell) int {
	n := 0
	for _, c := range cells {
		if c.Descriptor().Policy != slot.Eager {
			continue
		}
		if out, _ := Materialize(c); out == Materialized {
			n++
		}
	}
	return n
}

// Materializations returns the process-wide count of completed initializations.
func Materializations() int64 {
	return materializations.Load()
}
