package engine

import (
	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/initdispatch"
	"github.com/kolkov/threadlocal/internal/tls/sitedepot"
	"github.com/kolkov/threadlocal/internal/tls/slot"
	"github.com/kolkov/threadlocal/internal/tls/threads"
)

// resolve maps (calling thread, id) to the calling thread's cell.
//
// Called on every access. It never returns a cell of another goroutine's
// block and never returns a cell of a destroyed block; both are reported
// as violations instead.
func (e *Engine) resolve(blk *block.Block, id slot.ID) (*block.Cell, error) {
	if !blk.Alive() {
		return nil, e.violate(UseAfterThreadExit, blk, e.descOrNil(id), threads.Goid())
	}
	if g := threads.Goid(); g != blk.Goid {
		return nil, e.violate(ForeignThreadAccess, blk, e.descOrNil(id), g)
	}

	if blk.Len() < e.reg.Len() {
		e.grow(blk)
	}

	c, ok := blk.Cell(id)
	if !ok {
		return nil, ErrUnknownSlot
	}
	if c.State() == block.Initialized {
		return c, nil
	}

	out, _ := initdispatch.Materialize(c)
	if out == initdispatch.Reentered {
		if e.reentryOf(c.Descriptor()) == slot.ReentryReturnDefault {
			return c, nil
		}
		return nil, e.violate(ReentrantInitialization, blk, c.Descriptor(), blk.Goid)
	}
	return c, nil
}

// grow extends blk with slots registered since it was created and
// materializes the eager ones. Runs on the owning thread.
func (e *Engine) grow(blk *block.Block) {
	added := blk.Grow(e.reg.Since(blk.Len()))
	if len(added) == 0 {
		return
	}
	n := initdispatch.Eager(added)
	e.log().Debug("block grown", "thread", blk.Owner.String(), "slots", len(added), "eager", n)
}

func (e *Engine) descOrNil(id slot.ID) *slot.Descriptor {
	d, _ := e.reg.Lookup(id)
	return d
}

// guard is installed on every block. It runs on each cell operation so a
// *Cell kept past its thread's exit, or passed to another goroutine, is
// caught at the point of use.
func (e *Engine) guard(blk *block.Block, c *block.Cell) error {
	if !blk.Alive() {
		return e.violate(UseAfterThreadExit, blk, c.Descriptor(), threads.Goid())
	}
	if g := threads.Goid(); g != blk.Goid {
		return e.violate(ForeignThreadAccess, blk, c.Descriptor(), g)
	}
	return nil
}

// violate builds a violation, hands it to the configured handler and returns it.
func (e *Engine) violate(kind ViolationKind, blk *block.Block, d *slot.Descriptor, caller int64) *ContractViolation {
	v := &ContractViolation{
		Kind:        kind,
		Thread:      blk.Owner,
		Incarnation: blk.Incarnation,
		OwnerGoid:   blk.Goid,
		CallerGoid:  caller,
		StartSite:   blk.Site,
		Site:        sitedepot.Capture(2),
	}
	if d != nil {
		v.Slot = d.ID
		v.SlotName = d.Name
		v.DeclSite = d.Site
	}

	e.violations.Add(1)
	e.log().Error("thread-local storage contract violation",
		"kind", kind.String(), "slot", v.Slot, "thread", v.Thread.String(),
		"owner_goid", v.OwnerGoid, "caller_goid", v.CallerGoid)
	e.cfg.OnViolation(v)
	return v
}
