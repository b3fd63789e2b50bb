package block

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/barkimedes/go-deepcopy"
	"github.com/google/uuid"

	"github.com/kolkov/threadlocal/internal/tls/handle"
	"github.com/kolkov/threadlocal/internal/tls/slot"
)

var (
	// ErrDestroyed is returned for access to a cell after its block was destroyed.
	ErrDestroyed = errors.New("block: destroyed")

	// ErrAlreadyDestroyed is returned by a second Destroy.
	ErrAlreadyDestroyed = errors.New("block: already destroyed")
)

// Guard validates an access to cell c of block b. A nil error allows it.
//
// The engine installs a guard that checks liveness and ownership and
// reports contract violations. Without a guard only liveness is checked.
type Guard func(b *Block, c *Cell) error

// Block is the storage of one thread: one cell per registered slot.
//
// A Block is exclusively owned by its thread. Only the liveness flag is
// safe to read from other goroutines.
type Block struct {
	// Owner is the handle of the owning thread.
	Owner handle.Handle

	// Goid is the goroutine ID of the owning thread.
	Goid int64

	// Incarnation is unique per block instance, across handle reuse.
	Incarnation uuid.UUID

	// Site is the sitedepot key of the owning thread's start call.
	Site uint64

	// cells[i] is the cell of slot ID i+1.
	cells []*Cell

	alive atomic.Bool
	guard Guard
}

// Process-wide accounting. Live counts return to their baseline once every
// created block has been destroyed.
var (
	liveBlocks   atomic.Int64
	liveCells    atomic.Int64
	createdTotal atomic.Int64
)

// Stats is a snapshot of block accounting.
type Stats struct {
	LiveBlocks int64
	LiveCells  int64
	Created    int64
}

// ReadStats returns the current block accounting.
func ReadStats() Stats {
	return Stats{
		LiveBlocks: liveBlocks.Load(),
		LiveCells:  liveCells.Load(),
		Created:    createdTotal.Load(),
	}
}

// New allocates a block for owner with a cell for every descriptor.
//
// descs must be a registry snapshot: descs[i].ID == i+1. Cells start
// Uninitialized; materialization is the initializer dispatch's job.
func New(owner handle.Handle, goid int64, descs []*slot.Descriptor, guard Guard) *Block {
	b := &Block{
		Owner:       owner,
		Goid:        goid,
		Incarnation: uuid.New(),
		cells:       make([]*Cell, 0, len(descs)),
		guard:       guard,
	}
	b.alive.Store(true)
	liveBlocks.Add(1)
	createdTotal.Add(1)
	b.Grow(descs)
	return b
}

// Grow extends the block with cells for slots registered after it was created.
//
// descs must continue the block's IDs: descs[0].ID == Len()+1, and so on.
// Descriptors the block already covers are skipped. Returns the new cells.
func (b *Block) Grow(descs []*slot.Descriptor) []*Cell {
	start := len(b.cells)
	for _, d := range descs {
		if int(d.ID) <= len(b.cells) {
			continue
		}
		if int(d.ID) != len(b.cells)+1 {
			// Registry snapshots are dense; a gap is a caller bug.
			panic("block: non-contiguous growth")
		}
		b.cells = append(b.cells, &Cell{desc: d, blk: b})
	}
	added := b.cells[start:]
	liveCells.Add(int64(len(added)))
	return added
}

// Len returns the number of slots the block covers.
func (b *Block) Len() int {
	return len(b.cells)
}

// Cell returns the cell for id, or false if the block does not cover it.
func (b *Block) Cell(id slot.ID) (*Cell, bool) {
	if id == slot.Invalid || int(id) > len(b.cells) {
		return nil, false
	}
	return b.cells[id-1], true
}

// Cells returns the block's cells in ID order. The slice must not be modified.
func (b *Block) Cells() []*Cell {
	return b.cells
}

// Alive reports whether the block has not been destroyed. Safe from any goroutine.
func (b *Block) Alive() bool {
	return b.alive.Load()
}

// Destroy releases every cell. It must be called exactly once, on the
// owning thread, when the thread exits.
//
// The block is marked dead first, then finalizers run for cells that were
// materialized, in ID order. A panicking finalizer does not stop the
// others or the release; the first panic is returned as a *FinalizerPanic.
// A second call returns ErrAlreadyDestroyed.
func (b *Block) Destroy() error {
	if !b.alive.CompareAndSwap(true, false) {
		return ErrAlreadyDestroyed
	}

	var first error
	for _, c := range b.cells {
		if c.state != Initialized || c.desc.Finalize == nil {
			continue
		}
		if err := finalize(c); err != nil && first == nil {
			first = err
		}
	}

	for _, c := range b.cells {
		c.data = nil
		c.state = Uninitialized
	}
	liveCells.Add(-int64(len(b.cells)))
	liveBlocks.Add(-1)
	b.cells = nil
	return first
}

func finalize(c *Cell) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FinalizerPanic{Slot: c.desc.ID, Value: r, Stack: debug.Stack()}
		}
	}()
	c.desc.Finalize(c.data)
	return nil
}

// FinalizerPanic is a panic raised by a slot finalizer during Destroy.
type FinalizerPanic struct {
	Slot  slot.ID
	Value any
	Stack []byte
}

// Error implements the error interface.
func (p *FinalizerPanic) Error() string {
	return fmt.Sprintf("block: finalizer of slot %d panicked: %v", p.Slot, p.Value)
}

// Unwrap returns the panic value if it is an error.
func (p *FinalizerPanic) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

func (b *Block) check(c *Cell) error {
	if b.guard != nil {
		return b.guard(b, c)
	}
	if !b.alive.Load() {
		return ErrDestroyed
	}
	return nil
}

// Check runs the block's guard for c.
func (b *Block) Check(c *Cell) error {
	return b.check(c)
}

// Snapshot returns deep copies of the materialized values, keyed by slot ID.
// Only the owning thread may call it.
func (b *Block) Snapshot() map[slot.ID][]byte {
	out := make(map[slot.ID][]byte)
	for _, c := range b.cells {
		if c.state != Uninitialized {
			out[c.desc.ID] = c.data
		}
	}
	return deepcopy.MustAnything(out).(map[slot.ID][]byte)
}

// Materialized returns the number of cells that are not Uninitialized.
func (b *Block) Materialized() int {
	n := 0
	for _, c := range b.cells {
		if c.state != Uninitialized {
			n++
		}
	}
	return n
}
