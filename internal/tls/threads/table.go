// Package threads tracks the live threads known to an engine.
//
// The table hands out thread handles from a reuse pool, the way the race
// runtime recycles TIDs: indices of exited threads go back on a FIFO free
// list, and every reuse bumps the index's generation so that a handle kept
// past its thread's exit never names the new occupant.
//
// An index returns to the pool only through Release, which the engine
// calls after the thread's block has been destroyed. A thread identifier
// is therefore never reused while its storage still exists.
package threads

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/handle"
)

var (
	// ErrAlreadyAttached is returned when a goroutine starts a second thread.
	ErrAlreadyAttached = errors.New("threads: goroutine already attached")

	// ErrTooManyThreads is returned when every handle index is in use.
	ErrTooManyThreads = errors.New("threads: too many live threads")
)

// DefaultMaxThreads bounds the handle index space when none is configured.
const DefaultMaxThreads = 1 << 20

// Record is the table's entry for one live thread.
type Record struct {
	Handle handle.Handle
	Parent handle.Handle
	Goid   int64

	// OSThread is the kernel thread ID, or 0 where it is not available.
	OSThread int

	// Site is the sitedepot key of the start call.
	Site    uint64
	Started time.Time

	blk atomic.Pointer[block.Block]
}

// Block returns the thread's storage block, or nil before it is created.
func (r *Record) Block() *block.Block {
	return r.blk.Load()
}

// SetBlock installs the thread's storage block. Called once by the owner.
func (r *Record) SetBlock(b *block.Block) {
	r.blk.Store(b)
}

// Table maps goroutines and handles to live thread records.
type Table struct {
	mu sync.Mutex

	// records[i] is the live record on index i, or nil.
	records []*Record
	// gens[i] is the generation last handed out on index i.
	gens []uint32
	// free is the FIFO of released indices.
	free []uint32

	// byGoid maps goroutine ID to *Record. Reads are lock-free.
	byGoid sync.Map

	live       atomic.Int64
	started    atomic.Int64
	maxThreads int
}

// NewTable creates an empty table. maxThreads <= 0 selects DefaultMaxThreads.
func NewTable(maxThreads int) *Table {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	return &Table{maxThreads: maxThreads}
}

// Reserve allocates a handle for the goroutine goid and publishes its record.
//
// The record has no block yet; the caller creates one and calls SetBlock
// before the thread touches any slot.
func (t *Table) Reserve(goid int64, parent handle.Handle, site uint64) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byGoid.Load(goid); ok {
		return nil, fmt.Errorf("%w: goroutine %d", ErrAlreadyAttached, goid)
	}

	index, err := t.allocIndex()
	if err != nil {
		return nil, err
	}
	t.gens[index]++
	if t.gens[index] == 0 {
		// Generation 0 is the invalid handle; skip it on wrap.
		t.gens[index] = 1
	}

	rec := &Record{
		Handle:   handle.New(index, t.gens[index]),
		Parent:   parent,
		Goid:     goid,
		OSThread: currentOSThread(),
		Site:     site,
		Started:  time.Now(),
	}
	t.records[index] = rec
	t.byGoid.Store(goid, rec)
	t.live.Add(1)
	t.started.Add(1)
	return rec, nil
}

// allocIndex pops the oldest free index or extends the table. Caller holds mu.
func (t *Table) allocIndex() (uint32, error) {
	if len(t.free) > 0 {
		index := t.free[0]
		t.free = t.free[1:]
		return index, nil
	}
	if len(t.records) >= t.maxThreads {
		return 0, fmt.Errorf("%w: %d", ErrTooManyThreads, len(t.records))
	}
	t.records = append(t.records, nil)
	t.gens = append(t.gens, 0)
	return uint32(len(t.records) - 1), nil
}

// Release removes rec from the table and returns its index to the pool.
// It reports false if rec is not the live record on its index.
func (t *Table) Release(rec *Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	index := rec.Handle.Index()
	if int(index) >= len(t.records) || t.records[index] != rec {
		return false
	}
	t.records[index] = nil
	t.byGoid.Delete(rec.Goid)
	t.free = append(t.free, index)
	t.live.Add(-1)
	return true
}

// ByGoid returns the live record of goroutine goid.
func (t *Table) ByGoid(goid int64) (*Record, bool) {
	v, ok := t.byGoid.Load(goid)
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// ByHandle returns the live record named by h. A stale handle, whose
// index has since been reused or released, is not found.
func (t *Table) ByHandle(h handle.Handle) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	index := h.Index()
	if int(index) >= len(t.records) {
		return nil, false
	}
	rec := t.records[index]
	if rec == nil || rec.Handle != h {
		return nil, false
	}
	return rec, true
}

// Live returns the number of live threads.
func (t *Table) Live() int {
	return int(t.live.Load())
}

// Started returns the number of threads ever reserved.
func (t *Table) Started() int64 {
	return t.started.Load()
}

// Records returns the live records ordered by index.
func (t *Table) Records() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Record, 0, t.live.Load())
	for _, rec := range t.records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}
