package engine

import (
	"context"
	"errors"
	"runtime"

	"github.com/google/uuid"

	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/handle"
	"github.com/kolkov/threadlocal/internal/tls/sitedepot"
	"github.com/kolkov/threadlocal/internal/tls/slot"
	"github.com/kolkov/threadlocal/internal/tls/threads"
)

// Thread is an attached goroutine and its storage block.
//
// A Thread value may be passed around freely, but every method except the
// accessors must be called from the owning goroutine. Calls from any other
// goroutine are reported as ForeignThreadAccess.
type Thread struct {
	eng *Engine
	rec *threads.Record
	blk *block.Block
}

// Handle returns the thread's handle.
func (t *Thread) Handle() handle.Handle { return t.rec.Handle }

// Parent returns the handle of the thread that spawned t, or handle.Invalid.
func (t *Thread) Parent() handle.Handle { return t.rec.Parent }

// Goid returns the goroutine ID of the thread.
func (t *Thread) Goid() int64 { return t.rec.Goid }

// OSThread returns the kernel thread ID the thread is pinned to, or 0.
func (t *Thread) OSThread() int { return t.rec.OSThread }

// Incarnation returns the ID of the thread's block.
func (t *Thread) Incarnation() uuid.UUID { return t.blk.Incarnation }

// Alive reports whether the thread has not exited.
func (t *Thread) Alive() bool { return t.blk.Alive() }

// Engine returns the engine the thread is attached to.
func (t *Thread) Engine() *Engine { return t.eng }

// Resolve returns the thread's cell for id, materializing it on first touch.
func (t *Thread) Resolve(id slot.ID) (*block.Cell, error) {
	return t.eng.resolve(t.blk, id)
}

// Ref returns a reference to the thread's storage for id.
func (t *Thread) Ref(id slot.ID) Ref {
	return Ref{t: t, id: id}
}

// Snapshot returns a copy of the thread's materialized values.
func (t *Thread) Snapshot() (map[slot.ID][]byte, error) {
	if err := t.owned(); err != nil {
		return nil, err
	}
	return t.blk.Snapshot(), nil
}

// owned checks that t is alive and the caller is its goroutine.
func (t *Thread) owned() error {
	if !t.blk.Alive() {
		return t.eng.violate(UseAfterThreadExit, t.blk, nil, threads.Goid())
	}
	if g := threads.Goid(); g != t.blk.Goid {
		return t.eng.violate(ForeignThreadAccess, t.blk, nil, g)
	}
	return nil
}

// Exit delivers the thread-exit signal: it destroys the block, running
// finalizers, and returns the handle to the table. The goroutine is
// unpinned once.
//
// The thread is gone when Exit returns, even if a finalizer panicked; the
// first such panic is returned as a *ThreadFault. A second Exit is a
// DoubleExit violation.
func (t *Thread) Exit() error {
	if !t.blk.Alive() {
		return t.eng.violate(DoubleExit, t.blk, nil, threads.Goid())
	}
	if g := threads.Goid(); g != t.blk.Goid {
		return t.eng.violate(ForeignThreadAccess, t.blk, nil, g)
	}

	materialized := t.blk.Materialized()
	derr := t.blk.Destroy()
	if errors.Is(derr, block.ErrAlreadyDestroyed) {
		return t.eng.violate(DoubleExit, t.blk, nil, threads.Goid())
	}
	t.eng.tab.Release(t.rec)
	runtime.UnlockOSThread()
	t.eng.exited.Add(1)

	var fp *block.FinalizerPanic
	if errors.As(derr, &fp) {
		t.eng.log().Error("finalizer panicked",
			"thread", t.rec.Handle.String(), "slot", fp.Slot, "panic", fp.Value)
		return &ThreadFault{Thread: t.rec.Handle, Value: fp.Value, Stack: fp.Stack}
	}

	t.eng.log().Debug("thread exited",
		"thread", t.rec.Handle.String(), "goid", t.rec.Goid,
		"incarnation", t.blk.Incarnation.String(), "materialized", materialized)
	return nil
}

// Spawn starts a child thread running fn and returns a channel that
// receives its result.
//
// Inheritable slots the parent has materialized are copied before Spawn
// returns; the child starts with those values and their Init is not run.
// Later writes on either side are not seen by the other.
func (t *Thread) Spawn(ctx context.Context, fn func(ctx context.Context, t *Thread) error) <-chan error {
	done := make(chan error, 1)
	if err := t.owned(); err != nil {
		done <- err
		return done
	}
	inherited := t.inheritable()
	site := sitedepot.Capture(1)
	go func() {
		runtime.LockOSThread()
		done <- t.eng.runThread(ctx, t.rec.Handle, inherited, site, fn)
	}()
	return done
}

func (t *Thread) inheritable() map[slot.ID][]byte {
	var out map[slot.ID][]byte
	for _, c := range t.blk.Cells() {
		if !c.Descriptor().Inherit || c.State() != block.Initialized {
			continue
		}
		if out == nil {
			out = make(map[slot.ID][]byte)
		}
		buf := make([]byte, len(c.Data()))
		copy(buf, c.Data())
		out[c.Slot()] = buf
	}
	return out
}

// Ref names one slot on one thread. Unlike a *block.Cell it holds no
// location: every Load and Store resolves again, so a Ref kept across a
// call that may exit the thread reports the exit instead of reading freed
// storage.
type Ref struct {
	t  *Thread
	id slot.ID
}

// Slot returns the referenced slot.
func (r Ref) Slot() slot.ID { return r.id }

// Load returns a copy of the thread's value.
func (r Ref) Load() ([]byte, error) {
	c, err := r.t.Resolve(r.id)
	if err != nil {
		return nil, err
	}
	return c.Load()
}

// Store replaces the thread's value.
func (r Ref) Store(b []byte) error {
	c, err := r.t.Resolve(r.id)
	if err != nil {
		return err
	}
	return c.Store(b)
}
