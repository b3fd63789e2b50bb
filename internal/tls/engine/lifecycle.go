package engine

import (
	"context"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/handle"
	"github.com/kolkov/threadlocal/internal/tls/initdispatch"
	"github.com/kolkov/threadlocal/internal/tls/sitedepot"
	"github.com/kolkov/threadlocal/internal/tls/slot"
	"github.com/kolkov/threadlocal/internal/tls/threads"
)

// OnThreadStart delivers the thread-start signal for the calling
// goroutine: it pins the goroutine to its OS thread, allocates a handle
// and creates the thread's block with eager slots materialized.
//
// The caller must deliver the matching exit signal with Thread.Exit from
// the same goroutine. Starting a goroutine twice returns
// threads.ErrAlreadyAttached.
func (e *Engine) OnThreadStart() (*Thread, error) {
	return e.start(handle.Invalid, nil, sitedepot.Capture(1))
}

// Attach is OnThreadStart for goroutines the engine did not create, such
// as main.
func (e *Engine) Attach() (*Thread, error) {
	return e.start(handle.Invalid, nil, sitedepot.Capture(1))
}

// OnThreadExit delivers the thread-exit signal for the calling goroutine.
func (e *Engine) OnThreadExit() error {
	t, ok := e.Current()
	if !ok {
		return ErrNotAttached
	}
	return t.Exit()
}

func (e *Engine) start(parent handle.Handle, inherited map[slot.ID][]byte, site uint64) (t *Thread, err error) {
	runtime.LockOSThread()

	goid := threads.Goid()
	rec, err := e.tab.Reserve(goid, parent, site)
	if err != nil {
		runtime.UnlockOSThread()
		e.log().Warn("thread start refused", "goid", goid, "error", err)
		return nil, err
	}

	blk := block.New(rec.Handle, goid, e.reg.Snapshot(), e.guard)
	blk.Site = site
	rec.SetBlock(blk)
	t = &Thread{eng: e, rec: rec, blk: blk}

	defer func() {
		if r := recover(); r != nil {
			// An eager initializer panicked. Nothing can use the thread.
			if t.Alive() {
				_ = t.Exit()
			}
			panic(r)
		}
	}()

	copied := 0
	for id, b := range inherited {
		if c, ok := blk.Cell(id); ok && initdispatch.Inherit(c, b) {
			copied++
		}
	}
	eager := initdispatch.Eager(blk.Cells())

	e.log().Debug("thread started",
		"thread", rec.Handle.String(), "parent", parent.String(), "goid", goid,
		"os_thread", rec.OSThread, "slots", blk.Len(), "eager", eager, "inherited", copied)
	return t, nil
}

// Run starts a thread on a new goroutine, runs fn on it and waits.
//
// The goroutine is locked to its OS thread and never unlocked, so the OS
// thread exits with it. The thread exits when fn returns, even if fn
// panics; a panic is returned as a *ThreadFault.
func (e *Engine) Run(ctx context.Context, fn func(ctx context.Context, t *Thread) error) error {
	site := sitedepot.Capture(1)
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		done <- e.runThread(ctx, handle.Invalid, nil, site, fn)
	}()
	return <-done
}

// RunAll runs n threads concurrently, calling fn with each thread's index.
// It returns the first error. The context passed to fn is canceled when
// any thread fails.
func (e *Engine) RunAll(ctx context.Context, n int, fn func(ctx context.Context, i int, t *Thread) error) error {
	site := sitedepot.Capture(1)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			runtime.LockOSThread()
			return e.runThread(ctx, handle.Invalid, nil, site, func(ctx context.Context, t *Thread) error {
				return fn(ctx, i, t)
			})
		})
	}
	return g.Wait()
}

// runThread is the body of an engine-created goroutine. The caller has
// locked the OS thread once; start locks it again and Exit undoes that.
func (e *Engine) runThread(ctx context.Context, parent handle.Handle, inherited map[slot.ID][]byte,
	site uint64, fn func(ctx context.Context, t *Thread) error) (err error) {
	var t *Thread
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fault := &ThreadFault{Value: r, Stack: debug.Stack()}
		if t != nil {
			fault.Thread = t.Handle()
			if t.Alive() {
				_ = t.Exit()
			}
		}
		e.log().Error("thread faulted", "thread", fault.Thread.String(), "panic", r)
		err = fault
	}()

	t, err = e.start(parent, inherited, site)
	if err != nil {
		return err
	}
	err = fn(ctx, t)
	if t.Alive() {
		if xerr := t.Exit(); xerr != nil && err == nil {
			err = xerr
		}
	}
	return err
}
