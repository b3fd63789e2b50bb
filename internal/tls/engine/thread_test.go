package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/handle"
	"github.com/kolkov/threadlocal/internal/tls/slot"
)

// TestUseAfterExit tests that storage kept past exit reports the violation.
func TestUseAfterExit(t *testing.T) {
	e, rec := newEngine(t, Config{})
	x, err := e.Declare(8, u64(5), slot.Lazy, WithName("x"))
	require.NoError(t, err)

	var kept *block.Cell
	var th *Thread
	err = e.Run(context.Background(), func(ctx context.Context, t2 *Thread) error {
		th = t2
		kept, err = t2.Resolve(x)
		return err
	})
	require.NoError(t, err)
	require.False(t, th.Alive())

	tests := []struct {
		name string
		op   func() error
	}{
		{"cell load", func() error { _, err := kept.Load(); return err }},
		{"cell store", func() error { return kept.Store(u64(1)) }},
		{"cell bytes", func() error { _, err := kept.Bytes(); return err }},
		{"resolve", func() error { _, err := th.Resolve(x); return err }},
		{"ref", func() error { _, err := th.Ref(x).Load(); return err }},
		{"snapshot", func() error { _, err := th.Snapshot(); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			require.ErrorIs(t, err, ErrUseAfterThreadExit)
			assert.NotErrorIs(t, err, ErrForeignThreadAccess)
		})
	}

	kinds := rec.kinds()
	require.Len(t, kinds, len(tests))
	for _, k := range kinds {
		assert.Equal(t, UseAfterThreadExit, k)
	}

	var v *ContractViolation
	require.True(t, errors.As(rec.got[0], &v))
	assert.Equal(t, x, v.Slot)
	assert.Equal(t, "x", v.SlotName)
	assert.Equal(t, th.Handle(), v.Thread)
	assert.Equal(t, th.Incarnation(), v.Incarnation)
	assert.NotZero(t, v.DeclSite)
	assert.NotZero(t, v.StartSite)
	assert.NotZero(t, v.Site)
}

// TestForeignAccess tests that no goroutine reaches another thread's storage.
func TestForeignAccess(t *testing.T) {
	e, rec := newEngine(t, Config{})
	x, err := e.Declare(8, u64(5), slot.Lazy)
	require.NoError(t, err)

	handoff := make(chan *block.Cell)
	thread := make(chan *Thread)
	done := make(chan struct{})
	finished := make(chan error, 1)

	go func() {
		finished <- e.Run(context.Background(), func(ctx context.Context, th *Thread) error {
			c, err := th.Resolve(x)
			if err != nil {
				return err
			}
			handoff <- c
			thread <- th
			<-done
			return nil
		})
	}()

	c := <-handoff
	th := <-thread

	_, err = c.Load()
	assert.ErrorIs(t, err, ErrForeignThreadAccess)
	assert.ErrorIs(t, c.Store(u64(1)), ErrForeignThreadAccess)
	_, err = th.Resolve(x)
	assert.ErrorIs(t, err, ErrForeignThreadAccess)
	assert.ErrorIs(t, th.Exit(), ErrForeignThreadAccess)
	assert.True(t, th.Alive())

	close(done)
	require.NoError(t, <-finished)

	require.Len(t, rec.got, 4)
	for _, v := range rec.got {
		assert.Equal(t, ForeignThreadAccess, v.Kind)
		assert.NotEqual(t, v.OwnerGoid, v.CallerGoid)
	}
}

// TestReentry tests both reentry policies for an initializer that reads
// and writes its own slot after changing its scratch value.
func TestReentry(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		reentry   slot.Reentry
		wantKinds []ViolationKind
		wantInner []byte
	}{
		{
			name:      "engine default is fatal",
			wantKinds: []ViolationKind{ReentrantInitialization},
		},
		{
			name:      "slot returns default",
			reentry:   slot.ReentryReturnDefault,
			wantInner: u64(5),
		},
		{
			name:      "engine configured to return default",
			cfg:       Config{DefaultReentry: slot.ReentryReturnDefault},
			wantInner: u64(5),
		},
		{
			name:      "slot overrides engine",
			cfg:       Config{DefaultReentry: slot.ReentryReturnDefault},
			reentry:   slot.ReentryFatal,
			wantKinds: []ViolationKind{ReentrantInitialization},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newEngine(t, tt.cfg)

			var x slot.ID
			var inner []byte
			var innerErr error
			initFn := func(dst []byte) {
				dst[0] = 9
				var c *block.Cell
				c, innerErr = e.Access(x)
				if innerErr == nil {
					inner, innerErr = c.Load()
				}
				if innerErr == nil {
					innerErr = c.Store(u64(1))
				}
			}
			var err error
			x, err = e.Declare(8, u64(5), slot.Lazy, WithInit(initFn), WithReentry(tt.reentry))
			require.NoError(t, err)

			err = e.Run(context.Background(), func(ctx context.Context, th *Thread) error {
				assert.Equal(t, uint64(9), load64(t, e, x))
				return nil
			})
			require.NoError(t, err)

			if tt.wantKinds != nil {
				assert.ErrorIs(t, innerErr, ErrReentrantInitialization)
				assert.Nil(t, inner)
			} else {
				assert.NoError(t, innerErr)
			}
			assert.Equal(t, tt.wantInner, inner)
			if tt.wantKinds == nil {
				assert.Empty(t, rec.kinds())
			} else {
				assert.Equal(t, tt.wantKinds, rec.kinds())
			}
		})
	}
}

// TestDoubleExit tests the exit signal delivered twice.
func TestDoubleExit(t *testing.T) {
	e, rec := newEngine(t, Config{})
	var fin atomic.Int64
	_, err := e.Declare(1, nil, slot.Eager, WithFinalize(func([]byte) { fin.Add(1) }))
	require.NoError(t, err)

	err = e.Run(context.Background(), func(ctx context.Context, th *Thread) error {
		require.NoError(t, th.Exit())
		assert.ErrorIs(t, th.Exit(), ErrDoubleExit)
		assert.ErrorIs(t, e.OnThreadExit(), ErrNotAttached)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), fin.Load())
	assert.Equal(t, []ViolationKind{DoubleExit}, rec.kinds())
	assert.Equal(t, slot.Invalid, rec.got[0].Slot)
}

// TestAttach tests the explicit start/exit signals on the calling goroutine.
func TestAttach(t *testing.T) {
	e, rec := newEngine(t, Config{})
	x, err := e.Declare(8, u64(5), slot.Lazy)
	require.NoError(t, err)

	th, err := e.OnThreadStart()
	require.NoError(t, err)
	assert.True(t, th.Handle().Valid())
	assert.Equal(t, handle.Invalid, th.Parent())

	cur, ok := e.Current()
	require.True(t, ok)
	assert.Equal(t, th.Handle(), cur.Handle())

	require.NoError(t, th.Ref(x).Store(u64(6)))
	assert.Equal(t, uint64(6), load64(t, e, x))

	require.NoError(t, e.OnThreadExit())
	_, ok = e.Current()
	assert.False(t, ok)
	_, err = e.Access(x)
	assert.ErrorIs(t, err, ErrNotAttached)

	// A new attachment starts from the default again.
	th, err = e.Attach()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), load64(t, e, x))
	require.NoError(t, th.Exit())
	assert.Empty(t, rec.kinds())
}

// TestHandleReuse tests that a recycled index gets a new generation.
func TestHandleReuse(t *testing.T) {
	e, _ := newEngine(t, Config{})

	var first, second *Thread
	run := func(dst **Thread) {
		err := e.Run(context.Background(), func(ctx context.Context, th *Thread) error {
			*dst = th
			return nil
		})
		require.NoError(t, err)
	}
	run(&first)
	run(&second)

	assert.Equal(t, first.Handle().Index(), second.Handle().Index())
	assert.NotEqual(t, first.Handle(), second.Handle())
	assert.False(t, first.Handle().Same(second.Handle()))
	assert.NotEqual(t, first.Incarnation(), second.Incarnation())
}

// TestSpawnInherits tests that inheritable slots carry the parent's value into a child.
func TestSpawnInherits(t *testing.T) {
	e, rec := newEngine(t, Config{})
	var inits atomic.Int64
	countInit := WithInit(func([]byte) { inits.Add(1) })

	inh, err := e.Declare(8, u64(1), slot.Lazy, Inheritable(), countInit)
	require.NoError(t, err)
	plain, err := e.Declare(8, u64(1), slot.Lazy, countInit)
	require.NoError(t, err)
	untouched, err := e.Declare(8, u64(1), slot.Lazy, Inheritable(), countInit)
	require.NoError(t, err)

	err = e.Run(context.Background(), func(ctx context.Context, parent *Thread) error {
		require.NoError(t, parent.Ref(inh).Store(u64(42)))
		require.NoError(t, parent.Ref(plain).Store(u64(42)))
		require.Equal(t, int64(2), inits.Load())

		done := parent.Spawn(ctx, func(ctx context.Context, child *Thread) error {
			assert.Equal(t, parent.Handle(), child.Parent())
			assert.Equal(t, uint64(42), load64(t, e, inh))
			assert.Equal(t, int64(2), inits.Load())

			assert.Equal(t, uint64(1), load64(t, e, plain))
			assert.Equal(t, uint64(1), load64(t, e, untouched))
			assert.Equal(t, int64(4), inits.Load())

			return child.Ref(inh).Store(u64(7))
		})
		require.NoError(t, <-done)

		assert.Equal(t, uint64(42), load64(t, e, inh))
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, rec.kinds())
}

// TestSpawnFromForeignGoroutine tests that a thread can only spawn from its own goroutine.
func TestSpawnFromForeignGoroutine(t *testing.T) {
	e, rec := newEngine(t, Config{})
	th, err := e.Attach()
	require.NoError(t, err)

	// Spawn on a goroutine that is not th.
	errc := make(chan error, 1)
	go func() {
		errc <- <-th.Spawn(context.Background(), func(context.Context, *Thread) error { return nil })
	}()
	assert.ErrorIs(t, <-errc, ErrForeignThreadAccess)
	require.NoError(t, th.Exit())
	assert.Equal(t, []ViolationKind{ForeignThreadAccess}, rec.kinds())
}

// TestThreadFault tests that a panicking thread still exits and reports the panic.
func TestThreadFault(t *testing.T) {
	before := block.ReadStats()
	e, _ := newEngine(t, Config{})

	var fin atomic.Int64
	boom, err := e.Declare(1, nil, slot.Lazy,
		WithInit(func([]byte) { panic("init failed") }),
		WithFinalize(func([]byte) { fin.Add(1) }))
	require.NoError(t, err)

	tests := []struct {
		name  string
		fn    func(ctx context.Context, th *Thread) error
		value any
	}{
		{"body panic", func(context.Context, *Thread) error { panic("boom") }, "boom"},
		{"init panic", func(ctx context.Context, th *Thread) error {
			_, err := th.Resolve(boom)
			return err
		}, "init failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Run(context.Background(), tt.fn)
			var fault *ThreadFault
			require.True(t, errors.As(err, &fault))
			assert.Equal(t, tt.value, fault.Value)
			assert.True(t, fault.Thread.Valid())
			assert.NotEmpty(t, fault.Stack)
			assert.Contains(t, fault.Error(), "faulted")
		})
	}

	assert.Zero(t, fin.Load())
	assert.Zero(t, e.Stats().LiveThreads)
	assert.Equal(t, before.LiveBlocks, block.ReadStats().LiveBlocks)
}

// TestEagerInitPanic tests a panic during thread start.
func TestEagerInitPanic(t *testing.T) {
	e, _ := newEngine(t, Config{})
	_, err := e.Declare(1, nil, slot.Eager, WithInit(func([]byte) { panic("eager") }))
	require.NoError(t, err)

	err = e.Run(context.Background(), func(context.Context, *Thread) error {
		t.Error("body must not run")
		return nil
	})
	var fault *ThreadFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "eager", fault.Value)
	assert.Zero(t, e.Stats().LiveThreads)
	assert.Equal(t, int64(1), e.Stats().ExitedThreads)
}

// TestHaltOnViolation tests the default handler through Run.
func TestHaltOnViolation(t *testing.T) {
	e := New(Config{})
	x, err := e.Declare(1, nil, slot.Lazy)
	require.NoError(t, err)

	err = e.Run(context.Background(), func(ctx context.Context, th *Thread) error {
		require.NoError(t, th.Exit())
		_, err := th.Resolve(x)
		t.Error("resolve after exit returned", err)
		return nil
	})
	var fault *ThreadFault
	require.True(t, errors.As(err, &fault))
	assert.ErrorIs(t, err, ErrUseAfterThreadExit)

	var v *ContractViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, x, v.Slot)
}
