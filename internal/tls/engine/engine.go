// Package engine ties the slot registry, thread table, storage blocks and
// initializer dispatch into a thread-local storage engine.
//
// An Engine owns one Registry and one thread Table. Nothing is global
// except the block and materialization counters: several engines may coexist, and a goroutine
// may be a thread of more than one of them. An engine created with
// Config.Logging logs to its own logger; others share the package logger.
//
// Hot path: resolving a slot loads the registry length (atomic), compares
// it with the block's, indexes the block's cell table and checks the cell
// state. It takes no locks. Only registration, thread start and thread
// exit synchronize.
package engine

import (
	"log/slog"
	"sync/atomic"

	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/initdispatch"
	"github.com/kolkov/threadlocal/internal/tls/logger"
	"github.com/kolkov/threadlocal/internal/tls/slot"
	"github.com/kolkov/threadlocal/internal/tls/threads"
)

// Engine is a thread-local storage engine.
type Engine struct {
	cfg Config
	reg *slot.Registry
	tab *threads.Table
	lg  *slog.Logger

	exited     atomic.Int64
	violations atomic.Int64
}

// New creates an engine.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg: cfg,
		reg: slot.NewRegistry(cfg.MaxSlots),
		tab: threads.NewTable(cfg.MaxThreads),
	}
	if cfg.Logging != nil {
		e.lg = logger.New(*cfg.Logging)
	}
	return e
}

// log returns the engine's own logger, or the package logger if it has none.
func (e *Engine) log() *slog.Logger {
	if e.lg != nil {
		return e.lg
	}
	return logger.L()
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Registry returns the engine's slot registry.
func (e *Engine) Registry() *slot.Registry {
	return e.reg
}

// DeclareOption customizes a declaration.
type DeclareOption func(*slot.Spec)

// WithName names the slot in logs and reports.
func WithName(name string) DeclareOption {
	return func(s *slot.Spec) { s.Name = name }
}

// WithInit runs fn once per thread after the default is copied in.
func WithInit(fn func(dst []byte)) DeclareOption {
	return func(s *slot.Spec) { s.Init = fn }
}

// WithFinalize runs fn once per thread at exit for materialized cells.
func WithFinalize(fn func(data []byte)) DeclareOption {
	return func(s *slot.Spec) { s.Finalize = fn }
}

// WithReentry overrides the engine's default reentry policy for the slot.
func WithReentry(r slot.Reentry) DeclareOption {
	return func(s *slot.Spec) { s.Reentry = r }
}

// Inheritable makes threads spawned with Thread.Spawn start with a copy
// of the parent's value.
func Inheritable() DeclareOption {
	return func(s *slot.Spec) { s.Inherit = true }
}

// Resizable allows stores of any length.
func Resizable() DeclareOption {
	return func(s *slot.Spec) { s.Resizable = true }
}

// Declare registers a thread-local variable of size bytes whose value on
// every thread starts as def.
//
// This is the declare_thread_local entry point for code generators. The
// returned ID is valid on every thread of the engine, including threads
// that started before the declaration.
func (e *Engine) Declare(size int, def []byte, policy slot.Policy, opts ...DeclareOption) (slot.ID, error) {
	return e.DeclareAt(size, def, policy, opts, 1)
}

// DeclareAt is Declare for wrappers: the declaration site is recorded skip
// frames above DeclareAt's caller.
func (e *Engine) DeclareAt(size int, def []byte, policy slot.Policy, opts []DeclareOption, skip int) (slot.ID, error) {
	spec := slot.Spec{Size: size, Default: def, Policy: policy}
	for _, opt := range opts {
		opt(&spec)
	}
	d, err := e.register(spec, skip+1)
	if err != nil {
		return slot.Invalid, err
	}
	return d.ID, nil
}

func (e *Engine) register(spec slot.Spec, skip int) (*slot.Descriptor, error) {
	d, err := e.reg.RegisterAt(spec, skip+1)
	if err != nil {
		e.log().Error("slot registration failed", "name", spec.Name, "size", spec.Size, "error", err)
		return nil, err
	}
	e.log().Debug("slot registered",
		"slot", d.ID, "name", d.Name, "size", d.Size,
		"policy", d.Policy.String(), "reentry", e.reentryOf(d).String())
	return d, nil
}

// Lookup returns the descriptor of a declared slot.
func (e *Engine) Lookup(id slot.ID) (*slot.Descriptor, bool) {
	return e.reg.Lookup(id)
}

// Access resolves id against the calling goroutine's thread.
//
// This is the handle-free access entry point: generated code that has no
// *Thread at hand calls it at every read/write site. It returns
// ErrNotAttached if the goroutine is not a thread of this engine.
func (e *Engine) Access(id slot.ID) (*block.Cell, error) {
	rec, ok := e.tab.ByGoid(threads.Goid())
	if !ok {
		return nil, ErrNotAttached
	}
	blk := rec.Block()
	if blk == nil {
		// Reserved but not yet started: only the starting goroutine itself
		// could get here, and it does not touch slots before SetBlock.
		return nil, ErrNotAttached
	}
	return e.resolve(blk, id)
}

// Current returns the calling goroutine's thread, if it is attached.
func (e *Engine) Current() (*Thread, bool) {
	rec, ok := e.tab.ByGoid(threads.Goid())
	if !ok || rec.Block() == nil {
		return nil, false
	}
	return &Thread{eng: e, rec: rec, blk: rec.Block()}, true
}

func (e *Engine) reentryOf(d *slot.Descriptor) slot.Reentry {
	if d.Reentry != slot.ReentryUnset {
		return d.Reentry
	}
	return e.cfg.DefaultReentry
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Slots          int
	LiveThreads    int
	StartedThreads int64
	ExitedThreads  int64
	Violations     int64

	// Process-wide counters shared by every engine.
	Blocks           block.Stats
	Materializations int64
}

// Stats returns the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Slots:            e.reg.Len(),
		LiveThreads:      e.tab.Live(),
		StartedThreads:   e.tab.Started(),
		ExitedThreads:    e.exited.Load(),
		Violations:       e.violations.Load(),
		Blocks:           block.ReadStats(),
		Materializations: initdispatch.Materializations(),
	}
}

// ThreadInfo describes one live thread.
type ThreadInfo struct {
	Handle   string
	Parent   string
	Goid     int64
	OSThread int
	Started  string
}

// Threads lists the engine's live threads.
func (e *Engine) Threads() []ThreadInfo {
	recs := e.tab.Records()
	out := make([]ThreadInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, ThreadInfo{
			Handle:   r.Handle.String(),
			Parent:   r.Parent.String(),
			Goid:     r.Goid,
			OSThread: r.OSThread,
			Started:  r.Started.Format("15:04:05.000"),
		})
	}
	return out
}
