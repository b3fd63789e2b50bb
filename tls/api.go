package tls

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kolkov/threadlocal/internal/tls/block"
	"github.com/kolkov/threadlocal/internal/tls/engine"
	"github.com/kolkov/threadlocal/internal/tls/slot"
)

type (
	// Engine is a thread-local storage engine.
	Engine = engine.Engine
	// Config configures an Engine.
	Config = engine.Config
	// Thread is an attached goroutine and its storage.
	Thread = engine.Thread
	// Ref names one slot on one thread and resolves on every use.
	Ref = engine.Ref
	// Cell is the calling thread's storage for one slot.
	Cell = block.Cell
	// ID identifies a declared slot.
	ID = slot.ID
	// Policy selects when a slot is initialized.
	Policy = slot.Policy
	// Option customizes a declaration.
	Option = engine.DeclareOption
	// Stats is a snapshot of engine counters.
	Stats = engine.Stats
	// ContractViolation is a misuse of thread-local storage.
	ContractViolation = engine.ContractViolation
	// ThreadFault is a panic that terminated a thread.
	ThreadFault = engine.ThreadFault
	// SlotInfo describes a declared slot.
	SlotInfo = slot.Info
)

const (
	// Lazy slots are initialized on first access.
	Lazy = slot.Lazy
	// Eager slots are initialized when a thread starts.
	Eager = slot.Eager
)

// Declaration options.
var (
	WithName     = engine.WithName
	WithInit     = engine.WithInit
	WithFinalize = engine.WithFinalize
	WithReentry  = engine.WithReentry
	Inheritable  = engine.Inheritable
	Resizable    = engine.Resizable
)

var (
	defaultOnce   sync.Once
	defaultEngine *engine.Engine
)

// New creates an engine independent of the default one.
func New(cfg Config) *Engine {
	return engine.New(cfg)
}

// Default returns the process-wide engine used by the package functions.
//
// It is configured from TLSENGINE_OPTIONS on first use. Invalid options
// are reported on stderr and ignored.
func Default() *Engine {
	defaultOnce.Do(func() {
		cfg, err := engine.ConfigFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tls: ignoring %s: %v\n", engine.EnvOptions, err)
			cfg = Config{}
		}
		defaultEngine = engine.New(cfg)
	})
	return defaultEngine
}

// Declare declares a thread-local variable of size bytes with default def.
//
// def may be nil for size zero bytes; otherwise len(def) must equal size.
// The returned ID is valid on every thread, including running ones.
func Declare(size int, def []byte, policy Policy, opts ...Option) (ID, error) {
	return declare(Default(), size, def, policy, opts, 1)
}

// MustDeclare is like Declare but panics on error.
//
// It is meant for package-level variables:
//
//	var requestID = tls.MustDeclare(8, nil, tls.Lazy, tls.WithName("requestID"))
func MustDeclare(size int, def []byte, policy Policy, opts ...Option) ID {
	id, err := declare(Default(), size, def, policy, opts, 1)
	if err != nil {
		panic(err)
	}
	return id
}

// declare registers on e, recording the site skip frames above its caller.
func declare(e *Engine, size int, def []byte, policy Policy, opts []Option, skip int) (ID, error) {
	return e.DeclareAt(size, def, policy, opts, skip+1)
}

// Access returns the calling thread's cell for id.
func Access(id ID) (*Cell, error) {
	return Default().Access(id)
}

// Run runs fn on a new thread and waits for it to exit.
func Run(ctx context.Context, fn func(ctx context.Context, t *Thread) error) error {
	return Default().Run(ctx, fn)
}

// RunAll runs n threads and waits for all of them.
func RunAll(ctx context.Context, n int, fn func(ctx context.Context, i int, t *Thread) error) error {
	return Default().RunAll(ctx, n, fn)
}

// Attach makes the calling goroutine a thread until the returned
// Thread's Exit is called.
//
//	func main() {
//		t, err := tls.Attach()
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer t.Exit()
//		...
//	}
func Attach() (*Thread, error) {
	return Default().Attach()
}

// Current returns the calling goroutine's thread, if it is attached.
func Current() (*Thread, bool) {
	return Default().Current()
}

// GetStats returns the default engine's counters.
func GetStats() Stats {
	return Default().Stats()
}

// Slots describes every slot declared on the default engine.
func Slots() []SlotInfo {
	return Default().Registry().Infos()
}

// WriteReport prints a contract violation report to w.
func WriteReport(w io.Writer, v *ContractViolation) {
	engine.WriteReport(w, v)
}

// ConfigFromEnv parses TLSENGINE_OPTIONS.
func ConfigFromEnv() (Config, error) {
	return engine.ConfigFromEnv()
}
