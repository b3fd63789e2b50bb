// scenarios.go implements the 'tlsdemo run' and 'tlsdemo scenario' commands.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/threadlocal/tls"
)

type scenario struct {
	name  string
	about string
	run   func(args []string, stdout, stderr io.Writer) error
}

var scenarios = []scenario{
	{"basic", "a new thread reads the declared default", basicScenario},
	{"isolation", "a write on one thread is invisible to another", isolationScenario},
	{"lazy", "untouched lazy slots are never initialized", lazyScenario},
	{"late", "a slot declared after a thread started", lateScenario},
	{"stress", "many threads, concurrent declarations", stressScenario},
	{"fault", "violations are reported, not hidden", faultScenario},
}

func scenarioNames() string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return strings.Join(names, "|")
}

// runCommand implements 'tlsdemo run': the basic scenario.
func runCommand(stdout, stderr io.Writer) error {
	return basicScenario(nil, stdout, stderr)
}

// scenarioCommand implements 'tlsdemo scenario <name> [flags]'.
func scenarioCommand(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no scenario specified (want %s)", scenarioNames())
	}
	for _, s := range scenarios {
		if s.name == args[0] {
			return s.run(args[1:], stdout, stderr)
		}
	}
	return fmt.Errorf("unknown scenario %q (want %s)", args[0], scenarioNames())
}

// newEngine returns a fresh engine configured from the environment.
// Violations are reported on stderr without halting.
func newEngine(stderr io.Writer) (*tls.Engine, error) {
	cfg, err := tls.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.OnViolation == nil {
		cfg.OnViolation = func(v *tls.ContractViolation) { tls.WriteReport(stderr, v) }
	}
	return tls.New(cfg), nil
}

func u64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func read64(e *tls.Engine, id tls.ID) (uint64, error) {
	c, err := e.Access(id)
	if err != nil {
		return 0, err
	}
	b, err := c.Load()
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func write64(e *tls.Engine, id tls.ID, v uint64) error {
	c, err := e.Access(id)
	if err != nil {
		return err
	}
	return c.Store(u64(v))
}

func basicScenario(_ []string, stdout, stderr io.Writer) error {
	e, err := newEngine(stderr)
	if err != nil {
		return err
	}
	x, err := e.Declare(8, u64(5), tls.Lazy, tls.WithName("x"))
	if err != nil {
		return err
	}
	return e.Run(context.Background(), func(ctx context.Context, t *tls.Thread) error {
		v, err := read64(e, x)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, v)
		return nil
	})
}

func isolationScenario(_ []string, stdout, stderr io.Writer) error {
	e, err := newEngine(stderr)
	if err != nil {
		return err
	}
	x, err := e.Declare(8, u64(5), tls.Lazy, tls.WithName("x"))
	if err != nil {
		return err
	}

	written := make(chan struct{})
	var a, b uint64

	var g errgroup.Group
	g.Go(func() error {
		return e.Run(context.Background(), func(ctx context.Context, t *tls.Thread) error {
			if err := write64(e, x, 7); err != nil {
				return err
			}
			close(written)
			var rerr error
			a, rerr = read64(e, x)
			return rerr
		})
	})
	g.Go(func() error {
		return e.Run(context.Background(), func(ctx context.Context, t *tls.Thread) error {
			<-written
			var err error
			b, err = read64(e, x)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "thread A wrote 7, reads %d\n", a)
	fmt.Fprintf(stdout, "thread B reads %d\n", b)
	return nil
}

func lazyScenario(_ []string, stdout, stderr io.Writer) error {
	e, err := newEngine(stderr)
	if err != nil {
		return err
	}

	names := []string{"a", "b", "c", "eager"}
	counts := make([]atomic.Int64, len(names))
	ids := make([]tls.ID, len(names))
	for i, name := range names {
		policy := tls.Lazy
		if name == "eager" {
			policy = tls.Eager
		}
		ids[i], err = e.Declare(8, u64(uint64(i)), policy, tls.WithName(name),
			tls.WithInit(func([]byte) { counts[i].Add(1) }))
		if err != nil {
			return err
		}
	}

	err = e.Run(context.Background(), func(ctx context.Context, t *tls.Thread) error {
		for j := 0; j < 3; j++ {
			if _, err := read64(e, ids[0]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, name := range names {
		fmt.Fprintf(stdout, "%s: initialized %d time(s)\n", name, counts[i].Load())
	}
	return nil
}

func lateScenario(_ []string, stdout, stderr io.Writer) error {
	e, err := newEngine(stderr)
	if err != nil {
		return err
	}

	started := make(chan struct{})
	declared := make(chan tls.ID, 1)

	var g errgroup.Group
	g.Go(func() error {
		return e.Run(context.Background(), func(ctx context.Context, t *tls.Thread) error {
			close(started)
			y := <-declared
			v, err := read64(e, y)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "slot y declared after thread %s started: reads %d\n", t.Handle(), v)
			return nil
		})
	})
	g.Go(func() error {
		<-started
		y, err := e.Declare(8, u64(9), tls.Lazy, tls.WithName("y"))
		if err != nil {
			close(declared)
			return err
		}
		declared <- y
		return nil
	})
	return g.Wait()
}

func stressScenario(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	fs.SetOutput(stderr)
	threads := fs.Int("threads", 64, "number of threads")
	slots := fs.Int("slots", 16, "slots declared while threads run")
	rounds := fs.Int("rounds", 4, "accesses per slot per thread")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := newEngine(stderr)
	if err != nil {
		return err
	}
	before := e.Stats().Blocks

	// Declarations race with the threads; every thread resolves whatever
	// is registered by the time it looks.
	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < *slots; i++ {
			if _, err := e.Declare(8, u64(uint64(i)), tls.Lazy); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		return e.RunAll(context.Background(), *threads, func(ctx context.Context, i int, t *tls.Thread) error {
			for r := 0; r < *rounds; r++ {
				n := e.Registry().Len()
				for id := tls.ID(1); int(id) <= n; id++ {
					if err := write64(e, id, uint64(i)); err != nil {
						return err
					}
					v, err := read64(e, id)
					if err != nil {
						return err
					}
					if v != uint64(i) {
						return fmt.Errorf("thread %d slot %d: read %d", i, id, v)
					}
				}
			}
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	st := e.Stats()
	fmt.Fprintf(stdout, "threads: %d started, %d exited\n", st.StartedThreads, st.ExitedThreads)
	fmt.Fprintf(stdout, "slots: %d\n", st.Slots)
	if st.Blocks.LiveBlocks != before.LiveBlocks || st.Blocks.LiveCells != before.LiveCells {
		return fmt.Errorf("storage not released: %+v, was %+v", st.Blocks, before)
	}
	fmt.Fprintln(stdout, "storage released: ok")
	return nil
}

func faultScenario(_ []string, stdout, stderr io.Writer) error {
	e, err := newEngine(stderr)
	if err != nil {
		return err
	}
	x, err := e.Declare(8, u64(5), tls.Lazy, tls.WithName("x"))
	if err != nil {
		return err
	}

	var kept *tls.Cell
	err = e.Run(context.Background(), func(ctx context.Context, t *tls.Thread) error {
		kept, err = t.Resolve(x)
		return err
	})
	if err != nil {
		return err
	}

	_, err = kept.Load()
	var v *tls.ContractViolation
	if !errors.As(err, &v) {
		return fmt.Errorf("use after exit went unreported: %v", err)
	}
	fmt.Fprintf(stdout, "reported: %v\n", v)
	return nil
}
