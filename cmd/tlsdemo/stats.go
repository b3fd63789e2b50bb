// stats.go implements the 'tlsdemo stats' command.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/kolkov/threadlocal/tls"
)

// statsCommand runs a short workload on a fresh engine and prints its
// counters and slot table.
//
// Example:
//
//	tlsdemo stats -threads 8
func statsCommand(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	threads := fs.Int("threads", 8, "number of threads in the workload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := newEngine(stderr)
	if err != nil {
		return err
	}

	counter, err := e.Declare(8, u64(0), tls.Lazy, tls.WithName("counter"))
	if err != nil {
		return err
	}
	if _, err := e.Declare(8, u64(1), tls.Eager, tls.WithName("epoch")); err != nil {
		return err
	}
	if _, err := e.Declare(16, nil, tls.Lazy, tls.WithName("unused")); err != nil {
		return err
	}
	user, err := tls.NewVarIn(e, "nobody", tls.WithName("user"), tls.Inheritable())
	if err != nil {
		return err
	}

	err = e.RunAll(context.Background(), *threads, func(ctx context.Context, i int, t *tls.Thread) error {
		if err := write64(e, counter, uint64(i)); err != nil {
			return err
		}
		if err := user.Set(fmt.Sprintf("worker-%d", i)); err != nil {
			return err
		}
		return <-t.Spawn(ctx, func(ctx context.Context, child *tls.Thread) error {
			_, err := user.Get()
			return err
		})
	})
	if err != nil {
		return err
	}

	writeStats(stdout, e)
	return nil
}

func writeStats(w io.Writer, e *tls.Engine) {
	st := e.Stats()
	fmt.Fprintf(w, "threads:           %d started, %d exited, %d live\n",
		st.StartedThreads, st.ExitedThreads, st.LiveThreads)
	fmt.Fprintf(w, "violations:        %d\n", st.Violations)
	fmt.Fprintf(w, "blocks (process):  %d live, %d created\n", st.Blocks.LiveBlocks, st.Blocks.Created)
	fmt.Fprintf(w, "cells (process):   %d live\n", st.Blocks.LiveCells)
	fmt.Fprintf(w, "materializations:  %d\n", st.Materializations)
	fmt.Fprintf(w, "slots:             %d\n\n", st.Slots)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tPOLICY\tINHERIT\tINIT")
	for _, info := range e.Registry().Infos() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%t\t%t\n",
			info.ID, info.Name, info.Size, info.Policy, info.Inherit, info.HasInit)
	}
	_ = tw.Flush()
}
