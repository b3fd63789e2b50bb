// Package tls provides thread-local storage for Go programs.
//
// A thread-local variable has one logical slot and, on every thread that
// touches it, that thread's own copy of the bytes. A thread is a goroutine
// started through this package (or attached to it), pinned to its OS
// thread for its whole life. Writes on one thread are never observed on
// another.
//
// # Quick Start
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/kolkov/threadlocal/tls"
//	)
//
//	var x = tls.MustVar[int64](5)
//
//	func main() {
//		_ = tls.Run(context.Background(), func(ctx context.Context, t *tls.Thread) error {
//			v, err := x.Get()
//			fmt.Println(v, err) // 5 <nil>
//			return nil
//		})
//	}
//
// # API Overview
//
// The package provides functions for:
//   - Declaring variables: [Declare], [MustDeclare], [NewVar], [MustVar]
//   - Running threads: [Run], [RunAll], [Attach]
//   - Accessing storage: [Access], [Var.Get], [Var.Set], [Thread.Ref]
//   - Diagnostics: [GetStats], [Slots], [GetInfo], [Version]
//
// # How It Works
//
// [Declare] assigns the variable the next slot ID; IDs are never reused.
// When a thread starts it gets a storage block with a cell for every slot
// declared so far, and eager slots are initialized right away. Lazy slots
// are initialized the first time the thread touches them: the declared
// default bytes are copied in, then the slot's initializer, if any, runs
// once. Slots declared after a thread started are added to its block on
// its next access.
//
// Every access resolves the slot against the calling thread again. There
// is no cached location to go stale, so code that calls arbitrary
// functions between accesses stays correct.
//
// # Contract Violations
//
// Using a thread's storage after it exited, from another goroutine, or
// from inside the slot's own initializer (unless the slot allows it)
// cannot happen in a correct program. Each is reported with the
// declaration and thread start sites:
//
//	==================
//	WARNING: THREAD-LOCAL STORAGE CONTRACT VIOLATION
//	use after thread exit: slot x(1) on thread 0#1
//	...
//	==================
//
// and the faulting thread panics. [Run] turns that panic into a
// *ThreadFault after the thread's storage was released.
//
// # Configuration
//
// The default engine reads TLSENGINE_OPTIONS the first time it is used:
//
//	TLSENGINE_OPTIONS="max_slots=1024 reentry=default log=debug" ./prog
//
// Programs that need more than one engine create them with [New].
package tls
