// Package block implements per-thread storage blocks.
//
// Each live thread owns exactly one Block: a resizable table of cells
// indexed by slot ID. A block is created when its thread starts, grows
// when slots are registered after that, and is destroyed exactly once
// when its thread exits.
//
// # Ownership
//
// Blocks are never shared. Only the owning thread reads or writes cells,
// so the cell table needs no locks. The one exception is the liveness
// flag, which is atomic so that a stale cell used after exit (or from the
// wrong goroutine) can be detected and reported instead of silently
// reading freed storage.
//
// # Growth
//
// Cells are allocated individually and the table holds pointers, so a
// resolved *Cell stays valid when the table grows. Late slots get their
// cells the next time the owner resolves anything; see package engine.
//
// # Accounting
//
// ReadStats reports live blocks and cells process-wide. Tests use it to
// check that thread exit returns the counts to their pre-start baseline.
package block
