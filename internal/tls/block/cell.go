package block

import (
	"errors"
	"fmt"

	"github.com/kolkov/threadlocal/internal/tls/slot"
)

// ErrSizeMismatch is returned by Store for a value of the wrong length.
var ErrSizeMismatch = errors.New("block: size mismatch")

// State is the initialization state of one (thread, slot) pair.
type State uint8

const (
	// Uninitialized cells hold no bytes yet.
	Uninitialized State = iota
	// Initializing cells hold the default bytes while Init runs.
	Initializing
	// Initialized cells hold the thread's value.
	Initialized
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Cell is one thread's storage for one slot: the location an access
// resolves to.
//
// A Cell must only be used by its owning thread, and only until that
// thread's next operation that may exit it. Code that crosses such a
// boundary should re-resolve instead of keeping the Cell.
type Cell struct {
	desc  *slot.Descriptor
	state State
	data  []byte
	blk   *Block
}

// Slot returns the slot ID the cell belongs to.
func (c *Cell) Slot() slot.ID {
	return c.desc.ID
}

// Descriptor returns the slot descriptor of the cell.
func (c *Cell) Descriptor() *slot.Descriptor {
	return c.desc
}

// State returns the cell's initialization state.
func (c *Cell) State() State {
	return c.state
}

// SetState moves the cell to s. Only the initializer dispatch calls it.
func (c *Cell) SetState(s State) {
	c.state = s
}

// Data returns the cell's backing bytes without any checks.
// Only the initializer dispatch and the resolver use it.
func (c *Cell) Data() []byte {
	return c.data
}

// Fill replaces the cell's backing bytes with a copy of b without checks.
func (c *Cell) Fill(b []byte) {
	buf := make([]byte, len(b))
	copy(buf, b)
	c.data = buf
}

// Load returns a copy of the cell's value.
func (c *Cell) Load() ([]byte, error) {
	if err := c.blk.check(c); err != nil {
		return nil, err
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out, nil
}

// Store writes a copy of b into the cell.
//
// len(b) must equal the slot's size unless the slot is resizable.
func (c *Cell) Store(b []byte) error {
	if err := c.blk.check(c); err != nil {
		return err
	}
	if !c.desc.Resizable && len(b) != c.desc.Size {
		return fmt.Errorf("%w: %s holds %d bytes, got %d", ErrSizeMismatch, c.desc, c.desc.Size, len(b))
	}
	if len(b) == len(c.data) {
		copy(c.data, b)
		return nil
	}
	c.Fill(b)
	return nil
}

// Bytes returns the cell's live backing bytes for in-place access.
//
// The slice is invalid after the owning thread exits.
func (c *Cell) Bytes() ([]byte, error) {
	if err := c.blk.check(c); err != nil {
		return nil, err
	}
	return c.data, nil
}

// Block returns the block the cell belongs to.
func (c *Cell) Block() *Block {
	return c.blk
}
