// Package sitedepot records the call sites of declarations and thread starts.
//
// Contract violation reports name two places: where the slot was declared
// and where the thread that misused it was started. Capturing a full stack
// on every declaration and thread start would be wasteful, so sites are
// stored once, deduplicated by hash, and referenced by a 64-bit key.
//
// Design:
//   - Fixed-size traces (8 frames)
//   - FNV-1a hash of the program counters as the key
//   - Global sync.Map storage (lock-free reads)
//
// Usage:
//
//	key := sitedepot.Capture(1) // skip the caller's frame
//	...
//	fmt.Print(sitedepot.Get(key).Format())
package sitedepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the maximum number of frames kept per site.
const MaxFrames = 8

// Site is a captured call site with fixed size.
type Site struct {
	PC [MaxFrames]uintptr
}

// depot is the global deduplication store.
//
// Key: uint64 hash (FNV-1a of program counters)
// Value: *Site
var depot sync.Map

// Capture records the caller's stack and returns its key.
//
// skip counts frames above Capture's caller: Capture(0) records the
// function that called Capture, Capture(1) that function's caller.
// Returns 0 if no frames are available.
func Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// runtime.Callers: 0 = Callers, 1 = Capture, 2 = caller.
	n := runtime.Callers(2+skip, pcs[:])
	if n == 0 {
		return 0
	}

	key := hashPCs(pcs[:n])
	if _, exists := depot.Load(key); exists {
		return key
	}

	depot.Store(key, &Site{PC: pcs})
	return key
}

// Get returns the site stored under key, or nil.
func Get(key uint64) *Site {
	if key == 0 {
		return nil
	}
	val, ok := depot.Load(key)
	if !ok {
		return nil
	}
	return val.(*Site)
}

func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(b[:], uint64(pc))
		_, _ = h.Write(b[:])
	}
	return h.Sum64()
}

// Format renders the site in the frame/file:line layout used by reports.
//
// Runtime frames are skipped.
func (s *Site) Format() string {
	if s == nil {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(trim(s.PC[:]))

	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}

		fmt.Fprintf(&buf, "  %s()\n", frame.Function)
		fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)

		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

// Top returns "function file:line" of the innermost non-runtime frame.
func (s *Site) Top() string {
	if s == nil {
		return "<unknown>"
	}
	frames := runtime.CallersFrames(trim(s.PC[:]))
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if !strings.HasPrefix(frame.Function, "runtime.") {
			return fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return "<runtime internal>"
}

func trim(pcs []uintptr) []uintptr {
	n := 0
	for n < len(pcs) && pcs[n] != 0 {
		n++
	}
	return pcs[:n]
}

// Reset clears the depot. Test use only.
func Reset() {
	depot.Range(func(k, _ any) bool {
		depot.Delete(k)
		return true
	})
}

// Stats returns the number of unique sites stored.
func Stats() (uniqueSites int) {
	depot.Range(func(_, _ any) bool {
		uniqueSites++
		return true
	})
	return uniqueSites
}
