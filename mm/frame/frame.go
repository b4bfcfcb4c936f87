// Package frame implements the physical frame allocator: a lazy sequence
// of 4 KiB-aligned usable frames drawn from the bootloader memory map
// (spec §3/§4.1).
package frame

import (
	"errors"
	"sort"

	"github.com/nucleuskernel/nucleus/bits"
	"github.com/nucleuskernel/nucleus/boot"
)

// Size is the fixed frame size this kernel works in.
const Size = 4096

// ErrOutOfFrames is returned once the usable-frame sequence is exhausted.
var ErrOutOfFrames = errors.New("frame: out of frames")

// Frame is a 4 KiB-aligned physical address.
type Frame uint64

// Addr returns the frame's physical base address.
func (f Frame) Addr() uint64 { return uint64(f) }

// Allocator produces the next usable physical frame, in order of memory
// map entry and offset within entry (tie-break: lower addresses first).
// It never reclaims: frames handed out are never returned, matching the
// spec's documented simplification for the kernel's lifetime.
//
// Allocator is not safe for concurrent use without external locking; the
// kernel wraps a single instance in a spinlock (spec §5).
type Allocator struct {
	regions []boot.MemoryMapEntry

	// cursor state: which region we're in and the next frame-aligned
	// offset within it.
	regionIdx int
	nextAddr  uint64

	allocated uint64
}

// New builds an allocator over mmap's Usable regions, sorted and
// frame-aligned. Partial frames at the start/end of a region (due to
// non-frame-aligned boundaries) are dropped, never straddled.
func New(mmap []boot.MemoryMapEntry) *Allocator {
	a := &Allocator{}

	for _, e := range mmap {
		if e.Kind != boot.Usable {
			continue
		}

		start := bits.AlignUp(e.StartAddr, Size)
		end := bits.AlignDown(e.End(), Size)

		if end <= start {
			continue
		}

		a.regions = append(a.regions, boot.MemoryMapEntry{
			StartAddr: start,
			Length:    end - start,
			Kind:      boot.Usable,
		})
	}

	sort.Slice(a.regions, func(i, j int) bool {
		return a.regions[i].StartAddr < a.regions[j].StartAddr
	})

	if len(a.regions) > 0 {
		a.nextAddr = a.regions[0].StartAddr
	}

	return a
}

// Allocate returns the next usable frame, or ErrOutOfFrames.
func (a *Allocator) Allocate() (Frame, error) {
	for a.regionIdx < len(a.regions) {
		r := a.regions[a.regionIdx]

		if a.nextAddr < r.End() {
			f := Frame(a.nextAddr)
			a.nextAddr += Size
			a.allocated++
			return f, nil
		}

		a.regionIdx++
		if a.regionIdx < len(a.regions) {
			a.nextAddr = a.regions[a.regionIdx].StartAddr
		}
	}

	return 0, ErrOutOfFrames
}

// Allocated returns the number of frames handed out so far.
func (a *Allocator) Allocated() uint64 {
	return a.allocated
}
