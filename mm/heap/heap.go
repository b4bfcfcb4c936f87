// Package heap implements the kernel's global allocator: three
// interchangeable policies (bump, free-list, size-class) behind a single
// spinlock, backing a virtual range mapped present+writable+no-execute by
// the page mapper (spec §4.1).
//
// None of the three policies may be used from interrupt context (spec
// §4.2/§5: IRQ handlers must not allocate); callers are responsible for
// that discipline, the allocator itself does not detect IRQ context.
package heap

import (
	"errors"
	"sync"

	"github.com/nucleuskernel/nucleus/bits"
	"github.com/nucleuskernel/nucleus/mm/paging"
)

// ErrOutOfHeap is returned when a policy cannot satisfy a request within
// its backing range.
var ErrOutOfHeap = errors.New("heap: out of memory")

// DefaultSize and NetworkSize are the two heap configurations named in
// spec §3/§9 (Open Question 3): 100 KiB is the legal minimum for
// non-network tests, 2 MiB is the core configuration the network stack
// requires.
const (
	DefaultSize = 100 * 1024
	NetworkSize = 2 * 1024 * 1024
)

// Policy selects which allocator backs a Heap.
type Policy int

const (
	Bump Policy = iota
	FreeList
	SizeClass // default
)

// Allocator is the contract every policy satisfies.
type Allocator interface {
	Allocate(size, align uintptr) (uintptr, error)
	Deallocate(ptr, size, align uintptr)
}

// Heap owns a virtual range and the single allocator instance serving it,
// under one global lock (spec §4.1: "under a single global lock").
type Heap struct {
	mu    sync.Mutex
	start uintptr
	size  uintptr
	alloc Allocator
}

// Init maps [start, start+size) as present+writable+no-execute via mapper,
// then constructs the chosen policy over that range. After Init returns,
// the heap is ready for Allocate/Deallocate.
func Init(mapper *paging.Mapper, start, size uint64, policy Policy) (*Heap, error) {
	if err := mapper.MapRange(start, start, size, paging.Writable|paging.NoExecute); err != nil {
		return nil, err
	}

	return initAt(uintptr(start), uintptr(size), policy), nil
}

// initAt builds a Heap without touching the page mapper, for tests that
// only care about allocator behavior over a plain byte range.
func initAt(start, size uintptr, policy Policy) *Heap {
	h := &Heap{start: start, size: size}

	switch policy {
	case Bump:
		h.alloc = newBumpAllocator(start, size)
	case FreeList:
		h.alloc = newFreeListAllocator(start, size)
	default:
		h.alloc = newSizeClassAllocator(start, size)
	}

	return h
}

// Start returns the heap's base virtual address.
func (h *Heap) Start() uintptr { return h.start }

// Size returns the heap's total size in bytes.
func (h *Heap) Size() uintptr { return h.size }

// Contains reports whether ptr falls within the heap's virtual range.
func (h *Heap) Contains(ptr uintptr) bool {
	return ptr >= h.start && ptr < h.start+h.size
}

// Allocate returns a pointer to a block of at least size bytes, aligned to
// align (a power of two), or ErrOutOfHeap.
func (h *Heap) Allocate(size, align uintptr) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alloc.Allocate(size, align)
}

// Deallocate returns a previously allocated block to the heap.
func (h *Heap) Deallocate(ptr, size, align uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alloc.Deallocate(ptr, size, align)
}

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return uintptr(bits.AlignUp(uint64(v), uint64(align)))
}
