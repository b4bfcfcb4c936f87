// Package dma implements a first-fit allocator over a physically
// contiguous, identity-mapped memory region, used to back NIC descriptor
// rings and packet buffers that the device accesses without going through
// the Go runtime's own heap (spec §4.5). Adapted from the teacher's DMA
// region allocator: same free-list/first-fit/defrag shape, generalized
// from 32-bit addresses to the 64-bit identity-mapped range this kernel
// uses and from reflect.SliceHeader to unsafe.Slice.
package dma

import (
	"container/list"
	"errors"
	"sync"
	"unsafe"

	"github.com/nucleuskernel/nucleus/bits"
)

// ErrOutOfMemory is returned when no free block satisfies a request.
var ErrOutOfMemory = errors.New("dma: out of memory")

type block struct {
	addr     uint64
	size     int
	reserved bool
}

// Region is a memory range allocated for DMA purposes: every address it
// hands out is both the virtual address the kernel dereferences and the
// physical address the device programs into its descriptors, since the
// region lives in an identity-mapped window (spec §4.5 step 4).
type Region struct {
	mu sync.Mutex

	Start uint64
	Size  int

	free *list.List // of *block
	used map[uint64]*block
}

// NewRegion builds an allocator over [start, start+size).
func NewRegion(start uint64, size int) *Region {
	r := &Region{
		Start: start,
		Size:  size,
		free:  list.New(),
		used:  make(map[uint64]*block),
	}
	r.free.PushFront(&block{addr: start, size: size})
	return r
}

// Reserve carves out size bytes (aligned to align, 0 meaning no extra
// alignment beyond natural) without copying any data in, returning the
// address and a byte slice viewing it directly. Used to pre-allocate
// descriptor rings and buffers that the driver fills in place.
func (r *Region) Reserve(size, align int) (uint64, []byte, error) {
	if size <= 0 {
		return 0, nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.alloc(size, align)
	if err != nil {
		return 0, nil, err
	}
	b.reserved = true
	r.used[b.addr] = b

	return b.addr, r.slice(b.addr, size), nil
}

// Alloc copies buf into a newly carved block and returns its address.
func (r *Region) Alloc(buf []byte, align int) (uint64, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.alloc(len(buf), align)
	if err != nil {
		return 0, err
	}
	r.used[b.addr] = b

	copy(r.slice(b.addr, len(buf)), buf)

	return b.addr, nil
}

// Read copies len(buf) bytes starting at addr+off into buf.
func (r *Region) Read(addr uint64, off int, buf []byte) {
	if addr == 0 || len(buf) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.used[addr]
	if !ok {
		panic("dma: read of unallocated address")
	}
	if off+len(buf) > b.size {
		panic("dma: read out of bounds")
	}

	copy(buf, r.slice(addr+uint64(off), len(buf)))
}

// Write copies buf into the block at addr+off.
func (r *Region) Write(addr uint64, off int, buf []byte) {
	if addr == 0 || len(buf) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.used[addr]
	if !ok {
		return
	}
	if off+len(buf) > b.size {
		panic("dma: write out of bounds")
	}

	copy(r.slice(addr+uint64(off), len(buf)), buf)
}

// Free releases a block allocated by Alloc.
func (r *Region) Free(addr uint64) { r.release(addr, false) }

// Release releases a block allocated by Reserve.
func (r *Region) Release(addr uint64) { r.release(addr, true) }

func (r *Region) release(addr uint64, reserved bool) {
	if addr == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.used[addr]
	if !ok || b.reserved != reserved {
		return
	}
	delete(r.used, addr)

	r.freeBlock(b)
}

// alloc finds the first free block large enough, splitting off any
// leftover space before and after the carved-out region.
func (r *Region) alloc(size, align int) (*block, error) {
	var e *list.Element
	var found *block

	needed := size
	if align > 0 {
		needed += align
	}

	for e = r.free.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.size >= needed {
			found = b
			break
		}
	}

	if found == nil {
		return nil, ErrOutOfMemory
	}

	defer r.free.Remove(e)

	if needed < found.size {
		r.free.InsertAfter(&block{addr: found.addr + uint64(needed), size: found.size - needed}, e)
		found.size = needed
	}

	if align > 0 {
		if aligned := bits.AlignUp(found.addr, uint64(align)); aligned != found.addr {
			pad := int(aligned - found.addr)
			r.free.InsertBefore(&block{addr: found.addr, size: pad}, e)
			found.addr = aligned
			found.size -= pad
		}

		if found.size > size {
			r.free.InsertAfter(&block{addr: found.addr + uint64(size), size: found.size - size}, e)
			found.size = size
		}
	}

	return found, nil
}

// freeBlock returns b to the free list in address order and coalesces
// adjacent spans.
func (r *Region) freeBlock(b *block) {
	for e := r.free.Front(); e != nil; e = e.Next() {
		f := e.Value.(*block)
		if f.addr > b.addr {
			r.free.InsertBefore(b, e)
			r.defrag()
			return
		}
	}

	r.free.PushBack(b)
	r.defrag()
}

func (r *Region) defrag() {
	var prev *list.Element

	for e := r.free.Front(); e != nil; {
		next := e.Next()
		b := e.Value.(*block)

		if prev != nil {
			p := prev.Value.(*block)
			if p.addr+uint64(p.size) == b.addr {
				p.size += b.size
				r.free.Remove(e)
				e = next
				continue
			}
		}

		prev = e
		e = next
	}
}

// slice views length bytes at addr as a byte slice. Only valid while the
// region's backing memory is mapped and not reused.
func (r *Region) slice(addr uint64, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), length)
}
