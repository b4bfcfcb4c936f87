package heap

import "container/list"

// freeBlock describes one span of free space.
type freeBlock struct {
	addr uintptr
	size uintptr
}

// freeListAllocator is a first-fit allocator over an address-ordered list of
// free spans, splitting on allocate and coalescing adjacent spans on free.
// Grounded on the teacher's DMA region allocator: a single free list walked
// front-to-back for the first block large enough, with alignment handled by
// carving a leading padding block when the candidate isn't already aligned,
// and a defrag pass merging adjacent free spans after every release.
type freeListAllocator struct {
	free *list.List // of *freeBlock, kept address-ordered
	used map[uintptr]uintptr
}

func newFreeListAllocator(start, size uintptr) *freeListAllocator {
	a := &freeListAllocator{
		free: list.New(),
		used: make(map[uintptr]uintptr),
	}
	a.free.PushFront(&freeBlock{addr: start, size: size})
	return a
}

func (a *freeListAllocator) Allocate(size, align uintptr) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	if align == 0 {
		align = 1
	}

	for e := a.free.Front(); e != nil; e = e.Next() {
		b := e.Value.(*freeBlock)

		padding := uintptr(0)
		if r := b.addr & (align - 1); r != 0 {
			padding = align - r
		}

		need := size + padding
		if b.size < need {
			continue
		}

		allocAddr := b.addr + padding

		if padding > 0 {
			a.free.InsertBefore(&freeBlock{addr: b.addr, size: padding}, e)
		}

		if b.size > need {
			a.free.InsertAfter(&freeBlock{addr: allocAddr + size, size: b.size - need}, e)
		}

		a.free.Remove(e)
		a.used[allocAddr] = size

		return allocAddr, nil
	}

	return 0, ErrOutOfHeap
}

func (a *freeListAllocator) Deallocate(ptr, size, align uintptr) {
	if ptr == 0 {
		return
	}

	got, ok := a.used[ptr]
	if !ok {
		return
	}
	delete(a.used, ptr)

	// got is the size actually recorded at allocation time; size is the
	// caller-supplied hint and must agree for a well-behaved caller, but we
	// trust the ledger over the argument.
	released := &freeBlock{addr: ptr, size: got}

	for e := a.free.Front(); e != nil; e = e.Next() {
		b := e.Value.(*freeBlock)
		if b.addr > released.addr {
			a.free.InsertBefore(released, e)
			a.defrag()
			return
		}
	}

	a.free.PushBack(released)
	a.defrag()
}

// defrag merges every pair of address-adjacent free spans.
func (a *freeListAllocator) defrag() {
	var prev *list.Element

	for e := a.free.Front(); e != nil; {
		next := e.Next()
		b := e.Value.(*freeBlock)

		if prev != nil {
			p := prev.Value.(*freeBlock)
			if p.addr+p.size == b.addr {
				p.size += b.size
				a.free.Remove(e)
				e = next
				continue
			}
		}

		prev = e
		e = next
	}
}
