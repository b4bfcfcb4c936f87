package heap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBumpAllocatorNeverOverlaps(t *testing.T) {
	h := initAt(0x1000, 256, Bump)

	a, err := h.Allocate(64, 8)
	require.NoError(t, err)

	b, err := h.Allocate(64, 8)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, b, a+64)

	h.Deallocate(a, 64, 8) // no-op, must not panic or reuse

	_, err = h.Allocate(256, 8)
	assert.ErrorIs(t, err, ErrOutOfHeap)
}

func TestFreeListAllocatorReusesFreedSpace(t *testing.T) {
	h := initAt(0x2000, 128, FreeList)

	a, err := h.Allocate(64, 8)
	require.NoError(t, err)

	h.Deallocate(a, 64, 8)

	b, err := h.Allocate(64, 8)
	require.NoError(t, err)
	assert.Equal(t, a, b, "freed block should be reused by a same-size request")
}

func TestFreeListAllocatorCoalescesAdjacentBlocks(t *testing.T) {
	h := initAt(0x3000, 128, FreeList)

	a, err := h.Allocate(64, 8)
	require.NoError(t, err)

	b, err := h.Allocate(64, 8)
	require.NoError(t, err)

	h.Deallocate(a, 64, 8)
	h.Deallocate(b, 64, 8)

	// the whole region should be one contiguous free span again, so a
	// request for the full size must succeed.
	c, err := h.Allocate(128, 8)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestFreeListAllocatorRespectsAlignment(t *testing.T) {
	h := initAt(0x4001, 256, FreeList)

	ptr, err := h.Allocate(32, 64)
	require.NoError(t, err)
	assert.Zero(t, ptr%64)
}

func TestSizeClassAllocatorStress(t *testing.T) {
	// scenario: 128 KiB heap, size-class policy, 10000 random
	// alloc/dealloc cycles, forcing a deallocation whenever live bytes pass
	// half the heap; every live allocation must stay in range and total
	// live bytes must stay below the heap size.
	const heapSize = 128 * 1024
	h := initAt(0x1_0000_0000, heapSize, SizeClass)

	rng := rand.New(rand.NewSource(1))

	type live struct {
		ptr  uintptr
		size uintptr
	}

	var allocs []live
	var liveBytes uintptr

	for i := 0; i < 10000; i++ {
		if len(allocs) > 0 && (rng.Intn(2) == 0 || liveBytes > heapSize/2) {
			idx := rng.Intn(len(allocs))
			a := allocs[idx]

			h.Deallocate(a.ptr, a.size, 8)
			liveBytes -= a.size

			allocs[idx] = allocs[len(allocs)-1]
			allocs = allocs[:len(allocs)-1]

			continue
		}

		size := uintptr(1 + rng.Intn(512))

		ptr, err := h.Allocate(size, 8)
		if err != nil {
			// legitimate under pressure; the invariant is "never
			// corrupts", not "never fails".
			continue
		}

		require.True(t, h.Contains(ptr), "allocation %#x out of heap range", ptr)
		assert.Less(t, ptr+size, h.Start()+h.Size()+1)

		allocs = append(allocs, live{ptr: ptr, size: size})
		liveBytes += size

		assert.Less(t, liveBytes, uintptr(heapSize), "live bytes must stay within the heap")
	}
}

func TestSizeClassAllocatorOversizedFallsThroughToBacking(t *testing.T) {
	h := initAt(0x5000, 16*1024, SizeClass)

	ptr, err := h.Allocate(4096, 8)
	require.NoError(t, err)
	assert.True(t, h.Contains(ptr))

	h.Deallocate(ptr, 4096, 8)

	ptr2, err := h.Allocate(4096, 8)
	require.NoError(t, err)
	assert.Equal(t, ptr, ptr2)
}
