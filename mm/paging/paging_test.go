package paging

import (
	"testing"

	"github.com/nucleuskernel/nucleus/boot"
	"github.com/nucleuskernel/nucleus/mm/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemory simulates physical RAM as a flat map keyed by physical
// address, letting the mapper's table-walk logic be tested without real
// hardware.
type fakeMemory struct {
	words map[uint64]uint64
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{words: make(map[uint64]uint64)}
}

func (f *fakeMemory) Read64(phys uint64) uint64 { return f.words[phys] }
func (f *fakeMemory) Write64(phys uint64, val uint64) { f.words[phys] = val }
func (f *fakeMemory) Zero4K(phys uint64) {
	for i := uint64(0); i < frame.Size; i += 8 {
		delete(f.words, phys+i)
	}
}

func setup(t *testing.T) (*Mapper, *fakeMemory) {
	t.Helper()

	mmap := []boot.MemoryMapEntry{
		{StartAddr: 0x100000, Length: 64 * frame.Size, Kind: boot.Usable},
	}
	alloc := frame.New(mmap)

	root, err := alloc.Allocate()
	require.NoError(t, err)

	mem := newFakeMemory()
	mem.Zero4K(root.Addr())

	return New(mem, alloc, root.Addr()), mem
}

func TestMapAndTranslate(t *testing.T) {
	m, _ := setup(t)

	virt := uint64(0xffff_8000_0010_0000)
	phys := uint64(0x500000)

	require.NoError(t, m.Map(virt, phys, Writable))

	got, err := m.Translate(virt)
	require.NoError(t, err)
	assert.Equal(t, phys, got)
}

func TestTranslateUnmappedFails(t *testing.T) {
	m, _ := setup(t)

	_, err := m.Translate(0xffff_8000_0020_0000)
	assert.ErrorIs(t, err, ErrNotMapped)
}

func TestMapTwiceFails(t *testing.T) {
	m, _ := setup(t)

	virt := uint64(0xffff_8000_0030_0000)
	require.NoError(t, m.Map(virt, 0x600000, Writable))

	err := m.Map(virt, 0x700000, Writable)
	assert.ErrorIs(t, err, ErrAlreadyMapped)
}

func TestMapOutOfFrames(t *testing.T) {
	// an allocator with no usable memory at all cannot even build the
	// intermediate tables.
	alloc := frame.New(nil)
	mem := newFakeMemory()

	m := New(mem, alloc, 0x1000)

	err := m.Map(0xffff_8000_0040_0000, 0x800000, Writable)
	assert.ErrorIs(t, err, ErrOutOfFrames)
}

func TestMapRangeCoversEveryPage(t *testing.T) {
	m, _ := setup(t)

	virt := uint64(0xffff_8000_0050_0000)
	phys := uint64(0x900000)
	size := uint64(8 * frame.Size)

	require.NoError(t, m.MapRange(virt, phys, size, Writable))

	for off := uint64(0); off < size; off += frame.Size {
		got, err := m.Translate(virt + off)
		require.NoError(t, err)
		assert.Equal(t, phys+off, got)
	}
}
