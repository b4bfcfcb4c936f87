// Package paging implements the x86-64 4-level page table mapper: given a
// virtual address and flags, walk PML4 → PDPT → PD → PT, creating missing
// intermediate tables by drawing frames from a frame allocator, and
// install leaf entries (spec §4.1).
package paging

import (
	"errors"

	"github.com/nucleuskernel/nucleus/mm/frame"
)

// Entry flags (Intel SDM Vol 3, 4.5).
type Flags uint64

const (
	Present   Flags = 1 << 0
	Writable  Flags = 1 << 1
	User      Flags = 1 << 2
	NoExecute Flags = 1 << 63

	addrMask uint64 = 0x000f_ffff_ffff_f000
)

var (
	ErrAlreadyMapped = errors.New("paging: already mapped")
	ErrOutOfFrames   = errors.New("paging: out of frames")
	ErrNotMapped     = errors.New("paging: not mapped")
)

const entriesPerTable = 512

// indices for each level, from a canonical 48-bit virtual address.
func tableIndices(virt uint64) (pml4, pdpt, pd, pt uint64) {
	pml4 = (virt >> 39) & 0x1ff
	pdpt = (virt >> 30) & 0x1ff
	pd = (virt >> 21) & 0x1ff
	pt = (virt >> 12) & 0x1ff
	return
}

// Memory abstracts physical-memory access through the HHDM so the mapper
// is testable without real hardware: implementations translate a physical
// address to something they can read/write 64-bit words from/to.
type Memory interface {
	Read64(phys uint64) uint64
	Write64(phys uint64, val uint64)
	Zero4K(phys uint64)
}

// FrameAllocator is the subset of frame.Allocator the mapper needs.
type FrameAllocator interface {
	Allocate() (frame.Frame, error)
}

// Mapper walks and mutates the 4-level page table hierarchy rooted at a
// PML4 physical frame.
type Mapper struct {
	mem    Memory
	frames FrameAllocator
	pml4   uint64 // physical address of the PML4 table
}

// New returns a Mapper rooted at the given PML4 physical address.
func New(mem Memory, frames FrameAllocator, pml4Phys uint64) *Mapper {
	return &Mapper{mem: mem, frames: frames, pml4: pml4Phys}
}

// PML4Phys returns the root table's physical address, suitable for
// loading into CR3.
func (m *Mapper) PML4Phys() uint64 {
	return m.pml4
}

// walk descends through pml4/pdpt/pd, creating missing intermediate tables
// when create is true, and returns the physical address of the PT entry
// slot for virt. It never installs or reads the final leaf entry itself.
func (m *Mapper) walk(virt uint64, create bool) (ptEntryAddr uint64, err error) {
	i4, i3, i2, i1 := tableIndices(virt)
	indices := [3]uint64{i4, i3, i2}

	tableAddr := m.pml4

	for _, idx := range indices {
		entryAddr := tableAddr + idx*8
		entry := m.mem.Read64(entryAddr)

		if entry&uint64(Present) == 0 {
			if !create {
				return 0, ErrNotMapped
			}

			f, ferr := m.frames.Allocate()
			if ferr != nil {
				return 0, ErrOutOfFrames
			}

			m.mem.Zero4K(f.Addr())

			entry = f.Addr() | uint64(Present) | uint64(Writable)
			m.mem.Write64(entryAddr, entry)
		}

		tableAddr = entry & addrMask
	}

	return tableAddr + i1*8, nil
}

// Map installs a leaf mapping for virt -> phys with the given flags.
// Fails with ErrAlreadyMapped if the leaf is already present, or
// ErrOutOfFrames if an intermediate table could not be allocated.
func (m *Mapper) Map(virt, phys uint64, flags Flags) error {
	ptEntryAddr, err := m.walk(virt, true)
	if err != nil {
		return err
	}

	existing := m.mem.Read64(ptEntryAddr)
	if existing&uint64(Present) != 0 {
		return ErrAlreadyMapped
	}

	m.mem.Write64(ptEntryAddr, (phys&addrMask)|uint64(flags|Present))
	return nil
}

// Translate walks the tables without mutation and returns the physical
// address virt maps to, or ErrNotMapped.
func (m *Mapper) Translate(virt uint64) (uint64, error) {
	ptEntryAddr, err := m.walk(virt, false)
	if err != nil {
		return 0, err
	}

	entry := m.mem.Read64(ptEntryAddr)
	if entry&uint64(Present) == 0 {
		return 0, ErrNotMapped
	}

	return (entry & addrMask) | (virt & 0xfff), nil
}

// MapRange maps a contiguous virtual range [virt, virt+size) to a
// contiguous physical range starting at phys, one page at a time. The
// leaves always point at phys+offset; the frame allocator is consulted
// only for missing intermediate tables, never for the leaf pages.
func (m *Mapper) MapRange(virt, phys, size uint64, flags Flags) error {
	for off := uint64(0); off < size; off += frame.Size {
		if err := m.Map(virt+off, phys+off, flags); err != nil {
			return err
		}
	}
	return nil
}
