//go:build amd64

package x86

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// Segment selectors, fixed by the GDT layout below.
const (
	NullSelector       = 0x00
	KernelCodeSelector = 0x08
	KernelDataSelector = 0x10
	TSSSelector        = 0x18
)

// 64-bit code/data segment descriptor access/flag bits (Intel SDM Vol 3,
// 3.4.5).
const (
	segPresent    = 1 << 7
	segDescType   = 1 << 4 // code/data, not system
	segExecutable = 1 << 3
	segRW         = 1 << 1
	segLong       = 1 << 5 // L bit, in FlagsLim's upper (flags) nibble
)

// SegmentDescriptor is a plain (non-system) 64-bit mode GDT entry. In long
// mode the base/limit fields are ignored by the CPU for code/data segments,
// but are still encoded for completeness and to match what real hardware
// expects to decode.
type SegmentDescriptor struct {
	LimitLow uint16
	BaseLow  uint16
	BaseMid  uint8
	Access   uint8
	FlagsLim uint8
	BaseHigh uint8
}

func codeSegment() SegmentDescriptor {
	return SegmentDescriptor{
		Access:   segPresent | segDescType | segExecutable | segRW,
		FlagsLim: segLong,
	}
}

func dataSegment() SegmentDescriptor {
	return SegmentDescriptor{
		Access: segPresent | segDescType | segRW,
	}
}

// TSSDescriptor is the 16-byte system descriptor (Available 64-bit TSS) that
// occupies two GDT slots.
type TSSDescriptor struct {
	LimitLow  uint16
	BaseLow   uint16
	BaseMid   uint8
	Access    uint8
	FlagsLim  uint8
	BaseHigh  uint8
	BaseUpper uint32
	Reserved  uint32
}

const tssAvailable64 = 0b1001 // type field: 64-bit TSS (available)

func tssDescriptor(base uint64, limit uint32) TSSDescriptor {
	return TSSDescriptor{
		LimitLow:  uint16(limit),
		BaseLow:   uint16(base),
		BaseMid:   uint8(base >> 16),
		Access:    segPresent | tssAvailable64,
		BaseHigh:  uint8(base >> 24),
		BaseUpper: uint32(base >> 32),
	}
}

// TaskStateSegment is the minimal 64-bit TSS: only the IST slots matter to
// this kernel, since there is no ring-3 stack switching (Non-goal: no user
// space) and no I/O permission bitmap.
type TaskStateSegment struct {
	reserved0 uint32
	RSP       [3]uint64
	reserved1 uint64
	IST       [7]uint64
	reserved2 uint64
	reserved3 uint16
	IOMapBase uint16
}

// DoubleFaultStackSize is the minimum size required for the dedicated
// double-fault stack (spec: IST ≥ 16 KiB).
const DoubleFaultStackSize = 16 * 1024

// tssLimit is sizeof(TaskStateSegment)-1, the minimum TSS segment limit per
// the Intel SDM.
const tssLimit = 103

// GDT owns the kernel's global descriptor table: null, code, data, and a
// single TSS descriptor. It is built once at boot and never modified again
// (spec §3: "written once at boot; read-only thereafter").
type GDT struct {
	entries [5]SegmentDescriptor // slots 3-4 together encode the 16-byte TSS descriptor
	tss     TaskStateSegment
	built   bool

	// wire holds the serialized table LGDT was pointed at. The CPU keeps
	// dereferencing this memory on every segment load for the rest of the
	// kernel's life, long after Load returns, so it must be kept reachable
	// here rather than left as a Load-local that the GC could reclaim.
	wire []byte
}

// Build populates the table and the embedded TSS. doubleFaultStack must
// point at a dedicated DoubleFaultStackSize-byte stack, distinct from the
// normal kernel stack, and must remain valid for the kernel's lifetime.
func (g *GDT) Build(doubleFaultStack uint64) {
	g.tss = TaskStateSegment{
		IST: [7]uint64{0: doubleFaultStack},
	}

	g.entries[0] = SegmentDescriptor{}
	g.entries[1] = codeSegment()
	g.entries[2] = dataSegment()

	tssDesc := tssDescriptor(uint64(uintptr(unsafe.Pointer(&g.tss))), tssLimit)
	lo, hi := splitTSSDescriptor(tssDesc)
	g.entries[3], g.entries[4] = lo, hi

	g.built = true
}

// Built reports whether Build has run.
func (g *GDT) Built() bool {
	return g.built
}

// Bytes serializes the table for LGDT consumption.
func (g *GDT) Bytes() []byte {
	buf := new(bytes.Buffer)
	for _, e := range g.entries {
		binary.Write(buf, binary.LittleEndian, e)
	}
	return buf.Bytes()
}

// IST0 returns the configured double-fault stack pointer.
func (g *GDT) IST0() uint64 {
	return g.tss.IST[0]
}

// splitTSSDescriptor packs a 16-byte system descriptor into two 8-byte GDT
// slots, as required by the long-mode TSS descriptor format.
func splitTSSDescriptor(d TSSDescriptor) (lo, hi SegmentDescriptor) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	raw := buf.Bytes()

	binary.Read(bytes.NewReader(raw[:8]), binary.LittleEndian, &lo)
	binary.Read(bytes.NewReader(raw[8:16]), binary.LittleEndian, &hi)

	return lo, hi
}

// Load installs the table via LGDT and reloads segment registers, then loads
// the TSS selector via LTR. Must run after Build and before EnableExceptions.
func (g *GDT) Load() {
	if !g.built {
		panic("x86: GDT.Load called before Build")
	}

	g.wire = g.Bytes()
	descriptor := struct {
		limit uint16
		base  uint64
	}{
		limit: uint16(len(g.wire) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&g.wire[0]))),
	}

	lgdt(uintptr(unsafe.Pointer(&descriptor)))
	reloadSegments()
	ltr(TSSSelector)
}
