//go:build amd64

package x86

import "github.com/nucleuskernel/nucleus/x86/reg"

// Legacy 8259A Programmable Interrupt Controller ports and commands.
const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	icw1Init  = 0x11 // ICW4 needed, cascade mode, edge triggered
	icw4_8086 = 0x01

	picEOI = 0x20
)

// PIC represents the primary/secondary chained 8259 pair, remapped so their
// vectors fall outside the CPU exception range (spec §4.2).
type PIC struct {
	MasterOffset uint8 // typically 32
	SlaveOffset  uint8 // typically 40

	masterMask uint8
	slaveMask  uint8
	remapped   bool
}

// Remap reprograms both controllers to deliver IRQ0-7 at MasterOffset and
// IRQ8-15 at SlaveOffset, and masks every line (callers unmask individually
// via SetMasked).
func (p *PIC) Remap() {
	// save masks (not strictly needed before first remap, but harmless)
	p.masterMask = reg.In8(picMasterData)
	p.slaveMask = reg.In8(picSlaveData)

	reg.Out8(picMasterCommand, icw1Init)
	reg.Out8(picSlaveCommand, icw1Init)

	reg.Out8(picMasterData, p.MasterOffset) // ICW2: vector offset
	reg.Out8(picSlaveData, p.SlaveOffset)

	reg.Out8(picMasterData, 1<<2) // ICW3: slave attached to IRQ2
	reg.Out8(picSlaveData, 2)     // ICW3: slave's cascade identity

	reg.Out8(picMasterData, icw4_8086)
	reg.Out8(picSlaveData, icw4_8086)

	// mask everything; callers unmask the lines they service
	p.masterMask = 0xff
	p.slaveMask = 0xff
	reg.Out8(picMasterData, p.masterMask)
	reg.Out8(picSlaveData, p.slaveMask)

	p.remapped = true
}

// line returns which controller (master/slave) and bit position an IRQ
// number (0-15) corresponds to.
func (p *PIC) line(irq int) (master bool, bit uint) {
	if irq < 8 {
		return true, uint(irq)
	}
	return false, uint(irq - 8)
}

// SetMasked masks or unmasks a single IRQ line (0-15).
func (p *PIC) SetMasked(irq int, masked bool) {
	master, bit := p.line(irq)

	if master {
		if masked {
			p.masterMask |= 1 << bit
		} else {
			p.masterMask &^= 1 << bit
		}
		reg.Out8(picMasterData, p.masterMask)
	} else {
		if masked {
			p.slaveMask |= 1 << bit
		} else {
			p.slaveMask &^= 1 << bit
		}
		reg.Out8(picSlaveData, p.slaveMask)

		// the cascade line (IRQ2) must stay unmasked on the master for any
		// slave IRQ to reach the CPU at all
		if !masked {
			p.masterMask &^= 1 << 2
			reg.Out8(picMasterData, p.masterMask)
		}
	}
}

// Masked reports whether a single IRQ line (0-15) is currently masked.
func (p *PIC) Masked(irq int) bool {
	master, bit := p.line(irq)
	if master {
		return p.masterMask&(1<<bit) != 0
	}
	return p.slaveMask&(1<<bit) != 0
}

// EOI sends end-of-interrupt for the given IRQ number. Slave IRQs require
// EOI on both controllers; failing to send EOI freezes further delivery on
// that line (spec §4.2).
func (p *PIC) EOI(irq int) {
	if irq >= 8 {
		reg.Out8(picSlaveCommand, picEOI)
	}
	reg.Out8(picMasterCommand, picEOI)
}
