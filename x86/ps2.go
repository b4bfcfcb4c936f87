//go:build amd64

package x86

import "github.com/nucleuskernel/nucleus/x86/reg"

const ps2DataPort = 0x60

// PS2DataPort adapts the real port-I/O primitives to input.PS2Ports.
type PS2DataPort struct{}

// ReadData reads one byte from the PS/2 controller's data port (0x60),
// shared by the keyboard and mouse IRQ handlers.
func (PS2DataPort) ReadData() byte {
	return reg.In8(ps2DataPort)
}
