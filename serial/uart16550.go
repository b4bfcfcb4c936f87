// Package serial implements a polled 16550-compatible UART driver, used as
// a diagnostics sink (spec §6). Ports are accessed through the Ports
// interface so that tests can substitute a fake port backend.
package serial

// Ports is the narrow port-I/O surface UART16550 needs; x86/reg.PortIO
// satisfies it on real hardware, a fake satisfies it in tests.
type Ports interface {
	In8(port uint16) uint8
	Out8(port uint16, val uint8)
}

// Standard 16550 register offsets from the I/O base.
const (
	regData       = 0 // DLAB=0: data register
	regIntEnable  = 1 // DLAB=0: interrupt enable
	regDivisorLo  = 0 // DLAB=1
	regDivisorHi  = 1 // DLAB=1
	regFIFOCtrl   = 2
	regLineCtrl   = 3
	regModemCtrl  = 4
	regLineStatus = 5
)

const (
	lineCtrlDLAB  = 1 << 7
	lineCtrl8N1   = 0x03
	fifoEnableClr = 0xC7 // enable FIFO, clear rx/tx, 14-byte threshold
	modemCtrlDTR  = 0x03 | 0x08
	lineStatusTHRE = 1 << 5 // transmit holding register empty
)

// COM1Base is the standard I/O base address for the first serial port.
const COM1Base = 0x3F8

// baseClock is the 16550's reference clock (Hz), used to derive the
// divisor for a given baud rate.
const baseClock = 115200

// UART16550 is a polled serial port driver.
type UART16550 struct {
	Base  uint16
	ports Ports
}

// New returns a UART16550 for the given I/O base and port backend.
func New(base uint16, ports Ports) *UART16550 {
	return &UART16550{Base: base, ports: ports}
}

// Init configures the port to 38400 8N1 with FIFOs enabled, per spec §6.
func (u *UART16550) Init() {
	u.InitBaud(38400)
}

// InitBaud configures the port to the given baud rate, 8N1, FIFOs enabled.
func (u *UART16550) InitBaud(baud uint32) {
	divisor := uint16(baseClock / baud)

	u.ports.Out8(u.Base+regIntEnable, 0x00) // disable interrupts

	u.ports.Out8(u.Base+regLineCtrl, lineCtrlDLAB)
	u.ports.Out8(u.Base+regDivisorLo, uint8(divisor&0xff))
	u.ports.Out8(u.Base+regDivisorHi, uint8(divisor>>8))

	u.ports.Out8(u.Base+regLineCtrl, lineCtrl8N1)
	u.ports.Out8(u.Base+regFIFOCtrl, fifoEnableClr)
	u.ports.Out8(u.Base+regModemCtrl, modemCtrlDTR)
}

// WriteByte sends a single byte, busy-waiting until the transmit holding
// register is empty.
func (u *UART16550) WriteByte(b byte) {
	for u.ports.In8(u.Base+regLineStatus)&lineStatusTHRE == 0 {
	}
	u.ports.Out8(u.Base+regData, b)
}

// Write implements io.Writer by writing each byte in sequence.
func (u *UART16550) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			u.WriteByte('\r')
		}
		u.WriteByte(b)
	}
	return len(p), nil
}
