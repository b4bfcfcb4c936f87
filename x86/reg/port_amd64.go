//go:build amd64

package reg

// In8 reads a byte from the given I/O port.
//
// defined in port_amd64.s
func In8(port uint16) (val uint8)

// Out8 writes a byte to the given I/O port.
//
// defined in port_amd64.s
func Out8(port uint16, val uint8)

// In16 reads a word from the given I/O port.
//
// defined in port_amd64.s
func In16(port uint16) (val uint16)

// Out16 writes a word to the given I/O port.
//
// defined in port_amd64.s
func Out16(port uint16, val uint16)

// In32 reads a double word from the given I/O port.
//
// defined in port_amd64.s
func In32(port uint16) (val uint32)

// Out32 writes a double word to the given I/O port.
//
// defined in port_amd64.s
func Out32(port uint16, val uint32)

// PortIO adapts the package-level In8/Out8 functions to interfaces that
// want a value (e.g. serial.Ports), letting callers substitute a fake in
// tests without touching real ports.
type PortIO struct{}

func (PortIO) In8(port uint16) uint8       { return In8(port) }
func (PortIO) Out8(port uint16, val uint8) { Out8(port, val) }
