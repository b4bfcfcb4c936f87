// Package nic implements the NIC driver contract of spec §4.5: a ring
// receive buffer DMA'd into by the device, a small round-robin transmit
// descriptor ring, and the exported {mac, transmit, receive, link_status}
// interface every higher layer consumes. Grounded on the teacher's
// bufferDescriptorRing/bufferDescriptor pattern (soc/nxp/enet/dma.go):
// status/length-prefixed ring slots, a wrap bit, round-robin transmit
// slots refilled only once the device reports transmit-ok — generalized
// from the NXP ENET's hardware register layout to the spec's abstract
// {status,length} ring header so the same ring shape can back a real PCI
// NIC, a loopback test double, or a paravirtualized device.
package nic

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/nucleuskernel/nucleus/dma"
	"github.com/nucleuskernel/nucleus/net/eth"
)

var (
	ErrTxBusy   = errors.New("nic: all transmit slots in flight")
	ErrRingFull = errors.New("nic: receive ring full")
)

// Driver is the contract every higher layer depends on (spec §4.5),
// satisfied by RingNIC, LoopbackNIC, and any future PCI/paravirtualized
// implementation.
type Driver interface {
	MAC() eth.MAC
	Transmit(frame []byte) error
	Receive() ([]byte, bool)
	LinkUp() bool
}

// frameHeaderLen is the {status, length} prefix spec §3 requires on every
// ring slot: a 1-byte status (bit0 = frame ready) and a 2-byte big-endian
// length.
const frameHeaderLen = 3

const (
	statusReady = 1 << 0
)

// RingNIC implements Driver over a circular DMA receive ring and a small
// round-robin transmit descriptor set (spec §4.5 steps 4-6). It is
// hardware-agnostic: Inject/TxOK let a concrete hardware backend or test
// harness drive the rings without RingNIC itself touching device
// registers.
type RingNIC struct {
	mu sync.Mutex

	mac  eth.MAC
	link bool

	rx       []byte // ring backing store
	rxRead   int
	rxWrite  int
	txSlots  [][]byte
	txBusy   []bool
	txNext   int

	region *dma.Region
}

const (
	// DefaultRxRingSize matches spec §3's "8 KiB + wrap slack".
	DefaultRxRingSize = 8*1024 + 512
	// DefaultTxSlots matches spec §4.5 step 4's "N transmit buffers (e.g. 4 x 2 KiB)".
	DefaultTxSlots   = 4
	DefaultTxBufSize = 2048
)

// NewRingNIC allocates a RingNIC publishing mac as the interface's
// hardware address (spec §4.5 step 7). The receive ring and transmit
// buffers are ordinary Go byte slices: region is recorded on the RingNIC
// but no memory is reserved from it.
func NewRingNIC(region *dma.Region, mac eth.MAC) *RingNIC {
	n := &RingNIC{
		mac:    mac,
		region: region,
		rx:     make([]byte, DefaultRxRingSize),
	}

	n.txSlots = make([][]byte, DefaultTxSlots)
	n.txBusy = make([]bool, DefaultTxSlots)
	for i := range n.txSlots {
		n.txSlots[i] = make([]byte, DefaultTxBufSize)
	}

	return n
}

// MAC returns the interface's hardware address.
func (n *RingNIC) MAC() eth.MAC { return n.mac }

// LinkUp reports whether the link is established; SetLinkUp drives it (a
// real driver would read this from a PHY status register).
func (n *RingNIC) LinkUp() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.link
}

// SetLinkUp sets the link state, used by PCINIC's init sequence and by
// tests.
func (n *RingNIC) SetLinkUp(up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.link = up
}

// Transmit copies frame into the next round-robin transmit slot and marks
// it in flight; TxOK must be called (by an IRQ handler or poll loop) to
// free the slot once the device reports completion (spec §4.5 Transmit).
func (n *RingNIC) Transmit(frame []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(frame) > DefaultTxBufSize {
		return errors.New("nic: frame exceeds transmit buffer size")
	}

	start := n.txNext
	for {
		if !n.txBusy[n.txNext] {
			slot := n.txNext
			copy(n.txSlots[slot], frame)
			n.txSlots[slot] = n.txSlots[slot][:len(frame)]
			n.txBusy[slot] = true
			n.txNext = (n.txNext + 1) % len(n.txSlots)
			return nil
		}
		n.txNext = (n.txNext + 1) % len(n.txSlots)
		if n.txNext == start {
			return ErrTxBusy
		}
	}
}

// TxOK marks the given transmit slot free again, called once the device
// (or a loopback harness) reports transmit completion.
func (n *RingNIC) TxOK(slot int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if slot >= 0 && slot < len(n.txBusy) {
		n.txBusy[slot] = false
		n.txSlots[slot] = n.txSlots[slot][:DefaultTxBufSize]
	}
}

// Inject writes an inbound frame into the receive ring, as the device's
// DMA engine would (spec §3's NIC receive ring). Returns ErrRingFull if
// there isn't room for the frame plus its header.
func (n *RingNIC) Inject(frame []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	need := frameHeaderLen + len(frame)
	free := len(n.rx) - n.pendingLocked()
	if need > free {
		return ErrRingFull
	}

	n.writeAtLocked(n.rxWrite, byte(statusReady), uint16(len(frame)), frame)
	n.rxWrite = (n.rxWrite + need) % len(n.rx)

	return nil
}

func (n *RingNIC) pendingLocked() int {
	if n.rxWrite >= n.rxRead {
		return n.rxWrite - n.rxRead
	}
	return len(n.rx) - n.rxRead + n.rxWrite
}

// writeAtLocked writes a {status, length, payload} record at ring offset
// off, wrapping byte-by-byte (simple and correct; this ring is small).
func (n *RingNIC) writeAtLocked(off int, status byte, length uint16, payload []byte) {
	put := func(b byte) {
		n.rx[off] = b
		off = (off + 1) % len(n.rx)
	}

	put(status)
	put(byte(length >> 8))
	put(byte(length))
	for _, b := range payload {
		put(b)
	}
}

// Receive copies the payload out of the oldest completed ring slot,
// advancing the read cursor past it and handling wrap-around (spec §4.5
// Receive). Returns ok=false when the ring is empty.
func (n *RingNIC) Receive() ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pendingLocked() < frameHeaderLen {
		return nil, false
	}

	read := func() byte {
		b := n.rx[n.rxRead]
		n.rxRead = (n.rxRead + 1) % len(n.rx)
		return b
	}

	status := read()
	length := binary.BigEndian.Uint16([]byte{read(), read()})

	if status&statusReady == 0 {
		return nil, false
	}

	payload := make([]byte, length)
	for i := range payload {
		payload[i] = read()
	}

	return payload, true
}

// LoopbackNIC is a Driver that hands every transmitted frame straight
// back to Receive, for tests and for a kernel running without real
// hardware.
type LoopbackNIC struct {
	mu   sync.Mutex
	mac  eth.MAC
	link bool
	q    [][]byte
}

// NewLoopbackNIC builds a loopback driver publishing mac as its address.
func NewLoopbackNIC(mac eth.MAC) *LoopbackNIC {
	return &LoopbackNIC{mac: mac, link: true}
}

func (l *LoopbackNIC) MAC() eth.MAC { return l.mac }
func (l *LoopbackNIC) LinkUp() bool { return l.link }

func (l *LoopbackNIC) Transmit(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.q = append(l.q, append([]byte(nil), frame...))
	return nil
}

func (l *LoopbackNIC) Receive() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.q) == 0 {
		return nil, false
	}
	f := l.q[0]
	l.q = l.q[1:]
	return f, true
}
