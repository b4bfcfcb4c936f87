package input

// MouseButtons is a bitmask of currently-pressed buttons, as carried in a
// standard PS/2 mouse packet's first byte.
type MouseButtons uint8

const (
	MouseLeft MouseButtons = 1 << iota
	MouseRight
	MouseMiddle
)

// MouseEvent is one decoded 3-byte PS/2 movement packet.
type MouseEvent struct {
	DX, DY  int
	Buttons MouseButtons
}

// mouseSyncBit is always set in byte 0 of a standard PS/2 packet; it is the
// alignment signal the assembler uses to find packet boundaries.
const mouseSyncBit = 0x08

// MouseDecoder assembles raw PS/2 bytes into 3-byte packets, tracking a
// 3-state alignment: bytes are discarded until one with the sync bit set
// is seen in the position expecting byte 0 (spec §4.4).
type MouseDecoder struct {
	index int
	pkt   [3]byte
}

// Feed processes one raw byte, returning the decoded event (if a full
// packet was just assembled) and whether one was produced.
func (d *MouseDecoder) Feed(b byte) (MouseEvent, bool) {
	if d.index == 0 && b&mouseSyncBit == 0 {
		// not a valid packet start; discard and stay unaligned.
		return MouseEvent{}, false
	}

	d.pkt[d.index] = b
	d.index++

	if d.index < 3 {
		return MouseEvent{}, false
	}

	d.index = 0

	buttons := MouseButtons(d.pkt[0] & 0x07)
	dx := signExtend9(int(d.pkt[1]), d.pkt[0]&0x10 != 0)
	dy := signExtend9(int(d.pkt[2]), d.pkt[0]&0x20 != 0)

	return MouseEvent{DX: dx, DY: -dy, Buttons: buttons}, true
}

// signExtend9 interprets v as the low 8 bits of a 9-bit two's-complement
// value, with sign indicating the 9th bit.
func signExtend9(v int, sign bool) int {
	if sign {
		return v - 256
	}
	return v
}
