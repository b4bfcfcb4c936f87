// Package ipv4 implements RFC 791 header parsing/building and validation
// (spec §4.6): 20-byte minimum header, no fragmentation support (a
// datagram with MF set or a nonzero fragment offset is dropped), checksum
// via net/inetsum.
package ipv4

import (
	"encoding/binary"
	"errors"

	"github.com/nucleuskernel/nucleus/bits"
	"github.com/nucleuskernel/nucleus/net/inetsum"
	"github.com/nucleuskernel/nucleus/net/route"
)

// Addr is the canonical 4-byte address type shared across the network
// packages (route, arp, icmp, udp, tcp, stack), avoiding a per-package
// redefinition of what is the same wire value everywhere.
type Addr = route.IPv4

const (
	// MinHeaderLen is the header length with no options.
	MinHeaderLen = 20
	// DefaultTTL is used for every datagram this kernel originates.
	DefaultTTL = 64

	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

var (
	ErrShortHeader  = errors.New("ipv4: buffer shorter than header")
	ErrBadVersion   = errors.New("ipv4: version field is not 4")
	ErrBadIHL       = errors.New("ipv4: header length field invalid")
	ErrBadTotalLen  = errors.New("ipv4: total length exceeds buffer")
	ErrTTLExpired   = errors.New("ipv4: time to live expired")
	ErrBadChecksum  = errors.New("ipv4: header checksum invalid")
	ErrFragmented   = errors.New("ipv4: fragmentation unsupported")
)

// Header is a parsed IPv4 header.
type Header struct {
	IHL      int // header length in bytes, including options
	TotalLen int
	TTL      uint8
	Protocol uint8
	Checksum uint16
	Src      Addr
	Dst      Addr
	flags    uint8
	fragOff  uint16
}

const (
	flagDF = 1 << 1
	flagMF = 1 << 0
)

// MoreFragments reports the MF bit.
func (h Header) MoreFragments() bool { return h.flags&flagMF != 0 }

// FragmentOffset reports the 13-bit fragment offset field (in 8-byte units).
func (h Header) FragmentOffset() uint16 { return h.fragOff }

// Parse validates and decodes buf's IPv4 header, returning the header and
// the view of buf following it (header options included in IHL, payload
// starts at IHL). Fragmented datagrams are rejected per spec §4.6.
func Parse(buf []byte) (Header, []byte, error) {
	if len(buf) < MinHeaderLen {
		return Header{}, nil, ErrShortHeader
	}

	verIHL := buf[0]
	version := verIHL >> 4
	ihl := int(bits.GetN(verIHL, 0, 0x0f)) * 4

	if version != 4 {
		return Header{}, nil, ErrBadVersion
	}
	if ihl < MinHeaderLen || ihl > len(buf) {
		return Header{}, nil, ErrBadIHL
	}

	totalLen := int(binary.BigEndian.Uint16(buf[2:4]))
	if totalLen < ihl || totalLen > len(buf) {
		return Header{}, nil, ErrBadTotalLen
	}

	flagsFrag := binary.BigEndian.Uint16(buf[6:8])

	h := Header{
		IHL:      ihl,
		TotalLen: totalLen,
		TTL:      buf[8],
		Protocol: buf[9],
		Checksum: binary.BigEndian.Uint16(buf[10:12]),
		flags:    uint8(bits.GetN(flagsFrag, 13, 0x7)),
		fragOff:  bits.GetN(flagsFrag, 0, 0x1fff),
	}
	copy(h.Src[:], buf[12:16])
	copy(h.Dst[:], buf[16:20])

	if h.MoreFragments() || h.fragOff != 0 {
		return Header{}, nil, ErrFragmented
	}
	if h.TTL == 0 {
		return Header{}, nil, ErrTTLExpired
	}
	if !inetsum.Verify(buf[:ihl]) {
		return Header{}, nil, ErrBadChecksum
	}

	return h, buf[ihl:totalLen], nil
}

// Build serializes a 20-byte (no options) IPv4 header plus payload, with
// TTL=64, DF set, and a freshly computed header checksum (spec §4.6).
func Build(src, dst Addr, protocol uint8, payload []byte) []byte {
	total := MinHeaderLen + len(payload)
	buf := make([]byte, total)

	buf[0] = 0x45 // version 4, IHL 5 (20 bytes)
	buf[1] = 0    // DSCP/ECN
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], 0) // identification
	binary.BigEndian.PutUint16(buf[6:8], flagDF<<13)
	buf[8] = DefaultTTL
	buf[9] = protocol
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum placeholder
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])

	csum := inetsum.Sum(buf[:MinHeaderLen])
	binary.BigEndian.PutUint16(buf[10:12], csum)

	copy(buf[MinHeaderLen:], payload)
	return buf
}
