// Package tcp implements the RFC 793 connection state machine of spec
// §4.7: header codec with the MSS option, sliding-window flow control,
// AIMD congestion control, Jacobson/Karels RTO estimation, and the
// Listen/Accept/Connect/Send/Recv/Close socket API integrated with
// task.Waker.
package tcp

import (
	"encoding/binary"
	"errors"

	"github.com/nucleuskernel/nucleus/bits"
	"github.com/nucleuskernel/nucleus/net/inetsum"
	"github.com/nucleuskernel/nucleus/net/ipv4"
)

// Flags is the set of TCP control bits this core honors (spec §4.7): FIN,
// SYN, RST, PSH, ACK, URG. CWR/ECE/NS are parsed as zero and never set.
type Flags uint8

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagRST Flags = 1 << 2
	FlagPSH Flags = 1 << 3
	FlagACK Flags = 1 << 4
	FlagURG Flags = 1 << 5
)

// MinHeaderLen is the fixed header size with no options.
const MinHeaderLen = 20

const (
	optMSS     = 2
	optMSSLen  = 4
	optEndList = 0
	optNoOp    = 1
)

var (
	ErrShortHeader = errors.New("tcp: buffer shorter than header")
	ErrBadOffset   = errors.New("tcp: data offset invalid")
	ErrBadChecksum = errors.New("tcp: checksum invalid")
)

// Endpoint identifies one side of a connection.
type Endpoint struct {
	IP   ipv4.Addr
	Port uint16
}

// Header is a parsed TCP segment header. Options other than MSS are
// parsed and ignored, per spec §4.7.
type Header struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            Flags
	Window           uint16
	Checksum         uint16
	Urgent           uint16
	MSS              uint16 // 0 if the SYN carried no MSS option
}

func headerLenWithOptions(h Header) int {
	if h.Flags&FlagSYN != 0 && h.MSS != 0 {
		return MinHeaderLen + optMSSLen
	}
	return MinHeaderLen
}

// Parse decodes buf as a TCP segment, verifying its checksum against the
// IPv4 pseudo-header of src/dst.
func Parse(src, dst ipv4.Addr, buf []byte) (Header, []byte, error) {
	if len(buf) < MinHeaderLen {
		return Header{}, nil, ErrShortHeader
	}

	dataOffset := int(bits.GetN(buf[12], 4, 0x0f)) * 4
	if dataOffset < MinHeaderLen || dataOffset > len(buf) {
		return Header{}, nil, ErrBadOffset
	}

	if !VerifyChecksum(src, dst, buf) {
		return Header{}, nil, ErrBadChecksum
	}

	h := Header{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DstPort:  binary.BigEndian.Uint16(buf[2:4]),
		Seq:      binary.BigEndian.Uint32(buf[4:8]),
		Ack:      binary.BigEndian.Uint32(buf[8:12]),
		Flags:    Flags(bits.GetN(buf[13], 0, 0x3f)),
		Window:   binary.BigEndian.Uint16(buf[14:16]),
		Checksum: binary.BigEndian.Uint16(buf[16:18]),
		Urgent:   binary.BigEndian.Uint16(buf[18:20]),
	}

	parseOptions(&h, buf[MinHeaderLen:dataOffset])

	return h, buf[dataOffset:], nil
}

// VerifyChecksum checks a full segment (header+options+payload) against
// the IPv4 pseudo-header of src/dst.
func VerifyChecksum(src, dst ipv4.Addr, segment []byte) bool {
	return inetsum.TransportChecksum(src, dst, ipv4.ProtoTCP, segment) == 0
}

func parseOptions(h *Header, opts []byte) {
	for i := 0; i < len(opts); {
		kind := opts[i]
		switch kind {
		case optEndList:
			return
		case optNoOp:
			i++
		case optMSS:
			if i+optMSSLen <= len(opts) {
				h.MSS = binary.BigEndian.Uint16(opts[i+2 : i+4])
			}
			i += optMSSLen
		default:
			if i+1 >= len(opts) {
				return
			}
			length := int(opts[i+1])
			if length < 2 {
				return
			}
			i += length
		}
	}
}

// Build serializes a TCP segment, including an MSS option when h.Flags has
// SYN set and h.MSS is nonzero, and computes the checksum over the IPv4
// pseudo-header of src/dst.
func Build(src, dst ipv4.Addr, h Header, payload []byte) []byte {
	hdrLen := headerLenWithOptions(h)
	buf := make([]byte, hdrLen+len(payload))

	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	bits.SetN(&buf[12], 4, 0x0f, byte(hdrLen/4))
	buf[13] = byte(h.Flags)
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	binary.BigEndian.PutUint16(buf[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(buf[18:20], h.Urgent)

	if hdrLen > MinHeaderLen {
		buf[MinHeaderLen] = optMSS
		buf[MinHeaderLen+1] = optMSSLen
		binary.BigEndian.PutUint16(buf[MinHeaderLen+2:MinHeaderLen+4], h.MSS)
	}

	copy(buf[hdrLen:], payload)

	csum := inetsum.TransportChecksum(src, dst, ipv4.ProtoTCP, buf)
	binary.BigEndian.PutUint16(buf[16:18], csum)

	return buf
}
