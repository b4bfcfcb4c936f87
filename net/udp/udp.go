// Package udp implements RFC 768 header parsing/building and a socket type
// backed by a bounded receive queue (spec §3, §4.6). Checksum is always
// computed on transmit; a zero checksum on receive is accepted (checksum
// optional per RFC 768).
package udp

import (
	"encoding/binary"
	"errors"

	"github.com/nucleuskernel/nucleus/net/inetsum"
	"github.com/nucleuskernel/nucleus/net/ipv4"
)

const HeaderLen = 8

var ErrShortPacket = errors.New("udp: buffer shorter than header")

// Header is a parsed UDP header.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Parse decodes buf as a UDP datagram; the checksum is not verified here
// (the caller has the pseudo-header context needed; see VerifyChecksum).
func Parse(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, ErrShortPacket
	}

	h := Header{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DstPort:  binary.BigEndian.Uint16(buf[2:4]),
		Length:   binary.BigEndian.Uint16(buf[4:6]),
		Checksum: binary.BigEndian.Uint16(buf[6:8]),
	}

	end := len(buf)
	if int(h.Length) <= len(buf) {
		end = int(h.Length)
	}

	return h, buf[HeaderLen:end], nil
}

// VerifyChecksum reports whether datagram's checksum is zero (meaning
// "not computed", accepted per RFC 768) or matches the pseudo-header
// checksum over src/dst.
func VerifyChecksum(src, dst ipv4.Addr, datagram []byte) bool {
	if len(datagram) >= 8 && datagram[6] == 0 && datagram[7] == 0 {
		return true
	}
	return inetsum.TransportChecksum(src, dst, ipv4.ProtoUDP, datagram) == 0
}

// Build serializes a UDP datagram with a checksum always computed over the
// pseudo-header (spec §4.6, "outbound checksums are always computed").
func Build(src, dst ipv4.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	length := HeaderLen + len(payload)
	buf := make([]byte, length)

	binary.BigEndian.PutUint16(buf[0:2], srcPort)
	binary.BigEndian.PutUint16(buf[2:4], dstPort)
	binary.BigEndian.PutUint16(buf[4:6], uint16(length))
	binary.BigEndian.PutUint16(buf[6:8], 0)
	copy(buf[HeaderLen:], payload)

	csum := inetsum.TransportChecksum(src, dst, ipv4.ProtoUDP, buf)
	if csum == 0 {
		csum = 0xffff // per RFC 768, a computed checksum of zero is sent as all-ones
	}
	binary.BigEndian.PutUint16(buf[6:8], csum)

	return buf
}

// Datagram is a received payload tagged with its source for a socket's
// receive queue (spec §3).
type Datagram struct {
	Payload []byte
	Source  Endpoint
}

// Endpoint is an IP:port pair.
type Endpoint struct {
	IP   ipv4.Addr
	Port uint16
}

const defaultQueueDepth = 64

// Socket is a bound UDP endpoint with a bounded receive queue (spec §3).
// Two sockets may never share a local port (no broadcast/multicast reuse
// in this core).
type Socket struct {
	LocalPort uint16
	Remote    *Endpoint // nil until connected, if ever

	queue chan Datagram
}

// NewSocket builds a socket bound to localPort.
func NewSocket(localPort uint16) *Socket {
	return &Socket{LocalPort: localPort, queue: make(chan Datagram, defaultQueueDepth)}
}

// ErrQueueFull is returned when a socket's receive queue is saturated; the
// datagram is dropped and the caller should count it (spec §7).
var ErrQueueFull = errors.New("udp: receive queue full")

// Deliver attempts to enqueue a received datagram without blocking.
func (s *Socket) Deliver(d Datagram) error {
	select {
	case s.queue <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Recv dequeues the next datagram, or reports false if none is queued
// (the caller, a polled task, suspends on false).
func (s *Socket) Recv() (Datagram, bool) {
	select {
	case d := <-s.queue:
		return d, true
	default:
		return Datagram{}, false
	}
}
