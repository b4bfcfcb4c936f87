// Package icmp implements RFC 792 echo request/reply (spec §4.6): on an
// inbound echo request, build a reply with swapped addresses and matching
// identifier/sequence/payload; on an inbound echo reply, match it against
// an outstanding ping table and report round-trip time.
package icmp

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/nucleuskernel/nucleus/net/inetsum"
	"github.com/nucleuskernel/nucleus/net/ipv4"
)

const (
	TypeEchoReply   = 0
	TypeEchoRequest = 8

	HeaderLen = 8
)

var ErrShortPacket = errors.New("icmp: buffer shorter than header")

// Message is a parsed ICMP echo message.
type Message struct {
	Type       uint8
	Code       uint8
	Identifier uint16
	Sequence   uint16
	Payload    []byte
}

// Parse decodes buf as an ICMP message and verifies its checksum.
func Parse(buf []byte) (Message, error) {
	if len(buf) < HeaderLen {
		return Message{}, ErrShortPacket
	}
	if !inetsum.Verify(buf) {
		return Message{}, ErrBadChecksum
	}

	return Message{
		Type:       buf[0],
		Code:       buf[1],
		Identifier: binary.BigEndian.Uint16(buf[4:6]),
		Sequence:   binary.BigEndian.Uint16(buf[6:8]),
		Payload:    buf[HeaderLen:],
	}, nil
}

// ErrBadChecksum is returned when an ICMP message's checksum does not verify.
var ErrBadChecksum = errors.New("icmp: checksum invalid")

// Build serializes an ICMP message with a freshly computed checksum.
func Build(typ, code uint8, identifier, sequence uint16, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = typ
	buf[1] = code
	binary.BigEndian.PutUint16(buf[4:6], identifier)
	binary.BigEndian.PutUint16(buf[6:8], sequence)
	copy(buf[HeaderLen:], payload)

	csum := inetsum.Sum(buf)
	binary.BigEndian.PutUint16(buf[2:4], csum)

	return buf
}

// Reply builds the echo reply for an inbound echo request, copying its
// identifier, sequence, and payload verbatim (spec §4.6).
func Reply(req Message) []byte {
	return Build(TypeEchoReply, 0, req.Identifier, req.Sequence, req.Payload)
}

// outstanding tracks one in-flight echo request awaiting its reply.
type outstanding struct {
	dst  ipv4.Addr
	sent time.Time
}

// PingTable matches echo replies against requests by (identifier,
// sequence) and reports round-trip time (spec §4.6).
type PingTable struct {
	mu      sync.Mutex
	pending map[uint32]outstanding
}

// NewPingTable builds an empty table.
func NewPingTable() *PingTable {
	return &PingTable{pending: make(map[uint32]outstanding)}
}

func key(identifier, sequence uint16) uint32 {
	return uint32(identifier)<<16 | uint32(sequence)
}

// Record notes that an echo request with the given identifier/sequence
// was sent to dst at t, so a matching reply can be timed.
func (pt *PingTable) Record(dst ipv4.Addr, identifier, sequence uint16, t time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.pending[key(identifier, sequence)] = outstanding{dst: dst, sent: t}
}

// Match looks up a reply's (identifier, sequence) against the pending
// table; on a hit it removes the entry and returns the measured RTT.
func (pt *PingTable) Match(identifier, sequence uint16, now time.Time) (time.Duration, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	k := key(identifier, sequence)
	o, ok := pt.pending[k]
	if !ok {
		return 0, false
	}
	delete(pt.pending, k)

	return now.Sub(o.sent), true
}
