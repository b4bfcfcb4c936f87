package tcp

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/blake2b"
)

// NewISN derives an initial sequence number by hashing a monotonic time
// source together with the connection's endpoint tuple (spec §4.7,
// resolving Open Question 2 per SPEC_FULL.md: blake2b-256(rtc_ticks ||
// local || remote) truncated to 32 bits). This is one-way and varies on
// every connection attempt, which is sufficient to prevent the trivial
// sequence-number guessing spec §4.7 calls out, without needing a true
// random source in a freestanding kernel.
func NewISN(now time.Time, local, remote Endpoint) uint32 {
	h, _ := blake2b.New256(nil)

	var tick [8]byte
	binary.BigEndian.PutUint64(tick[:], uint64(now.UnixNano()))
	h.Write(tick[:])

	writeEndpoint(h, local)
	writeEndpoint(h, remote)

	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeEndpoint(w byteWriter, e Endpoint) {
	w.Write(e.IP[:])
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], e.Port)
	w.Write(port[:])
}
