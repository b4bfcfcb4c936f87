package inetsum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumKnownVector(t *testing.T) {
	// RFC 1071 worked example.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	sum := Sum(data)
	assert.Equal(t, uint16(0x220d), sum)
}

func TestRoundTripAndBitFlip(t *testing.T) {
	for _, payload := range [][]byte{
		{1, 2, 3, 4, 5},
		{0xff, 0xff, 0xff},
		{},
		{0x42},
	} {
		// the checksum field leads the payload so it sits on a 16-bit word
		// boundary whatever the payload's length, as in a real header.
		buf := append([]byte{0, 0}, payload...)
		csum := Sum(buf)
		buf[0] = byte(csum >> 8)
		buf[1] = byte(csum)

		assert.True(t, Verify(buf), "payload %v should verify", payload)

		if len(buf) > 0 {
			flipped := append([]byte{}, buf...)
			flipped[0] ^= 0x01
			assert.False(t, Verify(flipped), "bit flip should invalidate checksum")
		}
	}
}

func TestTransportChecksumPseudoHeader(t *testing.T) {
	src := [4]byte{10, 0, 2, 15}
	dst := [4]byte{10, 0, 2, 2}

	segment := []byte{0x00, 0x50, 0x00, 0x51, 0x00, 0x08, 0x00, 0x00, 'h', 'i'}
	csum := TransportChecksum(src, dst, 17, segment)
	assert.NotZero(t, csum)

	ph := PseudoHeader(src, dst, 17, uint16(len(segment)))
	assert.Equal(t, Sum(append(ph, segment...)), csum)
}
