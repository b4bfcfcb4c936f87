package eth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildParseRoundTrip(t *testing.T) {
	dst := MAC{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	src := MAC{0x52, 0x55, 0x0a, 0x00, 0x02, 0x02}
	payload := []byte{1, 2, 3, 4, 5}

	buf := Build(dst, src, TypeIPv4, payload)
	f, err := Parse(buf)

	assert.NoError(t, err)
	assert.Equal(t, dst, f.Dst)
	assert.Equal(t, src, f.Src)
	assert.Equal(t, TypeIPv4, f.Type)
	assert.Equal(t, payload, f.Payload)
}

func TestParseShortFrame(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestMACString(t *testing.T) {
	m := MAC{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	assert.Equal(t, "52:54:00:12:34:56", m.String())
}
