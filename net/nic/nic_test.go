package nic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleuskernel/nucleus/net/eth"
)

func testMAC() eth.MAC { return eth.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01} }

func TestRingNICInjectReceiveRoundTrip(t *testing.T) {
	n := NewRingNIC(nil, testMAC())

	frame := []byte("hello ring")
	require.NoError(t, n.Inject(frame))

	got, ok := n.Receive()
	require.True(t, ok)
	assert.Equal(t, frame, got)

	_, ok = n.Receive()
	assert.False(t, ok, "ring should be empty after draining the only frame")
}

func TestRingNICPreservesOrder(t *testing.T) {
	n := NewRingNIC(nil, testMAC())

	require.NoError(t, n.Inject([]byte("first")))
	require.NoError(t, n.Inject([]byte("second")))

	first, ok := n.Receive()
	require.True(t, ok)
	assert.Equal(t, []byte("first"), first)

	second, ok := n.Receive()
	require.True(t, ok)
	assert.Equal(t, []byte("second"), second)
}

func TestRingNICRejectsOverflow(t *testing.T) {
	n := &RingNIC{mac: testMAC(), rx: make([]byte, 8)}

	err := n.Inject([]byte("this frame is too big for the ring"))
	assert.ErrorIs(t, err, ErrRingFull)
}

func TestRingNICTransmitCyclesSlotsAndBusyBlocksWhenFull(t *testing.T) {
	n := NewRingNIC(nil, testMAC())

	for i := 0; i < DefaultTxSlots; i++ {
		require.NoError(t, n.Transmit([]byte("frame")))
	}

	err := n.Transmit([]byte("one too many"))
	assert.ErrorIs(t, err, ErrTxBusy)

	n.TxOK(0)
	assert.NoError(t, n.Transmit([]byte("now there's room")))
}

func TestRingNICLinkState(t *testing.T) {
	n := NewRingNIC(nil, testMAC())
	assert.False(t, n.LinkUp())

	n.SetLinkUp(true)
	assert.True(t, n.LinkUp())
}

func TestLoopbackNICEchoesTransmittedFrames(t *testing.T) {
	l := NewLoopbackNIC(testMAC())
	assert.True(t, l.LinkUp())

	require.NoError(t, l.Transmit([]byte("ping")))

	got, ok := l.Receive()
	require.True(t, ok)
	assert.Equal(t, []byte("ping"), got)

	_, ok = l.Receive()
	assert.False(t, ok)
}

func TestDriverInterfaceSatisfiedByBothImplementations(t *testing.T) {
	var _ Driver = (*RingNIC)(nil)
	var _ Driver = (*LoopbackNIC)(nil)
}
