package input

import (
	"testing"

	"github.com/nucleuskernel/nucleus/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyboardDecoderAPressRelease(t *testing.T) {
	// scenario S3: inject [0x1E, 0x9E] (A press, A release); expect
	// {key=A, kind=Press} then {key=A, kind=Release} in that order.
	var d KeyboardDecoder

	ev, ok := d.Feed(0x1E)
	require.True(t, ok)
	assert.Equal(t, KeyA, ev.Key)
	assert.Equal(t, Press, ev.Kind)

	ev, ok = d.Feed(0x9E)
	require.True(t, ok)
	assert.Equal(t, KeyA, ev.Key)
	assert.Equal(t, Release, ev.Kind)
}

func TestKeyboardDecoderTracksShiftModifier(t *testing.T) {
	var d KeyboardDecoder

	_, ok := d.Feed(0x2A) // left shift press
	require.True(t, ok)

	ev, ok := d.Feed(0x1E) // A press, while shift held
	require.True(t, ok)
	assert.Equal(t, ModShift, ev.Modifiers&ModShift)

	_, ok = d.Feed(0xAA) // left shift release
	require.True(t, ok)

	ev, ok = d.Feed(0x9E) // A release, shift no longer held
	require.True(t, ok)
	assert.Zero(t, ev.Modifiers&ModShift)
}

func TestKeyboardDecoderExtendedPrefix(t *testing.T) {
	var d KeyboardDecoder

	ev, ok := d.Feed(0xE0)
	assert.False(t, ok)

	ev, ok = d.Feed(0x48) // E0 48 = up arrow
	require.True(t, ok)
	assert.Equal(t, KeyUp, ev.Key)
}

func TestKeyboardDecoderResynchronizesOnUnknownByte(t *testing.T) {
	var d KeyboardDecoder

	_, ok := d.Feed(0xFF) // unrecognized, dropped
	assert.False(t, ok)

	ev, ok := d.Feed(0x1E) // next complete code decodes normally
	require.True(t, ok)
	assert.Equal(t, KeyA, ev.Key)
}

func TestMouseDecoderAssemblesPacket(t *testing.T) {
	var d MouseDecoder

	_, ok := d.Feed(0x08) // sync byte, no buttons, no sign bits
	assert.False(t, ok)

	_, ok = d.Feed(10) // dx = 10
	assert.False(t, ok)

	ev, ok := d.Feed(5) // dy = 5 (inverted to screen-down-positive)
	require.True(t, ok)
	assert.Equal(t, 10, ev.DX)
	assert.Equal(t, -5, ev.DY)
}

func TestMouseDecoderDiscardsUntilSyncByte(t *testing.T) {
	var d MouseDecoder

	_, ok := d.Feed(0x00) // missing sync bit, discarded
	assert.False(t, ok)

	_, ok = d.Feed(0x08) // now a valid packet start
	assert.False(t, ok)

	_, ok = d.Feed(1)
	assert.False(t, ok)

	ev, ok := d.Feed(1)
	require.True(t, ok)
	assert.Equal(t, 1, ev.DX)
}

func TestKeyboardPipelineEmitsInOrder(t *testing.T) {
	p := NewKeyboardPipeline(8, 8)

	p.Bytes.Push(0x1E)
	p.Bytes.Push(0x9E)

	status := p.Poll(nil)
	assert.Equal(t, task.Pending, status)

	ev, ok := p.Events.Pop()
	require.True(t, ok)
	assert.Equal(t, Press, ev.Kind)

	ev, ok = p.Events.Pop()
	require.True(t, ok)
	assert.Equal(t, Release, ev.Kind)

	_, ok = p.Events.Pop()
	assert.False(t, ok)
}

func TestRingOverflowCounts(t *testing.T) {
	r := NewRing[byte](2)

	r.Push(1)
	r.Push(2)
	r.Push(3) // dropped

	assert.Equal(t, uint32(1), r.Dropped())
}
