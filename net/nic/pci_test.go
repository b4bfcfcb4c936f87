package nic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleuskernel/nucleus/net/eth"
)

func TestNewPCINICRunsBringUpSequenceInOrder(t *testing.T) {
	var order []string

	cfg := PCIConfig{
		Probe: func() bool { order = append(order, "probe"); return true },
		EnableBusMaster: func() error {
			order = append(order, "busmaster")
			return nil
		},
		ResetAndWait: func() error { order = append(order, "reset"); return nil },
		ProgramRings: func(rx, tx []byte) error {
			order = append(order, "rings")
			assert.NotEmpty(t, rx)
			assert.NotEmpty(t, tx)
			return nil
		},
		EnableLink: func() (bool, error) { order = append(order, "link"); return true, nil },
	}

	n, err := NewPCINIC(nil, testMAC(), cfg)
	require.NoError(t, err)
	assert.True(t, n.LinkUp())
	assert.Equal(t, []string{"probe", "busmaster", "reset", "rings", "link"}, order)
}

func TestNewPCINICFailsWhenProbeFindsNoDevice(t *testing.T) {
	_, err := NewPCINIC(nil, testMAC(), PCIConfig{Probe: func() bool { return false }})
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestNewPCINICPropagatesResetFailure(t *testing.T) {
	boom := errors.New("reset timed out")
	_, err := NewPCINIC(nil, testMAC(), PCIConfig{
		Probe:           func() bool { return true },
		EnableBusMaster: func() error { return nil },
		ResetAndWait:    func() error { return boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestNewPCINICGeneratesLocallyAdministeredMACWhenUnset(t *testing.T) {
	n, err := NewPCINIC(nil, eth.MAC{}, PCIConfig{Probe: func() bool { return true }})
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), n.MAC()[0]&0x02)
}
