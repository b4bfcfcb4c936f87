package nic

import (
	"crypto/rand"
	"errors"

	"github.com/nucleuskernel/nucleus/dma"
	"github.com/nucleuskernel/nucleus/net/eth"
)

var ErrNoDevice = errors.New("nic: no PCI device found at configured address")

// PCIConfig carries the discovery/bus-mastering parameters spec §4.5 steps
// 1-3 require before a PCINIC can be brought up: a probe function reporting
// whether the device is present, and the register accessors the init
// sequence pokes, all generalized from the
// teacher's {Base, CCGR, CG, Clock, EnablePLL, EnablePHY} ENET fields
// (soc/nxp/enet/enet.go Init/setup) to a bus-agnostic discovery+reset+
// program shape.
type PCIConfig struct {
	// Probe reports whether a device answers at this driver's configured
	// bus address (step 1: discovery).
	Probe func() bool
	// EnableBusMaster flips the PCI command register's bus-master bit
	// (step 2) so the device may DMA into the rings below.
	EnableBusMaster func() error
	// ResetAndWait pulses the device's soft-reset line and spins until it
	// reports ready (step 3), mirroring the teacher's ECR_RESET
	// set-then-poll sequence (soc/nxp/enet/enet.go).
	ResetAndWait func() error
	// ProgramRings hands the device the DMA addresses of the receive ring
	// and transmit buffers (step 5), mirroring the teacher's RDSR/TDSR
	// register writes.
	ProgramRings func(rxRing, txBufs []byte) error
	// EnableLink brings the PHY/MAC up (step 6, EnablePHY) and reports
	// whether the link came up.
	EnableLink func() (bool, error)
}

// PCINIC is a Driver that drives a discovered PCI (or platform) Ethernet
// device through the init sequence of spec §4.5 steps 1-7: discover, enable
// bus mastering, reset, choose the MAC address (it is published by the
// driver, not written to the device), program the rings, enable the link,
// and only then accept Transmit/Receive traffic. It delegates its
// ring storage to an embedded RingNIC exactly as the teacher's ENET
// delegates descriptor management to bufferDescriptorRing.
type PCINIC struct {
	*RingNIC
	cfg PCIConfig
}

// NewPCINIC runs the full bring-up sequence and returns a ready driver, or
// an error from whichever step failed. mac, if the zero value, is replaced
// with a randomly generated locally-administered address (spec §4.5 step 4,
// mirroring the teacher's rand.Read + "flag address as unicast and locally
// administered" fallback when no MAC is configured).
func NewPCINIC(region *dma.Region, mac eth.MAC, cfg PCIConfig) (*PCINIC, error) {
	if cfg.Probe == nil || !cfg.Probe() {
		return nil, ErrNoDevice
	}

	if cfg.EnableBusMaster != nil {
		if err := cfg.EnableBusMaster(); err != nil {
			return nil, err
		}
	}

	if cfg.ResetAndWait != nil {
		if err := cfg.ResetAndWait(); err != nil {
			return nil, err
		}
	}

	if mac == (eth.MAC{}) {
		var raw [6]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return nil, err
		}
		raw[0] &= 0xfe
		raw[0] |= 0x02
		mac = raw
	}

	ring := NewRingNIC(region, mac)

	if cfg.ProgramRings != nil {
		if err := cfg.ProgramRings(ring.rx, joinSlots(ring.txSlots)); err != nil {
			return nil, err
		}
	}

	up := true
	if cfg.EnableLink != nil {
		var err error
		up, err = cfg.EnableLink()
		if err != nil {
			return nil, err
		}
	}
	ring.SetLinkUp(up)

	return &PCINIC{RingNIC: ring, cfg: cfg}, nil
}

func joinSlots(slots [][]byte) []byte {
	var total int
	for _, s := range slots {
		total += cap(s)
	}
	out := make([]byte, 0, total)
	for _, s := range slots {
		out = append(out, s[:cap(s)]...)
	}
	return out
}
