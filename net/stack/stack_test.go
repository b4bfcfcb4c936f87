package stack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleuskernel/nucleus/metrics"
	"github.com/nucleuskernel/nucleus/net/eth"
	"github.com/nucleuskernel/nucleus/net/ipv4"
	"github.com/nucleuskernel/nucleus/net/nic"
	"github.com/nucleuskernel/nucleus/net/route"
	"github.com/nucleuskernel/nucleus/net/tcp"
	"github.com/nucleuskernel/nucleus/net/udp"
	"github.com/nucleuskernel/nucleus/task"
)

// wireNIC is a test double connecting two Stacks on a shared segment: every
// Transmit on one side becomes a Receive on the other, modeling a point to
// point Ethernet link without involving real hardware.
type wireNIC struct {
	mac  eth.MAC
	link bool
	peer *wireNIC
	in   [][]byte
}

func newWire(mac eth.MAC) *wireNIC { return &wireNIC{mac: mac, link: true} }

func connectWires(a, b *wireNIC) { a.peer = b; b.peer = a }

func (w *wireNIC) MAC() eth.MAC { return w.mac }
func (w *wireNIC) LinkUp() bool { return w.link }

func (w *wireNIC) Transmit(frame []byte) error {
	cp := append([]byte(nil), frame...)
	w.peer.in = append(w.peer.in, cp)
	return nil
}

func (w *wireNIC) Receive() ([]byte, bool) {
	if len(w.in) == 0 {
		return nil, false
	}
	f := w.in[0]
	w.in = w.in[1:]
	return f, true
}

var _ nic.Driver = (*wireNIC)(nil)

func newTestStack(t *testing.T, mac eth.MAC, ip ipv4.Addr, drv nic.Driver) (*Stack, *task.Executor) {
	t.Helper()
	ex := task.New(nil, nil)
	s := New(drv, ip, metrics.New(), ex)
	s.Routes.Add(route.Entry{Network: route.IPv4{10, 0, 0, 0}, Netmask: route.IPv4{255, 255, 255, 0}, Interface: "wire0"})
	return s, ex
}

func drainOnce(stacks ...*Stack) {
	for _, s := range stacks {
		s.poll(s.waker)
	}
}

func TestARPResolutionBetweenTwoStacks(t *testing.T) {
	wa := newWire(eth.MAC{0, 0, 0, 0, 0, 1})
	wb := newWire(eth.MAC{0, 0, 0, 0, 0, 2})
	connectWires(wa, wb)

	a, _ := newTestStack(t, wa.mac, ipv4.Addr{10, 0, 0, 1}, wa)
	b, _ := newTestStack(t, wb.mac, ipv4.Addr{10, 0, 0, 2}, wb)

	now := time.Now()

	_, err := a.ARP.Resolve(ipv4.Addr{10, 0, 0, 2}, now)
	assert.ErrorIs(t, err, ErrARPPending)

	drainOnce(a, b) // b receives the request and replies
	drainOnce(a, b) // a receives the reply

	mac, err := a.ARP.Resolve(ipv4.Addr{10, 0, 0, 2}, now)
	require.NoError(t, err)
	assert.Equal(t, wb.mac, mac)
}

func TestUDPDatagramEndToEnd(t *testing.T) {
	wa := newWire(eth.MAC{0, 0, 0, 0, 0, 1})
	wb := newWire(eth.MAC{0, 0, 0, 0, 0, 2})
	connectWires(wa, wb)

	a, _ := newTestStack(t, wa.mac, ipv4.Addr{10, 0, 0, 1}, wa)
	b, _ := newTestStack(t, wb.mac, ipv4.Addr{10, 0, 0, 2}, wb)

	sockB, err := b.BindUDP(9000)
	require.NoError(t, err)

	now := time.Now()
	b.arpLRU.Insert(ipv4.Addr{10, 0, 0, 1}, wa.mac, now)
	a.arpLRU.Insert(ipv4.Addr{10, 0, 0, 2}, wb.mac, now)

	payload := []byte("hello over the wire")
	pkt := udp.Build(ipv4.Addr{10, 0, 0, 1}, ipv4.Addr{10, 0, 0, 2}, 5000, 9000, payload)
	require.NoError(t, a.sendIPv4(ipv4.Addr{10, 0, 0, 1}, ipv4.Addr{10, 0, 0, 2}, ipv4.ProtoUDP, pkt, now))

	drainOnce(b)

	d, ok := sockB.Recv()
	require.True(t, ok)
	assert.Equal(t, payload, d.Payload)
	assert.Equal(t, uint16(5000), d.Source.Port)
}

func TestTCPHandshakeEndToEnd(t *testing.T) {
	wa := newWire(eth.MAC{0, 0, 0, 0, 0, 1})
	wb := newWire(eth.MAC{0, 0, 0, 0, 0, 2})
	connectWires(wa, wb)

	a, _ := newTestStack(t, wa.mac, ipv4.Addr{10, 0, 0, 1}, wa)
	b, _ := newTestStack(t, wb.mac, ipv4.Addr{10, 0, 0, 2}, wb)

	now := time.Now()
	b.arpLRU.Insert(ipv4.Addr{10, 0, 0, 1}, wa.mac, now)
	a.arpLRU.Insert(ipv4.Addr{10, 0, 0, 2}, wb.mac, now)

	_, err := b.Listen(8080)
	require.NoError(t, err)

	client, err := a.Dial(tcp.Endpoint{IP: ipv4.Addr{10, 0, 0, 2}, Port: 8080}, now)
	require.NoError(t, err)
	assert.Equal(t, tcp.SynSent, client.State())

	for i := 0; i < 3; i++ {
		drainOnce(a, b)
	}

	assert.Equal(t, tcp.Established, client.State())
}

func TestBindUDPRejectsDuplicatePort(t *testing.T) {
	wa := newWire(eth.MAC{0, 0, 0, 0, 0, 1})
	a, _ := newTestStack(t, wa.mac, ipv4.Addr{10, 0, 0, 1}, wa)

	_, err := a.BindUDP(5353)
	require.NoError(t, err)

	_, err = a.BindUDP(5353)
	assert.ErrorIs(t, err, ErrPortInUse)
}

func TestEphemeralPortAllocationRoundRobins(t *testing.T) {
	p := newPortAllocator()
	used := map[uint16]bool{}

	first, err := p.allocateLocked(func(port uint16) bool { return used[port] })
	require.NoError(t, err)
	used[first] = true

	second, err := p.allocateLocked(func(port uint16) bool { return used[port] })
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.GreaterOrEqual(t, first, uint16(ephemeralLow))
}

func TestNetInfoIncludesRouteMisses(t *testing.T) {
	wa := newWire(eth.MAC{0, 0, 0, 0, 0, 1})
	a, _ := newTestStack(t, wa.mac, ipv4.Addr{10, 0, 0, 1}, wa)

	err := a.sendIPv4(ipv4.Addr{10, 0, 0, 1}, ipv4.Addr{192, 168, 1, 1}, ipv4.ProtoICMP, []byte("x"), time.Now())
	assert.ErrorIs(t, err, ErrNoRoute)

	assert.Contains(t, a.NetInfo(), "route.misses")
}
