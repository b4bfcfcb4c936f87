package arp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nucleuskernel/nucleus/net/eth"
	"github.com/nucleuskernel/nucleus/net/ipv4"
)

func TestBuildParseRoundTrip(t *testing.T) {
	senderMAC := eth.MAC{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	senderIP := ipv4.Addr{10, 0, 2, 15}
	targetIP := ipv4.Addr{10, 0, 2, 2}

	buf := Build(OpRequest, senderMAC, senderIP, eth.MAC{}, targetIP)
	p, err := Parse(buf)

	assert.NoError(t, err)
	assert.Equal(t, uint16(OpRequest), p.Operation)
	assert.Equal(t, senderMAC, p.SenderMAC)
	assert.Equal(t, senderIP, p.SenderIP)
	assert.Equal(t, targetIP, p.TargetIP)
}

type fakeNIC struct {
	sent [][]byte
}

func (f *fakeNIC) Transmit(frame []byte) error {
	f.sent = append(f.sent, frame)
	return nil
}

// TestResolveScenario mirrors spec scenario S4: a fresh cache, resolve
// broadcasts a request, and an injected reply makes the next resolve
// succeed without sending another packet.
func TestResolveScenario(t *testing.T) {
	localMAC := eth.MAC{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	localIP := ipv4.Addr{10, 0, 2, 15}
	gateway := ipv4.Addr{10, 0, 2, 2}
	gatewayMAC := eth.MAC{0x52, 0x55, 0x0a, 0x00, 0x02, 0x02}

	nic := &fakeNIC{}
	cache := NewCache(0, 0)
	resolver := NewResolver(cache, nic, localMAC, localIP)

	now := time.Now()
	_, err := resolver.Resolve(gateway, now)
	assert.ErrorIs(t, err, ErrPending)
	assert.Len(t, nic.sent, 1)

	f, err := eth.Parse(nic.sent[0])
	assert.NoError(t, err)
	assert.Equal(t, eth.Broadcast, f.Dst)
	assert.Equal(t, eth.TypeARP, f.Type)

	reqPkt, err := Parse(f.Payload)
	assert.NoError(t, err)
	assert.Equal(t, gateway, reqPkt.TargetIP)

	reply := Packet{
		Operation: OpReply,
		SenderMAC: gatewayMAC,
		SenderIP:  gateway,
		TargetMAC: localMAC,
		TargetIP:  localIP,
	}
	resolver.HandlePacket(reply, now)

	mac, err := resolver.Resolve(gateway, now)
	assert.NoError(t, err)
	assert.Equal(t, gatewayMAC, mac)
	assert.Len(t, nic.sent, 1, "no additional request should be sent once resolved")
}

func TestCacheOldestOverwriteAndTTL(t *testing.T) {
	cache := NewCache(2, 10*time.Millisecond)
	now := time.Now()

	ipA := ipv4.Addr{1, 1, 1, 1}
	ipB := ipv4.Addr{2, 2, 2, 2}
	ipC := ipv4.Addr{3, 3, 3, 3}
	macA := eth.MAC{1}
	macB := eth.MAC{2}
	macC := eth.MAC{3}

	cache.Insert(ipA, macA, now)
	cache.Insert(ipB, macB, now)
	cache.Insert(ipC, macC, now) // evicts A (oldest)

	_, ok := cache.Lookup(ipA, now)
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Evicted())

	mac, ok := cache.Lookup(ipB, now)
	assert.True(t, ok)
	assert.Equal(t, macB, mac)

	_, ok = cache.Lookup(ipC, now.Add(20*time.Millisecond))
	assert.False(t, ok, "entry should expire after TTL")
}

func TestResolverRatePacesRepeatedRequests(t *testing.T) {
	nic := &fakeNIC{}
	cache := NewCache(0, 0)
	resolver := NewResolver(cache, nic, eth.MAC{1}, ipv4.Addr{10, 0, 2, 15})

	target := ipv4.Addr{10, 0, 2, 2}
	now := time.Now()

	_, _ = resolver.Resolve(target, now)
	_, _ = resolver.Resolve(target, now.Add(time.Millisecond))
	assert.Len(t, nic.sent, 1, "second immediate retry should be paced")

	_, _ = resolver.Resolve(target, now.Add(time.Second))
	assert.Len(t, nic.sent, 2, "retry after the rate interval should send again")
}
