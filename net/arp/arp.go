// Package arp implements RFC 826 ARP packet parsing/building, a
// fixed-capacity oldest-overwrite cache with TTL expiry, and a
// rate-limited resolver for outbound address resolution (spec §4.6).
//
// Resolution pacing uses golang.org/x/time/rate rather than a hand-rolled
// timer: repeated broadcast requests for the same unresolved IP are capped
// to one per interval, which is the soft-timeout/retry behavior spec §4.6
// calls for ("resolution waits use a soft timeout; the caller retries").
package arp

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nucleuskernel/nucleus/net/eth"
	"github.com/nucleuskernel/nucleus/net/ipv4"
)

const (
	htypeEthernet = 1
	ptypeIPv4     = 0x0800
	hlen          = 6
	plen          = 4

	OpRequest = 1
	OpReply   = 2

	PacketLen = 8 + 2*hlen + 2*plen

	// DefaultCapacity matches spec §3's "capacity bounded (e.g. 256)".
	DefaultCapacity = 256
	// DefaultTTL matches spec §3's "entries expire after a TTL (>=5 minutes)".
	DefaultTTL = 5 * time.Minute
)

var ErrShortPacket = errors.New("arp: buffer shorter than packet")

// Packet is a parsed ARP packet.
type Packet struct {
	Operation uint16
	SenderMAC eth.MAC
	SenderIP  ipv4.Addr
	TargetMAC eth.MAC
	TargetIP  ipv4.Addr
}

// Parse decodes buf as an Ethernet/IPv4 ARP packet.
func Parse(buf []byte) (Packet, error) {
	if len(buf) < PacketLen {
		return Packet{}, ErrShortPacket
	}

	var p Packet
	p.Operation = binary.BigEndian.Uint16(buf[6:8])
	copy(p.SenderMAC[:], buf[8:14])
	copy(p.SenderIP[:], buf[14:18])
	copy(p.TargetMAC[:], buf[18:24])
	copy(p.TargetIP[:], buf[24:28])

	return p, nil
}

// Build serializes an ARP packet for Ethernet/IPv4.
func Build(op uint16, senderMAC eth.MAC, senderIP ipv4.Addr, targetMAC eth.MAC, targetIP ipv4.Addr) []byte {
	buf := make([]byte, PacketLen)

	binary.BigEndian.PutUint16(buf[0:2], htypeEthernet)
	binary.BigEndian.PutUint16(buf[2:4], ptypeIPv4)
	buf[4] = hlen
	buf[5] = plen
	binary.BigEndian.PutUint16(buf[6:8], op)
	copy(buf[8:14], senderMAC[:])
	copy(buf[14:18], senderIP[:])
	copy(buf[18:24], targetMAC[:])
	copy(buf[24:28], targetIP[:])

	return buf
}

// entry is one cache row.
type entry struct {
	mac        eth.MAC
	insertedAt time.Time
}

// Cache maps resolved IPv4 addresses to MACs (spec §3): bounded capacity,
// oldest-overwrite on insert when full, TTL expiry on lookup.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[ipv4.Addr]entry
	order    []ipv4.Addr // insertion order, oldest first, for eviction

	// evicted counts entries dropped by oldest-overwrite or TTL expiry,
	// surfaced through metrics by the caller.
	evicted int
}

// NewCache builds a cache with the given capacity and TTL; zero values
// fall back to DefaultCapacity/DefaultTTL.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[ipv4.Addr]entry),
	}
}

// Insert records (or overwrites) the MAC for ip, evicting the oldest entry
// first if the cache is at capacity and ip is not already present.
func (c *Cache) Insert(ip ipv4.Addr, mac eth.MAC, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[ip]; !exists {
		if len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
		c.order = append(c.order, ip)
	}

	c.entries[ip] = entry{mac: mac, insertedAt: now}
}

func (c *Cache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			c.evicted++
			return
		}
	}
}

// Lookup returns the cached MAC for ip, if present and not expired.
func (c *Cache) Lookup(ip ipv4.Addr, now time.Time) (eth.MAC, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ip]
	if !ok {
		return eth.MAC{}, false
	}
	if now.Sub(e.insertedAt) > c.ttl {
		delete(c.entries, ip)
		c.evicted++
		return eth.MAC{}, false
	}

	return e.mac, true
}

// Evicted returns the count of entries dropped by eviction or TTL expiry.
func (c *Cache) Evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Transmitter is the narrow NIC surface the resolver needs to broadcast a
// request (the same shape as net/nic.Driver.Transmit).
type Transmitter interface {
	Transmit(frame []byte) error
}

// Resolver resolves IPv4 addresses to MACs, consulting and populating a
// Cache, and rate-limiting repeated broadcast requests per unresolved IP
// (spec §4.6's soft-timeout retry).
type Resolver struct {
	cache     *Cache
	tx        Transmitter
	localMAC  eth.MAC
	localIP   ipv4.Addr

	mu       sync.Mutex
	limiters map[ipv4.Addr]*rate.Limiter
}

// NewResolver builds a resolver that broadcasts requests through tx.
func NewResolver(cache *Cache, tx Transmitter, localMAC eth.MAC, localIP ipv4.Addr) *Resolver {
	return &Resolver{
		cache:    cache,
		tx:       tx,
		localMAC: localMAC,
		localIP:  localIP,
		limiters: make(map[ipv4.Addr]*rate.Limiter),
	}
}

// ErrPending is returned when an address is not yet resolved; a broadcast
// request has been sent (subject to rate limiting) and the caller should
// retry.
var ErrPending = errors.New("arp: resolution pending")

// Resolve looks up target in the cache; on a miss it broadcasts a request
// (at most once per limiter interval) and returns ErrPending.
func (r *Resolver) Resolve(target ipv4.Addr, now time.Time) (eth.MAC, error) {
	if mac, ok := r.cache.Lookup(target, now); ok {
		return mac, nil
	}

	r.mu.Lock()
	lim, ok := r.limiters[target]
	if !ok {
		lim = rate.NewLimiter(rate.Every(500*time.Millisecond), 1)
		r.limiters[target] = lim
	}
	r.mu.Unlock()

	if lim.AllowN(now, 1) {
		req := Build(OpRequest, r.localMAC, r.localIP, eth.MAC{}, target)
		frame := eth.Build(eth.Broadcast, r.localMAC, eth.TypeARP, req)
		_ = r.tx.Transmit(frame)
	}

	return eth.MAC{}, ErrPending
}

// HandlePacket processes an inbound ARP packet: if it is a request for the
// local IP, transmit a reply; if the sender IP is known (request or
// reply), update the cache with the sender's MAC (spec §4.6, "latest
// wins").
func (r *Resolver) HandlePacket(p Packet, now time.Time) {
	if p.SenderIP != (ipv4.Addr{}) {
		r.cache.Insert(p.SenderIP, p.SenderMAC, now)
	}

	if p.Operation == OpRequest && p.TargetIP == r.localIP {
		reply := Build(OpReply, r.localMAC, r.localIP, p.SenderMAC, p.SenderIP)
		frame := eth.Build(p.SenderMAC, r.localMAC, eth.TypeARP, reply)
		_ = r.tx.Transmit(frame)
	}
}
