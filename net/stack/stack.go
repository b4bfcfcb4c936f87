// Package stack wires every link/network/transport layer package together
// behind a single orchestration type (spec §4.6): it polls the NIC, walks
// inbound frames down through Ethernet, ARP, IPv4, and into ICMP/UDP/TCP,
// and walks outbound segments back up the same path via the routing table
// and ARP resolver. It also owns the socket registry (ephemeral port
// allocation, round-robin with skip-on-conflict) and assembles NetInfo, the
// plain-text table the netinfo shell command prints.
package stack

import (
	"errors"
	"sync"
	"time"

	"github.com/nucleuskernel/nucleus/metrics"
	"github.com/nucleuskernel/nucleus/net/arp"
	"github.com/nucleuskernel/nucleus/net/eth"
	"github.com/nucleuskernel/nucleus/net/icmp"
	"github.com/nucleuskernel/nucleus/net/ipv4"
	"github.com/nucleuskernel/nucleus/net/nic"
	"github.com/nucleuskernel/nucleus/net/route"
	"github.com/nucleuskernel/nucleus/net/tcp"
	"github.com/nucleuskernel/nucleus/net/udp"
	"github.com/nucleuskernel/nucleus/task"
)

var (
	ErrNoRoute        = route.ErrNoRoute
	ErrARPPending     = arp.ErrPending
	ErrPortsExhausted = errors.New("stack: no ephemeral port available")
	ErrPortInUse      = errors.New("stack: local port already bound")
)

// connKey identifies one established TCP connection; a listener's children
// are registered under their own 4-tuple once the three-way handshake
// completes (spec §9: avoid an unbounded pointer graph by keying
// connections through the registry rather than letting sockets reference
// each other directly).
type connKey struct {
	LocalPort  uint16
	RemoteIP   ipv4.Addr
	RemotePort uint16
}

// Stack is the process-wide networking singleton (spec §9): one NIC, one
// ARP cache/resolver, one routing table, one socket registry.
type Stack struct {
	NIC     nic.Driver
	LocalIP ipv4.Addr

	Metrics *metrics.Registry
	Routes  *route.Table
	ARP     *arp.Resolver
	arpLRU  *arp.Cache
	Pings   *icmp.PingTable

	mu        sync.Mutex
	udpSocks  map[uint16]*udp.Socket
	listeners map[uint16]*tcp.Listener
	conns     map[connKey]*tcp.Socket

	ports *portAllocator

	executor *task.Executor
	waker    *task.Waker
}

// New builds a Stack bound to drv with local address ip, registering its
// own poll task with ex so the orchestration loop runs cooperatively
// alongside every other kernel task (spec §4.3).
func New(drv nic.Driver, ip ipv4.Addr, reg *metrics.Registry, ex *task.Executor) *Stack {
	s := &Stack{
		NIC:       drv,
		LocalIP:   ip,
		Metrics:   reg,
		Routes:    &route.Table{},
		arpLRU:    arp.NewCache(arp.DefaultCapacity, arp.DefaultTTL),
		Pings:     icmp.NewPingTable(),
		udpSocks:  make(map[uint16]*udp.Socket),
		listeners: make(map[uint16]*tcp.Listener),
		conns:     make(map[connKey]*tcp.Socket),
		ports:     newPortAllocator(),
		executor:  ex,
	}
	s.ARP = arp.NewResolver(s.arpLRU, drv, drv.MAC(), ip)

	t := ex.Spawn(s.poll)
	s.waker = t.Waker()

	return s
}

// poll is the Stack's PollFunc: drain every ready inbound frame this tick,
// then re-signal so the executor revisits it promptly. Because the task
// re-signals itself on every poll, the ring is busy-polled even when
// kernel.Boot also wires a NIC IRQ to Waker (spec §4.5's "software polls
// the ring" fallback path).
func (s *Stack) poll(w *task.Waker) task.Status {
	for {
		frame, ok := s.NIC.Receive()
		if !ok {
			break
		}
		s.Metrics.RxFrames.Inc()
		s.handleFrame(frame, time.Now())
	}

	s.pollTCPSockets(time.Now())

	w.Signal()
	return task.Pending
}

// Waker returns the stack's poll task waker, so a NIC IRQ handler (when the
// device has a discrete hardware IRQ line) can signal it directly instead
// of relying solely on the busy-poll fallback above.
func (s *Stack) Waker() *task.Waker {
	return s.waker
}

func (s *Stack) pollTCPSockets(now time.Time) {
	s.mu.Lock()
	socks := make([]*tcp.Socket, 0, len(s.conns))
	for _, c := range s.conns {
		socks = append(socks, c)
	}
	s.mu.Unlock()

	for _, c := range socks {
		if c.Poll(now) == task.Complete {
			s.mu.Lock()
			for k, v := range s.conns {
				if v == c {
					delete(s.conns, k)
				}
			}
			s.mu.Unlock()
			s.Metrics.ConnectionsActive.Dec()
		}
	}
}

// handleFrame dispatches one inbound Ethernet frame by ethertype.
func (s *Stack) handleFrame(raw []byte, now time.Time) {
	frame, err := eth.Parse(raw)
	if err != nil {
		s.Metrics.ProtoErrors.WithLabelValues("eth").Inc()
		return
	}

	switch frame.Type {
	case eth.TypeARP:
		s.handleARP(frame.Payload, now)
	case eth.TypeIPv4:
		s.handleIPv4(frame.Payload, now)
	}
}

func (s *Stack) handleARP(payload []byte, now time.Time) {
	p, err := arp.Parse(payload)
	if err != nil {
		s.Metrics.ProtoErrors.WithLabelValues("arp").Inc()
		return
	}
	before := s.arpLRU.Evicted()
	s.ARP.HandlePacket(p, now)
	if s.arpLRU.Evicted() > before {
		s.Metrics.ArpEvictions.Add(float64(s.arpLRU.Evicted() - before))
	}
	if p.Operation == arp.OpReply {
		s.Metrics.ArpResolved.Inc()
	}
}

func (s *Stack) handleIPv4(payload []byte, now time.Time) {
	hdr, body, err := ipv4.Parse(payload)
	if err != nil {
		s.Metrics.ProtoErrors.WithLabelValues("ipv4").Inc()
		return
	}

	switch hdr.Protocol {
	case ipv4.ProtoICMP:
		s.handleICMP(hdr, body, now)
	case ipv4.ProtoUDP:
		s.handleUDP(hdr, body)
	case ipv4.ProtoTCP:
		s.handleTCP(hdr, body, now)
	}
}

func (s *Stack) handleICMP(hdr ipv4.Header, body []byte, now time.Time) {
	msg, err := icmp.Parse(body)
	if err != nil {
		s.Metrics.ProtoErrors.WithLabelValues("icmp").Inc()
		return
	}

	switch msg.Type {
	case icmp.TypeEchoRequest:
		reply := icmp.Reply(msg)
		_ = s.sendIPv4(hdr.Dst, hdr.Src, ipv4.ProtoICMP, reply, now)
		s.Metrics.ICMPReplies.Inc()
	case icmp.TypeEchoReply:
		if _, ok := s.Pings.Match(msg.Identifier, msg.Sequence, now); ok {
			s.Metrics.ICMPReplies.Inc()
		}
	}
}

func (s *Stack) handleUDP(hdr ipv4.Header, body []byte) {
	h, payload, err := udp.Parse(body)
	if err != nil {
		s.Metrics.ProtoErrors.WithLabelValues("udp").Inc()
		return
	}
	if !udp.VerifyChecksum(hdr.Src, hdr.Dst, body) {
		s.Metrics.ProtoErrors.WithLabelValues("udp").Inc()
		return
	}

	s.mu.Lock()
	sock, ok := s.udpSocks[h.DstPort]
	s.mu.Unlock()
	if !ok {
		s.Metrics.UDPDrops.Inc()
		return
	}

	d := udp.Datagram{Payload: payload, Source: udp.Endpoint{IP: hdr.Src, Port: h.SrcPort}}
	if err := sock.Deliver(d); err != nil {
		s.Metrics.QueueDrops.WithLabelValues("udp").Inc()
	}
}

func (s *Stack) handleTCP(hdr ipv4.Header, body []byte, now time.Time) {
	h, payload, err := tcp.Parse(hdr.Src, hdr.Dst, body)
	if err != nil {
		s.Metrics.ProtoErrors.WithLabelValues("tcp").Inc()
		return
	}

	key := connKey{LocalPort: h.DstPort, RemoteIP: hdr.Src, RemotePort: h.SrcPort}

	s.mu.Lock()
	sock, ok := s.conns[key]
	listener := s.listeners[h.DstPort]
	s.mu.Unlock()

	if ok {
		sock.HandleSegment(h, payload, now)
		return
	}

	if listener != nil && h.Flags&tcp.FlagSYN != 0 && h.Flags&tcp.FlagACK == 0 {
		local := tcp.Endpoint{IP: hdr.Dst, Port: h.DstPort}
		remote := tcp.Endpoint{IP: hdr.Src, Port: h.SrcPort}
		child := listener.SpawnChild(local, remote, h.Seq, h.MSS, now, s.waker)
		child.Metrics = s.Metrics

		s.mu.Lock()
		s.conns[key] = child
		s.mu.Unlock()
		s.Metrics.ConnectionsActive.Inc()
		return
	}

	s.Metrics.TCPResets.Inc()
}

// SendSegment implements tcp.Transmitter: it builds the TCP segment,
// wraps it in IPv4, and hands it to sendIPv4 for routing/resolution.
func (s *Stack) SendSegment(local, remote tcp.Endpoint, h tcp.Header, payload []byte) error {
	seg := tcp.Build(local.IP, remote.IP, h, payload)
	return s.sendIPv4(local.IP, remote.IP, ipv4.ProtoTCP, seg, time.Now())
}

// sendIPv4 wraps payload in an IPv4 header and resolves/transmits the
// Ethernet frame toward dst's next hop.
func (s *Stack) sendIPv4(src, dst ipv4.Addr, proto uint8, payload []byte, now time.Time) error {
	s.mu.Lock()
	nextHop, _, err := s.Routes.Lookup(route.IPv4(dst))
	s.mu.Unlock()
	if err != nil {
		s.Metrics.RouteMisses.Inc()
		return ErrNoRoute
	}

	mac, err := s.ARP.Resolve(ipv4.Addr(nextHop), now)
	if err != nil {
		s.Metrics.ArpMisses.Inc()
		return err
	}

	packet := ipv4.Build(src, dst, proto, payload)
	frame := eth.Build(mac, s.NIC.MAC(), eth.TypeIPv4, packet)

	if err := s.NIC.Transmit(frame); err != nil {
		s.Metrics.TxBusy.Inc()
		return err
	}
	s.Metrics.TxFrames.Inc()
	return nil
}

// NetInfo renders the stack's counters as the plain-text table the
// netinfo shell command prints (spec §6).
func (s *Stack) NetInfo() string {
	return s.Metrics.NetInfo()
}

// BindUDP allocates (if port is 0) or claims a UDP local port and
// registers a new socket on it.
func (s *Stack) BindUDP(port uint16) (*udp.Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if port == 0 {
		p, err := s.ports.allocateLocked(func(p uint16) bool { _, used := s.udpSocks[p]; return used })
		if err != nil {
			return nil, err
		}
		port = p
	} else if _, used := s.udpSocks[port]; used {
		return nil, ErrPortInUse
	}

	sock := udp.NewSocket(port)
	s.udpSocks[port] = sock
	return sock, nil
}

// Listen registers a passive-open TCP listener on port.
func (s *Stack) Listen(port uint16) (*tcp.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.listeners[port]; used {
		return nil, ErrPortInUse
	}

	l := tcp.NewListener(port, s, s.waker)
	s.listeners[port] = l
	return l, nil
}

// Dial allocates an ephemeral local port, actively opens a TCP connection
// to remote, and registers the resulting socket for segment delivery.
func (s *Stack) Dial(remote tcp.Endpoint, now time.Time) (*tcp.Socket, error) {
	s.mu.Lock()
	localPort, err := s.ports.allocateLocked(func(p uint16) bool {
		_, used := s.conns[connKey{LocalPort: p, RemoteIP: remote.IP, RemotePort: remote.Port}]
		return used
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	local := tcp.Endpoint{IP: s.LocalIP, Port: localPort}
	sock := tcp.NewSocket(local, s, s.waker)
	sock.Metrics = s.Metrics
	if err := sock.Connect(remote, now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conns[connKey{LocalPort: localPort, RemoteIP: remote.IP, RemotePort: remote.Port}] = sock
	s.mu.Unlock()
	s.Metrics.ConnectionsActive.Inc()

	return sock, nil
}
