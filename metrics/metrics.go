// Package metrics backs spec §7's observability requirement ("every
// dropped packet, every retransmission, every cache eviction, every
// allocator failure is counted") with prometheus.Counter/Gauge instruments,
// grouped into a single process-wide Registry (spec §9 singletons). No
// HTTP exporter is wired: this kernel has no hosted listener for
// Prometheus' own scrape protocol to run on, only the from-scratch network
// stack these counters describe. net/stack.NetInfo reads the counters
// straight off their dto.Metric representation, the same way
// runZeroInc-sockstats/pkg/exporter builds a Collector over raw counters.
package metrics

import (
	"fmt"
	"strings"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every counter/gauge the kernel core exposes. It is built
// once at boot by kernel.Kernel's metrics Cell and threaded through every subsystem that
// needs to record an event.
type Registry struct {
	reg *prometheus.Registry

	OutOfFrames  prometheus.Counter
	OutOfHeap    prometheus.Counter
	AllocatorErr prometheus.Counter

	QueueDrops *prometheus.CounterVec // label: queue

	TxBusy      prometheus.Counter
	RxFrames    prometheus.Counter
	TxFrames    prometheus.Counter
	ProtoErrors *prometheus.CounterVec // label: layer

	ArpEvictions  prometheus.Counter
	ArpMisses     prometheus.Counter
	ArpResolved   prometheus.Counter
	RouteMisses   prometheus.Counter
	ICMPReplies   prometheus.Counter
	UDPDrops      prometheus.Counter
	TCPRetransmit prometheus.Counter
	TCPResets     prometheus.Counter

	ConnectionsActive prometheus.Gauge

	TimerTicks prometheus.Counter
}

// New builds a Registry with every instrument registered against a fresh
// prometheus.Registry (kept private: this kernel never serves /metrics, it
// only reads instruments back out for netinfo).
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.OutOfFrames = r.counter("frames_out_of_frames_total", "physical frame allocator exhaustion events")
	r.OutOfHeap = r.counter("heap_out_of_heap_total", "heap allocator exhaustion events")
	r.AllocatorErr = r.counter("heap_allocator_errors_total", "allocator-detected corruption or misuse")

	r.QueueDrops = r.counterVec("queue_drops_total", "events dropped because a bounded queue was full", "queue")

	r.TxBusy = r.counter("nic_tx_busy_total", "transmit attempts that found every descriptor slot in flight")
	r.RxFrames = r.counter("nic_rx_frames_total", "frames received off the NIC ring")
	r.TxFrames = r.counter("nic_tx_frames_total", "frames handed to the NIC for transmission")
	r.ProtoErrors = r.counterVec("proto_errors_total", "malformed or checksum-invalid frames dropped per layer", "layer")

	r.ArpEvictions = r.counter("arp_evictions_total", "ARP cache entries evicted by oldest-overwrite or TTL expiry")
	r.ArpMisses = r.counter("arp_cache_misses_total", "ARP resolutions that required a broadcast request")
	r.ArpResolved = r.counter("arp_resolved_total", "ARP resolutions completed")
	r.RouteMisses = r.counter("route_misses_total", "outbound datagrams with no matching route")
	r.ICMPReplies = r.counter("icmp_echo_replies_total", "ICMP echo replies matched to an outstanding ping")
	r.UDPDrops = r.counter("udp_drops_total", "UDP datagrams dropped for lack of a bound socket")
	r.TCPRetransmit = r.counter("tcp_retransmits_total", "TCP segments retransmitted on RTO or fast retransmit")
	r.TCPResets = r.counter("tcp_resets_total", "TCP connections terminated by RST")

	r.ConnectionsActive = r.gauge("tcp_connections_active", "TCP sockets not in Closed state")

	r.TimerTicks = r.counter("timer_ticks_total", "PIC timer IRQs serviced")

	return r
}

func (r *Registry) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	r.reg.MustRegister(c)
	return c
}

func (r *Registry) counterVec(name, help string, label string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
	r.reg.MustRegister(c)
	return c
}

func (r *Registry) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	r.reg.MustRegister(g)
	return g
}

// value extracts the float64 payload of a single-sample instrument by
// reading its dto.Metric wire representation, the same mechanism a real
// Prometheus scraper would use.
func value(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	return 0
}

// NetInfo renders every counter as the plain-text table the shell's
// `netinfo` command prints (spec §6 CLI surface, §7 Observability).
func (r *Registry) NetInfo() string {
	var b strings.Builder

	row := func(name string, c prometheus.Metric) {
		fmt.Fprintf(&b, "%-28s %.0f\n", name, value(c))
	}

	row("frames.out_of_frames", r.OutOfFrames)
	row("heap.out_of_heap", r.OutOfHeap)
	row("nic.tx_busy", r.TxBusy)
	row("nic.rx_frames", r.RxFrames)
	row("nic.tx_frames", r.TxFrames)
	row("arp.evictions", r.ArpEvictions)
	row("arp.misses", r.ArpMisses)
	row("arp.resolved", r.ArpResolved)
	row("route.misses", r.RouteMisses)
	row("icmp.echo_replies", r.ICMPReplies)
	row("udp.drops", r.UDPDrops)
	row("tcp.retransmits", r.TCPRetransmit)
	row("tcp.resets", r.TCPResets)
	row("tcp.connections_active", r.ConnectionsActive)

	for _, layer := range []string{"eth", "arp", "ipv4", "icmp", "udp", "tcp"} {
		fmt.Fprintf(&b, "proto_errors.%-15s %.0f\n", layer, value(r.ProtoErrors.WithLabelValues(layer)))
	}

	return b.String()
}
