// Package route implements the routing table of spec §3/§4.6: an ordered
// set of {network, netmask, gateway, interface} entries, looked up by
// longest-prefix (largest netmask) match, with the zero-mask entry acting
// as the default route.
package route

import (
	"encoding/binary"
	"errors"
)

// IPv4 is a 4-byte address, kept as a value type for cheap comparison and
// use as a map key (matching the ARP cache's key type).
type IPv4 [4]byte

func (a IPv4) uint32() uint32 { return binary.BigEndian.Uint32(a[:]) }

// Entry is one routing table row. A zero Netmask marks the default route.
type Entry struct {
	Network   IPv4
	Netmask   IPv4
	Gateway   IPv4
	Interface string
}

// ErrNoRoute is returned when no entry matches a destination, including no
// default route.
var ErrNoRoute = errors.New("route: no route to destination")

// Table is the process-wide routing table (spec §9 singleton), guarded by
// the caller via a single mutex at the net/stack orchestration layer since
// lookups must not suspend (spec §5).
type Table struct {
	entries []Entry
}

// Add inserts e into the table. Order does not matter: Lookup always scans
// for the longest (numerically largest) matching mask.
func (t *Table) Add(e Entry) {
	t.entries = append(t.entries, e)
}

// Lookup finds the next-hop for dst: if dst matches a directly connected
// subnet the next-hop is dst itself; otherwise it is the matching entry's
// gateway. The entry with the largest matching netmask wins; a tie prefers
// whichever was added first.
func (t *Table) Lookup(dst IPv4) (nextHop IPv4, iface string, err error) {
	var best *Entry
	var bestMask uint32

	d := dst.uint32()

	for i := range t.entries {
		e := &t.entries[i]
		mask := e.Netmask.uint32()

		if d&mask != e.Network.uint32()&mask {
			continue
		}
		if best == nil || mask > bestMask {
			best = e
			bestMask = mask
		}
	}

	if best == nil {
		return IPv4{}, "", ErrNoRoute
	}

	if best.Gateway == (IPv4{}) {
		return dst, best.Interface, nil
	}
	return best.Gateway, best.Interface, nil
}
