package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectlyConnectedAndDefault(t *testing.T) {
	var tbl Table
	tbl.Add(Entry{Network: IPv4{10, 0, 2, 0}, Netmask: IPv4{255, 255, 255, 0}, Interface: "eth0"})
	tbl.Add(Entry{Network: IPv4{0, 0, 0, 0}, Netmask: IPv4{0, 0, 0, 0}, Gateway: IPv4{10, 0, 2, 2}, Interface: "eth0"})

	nextHop, iface, err := tbl.Lookup(IPv4{10, 0, 2, 15})
	assert.NoError(t, err)
	assert.Equal(t, IPv4{10, 0, 2, 15}, nextHop)
	assert.Equal(t, "eth0", iface)

	nextHop, iface, err = tbl.Lookup(IPv4{8, 8, 8, 8})
	assert.NoError(t, err)
	assert.Equal(t, IPv4{10, 0, 2, 2}, nextHop)
	assert.Equal(t, "eth0", iface)
}

func TestNoRoute(t *testing.T) {
	var tbl Table
	_, _, err := tbl.Lookup(IPv4{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestLongestPrefixWins(t *testing.T) {
	var tbl Table
	tbl.Add(Entry{Network: IPv4{10, 0, 0, 0}, Netmask: IPv4{255, 0, 0, 0}, Gateway: IPv4{10, 0, 0, 1}, Interface: "eth0"})
	tbl.Add(Entry{Network: IPv4{10, 0, 2, 0}, Netmask: IPv4{255, 255, 255, 0}, Interface: "eth0"})

	nextHop, _, err := tbl.Lookup(IPv4{10, 0, 2, 15})
	assert.NoError(t, err)
	assert.Equal(t, IPv4{10, 0, 2, 15}, nextHop)
}
