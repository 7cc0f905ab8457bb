package ip6

import (
	"net/netip"
	"sort"
	"sync"
)

// Route binds a prefix to a next-hop id within one VRF.
type Route struct {
	Prefix    netip.Prefix
	NextHopID uint32
}

// RouteTable is a per-VRF longest-prefix-match table. Lookups scan
// candidate prefixes from longest to shortest; this router's scale
// (tens of routes for on-demand /128 promotion, not a full BGP table)
// makes a sorted linear scan the right tradeoff over a compressed trie.
type RouteTable struct {
	mu     sync.RWMutex
	byVRF  map[uint16][]Route
}

// NewRouteTable creates an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{byVRF: make(map[uint16][]Route)}
}

// Insert adds or replaces the route for prefix within vrf.
func (t *RouteTable) Insert(vrf uint16, prefix netip.Prefix, nextHopID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	routes := t.byVRF[vrf]
	for i, r := range routes {
		if r.Prefix == prefix {
			routes[i].NextHopID = nextHopID
			return
		}
	}
	routes = append(routes, Route{Prefix: prefix, NextHopID: nextHopID})
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Prefix.Bits() > routes[j].Prefix.Bits()
	})
	t.byVRF[vrf] = routes
}

// Lookup returns the longest-prefix match for addr within vrf.
func (t *RouteTable) Lookup(vrf uint16, addr netip.Addr) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.byVRF[vrf] {
		if r.Prefix.Contains(addr) {
			return r, true
		}
	}
	return Route{}, false
}

// InsertHostRoute inserts a /128 route to nextHopID, the on-demand
// promotion step of spec.md §4.6 rule 4.
func (t *RouteTable) InsertHostRoute(vrf uint16, addr netip.Addr, nextHopID uint32) {
	t.Insert(vrf, netip.PrefixFrom(addr, addr.BitLen()), nextHopID)
}
