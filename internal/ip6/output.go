package ip6

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"marchproxy-router/internal/graph"
	"marchproxy-router/internal/metrics"
)

// Edge names for the IPv6 output node (spec.md §4.6).
const (
	EdgeEthOutput  = "ETH_OUTPUT"
	EdgeNoRoute    = "NO_ROUTE"
	EdgeError      = "ERROR"
	EdgeQueueFull  = "QUEUE_FULL"
)

// EtherTypeIPv6 is the EtherType written into eth-output metadata, as a
// plain uint16, for every packet this node accepts; etherTypeBytes gives
// its big-endian wire form.
const EtherTypeIPv6 = 0x86DD

// Packet metadata keys this node reads and writes. Other nodes (route
// resolution upstream, TX downstream) share this contract.
const (
	MetaVRF        = "vrf"
	MetaDestAddr   = "dest_addr"
	MetaNextHopID  = "nh_id"
	MetaDestMAC    = "dest_mac"
	MetaEtherType  = "ether_type"
	MetaEgressIface = "egress_iface"
)

// OutputNode is the IPv6 output node: resolves a packet's next-hop into
// eth-output metadata, or routes it to a drop/tunnel edge. Grounded on
// original_source/modules/ip6/datapath/ip6_output.c's output_process.
type OutputNode struct {
	NextHops *Table
	Routes   *RouteTable
	Ifaces   *IfaceTable

	// tunnelOverride maps an interface type id to the edge name packets
	// for that iface type should take instead of ETH_OUTPUT (spec.md
	// §4.6 "edges[iface_type]"), registered via AddTunnelOverride.
	tunnelOverride map[uint16]string

	Solicit func(nh *NextHop)
}

// NewOutputNode creates an output node bound to the given tables.
func NewOutputNode(nhTable *Table, routes *RouteTable, ifaces *IfaceTable) *OutputNode {
	return &OutputNode{
		NextHops:       nhTable,
		Routes:         routes,
		Ifaces:         ifaces,
		tunnelOverride: make(map[uint16]string),
	}
}

// MaxIfaceTypes bounds the tunnel override table at the same size as
// the original datapath's edges[iface_type] array. Unlike the C
// original, which aborts the process on overflow, a Go caller gets an
// error back for any interface type id of 128 or above — that is a
// control-plane mistake, not a reason to crash the router.
const MaxIfaceTypes = 128

// AddTunnelOverride registers ip6_output_add_tunnel(iface_type, node_name):
// packets whose egress interface has TypeID == ifaceType are emitted on
// edgeName instead of ETH_OUTPUT.
func (o *OutputNode) AddTunnelOverride(ifaceType uint16, edgeName string) error {
	if int(ifaceType) >= MaxIfaceTypes {
		return fmt.Errorf("iface type %d exceeds tunnel override table size %d", ifaceType, MaxIfaceTypes)
	}
	o.tunnelOverride[ifaceType] = edgeName
	return nil
}

// Node builds the graph.Node wrapper; edgeNames must list ETH_OUTPUT,
// NO_ROUTE, ERROR, QUEUE_FULL plus any tunnel-override target edges
// already registered via AddTunnelOverride.
func (o *OutputNode) Node(name string, edgeNames []string) *graph.Node {
	return &graph.Node{
		Name:    name,
		Edges:   edgeNames,
		Process: o.process,
	}
}

func (o *OutputNode) process(g *graph.Graph, n *graph.Node, ctx graph.Context, burst []*graph.Packet) graph.EdgeResult {
	res := graph.EdgeResult{}
	for _, pkt := range burst {
		edge, accepted := o.processOne(pkt)
		if edge == "" {
			continue // held by the next-hop: neither accepted nor dropped
		}
		idx := n.EdgeIndex(edge)
		if idx < 0 {
			res.Dropped++
			continue
		}
		g.Enqueue(n, idx, pkt)
		metrics.Ip6OutputEdge.WithLabelValues(edge).Inc()
		if accepted {
			res.Accepted++
		} else {
			res.Dropped++
		}
	}
	return res
}

// processOne applies spec.md §4.6 rules 1-6 to a single packet. It
// returns the edge name to emit on, or "" for Held (no edge, the
// packet is owned by the next-hop's hold queue) — the caller treats
// that as neither accepted nor dropped by the graph proper.
func (o *OutputNode) processOne(pkt *graph.Packet) (edge string, accepted bool) {
	nhIDRaw, hasNH := pkt.Meta[MetaNextHopID]
	if !hasNH {
		return EdgeNoRoute, false // rule 1
	}
	nhID := nhIDRaw.(uint32)
	nh, ok := o.NextHops.Get(nhID)
	if !ok {
		return EdgeNoRoute, false
	}

	iface, ok := o.Ifaces.Get(nh.IfaceID)
	if !ok {
		return EdgeError, false // rule 2
	}

	if edgeName, override := o.tunnelOverride[iface.TypeID]; override {
		return edgeName, true // rule 3: tunnel encap handled downstream
	}

	dest, _ := pkt.Meta[MetaDestAddr].(netip.Addr)
	isMulticast := dest.IsValid() && dest.IsMulticast()

	// Rule 4: on-demand /128 promotion. Only for unicast destinations
	// matched via a connected-network (LINK) route, not already /128.
	if nh.Link() && !isMulticast && dest.IsValid() && dest != nh.IP {
		newNH := o.NextHops.Create(nh.VRFID, dest, nh.IfaceID, 0)
		o.Routes.InsertHostRoute(nh.VRFID, dest, newNH.ID)
		nh = newNH
		pkt.Meta[MetaNextHopID] = newNH.ID
	}

	// Rule 5: hold-queue discipline.
	switch nh.MaybeHold(pkt, isMulticast, o.Solicit) {
	case Held:
		return "", false
	case HoldQueueFull:
		return EdgeQueueFull, false
	}

	// Rule 6: write eth-output metadata and emit.
	if isMulticast {
		pkt.Meta[MetaDestMAC] = deriveMulticastMAC(dest)
	} else {
		pkt.Meta[MetaDestMAC] = nh.LLAddr
	}
	pkt.Meta[MetaEtherType] = uint16(EtherTypeIPv6)
	pkt.Meta[MetaEgressIface] = iface.ID
	return EdgeEthOutput, true
}

// deriveMulticastMAC applies the IPv6-multicast-to-Ethernet mapping from
// RFC 2464: 33:33 followed by the low 32 bits of the multicast address.
func deriveMulticastMAC(addr netip.Addr) [6]byte {
	b := addr.As16()
	var mac [6]byte
	mac[0], mac[1] = 0x33, 0x33
	copy(mac[2:], b[12:16])
	return mac
}

// etherTypeBytes returns the EtherType as the two big-endian bytes an
// Ethernet header expects, for callers that need the wire form rather
// than the uint16 stored in packet metadata.
func etherTypeBytes(et uint16) [2]byte {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], et)
	return out
}
