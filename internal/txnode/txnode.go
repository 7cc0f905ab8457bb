// Package txnode implements the TX node contract (spec.md §4.7): groups
// a burst by port id and calls the driver's burst-send once per
// contiguous run of packets for the same port,
// redirecting whatever the driver didn't accept to TX_ERROR and packets
// with no port metadata to NO_PORT.
package txnode

import (
	"marchproxy-router/internal/graph"
	"marchproxy-router/internal/metrics"
)

// Edge names for the TX node.
const (
	EdgeTXError = "TX_ERROR"
	EdgeNoPort  = "NO_PORT"
)

// MetaPortID is the per-packet TX metadata key naming the destination port.
const MetaPortID = "tx_port_id"

// Sender is the subset of the driver surface the TX node needs: a
// burst-send call per (port, local txq).
type Sender interface {
	EthTxBurst(portID uint16, txqID uint16, pkts [][]byte) (sent int, err error)
}

// Node is the TX node's per-worker context: the (port -> local txq id)
// map (spec.md §4.7). GraphNode's Init starts it empty; entries are
// added with BindPort.
type Node struct {
	sender   Sender
	portToTX map[uint16]uint16
}

// NewNode creates a TX node context bound to sender with the given
// port-to-local-txq-id map.
func NewNode(sender Sender, portToTX map[uint16]uint16) *Node {
	return &Node{sender: sender, portToTX: portToTX}
}

// GraphNode builds the graph.Node wrapper. edgeNames must include
// TX_ERROR and NO_PORT.
func GraphNode(sender Sender, edgeNames []string) *graph.Node {
	return &graph.Node{
		Name:  "tx",
		Edges: edgeNames,
		Init: func(g *graph.Graph, n *graph.Node) (graph.Context, error) {
			return NewNode(sender, make(map[uint16]uint16)), nil
		},
		Process: process,
	}
}

// BindPort records which local TX queue id a port maps to for this
// worker. The assignment engine does not call it; packets for a port
// that was never bound go to NO_PORT.
func (n *Node) BindPort(portID, txqID uint16) {
	n.portToTX[portID] = txqID
}

func process(g *graph.Graph, n *graph.Node, ctx graph.Context, burst []*graph.Packet) graph.EdgeResult {
	node, _ := ctx.(*Node)
	res := graph.EdgeResult{}
	if node == nil {
		res.Dropped = len(burst)
		return res
	}

	// Group consecutive packets by port id, matching the driver's
	// burst-send contract of one call per contiguous run.
	i := 0
	for i < len(burst) {
		portIDRaw, ok := burst[i].Meta[MetaPortID]
		if !ok {
			idx := n.EdgeIndex(EdgeNoPort)
			if idx >= 0 {
				g.Enqueue(n, idx, burst[i])
			}
			res.Dropped++
			i++
			continue
		}
		portID := portIDRaw.(uint16)

		j := i + 1
		for j < len(burst) {
			pid, ok := burst[j].Meta[MetaPortID]
			if !ok || pid.(uint16) != portID {
				break
			}
			j++
		}
		run := burst[i:j]

		txqID, ok := node.portToTX[portID]
		if !ok {
			for _, pkt := range run {
				idx := n.EdgeIndex(EdgeNoPort)
				if idx >= 0 {
					g.Enqueue(n, idx, pkt)
				}
			}
			res.Dropped += len(run)
			i = j
			continue
		}

		bufs := make([][]byte, len(run))
		for k, pkt := range run {
			bufs[k] = pkt.Data
		}
		sent, err := node.sender.EthTxBurst(portID, txqID, bufs)
		if err != nil {
			sent = 0
		}
		res.Accepted += sent
		if sent < len(run) {
			overflow := run[sent:]
			reason := "overflow"
			if err != nil {
				reason = "driver_error"
			}
			metrics.TxOverflow.WithLabelValues(reason).Add(float64(len(overflow)))
			for _, pkt := range overflow {
				idx := n.EdgeIndex(EdgeTXError)
				if idx >= 0 {
					g.Enqueue(n, idx, pkt)
				}
			}
			res.Dropped += len(overflow)
		}
		i = j
	}
	return res
}
