// Package graph implements the per-worker packet graph runtime (spec.md
// §4.5 / C5): a directed graph of nodes, each with a process function
// and a fixed set of outgoing edges, scheduled cooperatively on a single
// worker thread with no preemption.
package graph

import (
	"time"

	"golang.org/x/time/rate"
)

// Packet is the opaque per-packet handle the graph moves between nodes.
// Real metadata (next-hop handle, eth-output block, TX port id) lives in
// the Meta map so node implementations stay graph-agnostic, mirroring
// the opaque-context style of the teacher's DPDKPort/DPDKConfig pairing
// in proxy-egress/internal/acceleration/dpdk.
type Packet struct {
	Data []byte
	Meta map[string]interface{}
}

// EdgeResult is what a node's Process call reports back to the scheduler.
type EdgeResult struct {
	Accepted int
	Dropped  int
}

// Context is the per-node state created by Init and consulted by
// Process; e.g. the TX node's port-to-local-txq-id map (spec.md §4.7).
type Context interface{}

// Node is one stage of the graph. Edges are looked up by small integer
// index, matching the C enum-of-edges style the original datapath uses.
type Node struct {
	Name  string
	Edges []string

	Init    func(g *Graph, n *Node) (Context, error)
	Fini    func(g *Graph, n *Node, ctx Context)
	Process func(g *Graph, n *Node, ctx Context, burst []*Packet) EdgeResult

	ctx Context
}

// EdgeIndex returns the integer index of a named edge, or -1.
func (n *Node) EdgeIndex(name string) int {
	for i, e := range n.Edges {
		if e == name {
			return i
		}
	}
	return -1
}

// Enqueue hands packets off to the node at the far end of edge idx. The
// real scheduler resolves edges to the next node's input queue; here the
// Graph owns that wiring via Edges (below).
func (g *Graph) Enqueue(from *Node, edgeIdx int, pkt *Packet) {
	g.enqueue(from, edgeIdx, []*Packet{pkt})
}

// EnqueueBulk hands a whole burst off in one call, preserving order.
func (g *Graph) EnqueueBulk(from *Node, edgeIdx int, pkts []*Packet) {
	g.enqueue(from, edgeIdx, pkts)
}

func (g *Graph) enqueue(from *Node, edgeIdx int, pkts []*Packet) {
	key := edgeKey{from.Name, edgeIdx}
	to, ok := g.edges[key]
	if !ok {
		return // unwired edge: packets are dropped silently, matching a drop-node sink
	}
	g.pending[to] = append(g.pending[to], pkts...)
}

type edgeKey struct {
	node string
	edge int
}

// Graph is one worker's instantiated node set plus the edge wiring
// between them. One Graph belongs to exactly one worker; there is no
// cross-worker sharing (spec.md §5: workers never traverse each other's
// structures).
type Graph struct {
	nodes   map[string]*Node
	order   []string // topological-ish processing order; entry node first
	edges   map[edgeKey]string
	pending map[string][]*Packet

	idleCycles     int
	maxIdleCycles  int
	maxSleep       time.Duration
	limiter        *rate.Limiter
}

// New creates an empty graph. maxIdleCycles is the number of consecutive
// empty scheduling rounds before the worker is allowed to sleep;
// maxSleep bounds how long that sleep may last (spec.md §4.5
// max_sleep_us, here expressed as a time.Duration).
func New(maxIdleCycles int, maxSleep time.Duration) *Graph {
	return &Graph{
		nodes:         make(map[string]*Node),
		edges:         make(map[edgeKey]string),
		pending:       make(map[string][]*Packet),
		maxIdleCycles: maxIdleCycles,
		maxSleep:      maxSleep,
		limiter:       rate.NewLimiter(rate.Every(time.Microsecond), 1),
	}
}

// AddNode registers a node and appends it to the processing order.
func (g *Graph) AddNode(n *Node) {
	g.nodes[n.Name] = n
	g.order = append(g.order, n.Name)
}

// Connect wires fromNode's edge (by name) to toNode's input.
func (g *Graph) Connect(fromNode, edgeName, toNode string) {
	from, ok := g.nodes[fromNode]
	if !ok {
		return
	}
	idx := from.EdgeIndex(edgeName)
	if idx < 0 {
		return
	}
	g.edges[edgeKey{fromNode, idx}] = toNode
}

// InitAll runs every node's Init hook on the control thread, before the
// worker observes this configuration (spec.md §4.5 "Init/fini").
func (g *Graph) InitAll() error {
	for _, name := range g.order {
		n := g.nodes[name]
		if n.Init == nil {
			continue
		}
		ctx, err := n.Init(g, n)
		if err != nil {
			return err
		}
		n.ctx = ctx
	}
	return nil
}

// FiniAll runs every node's Fini hook, in reverse init order.
func (g *Graph) FiniAll() {
	for i := len(g.order) - 1; i >= 0; i-- {
		n := g.nodes[g.order[i]]
		if n.Fini != nil {
			n.Fini(g, n, n.ctx)
		}
	}
}

// Feed injects a burst of packets at the named entry node's queue.
func (g *Graph) Feed(nodeName string, pkts []*Packet) {
	g.pending[nodeName] = append(g.pending[nodeName], pkts...)
}

// RunOnce executes one cooperative scheduling round: every node with
// pending packets processes its full queue before the round ends. It
// returns the total packets accepted across all nodes this round, which
// the caller uses to decide whether to invoke MaybeSleep.
func (g *Graph) RunOnce() int {
	total := 0
	for _, name := range g.order {
		batch := g.pending[name]
		if len(batch) == 0 {
			continue
		}
		g.pending[name] = nil
		n := g.nodes[name]
		res := n.Process(g, n, n.ctx, batch)
		total += res.Accepted
	}
	return total
}

// MaybeSleep implements the idle-sleep hint: after maxIdleCycles
// consecutive zero-output rounds, sleep up to maxSleep. produced is the
// RunOnce return value for the round just completed.
func (g *Graph) MaybeSleep(produced int) {
	if produced > 0 {
		g.idleCycles = 0
		return
	}
	g.idleCycles++
	if g.idleCycles < g.maxIdleCycles {
		return
	}
	// Use the rate limiter's reservation delay as the sleep duration
	// rather than a fixed time.Sleep. The limiter refills one token per
	// microsecond with a burst of 1, so the delay is at most about one
	// microsecond and does not grow over repeated idle rounds; maxSleep
	// only caps it.
	r := g.limiter.ReserveN(time.Now(), 1)
	delay := r.Delay()
	if delay > g.maxSleep {
		delay = g.maxSleep
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}
