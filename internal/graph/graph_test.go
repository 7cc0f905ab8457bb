package graph

import (
	"testing"
	"time"
)

func countingNode(name string, edges []string, seen *[]string) *Node {
	return &Node{
		Name:  name,
		Edges: edges,
		Process: func(g *Graph, n *Node, ctx Context, burst []*Packet) EdgeResult {
			for _, p := range burst {
				*seen = append(*seen, string(p.Data))
				if len(n.Edges) > 0 {
					g.Enqueue(n, 0, p)
				}
			}
			return EdgeResult{Accepted: len(burst)}
		},
	}
}

func TestGraphRoutesPacketsAlongEdges(t *testing.T) {
	g := New(4, time.Millisecond)

	var seenA, seenB []string
	a := countingNode("a", []string{"next"}, &seenA)
	b := countingNode("b", nil, &seenB)

	g.AddNode(a)
	g.AddNode(b)
	g.Connect("a", "next", "b")

	g.Feed("a", []*Packet{{Data: []byte("p1")}, {Data: []byte("p2")}})

	// A round walks nodes in processing order, so b handles what a
	// forwarded within the same round.
	produced := g.RunOnce()
	if produced != 4 {
		t.Fatalf("expected 4 accepted in round 1 (2 at a, 2 forwarded to b), got %d", produced)
	}
	if len(seenA) != 2 {
		t.Fatalf("expected node a to see 2 packets, got %d", len(seenA))
	}
	if len(seenB) != 2 {
		t.Fatalf("expected node b to see 2 packets in round 1, got %d", len(seenB))
	}

	produced = g.RunOnce()
	if produced != 0 {
		t.Fatalf("expected nothing pending for round 2, got %d", produced)
	}
}

func TestUnwiredEdgeDropsSilently(t *testing.T) {
	g := New(4, time.Millisecond)
	var seen []string
	a := countingNode("a", []string{"next"}, &seen)
	g.AddNode(a)
	// "next" is never Connect()ed.

	g.Feed("a", []*Packet{{Data: []byte("p1")}})
	produced := g.RunOnce()
	if produced != 1 {
		t.Fatalf("node a still reports its own packet accepted, got %d", produced)
	}
	// Nothing queued downstream; a second round produces nothing.
	if g.RunOnce() != 0 {
		t.Fatalf("expected no pending work after unwired enqueue")
	}
}

func TestInitAllRunsNodeHooksInOrder(t *testing.T) {
	g := New(4, time.Millisecond)
	var order []string

	for _, name := range []string{"x", "y"} {
		name := name
		g.AddNode(&Node{
			Name: name,
			Init: func(g *Graph, n *Node) (Context, error) {
				order = append(order, n.Name)
				return nil, nil
			},
			Process: func(g *Graph, n *Node, ctx Context, burst []*Packet) EdgeResult {
				return EdgeResult{}
			},
		})
	}

	if err := g.InitAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "x" || order[1] != "y" {
		t.Fatalf("expected init order [x y], got %v", order)
	}
}

func TestMaybeSleepBacksOffAfterIdleCycles(t *testing.T) {
	g := New(2, 5*time.Millisecond)

	g.MaybeSleep(1) // productive round resets idle counter
	g.MaybeSleep(0) // idle cycle 1
	start := time.Now()
	g.MaybeSleep(0) // idle cycle 2: crosses maxIdleCycles, may sleep
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("MaybeSleep slept far longer than maxSleep bound")
	}
}
