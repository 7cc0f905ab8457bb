// Package ip6 implements the IPv6 next-hop/route tables and output node
// (spec.md §4.6/§4.7/C7), grounded on original_source/modules/ip6/datapath/ip6_output.c
// for exact field semantics and flag bits.
package ip6

import (
	"net/netip"
	"strconv"
	"sync"

	"marchproxy-router/internal/graph"
	"marchproxy-router/internal/metrics"
)

// Flags on a NextHop, mirroring br_worker.h's bitmask style.
const (
	FlagReachable uint32 = 1 << iota
	FlagPending
	FlagLink
)

// HoldMax is the maximum number of packets a next-hop may hold awaiting
// neighbor resolution (spec.md §4.6 rule 5).
const HoldMax = 256

// NextHop is a control-plane-owned, worker-shared resolution record.
// REACHABLE/lladdr are written only by the control plane; held_pkts is
// appended to and PENDING set by workers under lock (spec.md §5), and
// the control-plane MarkReachable/Flush calls clear PENDING.
type NextHop struct {
	ID      uint32
	VRFID   uint16
	IP      netip.Addr
	IfaceID uint16
	LLAddr  [6]byte

	flags atomicFlags

	lock       sync.Mutex
	held       []*graph.Packet
	heldNum    int
	refCount   int
}

// atomicFlags keeps the flag bits behind their own small RWMutex, so
// flag reads from the datapath never take the hold-queue lock and
// tolerate staleness (spec.md §4.6 "Concurrency"), while held-queue
// mutation always takes lock.
type atomicFlags struct {
	mu sync.RWMutex
	v  uint32
}

func (f *atomicFlags) Load() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.v
}

func (f *atomicFlags) Set(bit uint32) {
	f.mu.Lock()
	f.v |= bit
	f.mu.Unlock()
}

func (f *atomicFlags) Clear(bit uint32) {
	f.mu.Lock()
	f.v &^= bit
	f.mu.Unlock()
}

func (f *atomicFlags) Has(bit uint32) bool {
	return f.Load()&bit != 0
}

// Reachable reports whether the next-hop is currently usable for send.
func (nh *NextHop) Reachable() bool { return nh.flags.Has(FlagReachable) }

// Pending reports whether a solicitation is already outstanding.
func (nh *NextHop) Pending() bool { return nh.flags.Has(FlagPending) }

// Link reports whether this entry was created from a connected-network
// route rather than a specific host (spec.md §4.6 rule 4).
func (nh *NextHop) Link() bool { return nh.flags.Has(FlagLink) }

// MarkReachable is called by the control plane once NDP resolves lladdr.
func (nh *NextHop) MarkReachable(lladdr [6]byte) {
	nh.LLAddr = lladdr
	nh.flags.Set(FlagReachable)
	nh.flags.Clear(FlagPending)
}

// HeldCount returns the current hold-queue depth.
func (nh *NextHop) HeldCount() int {
	nh.lock.Lock()
	defer nh.lock.Unlock()
	return nh.heldNum
}

// HoldResult is the outcome of maybe_hold (spec.md §4.6 rule 5).
type HoldResult int

const (
	OKToSend HoldResult = iota
	Held
	HoldQueueFull
)

// MaybeHold implements maybe_hold(nh, packet): multicast and reachable
// destinations send immediately; otherwise the packet is queued under
// nh.lock up to HoldMax, triggering a solicitation on first hold.
func (nh *NextHop) MaybeHold(pkt *graph.Packet, destIsMulticast bool, solicit func(*NextHop)) HoldResult {
	if nh.Reachable() || destIsMulticast {
		return OKToSend
	}

	nh.lock.Lock()
	defer nh.lock.Unlock()

	if nh.heldNum >= HoldMax {
		return HoldQueueFull
	}
	nh.held = append(nh.held, pkt)
	nh.heldNum++
	metrics.HeldPackets.WithLabelValues(vrfLabel(nh.VRFID)).Inc()

	if !nh.flags.Has(FlagPending) {
		nh.flags.Set(FlagPending)
		if solicit != nil {
			solicit(nh)
		}
	}
	return Held
}

// Flush drains the hold queue and clears PENDING, returning the packets
// to re-inject at the head of the graph. Called by the control-plane
// collaborator once NDP resolves the address (spec.md §4.6 "Flush").
func (nh *NextHop) Flush() []*graph.Packet {
	nh.lock.Lock()
	defer nh.lock.Unlock()

	held := nh.held
	metrics.HeldPackets.WithLabelValues(vrfLabel(nh.VRFID)).Sub(float64(nh.heldNum))
	nh.held = nil
	nh.heldNum = 0
	nh.flags.Clear(FlagPending)
	return held
}

func vrfLabel(vrf uint16) string {
	return strconv.Itoa(int(vrf))
}

// Table is an arena-style next-hop registry, keyed by integer id with no
// back-pointers, matching the registry style of internal/port.Registry.
type Table struct {
	mu     sync.RWMutex
	byID   map[uint32]*NextHop
	nextID uint32
}

// NewTable creates an empty next-hop table.
func NewTable() *Table {
	return &Table{byID: make(map[uint32]*NextHop)}
}

// Create allocates a new next-hop entry and returns it with refCount 1.
func (t *Table) Create(vrf uint16, ip netip.Addr, ifaceID uint16, flags uint32) *NextHop {
	t.mu.Lock()
	defer t.mu.Unlock()

	nh := &NextHop{
		ID:       t.nextID,
		VRFID:    vrf,
		IP:       ip,
		IfaceID:  ifaceID,
		refCount: 1,
	}
	nh.flags.Set(flags)
	t.nextID++
	t.byID[nh.ID] = nh
	return nh
}

// Get returns a next-hop by id.
func (t *Table) Get(id uint32) (*NextHop, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nh, ok := t.byID[id]
	return nh, ok
}

// Hold increments a next-hop's reference count.
func (t *Table) Hold(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if nh, ok := t.byID[id]; ok {
		nh.refCount++
	}
}

// Release decrements a next-hop's reference count, freeing it at zero.
func (t *Table) Release(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nh, ok := t.byID[id]
	if !ok {
		return
	}
	nh.refCount--
	if nh.refCount <= 0 {
		delete(t.byID, id)
	}
}
