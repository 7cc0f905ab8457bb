package ip6

import "sync"

// Iface is the egress interface record the output node resolves
// nh.IfaceID against. TypeID indexes the tunnel-override table
// registered via AddTunnelOverride (spec.md §4.6 "edges[iface_type]").
type Iface struct {
	ID     uint16
	TypeID uint16
	MTU    uint16
}

// IfaceTable is the control-plane-owned interface registry.
type IfaceTable struct {
	mu   sync.RWMutex
	byID map[uint16]*Iface
}

// NewIfaceTable creates an empty interface table.
func NewIfaceTable() *IfaceTable {
	return &IfaceTable{byID: make(map[uint16]*Iface)}
}

// Add registers an interface.
func (t *IfaceTable) Add(iface *Iface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[iface.ID] = iface
}

// Get looks up an interface by id.
func (t *IfaceTable) Get(id uint16) (*Iface, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	iface, ok := t.byID[id]
	return iface, ok
}
