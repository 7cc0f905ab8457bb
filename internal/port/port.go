// Package port implements the port registry (spec.md §4.1 / C1): tracks
// physical ports and their queue counts. Mutated only by the control
// plane; workers never traverse it (spec.md §5).
package port

import (
	"sync"

	"marchproxy-router/internal/apierr"
	"marchproxy-router/internal/driver"
)

// QueueMap is a (port, queue) pair with an enabled flag, reused verbatim
// from the on-disk layout of br_queue.h in the original source.
type QueueMap struct {
	PortID  uint16
	QueueID uint16
	Enabled bool
}

// Stats is an immutable snapshot of a port's packet counters.
type Stats struct {
	RxPackets uint64
	TxPackets uint64
	RxDropped uint64
	TxDropped uint64
}

// Port is a physical/virtual NIC with a fixed number of RX/TX hardware
// queues. Queue counts are immutable after creation except that n_txq is
// grown lazily by the assignment engine as workers are created.
type Port struct {
	ID      uint16
	Name    string
	Devargs string
	Device  string
	MTU     uint16
	MAC     [6]byte
	NRxQ    uint16
	NTxQ    uint16

	mu    sync.RWMutex
	stats Stats
}

// SetStats replaces the port's stats snapshot.
func (p *Port) SetStats(s Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = s
}

// GetStats returns the port's last-published stats snapshot.
func (p *Port) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Registry is the process-wide table of ports, mutated only by the
// control thread (spec.md §5 "process-wide tables").
type Registry struct {
	mu     sync.RWMutex
	drv    driver.Driver
	byName map[string]*Port
	byID   map[uint16]*Port
	nextID uint16
}

// NewRegistry creates an empty port registry backed by drv.
func NewRegistry(drv driver.Driver) *Registry {
	return &Registry{
		drv:    drv,
		byName: make(map[string]*Port),
		byID:   make(map[uint16]*Port),
	}
}

// Add creates a port from a driver probe of devargs. Names are unique;
// after Add, NRxQ >= 1. NTxQ starts at 0 and is grown lazily by the
// assignment engine (spec.md §4.1 invariant).
func (r *Registry) Add(name, devargs string) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, apierr.New(apierr.EINVAL, "port %q already exists", name)
	}

	info, err := r.drv.EthDevInfoGet(devargs)
	if err != nil {
		return nil, apierr.New(apierr.EIO, "eth_dev_info_get(%s): %v", devargs, err)
	}
	if info.MaxRxQs == 0 {
		return nil, apierr.New(apierr.EIO, "port %q reports zero RX queues", name)
	}

	p := &Port{
		ID:      r.nextID,
		Name:    name,
		Devargs: devargs,
		Device:  info.Device,
		MTU:     info.MTU,
		MAC:     info.MAC,
		NRxQ:    info.MaxRxQs,
		NTxQ:    0,
	}
	r.nextID++
	r.byName[name] = p
	r.byID[p.ID] = p
	return p, nil
}

// Del removes a port by name.
func (r *Registry) Del(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byName[name]
	if !exists {
		return apierr.New(apierr.ENODEV, "unknown port %q", name)
	}
	delete(r.byName, name)
	delete(r.byID, p.ID)
	return nil
}

// Get returns a port by name.
func (r *Registry) Get(name string) (*Port, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byName[name]
	if !exists {
		return nil, apierr.New(apierr.ENODEV, "unknown port %q", name)
	}
	return p, nil
}

// GetByID returns a port by its numeric id.
func (r *Registry) GetByID(id uint16) (*Port, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byID[id]
	if !exists {
		return nil, apierr.New(apierr.ENODEV, "unknown port id %d", id)
	}
	return p, nil
}

// List returns all registered ports in id order.
func (r *Registry) List() []*Port {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Port, 0, len(r.byID))
	for id := uint16(0); id < r.nextID; id++ {
		if p, ok := r.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// GrowTxQueues extends every port's NTxQ to target, driven by the
// assignment engine when a new worker is created (spec.md §4.3 step 2).
func (r *Registry) GrowTxQueues(target uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := uint16(0); id < r.nextID; id++ {
		p, ok := r.byID[id]
		if !ok {
			continue
		}
		if p.NTxQ >= target {
			continue
		}
		if err := r.drv.EthDevConfigure(p.ID, p.NRxQ, target); err != nil {
			return apierr.New(apierr.EIO, "eth_dev_configure(%s): %v", p.Name, err)
		}
		for q := p.NTxQ; q < target; q++ {
			if err := r.drv.EthTxQueueSetup(p.ID, q, driver.QueueConf{Descriptors: 1024}); err != nil {
				return apierr.New(apierr.EIO, "eth_tx_queue_setup(%s, %d): %v", p.Name, q, err)
			}
		}
		p.NTxQ = target
	}
	return nil
}
