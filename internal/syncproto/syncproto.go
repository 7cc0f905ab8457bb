// Package syncproto implements the lock-free control/data hand-off
// protocol (spec.md §4.4 / C4): the control thread publishes a new queue
// configuration into one of two slots and bumps an atomic counter; the
// datapath thread polls the counter and swaps in the new slot between
// bursts, without ever blocking on a lock.
package syncproto

import (
	"sync/atomic"

	"marchproxy-router/internal/port"
)

// Config is one immutable snapshot of a worker's queue assignment.
type Config struct {
	RxQs []port.QueueMap
	TxQs []port.QueueMap
}

// Handoff is the double-buffered config slot pair plus the generation
// counters that sequence hand-off between the control thread (writer)
// and the datapath thread (reader). The two counters are deliberately
// separate rather than a single CAS'd pointer: curConfig lags
// nextConfig until the datapath thread next calls Acquire, which is how
// a stuck worker becomes observable as nextConfig-curConfig skew
// (spec.md §4.4, ConfigSkew metric). Publish does not wait for an
// Acquire, so several publishes in a row widen the gap beyond one
// generation; Acquire then jumps straight to the latest one.
type Handoff struct {
	slots       [2]atomic.Pointer[Config]
	nextConfig  atomic.Uint64
	curConfig   atomic.Uint64
	shuttingDown atomic.Bool
}

// NewHandoff creates a Handoff with an empty config in slot 0.
func NewHandoff() *Handoff {
	h := &Handoff{}
	h.slots[0].Store(&Config{})
	return h
}

// Publish writes cfg into the inactive slot and releases it to the
// datapath thread by incrementing nextConfig. This is the release-store
// half of the protocol: every field of cfg is visible to any reader that
// observes the new nextConfig value, because atomic.Uint64.Store is a
// release operation in the Go memory model.
func (h *Handoff) Publish(cfg Config) {
	next := h.nextConfig.Load() + 1
	slot := next % 2
	h.slots[slot].Store(&cfg)
	h.nextConfig.Store(next)
}

// Acquire is called by the datapath thread between bursts. It returns
// the most recently published config and whether it changed since the
// last Acquire call. This is the acquire-load half of the protocol:
// observing a new nextConfig value happens-after the corresponding
// Publish's slot write.
func (h *Handoff) Acquire() (cfg *Config, changed bool) {
	next := h.nextConfig.Load()
	cur := h.curConfig.Load()
	if next == cur {
		return h.slots[cur%2].Load(), false
	}
	slot := next % 2
	cfg = h.slots[slot].Load()
	h.curConfig.Store(next)
	return cfg, true
}

// Skew reports the outstanding generation gap between the last publish
// and the last observed acquire, exported as router_worker_config_skew.
func (h *Handoff) Skew() uint64 {
	return h.nextConfig.Load() - h.curConfig.Load()
}

// Shutdown signals the datapath thread to exit its poll loop. It is a
// distinct flag rather than a sentinel config generation, since shutdown
// must be observable even if no further config is ever published.
func (h *Handoff) Shutdown() {
	h.shuttingDown.Store(true)
}

// ShuttingDown reports whether Shutdown has been called.
func (h *Handoff) ShuttingDown() bool {
	return h.shuttingDown.Load()
}
