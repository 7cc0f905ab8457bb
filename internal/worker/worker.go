// Package worker implements the worker registry and lifecycle (spec.md
// §4.2 / C2): a worker is a CPU-pinned control-plane record tracking the
// RX/TX queues currently assigned to a physical core's datapath thread.
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"marchproxy-router/internal/apierr"
	"marchproxy-router/internal/metrics"
	"marchproxy-router/internal/port"
	"marchproxy-router/internal/syncproto"
)

// Worker is the control-plane record for one CPU-pinned datapath thread.
// Only the control thread mutates the fields below mu; the datapath
// thread reads RxQs/TxQs only through the published Config snapshot in
// syncproto.Handoff (spec.md §4.4).
type Worker struct {
	CPUID   int
	LcoreID int
	TID     int

	mu      sync.Mutex
	rxqs    []port.QueueMap
	txqs    []port.QueueMap
	started bool

	Handoff *syncproto.Handoff
}

// RxQs returns a copy of the worker's current RX queue map.
func (w *Worker) RxQs() []port.QueueMap {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]port.QueueMap, len(w.rxqs))
	copy(out, w.rxqs)
	return out
}

// TxQs returns a copy of the worker's current TX queue map.
func (w *Worker) TxQs() []port.QueueMap {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]port.QueueMap, len(w.txqs))
	copy(out, w.txqs)
	return out
}

// SetQueues replaces the worker's queue maps and republishes the
// double-buffered config for the datapath thread to pick up (spec.md
// §4.4). Control-thread only.
func (w *Worker) SetQueues(rxqs, txqs []port.QueueMap) {
	w.mu.Lock()
	w.rxqs = rxqs
	w.txqs = txqs
	w.mu.Unlock()

	w.Handoff.Publish(syncproto.Config{RxQs: rxqs, TxQs: txqs})
	metrics.ConfigSkew.WithLabelValues(strconv.Itoa(w.CPUID)).Set(float64(w.Handoff.Skew()))
}

// Empty reports whether the worker owns no RX queues, the condition
// under which the assignment engine destroys it (spec.md §4.3 step 5).
// TX queues do not count: every live worker holds one per port.
func (w *Worker) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rxqs) == 0
}

// Registry tracks live workers keyed by CPU id, plus the CPU allowance
// discovered at startup and the main (control-plane) CPU reserved out of
// that allowance.
type Registry struct {
	mu        sync.RWMutex
	byCPU     map[int]*Worker
	order     []int // cpu ids in creation order; determines TX queue id renumbering
	allowed   map[int]bool
	mainCPU   int
	nextLcore int
}

// NewRegistry builds a worker registry restricted to the given CPU
// allowlist, with mainCPU reserved for the control plane (spec.md §4.2:
// "the main CPU is never a candidate for worker assignment").
func NewRegistry(cpuAllowlist []int, mainCPU int) *Registry {
	allowed := make(map[int]bool, len(cpuAllowlist))
	for _, c := range cpuAllowlist {
		allowed[c] = true
	}
	return &Registry{
		byCPU:   make(map[int]*Worker),
		allowed: allowed,
		mainCPU: mainCPU,
	}
}

// DiscoverCPUAllowance reads /sys/devices/system/node/*/cpulist to build
// the set of CPUs available to the process, the scoped-down analogue of
// the teacher's NUMA topology discovery (SPEC_FULL.md §2) — this router
// tracks a flat CPU allowance, not per-node memory policy.
func DiscoverCPUAllowance(sysRoot string) ([]int, error) {
	if sysRoot == "" {
		sysRoot = "/sys/devices/system/node"
	}
	entries, err := os.ReadDir(sysRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sysRoot, err)
	}

	cpuSet := make(map[int]bool)
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "node") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sysRoot, e.Name(), "cpulist"))
		if err != nil {
			continue
		}
		for _, cpu := range parseCPUList(strings.TrimSpace(string(data))) {
			cpuSet[cpu] = true
		}
	}

	cpus := make([]int, 0, len(cpuSet))
	for c := range cpuSet {
		cpus = append(cpus, c)
	}
	sort.Ints(cpus)
	return cpus, nil
}

// parseCPUList parses a Linux cpulist string like "0-3,8-11" into the
// individual CPU ids it names.
func parseCPUList(s string) []int {
	var out []int
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				continue
			}
			for c := start; c <= end; c++ {
				out = append(out, c)
			}
		} else {
			if c, err := strconv.Atoi(part); err == nil {
				out = append(out, c)
			}
		}
	}
	return out
}

// Create creates a worker pinned to cpuID, or returns the existing one
// if already present. Rejects cpuID == mainCPU (EBUSY) and cpuID outside
// the allowance (ERANGE), per spec.md §4.2/§6.
func (r *Registry) Create(cpuID int) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, exists := r.byCPU[cpuID]; exists {
		return w, nil
	}
	if cpuID == r.mainCPU {
		return nil, apierr.New(apierr.EBUSY, "cpu %d is reserved for the control plane", cpuID)
	}
	if !r.allowed[cpuID] {
		return nil, apierr.New(apierr.ERANGE, "cpu %d is outside the configured allowance", cpuID)
	}

	w := &Worker{
		CPUID:   cpuID,
		LcoreID: r.nextLcore,
		Handoff: syncproto.NewHandoff(),
	}
	r.nextLcore++
	r.byCPU[cpuID] = w
	r.order = append(r.order, cpuID)
	metrics.WorkerCount.Set(float64(len(r.byCPU)))
	return w, nil
}

// Destroy removes a worker once it owns no RX queues (spec.md §4.3 step 5).
func (r *Registry) Destroy(cpuID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.byCPU[cpuID]
	if !exists {
		return apierr.New(apierr.ENODEV, "no worker on cpu %d", cpuID)
	}
	if !w.Empty() {
		return apierr.New(apierr.EINVAL, "worker on cpu %d still owns queues", cpuID)
	}
	w.Handoff.Shutdown()
	delete(r.byCPU, cpuID)
	for i, c := range r.order {
		if c == cpuID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.WorkerCount.Set(float64(len(r.byCPU)))
	return nil
}

// Get returns the worker pinned to cpuID, if any.
func (r *Registry) Get(cpuID int) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byCPU[cpuID]
	return w, ok
}

// List returns all live workers sorted by CPU id.
func (r *Registry) List() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.byCPU))
	for _, w := range r.byCPU {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CPUID < out[j].CPUID })
	return out
}

// ListInCreationOrder returns live workers in the order they were
// created, the stable ordering the assignment engine uses to assign
// symmetric TX queue ids (spec.md §4.3 step 4).
func (r *Registry) ListInCreationOrder() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.order))
	for _, cpu := range r.order {
		if w, ok := r.byCPU[cpu]; ok {
			out = append(out, w)
		}
	}
	return out
}

// Count returns the number of live workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCPU)
}

// PinCurrentThread pins the calling OS thread to cpuID via
// sched_setaffinity, the idiomatic x/sys/unix translation of the
// teacher's cgo CPUSet/SchedSetaffinity pair in
// proxy-egress/internal/acceleration/numa. Callers must have already
// called runtime.LockOSThread so the pin is not undone by the Go
// scheduler migrating the goroutine to another thread.
func PinCurrentThread(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return apierr.New(apierr.EIO, "sched_setaffinity(cpu=%d): %v", cpuID, err)
	}
	return nil
}
