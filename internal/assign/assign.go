// Package assign implements the queue assignment engine (spec.md §4.3 /
// C3): the control-plane operation that moves an RX queue to a new
// worker, grows the symmetric TX queue fabric, and destroys workers that
// end up owning no queues.
package assign

import (
	"sort"

	"marchproxy-router/internal/apierr"
	"marchproxy-router/internal/metrics"
	"marchproxy-router/internal/port"
	"marchproxy-router/internal/worker"
)

// Engine ties the port and worker registries together behind the single
// rxq_assign entry point, the only place queue ownership changes.
type Engine struct {
	ports   *port.Registry
	workers *worker.Registry
}

// NewEngine creates an assignment engine over the given registries.
func NewEngine(ports *port.Registry, workers *worker.Registry) *Engine {
	return &Engine{ports: ports, workers: workers}
}

// findOwner returns the worker currently owning (portID, queueID), if any.
func (e *Engine) findOwner(portID, queueID uint16) *worker.Worker {
	for _, w := range e.workers.List() {
		for _, qm := range w.RxQs() {
			if qm.PortID == portID && qm.QueueID == queueID {
				return w
			}
		}
	}
	return nil
}

// Assign implements rxq_assign(port_id, queue_id, cpu_id) per spec.md
// §4.3: it moves the named RX queue onto the worker pinned to cpuID,
// creating that worker if needed, then recomputes the symmetric TX
// queue fabric across all live workers and ports.
func (e *Engine) Assign(portID, queueID uint16, cpuID int) error {
	p, err := e.ports.GetByID(portID)
	if err != nil {
		return err
	}
	if queueID >= p.NRxQ {
		return apierr.New(apierr.ENODEV, "queue %d out of range for port %d (n_rxq=%d)", queueID, portID, p.NRxQ)
	}

	src := e.findOwner(portID, queueID)
	if src != nil && src.CPUID == cpuID {
		return nil // step 1: no-op
	}

	existingDst, _ := e.workers.Get(cpuID)
	createdDst := existingDst == nil

	dst, err := e.workers.Create(cpuID)
	if err != nil {
		return err // validation error, no state change yet
	}

	if createdDst {
		if err := e.growTxFabric(); err != nil {
			e.workers.Destroy(cpuID) // rollback step 2
			return err
		}
	}

	// Step 3: move the queue.
	if src != nil {
		e.removeRxQ(src, portID, queueID)
	}
	e.appendRxQ(dst, portID, queueID)

	srcEmptied := src != nil && src.Empty()
	if srcEmptied {
		if err := e.workers.Destroy(src.CPUID); err != nil {
			// Roll back step 3 before surfacing.
			e.removeRxQ(dst, portID, queueID)
			if src != nil {
				e.appendRxQ(src, portID, queueID)
			}
			if createdDst {
				e.workers.Destroy(cpuID)
			}
			return err
		}
	}

	// Step 4/5: recompute symmetric TX maps across whatever workers remain.
	e.recomputeTXMaps()

	// Step 6: republish config to every worker.
	e.reloadAll()

	reason := "moved"
	if createdDst {
		reason = "worker_created"
	} else if srcEmptied {
		reason = "worker_destroyed"
	}
	metrics.RxqReassignments.WithLabelValues(reason).Inc()
	return nil
}

func (e *Engine) removeRxQ(w *worker.Worker, portID, queueID uint16) {
	rxqs := w.RxQs()
	out := rxqs[:0]
	for _, qm := range rxqs {
		if qm.PortID == portID && qm.QueueID == queueID {
			continue
		}
		out = append(out, qm)
	}
	w.SetQueues(out, w.TxQs())
}

func (e *Engine) appendRxQ(w *worker.Worker, portID, queueID uint16) {
	rxqs := append(w.RxQs(), port.QueueMap{PortID: portID, QueueID: queueID, Enabled: true})
	w.SetQueues(rxqs, w.TxQs())
}

// growTxFabric extends every port's n_txq to the post-creation worker
// count, so the symmetric TX invariant can be maintained (spec.md §4.3
// step 2).
func (e *Engine) growTxFabric() error {
	target := uint16(e.workers.Count())
	return e.ports.GrowTxQueues(target)
}

// recomputeTXMaps ensures every live worker's txqs contains exactly one
// entry per known port, with queue_id equal to the worker's index in
// creation order (spec.md §4.3 step 4, §8 invariant).
func (e *Engine) recomputeTXMaps() {
	workers := e.workers.ListInCreationOrder()
	ports := e.ports.List()

	sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })

	for idx, w := range workers {
		txqs := make([]port.QueueMap, 0, len(ports))
		for _, p := range ports {
			txqs = append(txqs, port.QueueMap{
				PortID:  p.ID,
				QueueID: uint16(idx),
				Enabled: true,
			})
		}
		w.SetQueues(w.RxQs(), txqs)
	}
}

// reloadAll is worker_graph_reload_all(): every worker's config has
// already been republished incrementally by SetQueues above, so this is
// the point where a real graph rebuild hook would run per node's init
// function (spec.md §4.5). Left as a no-op seam for the graph package.
func (e *Engine) reloadAll() {
	for _, w := range e.workers.List() {
		_ = w
	}
}
