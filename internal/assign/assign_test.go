package assign

import (
	"testing"

	"marchproxy-router/internal/apierr"
	"marchproxy-router/internal/driver"
	"marchproxy-router/internal/port"
	"marchproxy-router/internal/worker"
)

// setup builds ports P0,P1,P2 (the stub driver reports 16 rxq each; only
// queues 0 and 1 are placed) and seeds the exact initial
// state from spec.md §8: W1@cpu1 owning RX{(0,0),(0,1),(1,0)},
// W2@cpu2 owning RX{(1,1),(2,0),(2,1)}.
func setup(t *testing.T) (*Engine, *port.Registry, *worker.Registry) {
	t.Helper()
	drv := driver.NewStub()
	ports := port.NewRegistry(drv)
	for _, name := range []string{"p0", "p1", "p2"} {
		if _, err := ports.Add(name, name+"-devargs"); err != nil {
			t.Fatalf("port add %s: %v", name, err)
		}
	}

	// Allow cpus 1,2,3; main cpu is 4.
	workers := worker.NewRegistry([]int{1, 2, 3}, 4)
	engine := NewEngine(ports, workers)

	w1, err := workers.Create(1)
	if err != nil {
		t.Fatalf("create w1: %v", err)
	}
	w2, err := workers.Create(2)
	if err != nil {
		t.Fatalf("create w2: %v", err)
	}

	w1.SetQueues([]port.QueueMap{
		{PortID: 0, QueueID: 0, Enabled: true},
		{PortID: 0, QueueID: 1, Enabled: true},
		{PortID: 1, QueueID: 0, Enabled: true},
	}, nil)
	w2.SetQueues([]port.QueueMap{
		{PortID: 1, QueueID: 1, Enabled: true},
		{PortID: 2, QueueID: 0, Enabled: true},
		{PortID: 2, QueueID: 1, Enabled: true},
	}, nil)

	if err := ports.GrowTxQueues(2); err != nil {
		t.Fatalf("grow tx queues: %v", err)
	}
	engine.recomputeTXMaps()

	return engine, ports, workers
}

func hasRxQ(w *worker.Worker, portID, queueID uint16) bool {
	for _, qm := range w.RxQs() {
		if qm.PortID == portID && qm.QueueID == queueID {
			return true
		}
	}
	return false
}

func TestAssignMainCPUReturnsEBUSY(t *testing.T) {
	engine, _, workers := setup(t)
	err := engine.Assign(0, 0, 4)
	if !apierr.Is(err, apierr.EBUSY) {
		t.Fatalf("expected EBUSY, got %v", err)
	}
	if workers.Count() != 2 {
		t.Fatalf("expected no state change, worker_count=%d", workers.Count())
	}
}

func TestAssignOutsideAllowanceReturnsERANGE(t *testing.T) {
	engine, _, _ := setup(t)
	err := engine.Assign(0, 0, 9999)
	if !apierr.Is(err, apierr.ERANGE) {
		t.Fatalf("expected ERANGE, got %v", err)
	}
}

func TestAssignUnknownPortOrQueueReturnsENODEV(t *testing.T) {
	engine, _, _ := setup(t)
	if err := engine.Assign(9999, 0, 1); !apierr.Is(err, apierr.ENODEV) {
		t.Fatalf("expected ENODEV for unknown port, got %v", err)
	}
	if err := engine.Assign(0, 9999, 1); !apierr.Is(err, apierr.ENODEV) {
		t.Fatalf("expected ENODEV for unknown queue, got %v", err)
	}
}

func TestAssignNoopWhenAlreadyOwned(t *testing.T) {
	engine, _, workers := setup(t)
	if err := engine.Assign(1, 1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if workers.Count() != 2 {
		t.Fatalf("expected worker_count=2, got %d", workers.Count())
	}
}

func TestAssignMovesQueueBetweenExistingWorkers(t *testing.T) {
	engine, _, workers := setup(t)
	if err := engine.Assign(1, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w1, _ := workers.Get(1)
	w2, _ := workers.Get(2)

	for _, qm := range []port.QueueMap{{PortID: 0, QueueID: 0}, {PortID: 0, QueueID: 1}, {PortID: 1, QueueID: 0}, {PortID: 1, QueueID: 1}} {
		if !hasRxQ(w1, qm.PortID, qm.QueueID) {
			t.Errorf("expected w1 to own (%d,%d)", qm.PortID, qm.QueueID)
		}
	}
	if len(w2.RxQs()) != 2 || !hasRxQ(w2, 2, 0) || !hasRxQ(w2, 2, 1) {
		t.Errorf("expected w2 rxqs = {(2,0),(2,1)}, got %v", w2.RxQs())
	}
	if workers.Count() != 2 {
		t.Fatalf("expected worker_count=2, got %d", workers.Count())
	}
}

func TestAssignDestroysEmptiedWorkerAndRenumbers(t *testing.T) {
	engine, ports, workers := setup(t)

	// Start from the state after the previous scenario, where (1,1) has
	// already moved to W1 and W2 owns only {(2,0),(2,1)}.
	if err := engine.Assign(1, 1, 1); err != nil {
		t.Fatalf("setup move: %v", err)
	}

	if err := engine.Assign(2, 0, 1); err != nil {
		t.Fatalf("first move: %v", err)
	}
	w2, ok := workers.Get(2)
	if !ok || len(w2.RxQs()) != 1 || !hasRxQ(w2, 2, 1) {
		t.Fatalf("expected w2 to shrink to {(2,1)}, got %v (exists=%v)", w2, ok)
	}

	if err := engine.Assign(2, 1, 1); err != nil {
		t.Fatalf("second move: %v", err)
	}
	if _, ok := workers.Get(2); ok {
		t.Fatalf("expected w2 to be destroyed")
	}
	if workers.Count() != 1 {
		t.Fatalf("expected worker_count=1, got %d", workers.Count())
	}

	w1, _ := workers.Get(1)
	txqs := w1.TxQs()
	seen := make(map[uint16]bool)
	for _, qm := range txqs {
		seen[qm.PortID] = true
		if qm.QueueID != 0 {
			t.Errorf("expected sole worker's tx queue id 0 for port %d, got %d", qm.PortID, qm.QueueID)
		}
	}
	for _, p := range ports.List() {
		if !seen[p.ID] {
			t.Errorf("expected w1 txqs to include port %d", p.ID)
		}
	}
}

func TestAssignMoveAwayKeepsWorkerWhenNotEmptied(t *testing.T) {
	// Moves (2,1) off W2 onto W1. W2 keeps its slot because it still
	// owns (1,1) and (2,0) afterwards, so no destroy/renumber happens.
	engine, _, workers := setup(t)

	if err := engine.Assign(2, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w2, ok := workers.Get(2)
	if !ok {
		t.Fatalf("expected w2 to keep its slot")
	}
	if len(w2.RxQs()) != 2 || !hasRxQ(w2, 1, 1) || !hasRxQ(w2, 2, 0) {
		t.Fatalf("expected w2 rxqs = {(1,1),(2,0)}, got %v", w2.RxQs())
	}
	if workers.Count() != 2 {
		t.Fatalf("expected worker_count=2, got %d", workers.Count())
	}
}

func TestAssignCreatesThirdWorker(t *testing.T) {
	engine, _, workers := setup(t)

	if err := engine.Assign(2, 0, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if workers.Count() != 3 {
		t.Fatalf("expected worker_count=3, got %d", workers.Count())
	}

	for _, w := range workers.List() {
		seenQ := make(map[uint16]bool)
		for _, qm := range w.TxQs() {
			seenQ[qm.QueueID] = true
		}
		if len(seenQ) != 1 {
			t.Errorf("worker %d: expected exactly one distinct tx queue id across ports, got %v", w.CPUID, seenQ)
		}
	}

	ids := make(map[uint16]bool)
	for _, w := range workers.ListInCreationOrder() {
		for _, qm := range w.TxQs() {
			ids[qm.QueueID] = true
		}
	}
	for _, want := range []uint16{0, 1, 2} {
		if !ids[want] {
			t.Errorf("expected tx queue id %d to appear across workers", want)
		}
	}
}

func TestInvariantEveryQueueAtMostOneOwner(t *testing.T) {
	engine, _, workers := setup(t)
	if err := engine.Assign(1, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	owners := make(map[[2]uint16]int)
	for _, w := range workers.List() {
		for _, qm := range w.RxQs() {
			owners[[2]uint16{qm.PortID, qm.QueueID}]++
		}
	}
	for k, count := range owners {
		if count > 1 {
			t.Errorf("queue (%d,%d) owned by %d workers", k[0], k[1], count)
		}
	}
}

func TestRoundTripToSingleCPU(t *testing.T) {
	engine, _, workers := setup(t)

	all := []port.QueueMap{
		{PortID: 0, QueueID: 0}, {PortID: 0, QueueID: 1},
		{PortID: 1, QueueID: 0}, {PortID: 1, QueueID: 1},
		{PortID: 2, QueueID: 0}, {PortID: 2, QueueID: 1},
	}
	for _, qm := range all {
		if err := engine.Assign(qm.PortID, qm.QueueID, 3); err != nil {
			t.Fatalf("assign (%d,%d) to cpu3: %v", qm.PortID, qm.QueueID, err)
		}
	}

	if workers.Count() != 1 {
		t.Fatalf("expected worker_count=1, got %d", workers.Count())
	}
	w, ok := workers.Get(3)
	if !ok {
		t.Fatalf("expected worker on cpu3")
	}
	if len(w.RxQs()) != len(all) {
		t.Fatalf("expected %d rxqs, got %d", len(all), len(w.RxQs()))
	}
	for _, qm := range all {
		if !hasRxQ(w, qm.PortID, qm.QueueID) {
			t.Errorf("expected cpu3 worker to own (%d,%d)", qm.PortID, qm.QueueID)
		}
	}
}
