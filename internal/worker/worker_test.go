package worker

import (
	"testing"

	"marchproxy-router/internal/apierr"
	"marchproxy-router/internal/port"
)

func TestCreateRejectsMainCPU(t *testing.T) {
	r := NewRegistry([]int{1, 2}, 0)
	if _, err := r.Create(0); !apierr.Is(err, apierr.EBUSY) {
		t.Fatalf("expected EBUSY, got %v", err)
	}
}

func TestCreateRejectsOutsideAllowance(t *testing.T) {
	r := NewRegistry([]int{1, 2}, 0)
	if _, err := r.Create(99); !apierr.Is(err, apierr.ERANGE) {
		t.Fatalf("expected ERANGE, got %v", err)
	}
}

func TestCreateIsIdempotentPerCPU(t *testing.T) {
	r := NewRegistry([]int{1, 2}, 0)
	w1, err := r.Create(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w2, err := r.Create(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w1 != w2 {
		t.Fatalf("expected Create to return the same worker for an existing cpu_id")
	}
	if r.Count() != 1 {
		t.Fatalf("expected count=1, got %d", r.Count())
	}
}

func TestDestroyRequiresEmptyWorker(t *testing.T) {
	r := NewRegistry([]int{1}, 0)
	w, _ := r.Create(1)
	w.SetQueues([]port.QueueMap{{PortID: 0, QueueID: 0, Enabled: true}}, nil)

	if err := r.Destroy(1); !apierr.Is(err, apierr.EINVAL) {
		t.Fatalf("expected EINVAL for non-empty worker, got %v", err)
	}

	w.SetQueues(nil, nil)
	if err := r.Destroy(1); err != nil {
		t.Fatalf("unexpected error destroying empty worker: %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("expected count=0 after destroy, got %d", r.Count())
	}
}

func TestListInCreationOrder(t *testing.T) {
	r := NewRegistry([]int{1, 2, 3}, 0)
	r.Create(3)
	r.Create(1)
	r.Create(2)

	order := r.ListInCreationOrder()
	want := []int{3, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("expected %d workers, got %d", len(want), len(order))
	}
	for i, cpu := range want {
		if order[i].CPUID != cpu {
			t.Errorf("position %d: expected cpu %d, got %d", i, cpu, order[i].CPUID)
		}
	}
}

func TestParseCPUList(t *testing.T) {
	cases := map[string][]int{
		"0-3":      {0, 1, 2, 3},
		"0-1,4":    {0, 1, 4},
		"":         nil,
		"5":        {5},
		"2-2,8-10": {2, 8, 9, 10},
	}
	for input, want := range cases {
		got := parseCPUList(input)
		if len(got) != len(want) {
			t.Errorf("parseCPUList(%q) = %v, want %v", input, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("parseCPUList(%q) = %v, want %v", input, got, want)
				break
			}
		}
	}
}
