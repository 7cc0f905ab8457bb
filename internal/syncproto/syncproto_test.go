package syncproto

import (
	"sync"
	"testing"

	"marchproxy-router/internal/port"
)

func TestAcquireReportsNoChangeUntilPublish(t *testing.T) {
	h := NewHandoff()

	_, changed := h.Acquire()
	if changed {
		t.Fatalf("expected no change before any publish")
	}
	if h.Skew() != 0 {
		t.Fatalf("expected skew 0 initially, got %d", h.Skew())
	}
}

func TestPublishThenAcquireSeesNewConfigExactlyOnce(t *testing.T) {
	h := NewHandoff()

	cfg := Config{RxQs: []port.QueueMap{{PortID: 1, QueueID: 0, Enabled: true}}}
	h.Publish(cfg)

	if h.Skew() != 1 {
		t.Fatalf("expected skew 1 after publish, got %d", h.Skew())
	}

	got, changed := h.Acquire()
	if !changed {
		t.Fatalf("expected changed=true on first acquire after publish")
	}
	if len(got.RxQs) != 1 || got.RxQs[0].PortID != 1 {
		t.Fatalf("unexpected config: %+v", got)
	}
	if h.Skew() != 0 {
		t.Fatalf("expected skew 0 after acquire caught up, got %d", h.Skew())
	}

	_, changed = h.Acquire()
	if changed {
		t.Fatalf("expected changed=false on repeated acquire with no new publish")
	}
}

func TestCurConfigNeverExceedsNextConfig(t *testing.T) {
	h := NewHandoff()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		h.Publish(Config{RxQs: []port.QueueMap{{PortID: uint16(i), QueueID: 0}}})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Acquire()
		}
	}()
	wg.Wait()

	if h.curConfig.Load() > h.nextConfig.Load() {
		t.Fatalf("cur_config (%d) exceeded next_config (%d)", h.curConfig.Load(), h.nextConfig.Load())
	}
}

func TestShutdownFlag(t *testing.T) {
	h := NewHandoff()
	if h.ShuttingDown() {
		t.Fatalf("expected not shutting down initially")
	}
	h.Shutdown()
	if !h.ShuttingDown() {
		t.Fatalf("expected shutting down after Shutdown()")
	}
}
