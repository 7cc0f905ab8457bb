package port

import (
	"testing"

	"marchproxy-router/internal/apierr"
	"marchproxy-router/internal/driver"
)

func TestAddGetList(t *testing.T) {
	r := NewRegistry(driver.NewStub())

	p, err := r.Add("eth0", "pci:0000:01:00.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.NRxQ < 1 {
		t.Fatalf("expected n_rxq >= 1, got %d", p.NRxQ)
	}
	if p.NTxQ != 0 {
		t.Fatalf("expected n_txq == 0 until grown, got %d", p.NTxQ)
	}

	got, err := r.Get("eth0")
	if err != nil || got != p {
		t.Fatalf("Get returned (%v, %v), want (%v, nil)", got, err, p)
	}

	if len(r.List()) != 1 {
		t.Fatalf("expected 1 port in list, got %d", len(r.List()))
	}
}

func TestAddDuplicateNameRejected(t *testing.T) {
	r := NewRegistry(driver.NewStub())
	if _, err := r.Add("eth0", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Add("eth0", "b"); !apierr.Is(err, apierr.EINVAL) {
		t.Fatalf("expected EINVAL on duplicate name, got %v", err)
	}
}

func TestGetUnknownReturnsENODEV(t *testing.T) {
	r := NewRegistry(driver.NewStub())
	if _, err := r.Get("nope"); !apierr.Is(err, apierr.ENODEV) {
		t.Fatalf("expected ENODEV, got %v", err)
	}
}

func TestDelRemovesPort(t *testing.T) {
	r := NewRegistry(driver.NewStub())
	r.Add("eth0", "a")
	if err := r.Del("eth0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get("eth0"); !apierr.Is(err, apierr.ENODEV) {
		t.Fatalf("expected ENODEV after delete, got %v", err)
	}
}

func TestDriverFailurePropagatesAsEIO(t *testing.T) {
	drv := driver.NewStub()
	drv.FailNext = &driver.ErrDriver{Op: "eth_dev_info_get", Message: "no such device"}
	r := NewRegistry(drv)
	if _, err := r.Add("eth0", "bad"); !apierr.Is(err, apierr.EIO) {
		t.Fatalf("expected EIO, got %v", err)
	}
}

func TestGrowTxQueuesOnlyGrows(t *testing.T) {
	r := NewRegistry(driver.NewStub())
	p, _ := r.Add("eth0", "a")

	if err := r.GrowTxQueues(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.NTxQ != 2 {
		t.Fatalf("expected n_txq=2, got %d", p.NTxQ)
	}

	if err := r.GrowTxQueues(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.NTxQ != 2 {
		t.Fatalf("expected n_txq to stay at 2, got %d", p.NTxQ)
	}
}
