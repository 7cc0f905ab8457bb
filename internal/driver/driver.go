// Package driver abstracts the NIC/mempool operations the control plane
// needs to bring ports and queues up. The real implementation would bind
// to a DPDK-style EAL; this package only defines the interface plus a
// stub used by tests, per spec.md's "mempool/NIC driver abstractions...
// out of scope, interfaces only."
package driver

import "fmt"

// DevInfo mirrors what eth_dev_info_get reports for a physical port.
type DevInfo struct {
	Device   string
	MTU      uint16
	MAC      [6]byte
	MaxRxQs  uint16
	MaxTxQs  uint16
}

// QueueConf configures a single RX or TX queue.
type QueueConf struct {
	Descriptors uint16
}

// Driver is the set of NIC operations the port registry and assignment
// engine depend on. Swappable for tests via Stub.
type Driver interface {
	EthDevInfoGet(devargs string) (DevInfo, error)
	EthDevConfigure(portID uint16, nRxQ, nTxQ uint16) error
	EthRxQueueSetup(portID, queueID uint16, conf QueueConf) error
	EthTxQueueSetup(portID, queueID uint16, conf QueueConf) error
	EthDevStart(portID uint16) error
	EthDevStop(portID uint16) error
	PktmbufPoolCreate(name string, nMbufs uint32) error
}

// Stub is an in-memory Driver used by tests and by any deployment that
// has not linked a real EAL binding. It never fails unless asked to via
// FailNext, mirroring the stub-driver pattern spec.md calls for at the
// port/queue boundary.
type Stub struct {
	FailNext   error
	configured map[uint16]struct{ rxq, txq uint16 }
	started    map[uint16]bool
}

// NewStub creates a ready-to-use stub driver.
func NewStub() *Stub {
	return &Stub{
		configured: make(map[uint16]struct{ rxq, txq uint16 }),
		started:    make(map[uint16]bool),
	}
}

func (s *Stub) takeFailure() error {
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	return nil
}

// EthDevInfoGet returns a synthetic DevInfo derived from devargs.
func (s *Stub) EthDevInfoGet(devargs string) (DevInfo, error) {
	if err := s.takeFailure(); err != nil {
		return DevInfo{}, err
	}
	return DevInfo{
		Device:  devargs,
		MTU:     1500,
		MAC:     [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		MaxRxQs: 16,
		MaxTxQs: 16,
	}, nil
}

// EthDevConfigure records the requested queue counts for a port.
func (s *Stub) EthDevConfigure(portID uint16, nRxQ, nTxQ uint16) error {
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.configured[portID] = struct{ rxq, txq uint16 }{nRxQ, nTxQ}
	return nil
}

// EthRxQueueSetup is a no-op success unless a failure was armed.
func (s *Stub) EthRxQueueSetup(portID, queueID uint16, conf QueueConf) error {
	return s.takeFailure()
}

// EthTxQueueSetup is a no-op success unless a failure was armed.
func (s *Stub) EthTxQueueSetup(portID, queueID uint16, conf QueueConf) error {
	return s.takeFailure()
}

// EthDevStart marks a port as started.
func (s *Stub) EthDevStart(portID uint16) error {
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.started[portID] = true
	return nil
}

// EthDevStop marks a port as stopped.
func (s *Stub) EthDevStop(portID uint16) error {
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.started[portID] = false
	return nil
}

// PktmbufPoolCreate is a no-op success unless a failure was armed.
func (s *Stub) PktmbufPoolCreate(name string, nMbufs uint32) error {
	return s.takeFailure()
}

// ErrDriver is a driver-specific failure: the operation name plus a
// message. It carries no API error code; the port registry reports
// driver failures to callers as EIO.
type ErrDriver struct {
	Op      string
	Message string
}

func (e *ErrDriver) Error() string {
	return fmt.Sprintf("driver: %s: %s", e.Op, e.Message)
}
