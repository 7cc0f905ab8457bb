// Package rpcapi implements the external request/response API (spec.md
// §6): module id INFRA, wrapping port registry and rxq_assign operations
// behind a plain Go service interface, matching the hand-rolled
// interface-over-gRPC style of proxy-nlb/internal/grpc.
package rpcapi

import (
	"context"

	"marchproxy-router/internal/apierr"
	"marchproxy-router/internal/assign"
	"marchproxy-router/internal/port"
)

// ModuleID is this router's INFRA module identifier (spec.md §6).
const ModuleID = 0xacdc

// PortInfo carries the wire-visible fields of a Port.
type PortInfo struct {
	Index  uint16
	Name   string
	Device string
	MTU    uint16
	MAC    [6]byte
}

func toPortInfo(p *port.Port) PortInfo {
	return PortInfo{
		Index:  p.ID,
		Name:   p.Name,
		Device: p.Device,
		MTU:    p.MTU,
		MAC:    p.MAC,
	}
}

type PortAddRequest struct {
	Name    string
	Devargs string
}

type PortAddResponse struct {
	Port PortInfo
}

type PortDelRequest struct {
	Name string
}

type PortDelResponse struct{}

type PortGetRequest struct {
	Name string
}

type PortGetResponse struct {
	Port PortInfo
}

type PortListRequest struct{}

type PortListResponse struct {
	NPorts int
	Ports  []PortInfo
}

// MaxPortsListed caps PORT_LIST responses, mirroring spec.md §6's
// ports[≤32] bound.
const MaxPortsListed = 32

type RXQSetRequest struct {
	PortID  uint16
	QueueID uint16
	CPUID   int
}

type RXQSetResponse struct{}

// InfraService is the INFRA module's request surface (spec.md §6).
type InfraService interface {
	PortAdd(ctx context.Context, req *PortAddRequest) (*PortAddResponse, error)
	PortDel(ctx context.Context, req *PortDelRequest) (*PortDelResponse, error)
	PortGet(ctx context.Context, req *PortGetRequest) (*PortGetResponse, error)
	PortList(ctx context.Context, req *PortListRequest) (*PortListResponse, error)
	RXQSet(ctx context.Context, req *RXQSetRequest) (*RXQSetResponse, error)
}

// Service is the concrete INFRA service backed by the port registry and
// assignment engine.
type Service struct {
	ports  *port.Registry
	engine *assign.Engine
}

// NewService creates an InfraService over the given registries.
func NewService(ports *port.Registry, engine *assign.Engine) *Service {
	return &Service{ports: ports, engine: engine}
}

func (s *Service) PortAdd(ctx context.Context, req *PortAddRequest) (*PortAddResponse, error) {
	p, err := s.ports.Add(req.Name, req.Devargs)
	if err != nil {
		return nil, err
	}
	return &PortAddResponse{Port: toPortInfo(p)}, nil
}

func (s *Service) PortDel(ctx context.Context, req *PortDelRequest) (*PortDelResponse, error) {
	if err := s.ports.Del(req.Name); err != nil {
		return nil, err
	}
	return &PortDelResponse{}, nil
}

func (s *Service) PortGet(ctx context.Context, req *PortGetRequest) (*PortGetResponse, error) {
	p, err := s.ports.Get(req.Name)
	if err != nil {
		return nil, err
	}
	return &PortGetResponse{Port: toPortInfo(p)}, nil
}

func (s *Service) PortList(ctx context.Context, req *PortListRequest) (*PortListResponse, error) {
	all := s.ports.List()
	n := len(all)
	if n > MaxPortsListed {
		all = all[:MaxPortsListed]
	}
	out := make([]PortInfo, 0, len(all))
	for _, p := range all {
		out = append(out, toPortInfo(p))
	}
	return &PortListResponse{NPorts: n, Ports: out}, nil
}

func (s *Service) RXQSet(ctx context.Context, req *RXQSetRequest) (*RXQSetResponse, error) {
	if err := s.engine.Assign(req.PortID, req.QueueID, req.CPUID); err != nil {
		return nil, err
	}
	return &RXQSetResponse{}, nil
}

// ErrorCode extracts the spec.md §6 API error code string from err, or
// "" if err is not an *apierr.Error.
func ErrorCode(err error) string {
	if e, ok := err.(*apierr.Error); ok {
		return string(e.Code)
	}
	return ""
}
