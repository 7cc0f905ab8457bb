// Package metrics holds the Prometheus collectors shared across the
// router's control-plane components, grounded on the promauto-registered
// vectors in proxy-nlb/internal/nlb (router.go, autoscaler.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RxqReassignments counts successful rxq_assign reassignments by
	// reason ("moved", "worker_created", "worker_destroyed"). No-op
	// assignments are not counted.
	RxqReassignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_rxq_reassignments_total",
			Help: "Total number of RX queue reassignment operations",
		},
		[]string{"reason"},
	)

	// WorkerCount reports the current number of live workers.
	WorkerCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_worker_count",
			Help: "Current number of live worker threads",
		},
	)

	// ConfigSkew reports next_config - cur_config per worker, so a
	// worker stuck mid-handoff is visible without reading its internals.
	ConfigSkew = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_worker_config_skew",
			Help: "next_config minus cur_config for a worker",
		},
		[]string{"cpu_id"},
	)

	// HeldPackets reports the current hold-queue depth per next-hop VRF.
	HeldPackets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_ip6_held_packets",
			Help: "Packets currently held awaiting neighbor resolution",
		},
		[]string{"vrf"},
	)

	// Ip6OutputEdge counts packets emitted on each IPv6 output edge.
	Ip6OutputEdge = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_ip6_output_edge_total",
			Help: "Packets emitted by the IPv6 output node per edge",
		},
		[]string{"edge"},
	)

	// TxOverflow counts packets the TX node sends to TX_ERROR, by reason:
	// driver back-pressure ("overflow") or a driver error
	// ("driver_error"). NO_PORT drops are not counted here.
	TxOverflow = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tx_drops_total",
			Help: "Packets dropped at the TX node",
		},
		[]string{"reason"},
	)
)
