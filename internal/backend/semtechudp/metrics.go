package semtechudp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	udpReadCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_semtechudp_udp_read_count",
		Help: "The number of UDP packets received by the backend (per packet type).",
	}, []string{"packet_type"})

	udpWriteCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_semtechudp_udp_write_count",
		Help: "The number of UDP packets sent by the backend (per packet type).",
	}, []string{"packet_type"})

	gatewayGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_semtechudp_gateway_count",
		Help: "The number of gateways with a known downlink address.",
	})
)
