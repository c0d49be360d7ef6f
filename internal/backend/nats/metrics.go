package nats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_nats_event_count",
		Help: "The number of received events by the NATS backend (per event type).",
	}, []string{"event"})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_nats_command_count",
		Help: "The number of published commands by the NATS backend (per command).",
	}, []string{"command"})
)

func natsEventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func natsCommandCounter(c string) prometheus.Counter {
	return cc.With(prometheus.Labels{"command": c})
}
