package integration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ec = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "integration_join_event_count",
	Help: "The number of join events forwarded to integrations (per integration and result).",
}, []string{"integration", "result"})

func eventCounter(integ, result string) prometheus.Counter {
	return ec.With(prometheus.Labels{"integration": integ, "result": result})
}
