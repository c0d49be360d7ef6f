package join

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "join_requests_total",
		Help: "The number of handled join and rejoin requests (per result).",
	}, []string{"result"})

	jd = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "join_request_duration_seconds",
		Help:    "The time spent handling a join or rejoin request (per kind).",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"kind"})
)

func joinRequestCounter(result string) prometheus.Counter {
	return jr.With(prometheus.Labels{"result": result})
}

func joinDurationObserver(kind Kind) prometheus.Observer {
	return jd.With(prometheus.Labels{"kind": kind.String()})
}

// Observe records the outcome of one Handle call and returns its result label.
func Observe(err error) string {
	label := ResultLabel(err)
	joinRequestCounter(label).Inc()
	return label
}

func observeDuration(kind Kind, start time.Time) {
	joinDurationObserver(kind).Observe(time.Since(start).Seconds())
}
