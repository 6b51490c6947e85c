package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCeilingTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmstream_turn_byte_ceiling_trips_total",
		Help: "Turns whose accumulated argument bytes hit the ceiling",
	})
	metricAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmstream_turn_aborts_total",
		Help: "Turns aborted before harvest",
	})
)
