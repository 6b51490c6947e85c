package toolcall

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmstream_toolcall_chunks_total",
		Help: "Tool call deltas fed into accumulators",
	})
	metricCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmstream_toolcall_collisions_total",
		Help: "Deltas moved to a fresh slot because the upstream reused an index",
	})
	metricReroutes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmstream_toolcall_reroutes_total",
		Help: "Continuation deltas routed to the most recently touched open slot",
	})
	metricHarvestRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmstream_toolcall_harvest_repairs_total",
		Help: "Harvested calls whose buffers needed healing before they parsed",
	})
	metricHarvestDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmstream_toolcall_harvest_drops_total",
		Help: "Calls dropped at harvest because healing could not make them parse",
	})
)
