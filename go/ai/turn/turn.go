// Package turn owns the accumulator lifecycle for one streaming response:
// feeding deltas, bounding memory, harvesting completed calls, and clearing
// state on abort.
package turn

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/scylladb/go-set/i64set"

	"github.com/ferrow/llmstream/go/ai/toolcall"
)

// ErrByteCeiling is reported once a turn's accumulated argument bytes exceed
// the configured ceiling; later fragments are discarded.
var ErrByteCeiling = errors.New("turn accumulated byte ceiling exceeded")

const DefaultMaxAccumulatedBytes = 8 << 20

// Turn wraps one accumulator for one streaming response.
type Turn struct {
	log              *slog.Logger
	accumulator      *toolcall.Accumulator
	touched          *i64set.Set
	maxBytes         int
	accumulatedBytes int
	capped           bool
}

func New() *Turn {
	return &Turn{
		log:         slog.Default(),
		accumulator: toolcall.NewAccumulator(),
		touched:     i64set.New(),
		maxBytes:    DefaultMaxAccumulatedBytes,
	}
}

// WithMaxAccumulatedBytes overrides the per-turn argument byte ceiling.
func (t *Turn) WithMaxAccumulatedBytes(n int) *Turn {
	if n > 0 {
		t.maxBytes = n
	}
	return t
}

func (t *Turn) WithLogger(log *slog.Logger) *Turn {
	t.log = log
	return t
}

// AddChunk feeds one delta. Once the byte ceiling trips, fragments are
// dropped (metadata still merges, so already-buffered calls keep their
// identity) and the result carries ErrByteCeiling.
func (t *Turn) AddChunk(index int64, fragment, id, name string) toolcall.ChunkResult {
	if t.capped || t.accumulatedBytes+len(fragment) > t.maxBytes {
		if !t.capped {
			t.capped = true
			metricCeilingTrips.Inc()
			t.log.Warn("turn byte ceiling exceeded, dropping argument fragments",
				"max_bytes", t.maxBytes)
		}
		fragment = ""
	}
	t.accumulatedBytes += len(fragment)

	result := t.accumulator.AddChunk(index, fragment, id, name)
	t.touched.Add(result.Index)
	if t.capped && result.Err == nil {
		result.Err = ErrByteCeiling
		result.Complete = false
	}
	return result
}

// Accumulator exposes the underlying accumulator for read surfaces.
func (t *Turn) Accumulator() *toolcall.Accumulator {
	return t.accumulator
}

// Completed harvests the turn's completed tool calls.
func (t *Turn) Completed() []toolcall.CompletedToolCall {
	return t.accumulator.Completed()
}

// Capped reports whether the byte ceiling tripped during this turn.
func (t *Turn) Capped() bool {
	return t.capped
}

// TouchedIndices returns every slot index this turn fed, in ascending
// order.
func (t *Turn) TouchedIndices() []int64 {
	indices := t.touched.List()
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// Abort resets every touched slot so a later turn cannot read this turn's
// buffers. Called on stream error or cancellation.
func (t *Turn) Abort() {
	metricAborts.Inc()
	for _, index := range t.TouchedIndices() {
		t.accumulator.ResetIndex(index)
	}
	t.touched.Clear()
	t.accumulatedBytes = 0
	t.capped = false
}
