package turn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrow/llmstream/go/ai/toolcall"
)

func TestTurn_FeedAndHarvest(t *testing.T) {
	turn := New()

	result := turn.AddChunk(0, `{"q":`, "c1", "search")
	require.False(t, result.Complete)

	result = turn.AddChunk(0, `"x"}`, "", "")
	require.True(t, result.Complete)

	completed := turn.Completed()
	require.Len(t, completed, 1)
	require.Equal(t, "search", completed[0].Name)
	require.Equal(t, []int64{0}, turn.TouchedIndices())
}

func TestTurn_TracksReassignedIndices(t *testing.T) {
	turn := New()

	require.True(t, turn.AddChunk(0, `{"a":1}`, "c1", "f1").Complete)
	// Collision moves this call to slot 1; the turn must track the slot it
	// actually landed on.
	result := turn.AddChunk(0, `{"b":2}`, "c2", "f2")
	require.EqualValues(t, 1, result.Index)
	require.Equal(t, []int64{0, 1}, turn.TouchedIndices())
}

func TestTurn_ByteCeiling(t *testing.T) {
	turn := New().WithMaxAccumulatedBytes(16)

	result := turn.AddChunk(0, `{"text": "1234`, "c1", "f1")
	require.NoError(t, result.Err)
	require.False(t, turn.Capped())

	// This fragment would cross the ceiling; it is dropped and the error is
	// reported as a value.
	result = turn.AddChunk(0, strings.Repeat("x", 32), "", "")
	require.ErrorIs(t, result.Err, ErrByteCeiling)
	require.False(t, result.Complete)
	require.True(t, turn.Capped())
	require.Equal(t, `{"text": "1234`, turn.Accumulator().Buffer(0))

	// The buffered call still harvests via repair.
	completed := turn.Completed()
	require.Len(t, completed, 1)
	require.Equal(t, map[string]any{"text": "1234"}, completed[0].Args)
}

func TestTurn_MetadataStillMergesWhenCapped(t *testing.T) {
	turn := New().WithMaxAccumulatedBytes(4)

	turn.AddChunk(0, `{"a`, "", "")
	turn.AddChunk(0, strings.Repeat("x", 8), "", "")
	require.True(t, turn.Capped())

	turn.AddChunk(0, "", "c1", "late_name")
	require.Equal(t, toolcall.ToolCallMeta{ID: "c1", Name: "late_name"}, turn.Accumulator().Meta(0))
}

func TestTurn_Abort(t *testing.T) {
	turn := New().WithMaxAccumulatedBytes(8)

	turn.AddChunk(0, `{"a":`, "c1", "f1")
	turn.AddChunk(1, `{"b":`, "c2", "f2")
	turn.AddChunk(1, strings.Repeat("x", 32), "", "")
	require.True(t, turn.Capped())

	turn.Abort()
	require.Empty(t, turn.TouchedIndices())
	require.Empty(t, turn.Completed())
	require.Equal(t, "", turn.Accumulator().Buffer(0))
	require.Equal(t, "", turn.Accumulator().Buffer(1))
	require.False(t, turn.Capped())

	// The turn is reusable after an abort.
	result := turn.AddChunk(0, `{"c":1}`, "c3", "f3")
	require.True(t, result.Complete)
	require.Len(t, turn.Completed(), 1)
}
