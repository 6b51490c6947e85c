package toolcall

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) any {
	t.Helper()
	var value any
	require.NoError(t, json.Unmarshal([]byte(raw), &value))
	return value
}

func TestAccumulator_TwoChunkSplit(t *testing.T) {
	a := NewAccumulator()

	result := a.AddChunk(0, `{"q":`, "c1", "search")
	require.False(t, result.Complete)
	require.NoError(t, result.Err)
	require.EqualValues(t, 0, result.Index)

	result = a.AddChunk(0, `"x"}`, "", "")
	require.True(t, result.Complete)
	require.NoError(t, result.Err)
	require.Equal(t, map[string]any{"q": "x"}, result.Value)
}

func TestAccumulator_SplitInvariance(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"flat object", `{"q":"x"}`},
		{"nested object", `{"a":{"b":{"c":true},"d":null}}`},
		{"object with array", `{"items":[1,2,{"k":"v"}],"n":3.5}`},
		{"escaped quotes", `{"t":"a\"b\\c"}`},
		{"unicode", `{"city":"Zürich","emoji":"🌦"}`},
		{"top level array", `[1,[2,[3]],"four"]`},
		{"top level string", `"hello world"`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := mustParse(t, tt.raw)

			// Every two-way split, plus byte-at-a-time. Split points are
			// byte offsets, so multi-byte runes get split mid-sequence too.
			var splits [][]string
			for i := 1; i < len(tt.raw); i++ {
				splits = append(splits, []string{tt.raw[:i], tt.raw[i:]})
			}
			var chars []string
			for i := 0; i < len(tt.raw); i++ {
				chars = append(chars, tt.raw[i:i+1])
			}
			splits = append(splits, chars)

			for _, chunks := range splits {
				a := NewAccumulator()
				for i, chunk := range chunks {
					id, name := "", ""
					if i == 0 {
						id, name = "c1", "f1"
					}
					result := a.AddChunk(0, chunk, id, name)
					if i < len(chunks)-1 {
						require.False(t, result.Complete, "premature completion after %q", strings.Join(chunks[:i+1], ""))
						require.NoError(t, result.Err)
					} else {
						require.True(t, result.Complete, "no completion for split %q", chunks)
						require.Equal(t, want, result.Value)
					}
				}
			}
		})
	}
}

func TestAccumulator_MetadataMerge(t *testing.T) {
	a := NewAccumulator()
	a.AddChunk(0, `{"q":`, "c1", "search")
	stateBefore := a.State(0)
	bufferBefore := a.Buffer(0)

	// Metadata-only updates must leave the buffer and parse state alone.
	result := a.AddChunk(0, "", "c1", "search")
	require.False(t, result.Complete)
	result = a.AddChunk(0, "", "c1", "search")
	require.False(t, result.Complete)
	require.Equal(t, bufferBefore, a.Buffer(0))
	require.Equal(t, stateBefore, a.State(0))
	require.Equal(t, ToolCallMeta{ID: "c1", Name: "search"}, a.Meta(0))

	// A later non-empty value overwrites; empty values do not clear.
	a.AddChunk(0, "", "", "search_v2")
	require.Equal(t, ToolCallMeta{ID: "c1", Name: "search_v2"}, a.Meta(0))
	a.AddChunk(0, "", "", "")
	require.Equal(t, ToolCallMeta{ID: "c1", Name: "search_v2"}, a.Meta(0))

	// Metadata arriving after completion never re-reports completion.
	require.True(t, a.AddChunk(9, `{"done":true}`, "c9", "f9").Complete)
	require.False(t, a.AddChunk(9, "", "c9", "f9").Complete)
}

func TestAccumulator_IndexReuseAllocatesFreshSlot(t *testing.T) {
	a := NewAccumulator()

	result := a.AddChunk(0, `{"p":"v"}`, "c1", "f1")
	require.True(t, result.Complete)
	require.EqualValues(t, 0, result.Index)

	// Same upstream index, different call: must not touch the finished slot.
	result = a.AddChunk(0, `{"p2":"v2"}`, "c2", "f2")
	require.True(t, result.Complete)
	require.EqualValues(t, 1, result.Index)
	require.Equal(t, `{"p":"v"}`, a.Buffer(0))
	require.Equal(t, `{"p2":"v2"}`, a.Buffer(1))

	completed := a.Completed()
	require.Len(t, completed, 2)
	require.Equal(t, "c1", completed[0].ID)
	require.Equal(t, "f1", completed[0].Name)
	require.Equal(t, map[string]any{"p": "v"}, completed[0].Args)
	require.EqualValues(t, 0, completed[0].Index)
	require.Equal(t, "c2", completed[1].ID)
	require.Equal(t, "f2", completed[1].Name)
	require.Equal(t, map[string]any{"p2": "v2"}, completed[1].Args)
	require.EqualValues(t, 1, completed[1].Index)
}

func TestAccumulator_IndexReuseWithoutIds(t *testing.T) {
	a := NewAccumulator()

	result := a.AddChunk(0, `{"p":"v"}`, "", "f1")
	require.True(t, result.Complete)

	// No id to compare, but text opening a fresh object on a finished slot
	// starts a new call.
	result = a.AddChunk(0, `{"p2":"v2"}`, "", "")
	require.True(t, result.Complete)
	require.EqualValues(t, 1, result.Index)
	require.Equal(t, `{"p":"v"}`, a.Buffer(0))
}

func TestAccumulator_ContinuationRouting(t *testing.T) {
	a := NewAccumulator()

	// A call opens at index 2.
	result := a.AddChunk(2, `{"query": "str`, "c7", "search")
	require.False(t, result.Complete)

	// The upstream drops the id and reports a stale index for the rest of
	// the call; the text must reach the open slot.
	result = a.AddChunk(0, `eaming"}`, "", "")
	require.True(t, result.Complete)
	require.EqualValues(t, 2, result.Index)
	require.Equal(t, map[string]any{"query": "streaming"}, result.Value)
	require.Equal(t, "", a.Buffer(0))
}

func TestAccumulator_ContinuationAfterReassignment(t *testing.T) {
	a := NewAccumulator()

	result := a.AddChunk(0, `{"p":"v"}`, "c1", "f1")
	require.True(t, result.Complete)

	// The reused index moves the second call to slot 1...
	result = a.AddChunk(0, `{"doc":`, "c2", "f2")
	require.False(t, result.Complete)
	require.EqualValues(t, 1, result.Index)

	// ...and its id-less continuations, still addressed to index 0, follow it.
	result = a.AddChunk(0, `"body"}`, "", "")
	require.True(t, result.Complete)
	require.EqualValues(t, 1, result.Index)

	completed := a.Completed()
	require.Len(t, completed, 2)
	require.Equal(t, map[string]any{"doc": "body"}, completed[1].Args)
}

func TestAccumulator_IdRoutesAcrossIndices(t *testing.T) {
	a := NewAccumulator()

	a.AddChunk(0, `{"a":`, "c9", "f9")

	// A delta that names a known id lands on that call's slot no matter
	// which index the upstream attached to it.
	result := a.AddChunk(5, `1}`, "c9", "")
	require.True(t, result.Complete)
	require.EqualValues(t, 0, result.Index)
	require.Equal(t, "", a.Buffer(5))
}

func TestAccumulator_AllocatePrefersLowestFreeSlot(t *testing.T) {
	a := NewAccumulator()

	require.True(t, a.AddChunk(0, `{"a":1}`, "c1", "f1").Complete)
	require.True(t, a.AddChunk(2, `{"b":2}`, "c3", "f3").Complete)

	// Slot 1 was never used; the displaced call takes it.
	result := a.AddChunk(0, `{"c":3}`, "c4", "f4")
	require.True(t, result.Complete)
	require.EqualValues(t, 1, result.Index)

	// Now 0..2 are all finished, so the next displaced call goes past the end.
	result = a.AddChunk(2, `{"d":4}`, "c5", "f5")
	require.True(t, result.Complete)
	require.EqualValues(t, 3, result.Index)
}

func TestAccumulator_AllocateTakesOverAbandonedSlot(t *testing.T) {
	a := NewAccumulator()

	require.True(t, a.AddChunk(0, `{"a":1}`, "c1", "f1").Complete)
	a.AddChunk(1, `{"x":`, "c2", "f2") // abandoned mid-structure
	a.AddChunk(2, `{"y":`, "c3", "f3") // most recently touched, still live

	result := a.AddChunk(0, `{"b":2}`, "c4", "f4")
	require.True(t, result.Complete)
	require.EqualValues(t, 1, result.Index)

	// The abandoned slot was taken over wholesale; the live slot survived.
	require.Equal(t, `{"b":2}`, a.Buffer(1))
	require.Equal(t, ToolCallMeta{ID: "c4", Name: "f4"}, a.Meta(1))
	require.Equal(t, `{"y":`, a.Buffer(2))
	require.Equal(t, ToolCallMeta{ID: "c3", Name: "f3"}, a.Meta(2))
}

func TestAccumulator_MalformedAtDepthZero(t *testing.T) {
	a := NewAccumulator()

	result := a.AddChunk(0, `not json`, "c1", "f1")
	require.False(t, result.Complete)
	require.Error(t, result.Err)

	// Unrepairable buffers are dropped at harvest, not surfaced as errors.
	require.Empty(t, a.Completed())
}

func TestAccumulator_TrailingGarbageOnFinishedCall(t *testing.T) {
	a := NewAccumulator()

	require.True(t, a.AddChunk(0, `{"a":1}`, "c1", "f1").Complete)

	// More text for the same id lands on the same slot and turns it
	// malformed rather than starting a phantom second call.
	result := a.AddChunk(0, `{"b":2}`, "c1", "")
	require.False(t, result.Complete)
	require.Error(t, result.Err)
	require.EqualValues(t, 0, result.Index)
	require.Equal(t, `{"a":1}{"b":2}`, a.Buffer(0))
}

func TestAccumulator_DepthAcrossNesting(t *testing.T) {
	a := NewAccumulator()

	result := a.AddChunk(0, `{"a":{"b":[1,[2,`, "c1", "f1")
	require.False(t, result.Complete)
	require.Equal(t, ParseState{Depth: 4}, a.State(0))

	result = a.AddChunk(0, `3]]}}`, "", "")
	require.True(t, result.Complete)
	require.Equal(t, ParseState{}, a.State(0))
	require.Equal(t, map[string]any{"a": map[string]any{"b": []any{float64(1), []any{float64(2), float64(3)}}}}, result.Value)
}

func TestAccumulator_DeepNesting(t *testing.T) {
	a := NewAccumulator()

	const levels = 300
	result := a.AddChunk(0, strings.Repeat("[", levels), "c1", "f1")
	require.False(t, result.Complete)
	require.Equal(t, levels, a.State(0).Depth)

	result = a.AddChunk(0, strings.Repeat("]", levels), "", "")
	require.True(t, result.Complete)
	require.NoError(t, result.Err)
}

func TestAccumulator_EscapeAcrossFragments(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   map[string]any
	}{
		{
			name:   "escaped quote split after backslash",
			chunks: []string{`{"t":"a\`, `"b"}`},
			want:   map[string]any{"t": `a"b`},
		},
		{
			name:   "escaped backslash split between the pair",
			chunks: []string{`{"p":"c:\`, `\temp"}`},
			want:   map[string]any{"p": `c:\temp`},
		},
		{
			name:   "escape state visible between fragments",
			chunks: []string{`{"t":"x\`, `n"}`},
			want:   map[string]any{"t": "x\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAccumulator()
			result := a.AddChunk(0, tt.chunks[0], "c1", "f1")
			require.False(t, result.Complete)
			require.True(t, a.State(0).Escape)

			result = a.AddChunk(0, tt.chunks[1], "", "")
			require.True(t, result.Complete)
			require.Equal(t, tt.want, result.Value)
		})
	}
}

func TestAccumulator_UntouchedIndexIsZeroState(t *testing.T) {
	a := NewAccumulator()

	require.Equal(t, ParseState{}, a.State(42))
	require.Equal(t, "", a.Buffer(42))
	require.Equal(t, ToolCallMeta{}, a.Meta(42))
	require.Empty(t, a.Indices())

	// A fully empty update creates nothing either.
	result := a.AddChunk(7, "", "", "")
	require.False(t, result.Complete)
	require.Empty(t, a.Indices())
}

func TestAccumulator_ResetIndex(t *testing.T) {
	a := NewAccumulator()

	a.AddChunk(3, `{"a": "b`, "c1", "f1")
	require.NotEmpty(t, a.Buffer(3))
	require.True(t, a.State(3).InString)

	a.ResetIndex(3)
	require.Equal(t, "", a.Buffer(3))
	require.Equal(t, ParseState{}, a.State(3))
	require.Equal(t, ToolCallMeta{}, a.Meta(3))
	require.Empty(t, a.Indices())

	// The slot is reusable for an unrelated call afterwards.
	result := a.AddChunk(3, `{"c":"d"}`, "c2", "f2")
	require.True(t, result.Complete)
	require.EqualValues(t, 3, result.Index)
}

func TestAccumulator_HarvestRepairsTruncatedString(t *testing.T) {
	a := NewAccumulator()

	result := a.AddChunk(0, `{"text": "unclosed`, "c1", "emit")
	require.False(t, result.Complete)
	require.NoError(t, result.Err)

	completed := a.Completed()
	require.Len(t, completed, 1)
	require.Equal(t, "c1", completed[0].ID)
	require.Equal(t, "emit", completed[0].Name)
	require.Equal(t, map[string]any{"text": "unclosed"}, completed[0].Args)
}

func TestAccumulator_HarvestRepairsUnclosedStructures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"unclosed object", `{"a": {"b": 1`, map[string]any{"a": map[string]any{"b": float64(1)}}},
		{"unclosed array", `{"items": [1, 2`, map[string]any{"items": []any{float64(1), float64(2)}}},
		{"dangling key", `{"a": 1, "b":`, map[string]any{"a": float64(1), "b": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAccumulator()
			a.AddChunk(0, tt.raw, "c1", "f1")

			completed := a.Completed()
			require.Len(t, completed, 1)
			require.Equal(t, tt.want, completed[0].Args)
		})
	}
}

func TestAccumulator_HarvestSkipsNamelessAndEmpty(t *testing.T) {
	a := NewAccumulator()

	require.True(t, a.AddChunk(0, `{"ok":true}`, "c0", "keep").Complete)
	require.True(t, a.AddChunk(1, `{"ok":true}`, "c1", "").Complete) // no name, ever
	a.AddChunk(2, `{"trunc`, "c2", "repairable")
	a.AddChunk(3, `not json`, "c3", "broken")
	a.AddChunk(4, "", "c4", "metadata_only")

	completed := a.Completed()
	require.Len(t, completed, 2)
	require.EqualValues(t, 0, completed[0].Index)
	require.Equal(t, "keep", completed[0].Name)
	require.EqualValues(t, 2, completed[1].Index)
	require.Equal(t, map[string]any{"trunc": nil}, completed[1].Args)

	// Harvesting does not consume the slots.
	require.Equal(t, completed, a.Completed())
}

func TestAccumulator_HarvestFallbackID(t *testing.T) {
	a := NewAccumulator()

	require.True(t, a.AddChunk(0, `{"a":1}`, "", "lookup").Complete)

	completed := a.Completed()
	require.Len(t, completed, 1)
	require.True(t, strings.HasPrefix(completed[0].ID, "call_lookup_"))

	// The fabricated id is a harvest concern; the stored metadata keeps none.
	require.Equal(t, "", a.Meta(0).ID)
}

func TestAccumulator_Partial(t *testing.T) {
	a := NewAccumulator()

	_, ok := a.Partial(0)
	require.False(t, ok)

	a.AddChunk(0, `{"query": "par`, "c1", "search")
	partial, ok := a.Partial(0)
	require.True(t, ok)
	require.True(t, partial.Repaired)
	require.Equal(t, "c1", partial.ID)
	require.Equal(t, "search", partial.Name)
	require.Equal(t, map[string]any{"query": "par"}, partial.Args)

	// The snapshot never mutates the slot.
	require.Equal(t, `{"query": "par`, a.Buffer(0))

	a.AddChunk(0, `tial"}`, "", "")
	partial, ok = a.Partial(0)
	require.True(t, ok)
	require.False(t, partial.Repaired)
	require.Equal(t, map[string]any{"query": "partial"}, partial.Args)
}

func TestAccumulator_PartialField(t *testing.T) {
	a := NewAccumulator()

	a.AddChunk(0, `{"query": "hel`, "c1", "search")
	value, ok := a.PartialField(0, "query")
	require.True(t, ok)
	require.Equal(t, "hel", value)

	_, ok = a.PartialField(0, "missing")
	require.False(t, ok)

	_, ok = a.PartialField(9, "query")
	require.False(t, ok)
}
