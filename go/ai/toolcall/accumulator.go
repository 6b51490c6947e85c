// Package toolcall reconstructs per-call JSON argument objects from the
// fragmented tool-call deltas of a streaming model response.
package toolcall

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	streamingjson "github.com/karminski/streaming-json-go"
	"github.com/tidwall/gjson"
)

// Accumulator owns one slot of parsing state per numeric stream index. It
// tracks JSON nesting depth and string state incrementally per slot, detects
// structural completion, resolves index collisions when the upstream stream
// reuses an index for a logically new call, and heals truncated buffers at
// harvest time.
//
// An Accumulator is not safe for concurrent use; the owning stream loop
// feeds it one delta at a time.
type Accumulator struct {
	toolCallIDSeed int64
	calls          map[int64]*toolCallEntry
	touchSeq       int64
}

type toolCallEntry struct {
	id        string
	name      string
	args      strings.Builder
	depth     int
	inString  bool
	escape    bool
	complete  bool // last depth-zero strict parse of args succeeded
	repaired  bool // harvest had to heal the buffer
	lastTouch int64
}

// open reports whether this entry holds argument text that is still
// structurally unterminated.
func (e *toolCallEntry) open() bool {
	return e.args.Len() > 0 && (e.depth > 0 || e.inString)
}

// ParseState is a snapshot of one slot's structural scanning state.
type ParseState struct {
	Depth    int
	InString bool
	Escape   bool
}

// ToolCallMeta is the identity metadata known for one slot.
type ToolCallMeta struct {
	ID   string
	Name string
}

// ChunkResult reports the outcome of one AddChunk call. Index is the slot
// the delta was routed to after collision and continuation resolution, which
// may differ from the index the caller passed in. Err is set when the buffer
// reached depth zero but does not parse; the caller may keep accumulating.
type ChunkResult struct {
	Index    int64
	Complete bool
	Value    any
	Err      error
}

// CompletedToolCall is one harvested call whose arguments parsed, possibly
// after healing.
type CompletedToolCall struct {
	ID    string
	Name  string
	Args  any
	Index int64
}

// PartialToolCall is a best-effort snapshot of an in-flight call. Repaired
// is set when the snapshot's arguments came from a healed copy of the buffer
// rather than the buffer itself.
type PartialToolCall struct {
	ID       string
	Name     string
	Args     any
	Index    int64
	Repaired bool
}

// NewAccumulator returns an empty accumulator ready for one streaming
// response.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		toolCallIDSeed: time.Now().UnixNano(),
		calls:          make(map[int64]*toolCallEntry),
	}
}

// AddChunk feeds one streamed delta: a fragment of argument text plus
// whatever id or name metadata arrived with it. Empty fields leave the
// stored values untouched. Only the newly appended characters are scanned;
// a call split across any number of fragments reports Complete exactly when
// its final fragment closes the top-level value.
func (a *Accumulator) AddChunk(index int64, fragment, id, name string) ChunkResult {
	if fragment == "" && id == "" && name == "" {
		return ChunkResult{Index: index}
	}
	metricChunks.Inc()
	index = a.route(index, fragment, id, name)
	entry, ok := a.calls[index]
	if !ok {
		entry = &toolCallEntry{}
		a.calls[index] = entry
	}
	a.touchSeq++
	entry.lastTouch = a.touchSeq
	if id != "" {
		entry.id = id
	}
	if name != "" {
		entry.name = name
	}
	if fragment == "" {
		return ChunkResult{Index: index}
	}

	entry.args.WriteString(fragment)
	entry.scan(fragment)
	if entry.depth > 0 || entry.inString {
		entry.complete = false
		return ChunkResult{Index: index}
	}
	var value any
	if err := json.Unmarshal([]byte(entry.args.String()), &value); err != nil {
		entry.complete = false
		return ChunkResult{Index: index, Err: err}
	}
	entry.complete = true
	return ChunkResult{Index: index, Complete: true, Value: value}
}

// route resolves which slot an update applies to. A known id always
// addresses its own slot, wherever collision resolution previously placed
// it. An update that starts a logically new call on top of a finished slot
// is moved to a freshly allocated slot. Continuation text that carries no id
// and does not match an open slot at its literal index is routed to the most
// recently touched open slot.
func (a *Accumulator) route(index int64, fragment, id, name string) int64 {
	if id != "" {
		if existing, ok := a.indexOf(id); ok {
			return existing
		}
	}
	if entry, ok := a.calls[index]; ok && isNewCall(entry, fragment, id, name) {
		metricCollisions.Inc()
		return a.allocate()
	}
	if fragment != "" && id == "" && !a.openAt(index) {
		if cont, ok := a.mostRecentOpen(); ok {
			metricReroutes.Inc()
			return cont
		}
	}
	return index
}

// isNewCall decides whether an update addressed at a finished slot begins a
// logically new call: a differing id, a differing name, or text opening a
// fresh JSON value.
func isNewCall(entry *toolCallEntry, fragment, id, name string) bool {
	if !entry.complete {
		return false
	}
	switch {
	case id != "" && entry.id != "" && id != entry.id:
		return true
	case name != "" && entry.name != "" && name != entry.name:
		return true
	case fragment != "" && beginsNewValue(fragment):
		return true
	}
	return false
}

func beginsNewValue(fragment string) bool {
	trimmed := strings.TrimLeft(fragment, " \t\r\n")
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// allocate picks the slot for a call displaced by index reuse: the lowest
// slot that is empty or abandoned mid-structure, else one past the highest
// slot in use. An abandoned slot's state is discarded so the two calls'
// text never merges. The most recently touched open slot is never treated
// as abandoned, since continuation routing still targets it.
func (a *Accumulator) allocate() int64 {
	maxUsed := int64(-1)
	for index := range a.calls {
		if index > maxUsed {
			maxUsed = index
		}
	}
	live, haveLive := a.mostRecentOpen()
	for index := int64(0); index <= maxUsed; index++ {
		entry, ok := a.calls[index]
		switch {
		case !ok:
			return index
		case entry.args.Len() == 0:
			return index
		case entry.open() && !(haveLive && index == live):
			*entry = toolCallEntry{}
			return index
		}
	}
	return maxUsed + 1
}

func (a *Accumulator) indexOf(id string) (int64, bool) {
	found := int64(-1)
	for index, entry := range a.calls {
		if entry.id == id && (found == -1 || index < found) {
			found = index
		}
	}
	return found, found >= 0
}

func (a *Accumulator) openAt(index int64) bool {
	entry, ok := a.calls[index]
	return ok && entry.open()
}

func (a *Accumulator) mostRecentOpen() (int64, bool) {
	found := int64(-1)
	var latest int64
	for index, entry := range a.calls {
		if entry.open() && (found == -1 || entry.lastTouch > latest) {
			found = index
			latest = entry.lastTouch
		}
	}
	return found, found >= 0
}

// scan advances the structural state over newly appended characters. JSON's
// structural characters are ASCII, so byte scanning is exact for UTF-8
// input.
func (e *toolCallEntry) scan(fragment string) {
	for i := 0; i < len(fragment); i++ {
		if e.escape {
			e.escape = false
			continue
		}
		c := fragment[i]
		if e.inString {
			switch c {
			case '\\':
				e.escape = true
			case '"':
				e.inString = false
			}
			continue
		}
		switch c {
		case '"':
			e.inString = true
		case '{', '[':
			e.depth++
		case '}', ']':
			if e.depth > 0 {
				e.depth--
			}
		}
	}
}

// State returns the structural scanning state for index. Untouched slots
// report the zero state and are not created as a side effect.
func (a *Accumulator) State(index int64) ParseState {
	entry, ok := a.calls[index]
	if !ok {
		return ParseState{}
	}
	return ParseState{Depth: entry.depth, InString: entry.inString, Escape: entry.escape}
}

// Buffer returns the argument text accumulated for index so far.
func (a *Accumulator) Buffer(index int64) string {
	entry, ok := a.calls[index]
	if !ok {
		return ""
	}
	return entry.args.String()
}

// Meta returns the id and name known for index so far.
func (a *Accumulator) Meta(index int64) ToolCallMeta {
	entry, ok := a.calls[index]
	if !ok {
		return ToolCallMeta{}
	}
	return ToolCallMeta{ID: entry.id, Name: entry.name}
}

// ResetIndex discards all state held for one slot. Callers reset every
// touched slot between independent streaming turns so a stale buffer cannot
// bleed into the next turn.
func (a *Accumulator) ResetIndex(index int64) {
	delete(a.calls, index)
}

// Indices returns every touched slot index in ascending order.
func (a *Accumulator) Indices() []int64 {
	indices := make([]int64, 0, len(a.calls))
	for index := range a.calls {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// Completed harvests every slot with a non-empty buffer and a known name, in
// ascending index order. Buffers that fail a strict parse are healed and
// re-parsed; calls that still do not parse are dropped, so one malformed
// call never aborts the turn. Harvesting does not consume the slots.
func (a *Accumulator) Completed() []CompletedToolCall {
	var completed []CompletedToolCall
	for _, index := range a.Indices() {
		entry := a.calls[index]
		if entry.args.Len() == 0 || entry.name == "" {
			continue
		}
		var args any
		if err := json.Unmarshal([]byte(entry.args.String()), &args); err != nil {
			if err := json.Unmarshal([]byte(healJSON(entry.args.String())), &args); err != nil {
				metricHarvestDrops.Inc()
				continue
			}
			entry.repaired = true
			metricHarvestRepairs.Inc()
		}
		completed = append(completed, CompletedToolCall{
			ID:    a.toolCallID(entry, index),
			Name:  entry.name,
			Args:  args,
			Index: index,
		})
	}
	return completed
}

// Partial returns a healed snapshot of the call at index for streaming
// previews. The slot's buffer is left untouched. The second return is false
// when the slot is untouched or its healed buffer still does not parse.
func (a *Accumulator) Partial(index int64) (PartialToolCall, bool) {
	entry, ok := a.calls[index]
	if !ok {
		return PartialToolCall{}, false
	}
	raw := entry.args.String()
	healed := healJSON(raw)
	var args any
	if err := json.Unmarshal([]byte(healed), &args); err != nil {
		return PartialToolCall{}, false
	}
	return PartialToolCall{
		ID:       a.toolCallID(entry, index),
		Name:     entry.name,
		Args:     args,
		Index:    index,
		Repaired: healed != raw,
	}, true
}

// PartialField extracts one field from the healed in-flight arguments by
// gjson path, for callers that surface a single argument as it streams.
func (a *Accumulator) PartialField(index int64, path string) (string, bool) {
	entry, ok := a.calls[index]
	if !ok {
		return "", false
	}
	result := gjson.Get(healJSON(entry.args.String()), path)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

func (a *Accumulator) toolCallID(entry *toolCallEntry, index int64) string {
	if entry.id != "" {
		return entry.id
	}
	return fmt.Sprintf("call_%s_%d_%d", entry.name, a.toolCallIDSeed, index)
}

func healJSON(raw string) string {
	lexer := streamingjson.NewLexer()
	lexer.AppendString(raw)
	healed := lexer.CompleteJSON()
	if healed == "" {
		healed = "{}"
	}
	return healed
}
