package provider

import (
	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/toolcall"
)

// HarvestToolCalls drains an accumulator at end-of-stream into tool-call
// blocks, one per call whose arguments parsed, in ascending index order.
func HarvestToolCalls(accumulator *toolcall.Accumulator) []*ai.Block {
	completed := accumulator.Completed()
	blocks := make([]*ai.Block, 0, len(completed))
	for _, call := range completed {
		block := ai.NewToolCallBlock(&ai.ToolCall{
			ID:   call.ID,
			Name: call.Name,
			Args: asArgsObject(call.Args),
		})
		block.Index = call.Index
		blocks = append(blocks, block)
	}
	return blocks
}

// PartialToolCallBlock renders a healed in-flight snapshot as a partial
// tool-call block, or nil when the slot has nothing presentable yet.
func PartialToolCallBlock(accumulator *toolcall.Accumulator, index int64) *ai.Block {
	partial, ok := accumulator.Partial(index)
	if !ok {
		return nil
	}
	block := ai.NewPartialToolCallBlock(&ai.ToolCall{
		ID:      partial.ID,
		Name:    partial.Name,
		Args:    asArgsObject(partial.Args),
		Partial: true,
	})
	block.Index = index
	return block
}

// asArgsObject coerces parsed arguments to an object. Models occasionally
// emit a bare array or scalar; those are wrapped so downstream dispatch
// always sees a map.
func asArgsObject(args any) map[string]any {
	switch v := args.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"_raw": v}
	}
}
